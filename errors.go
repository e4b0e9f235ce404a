package db_migrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnknownRevision      = errors.New("unknown revision")
	ErrAmbiguousRevision    = errors.New("ambiguous revision prefix")
	ErrMarkerConflict       = errors.New("applied-state marker was changed by another writer, consider re-running")
	ErrNoInverse            = errors.New("operation has no inverse")
	ErrUnsupportedOperation = errors.New("operation is not supported by dialect")
	ErrTargetNotApplied     = errors.New("target revision is not applied")
	ErrNoRevisions          = errors.New("no revisions registered")

	ErrHasForthcomingMigrations = errors.New("found revisions that are not applied yet, consider upgrading")
	ErrHasFailedMigrations      = errors.New("last migration run failed, consider fixing your db")
)

// DuplicateRevisionError возвращается, когда две ревизии с одинаковым идентификатором имеют разное содержимое.
type DuplicateRevisionError struct {
	ID      string
	Sources []string
}

func (e *DuplicateRevisionError) Error() string {
	where := ""
	if len(e.Sources) > 0 {
		where = " (" + strings.Join(e.Sources, ", ") + ")"
	}
	return fmt.Sprintf(
		"revision %q is defined more than once with different content%s: rename one of the definitions or remove the duplicate file",
		e.ID, where,
	)
}

// CyclicGraphError возвращается, когда связи между ревизиями образуют цикл.
// Cycle содержит путь цикла, первый и последний элементы совпадают.
type CyclicGraphError struct {
	Cycle []string
}

func (e *CyclicGraphError) Error() string {
	return fmt.Sprintf(
		"revision graph contains a cycle (%s): fix the parents of one of these revisions",
		strings.Join(e.Cycle, " -> "),
	)
}

// DanglingParentError возвращается, когда ревизия ссылается на родителя, отсутствующего в загруженном наборе.
type DanglingParentError struct {
	Revision string
	Parent   string
}

func (e *DanglingParentError) Error() string {
	return fmt.Sprintf(
		"revision %q names parent %q which is not in the loaded revision set: restore the missing revision file or fix the parent reference",
		e.Revision, e.Parent,
	)
}

// MultipleHeadsCondition не является фатальной ошибкой: граф с несколькими головами корректен,
// но вычислить единое "последнее" состояние нельзя, пока головы не объединены merge-ревизией.
type MultipleHeadsCondition struct {
	Heads []string
}

func (e *MultipleHeadsCondition) Error() string {
	return fmt.Sprintf(
		"revision graph has %d heads (%s): run `heads` and add a merge revision listing them as parents, or upgrade to `heads` explicitly",
		len(e.Heads), strings.Join(e.Heads, ", "),
	)
}

// InvalidRevisionError описывает некорректное определение ревизии.
type InvalidRevisionError struct {
	Revision string
	Reason   string
}

func (e *InvalidRevisionError) Error() string {
	return fmt.Sprintf("revision %q is invalid: %s", e.Revision, e.Reason)
}

// MigrationFailedError возвращается, когда операция ревизии завершилась ошибкой.
// Транзакция ревизии к этому моменту уже откачена, маркер остался прежним.
type MigrationFailedError struct {
	Revision  string
	Direction Direction
	// Operation - индекс операции в ревизии, -1 если ошибка произошла вне операций (маркер, фиксация).
	Operation int
	Statement string
	SQLState  string
	Err       error
}

func (e *MigrationFailedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s of revision %q failed", e.Direction, e.Revision)
	if e.Operation >= 0 {
		fmt.Fprintf(&b, " at operation %d", e.Operation+1)
	}
	if e.SQLState != "" {
		fmt.Fprintf(&b, " (sqlstate %s)", e.SQLState)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	if errors.Is(e.Err, context.Canceled) || errors.Is(e.Err, context.DeadlineExceeded) {
		// сама ревизия исправна, прервался запуск
		b.WriteString("; the run was canceled and the revision was rolled back, re-run to continue")
	} else {
		b.WriteString("; the revision was rolled back, fix it and re-run")
	}
	return b.String()
}

func (e *MigrationFailedError) Unwrap() error {
	return e.Err
}

// IrreversibleRevisionError возвращается при попытке отменить ревизию, которую нельзя откатить.
type IrreversibleRevisionError struct {
	Revision string
	Reason   string
}

func (e *IrreversibleRevisionError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "marked irreversible"
	}
	return fmt.Sprintf(
		"revision %q cannot be downgraded (%s): restore from backup or stamp the marker after reverting manually",
		e.Revision, reason,
	)
}

// LockTimeoutError возвращается, когда эксклюзивная блокировка не получена за отведенное время.
type LockTimeoutError struct {
	Key     string
	Timeout time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf(
		"could not acquire migration lock %q within %s: another migration is probably running, wait for it to finish",
		e.Key, e.Timeout,
	)
}

// DriftDetectedError сообщает о расхождении живой схемы с декларированной.
type DriftDetectedError struct {
	Applied       []string
	Discrepancies []Discrepancy
}

func (e *DriftDetectedError) Error() string {
	return fmt.Sprintf(
		"live schema drifted from revisions [%s]: %d discrepancies, reconcile them with a new revision",
		strings.Join(e.Applied, ", "), len(e.Discrepancies),
	)
}

// ConnectionError возвращается, когда не удалось подключиться к базе данных.
type ConnectionError struct {
	Dialect string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("could not connect to %s database: %v; check the database url and that the server is reachable", e.Dialect, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
