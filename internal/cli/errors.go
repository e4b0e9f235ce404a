// Package cli содержит общую конфигурацию и утилиты CLI msafiri-migrate.
package cli

import (
	"errors"
	"fmt"
	"os"

	migrator "github.com/enockabere/msafiri-visitor-api-sub004"
)

// Коды завершения.
const (
	ExitSuccess           = 0
	ExitGeneral           = 1
	ExitConfig            = 2
	ExitDuplicateRevision = 3
	ExitCyclicGraph       = 4
	ExitDanglingParent    = 5
	ExitMultipleHeads     = 6
	ExitMigrationFailed   = 7
	ExitIrreversible      = 8
	ExitLockTimeout       = 9
	ExitDriftDetected     = 10
	ExitDBConnect         = 11
)

// ExitError оборачивает ошибку кодом завершения.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCodeFor сопоставляет ошибку мигратора коду завершения.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var (
		exitErr      *ExitError
		duplicate    *migrator.DuplicateRevisionError
		cyclic       *migrator.CyclicGraphError
		dangling     *migrator.DanglingParentError
		heads        *migrator.MultipleHeadsCondition
		failed       *migrator.MigrationFailedError
		irreversible *migrator.IrreversibleRevisionError
		lockTimeout  *migrator.LockTimeoutError
		drift        *migrator.DriftDetectedError
		connection   *migrator.ConnectionError
	)
	switch {
	case errors.As(err, &exitErr):
		return exitErr.Code
	case errors.As(err, &duplicate):
		return ExitDuplicateRevision
	case errors.As(err, &cyclic):
		return ExitCyclicGraph
	case errors.As(err, &dangling):
		return ExitDanglingParent
	case errors.As(err, &heads):
		return ExitMultipleHeads
	case errors.As(err, &irreversible):
		return ExitIrreversible
	case errors.As(err, &failed):
		return ExitMigrationFailed
	case errors.As(err, &lockTimeout):
		return ExitLockTimeout
	case errors.As(err, &drift):
		return ExitDriftDetected
	case errors.As(err, &connection):
		return ExitDBConnect
	}
	return ExitGeneral
}

// ExitWithError печатает ошибку и завершает процесс с подходящим кодом.
func ExitWithError(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(ExitCodeFor(err))
}

// ConfigError создает ExitError с кодом ExitConfig.
func ConfigError(msg string, err error) *ExitError {
	return &ExitError{Code: ExitConfig, Message: msg, Err: err}
}

// GeneralError создает ExitError с кодом ExitGeneral.
func GeneralError(msg string, err error) *ExitError {
	return &ExitError{Code: ExitGeneral, Message: msg, Err: err}
}
