package db_migrator

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
)

type Direction string

const (
	DirectionUpgrade   Direction = "upgrade"
	DirectionDowngrade Direction = "downgrade"
	DirectionStamp     Direction = "stamp"
)

// зарезервированные имена целей
const (
	TargetHead  = "head"
	TargetHeads = "heads"
	TargetBase  = "base"
)

// Revision - единица изменения схемы с идентификатором, родителями и операциями в обе стороны.
type Revision struct {
	ID        string
	Parents   []string
	Label     string
	CreatedAt time.Time

	Upgrade []Operation
	// Downgrade == nil означает, что операции отката выводятся из обратных операций Upgrade.
	Downgrade []Operation

	Irreversible       bool
	IrreversibleReason string

	// Source - файл, из которого загружена ревизия (пусто для ревизий, собранных в коде).
	Source string
}

// NewRevision создает ревизию. По умолчанию операции отката выводятся из операций Upgrade.
func NewRevision(id string, parents []string, opts ...RevisionOption) *Revision {
	revision := &Revision{
		ID:      id,
		Parents: append([]string(nil), parents...),
	}
	for _, opt := range opts {
		opt(revision)
	}
	return revision
}

func (r *Revision) IsBase() bool {
	return len(r.Parents) == 0
}

func (r *Revision) IsMerge() bool {
	return len(r.Parents) > 1
}

// DowngradeOperations возвращает операции отката в порядке выполнения.
// Для ревизий, которые нельзя откатить, возвращает IrreversibleRevisionError.
func (r *Revision) DowngradeOperations() ([]Operation, error) {
	if r.Irreversible {
		return nil, &IrreversibleRevisionError{Revision: r.ID, Reason: r.IrreversibleReason}
	}

	if r.Downgrade != nil {
		// пустой откат у ревизии с изменениями - это потеря данных, а не отмена
		if len(r.Downgrade) == 0 && len(r.Upgrade) > 0 {
			return nil, &IrreversibleRevisionError{Revision: r.ID, Reason: "declared downgrade is empty"}
		}
		return r.Downgrade, nil
	}

	ops := make([]Operation, 0, len(r.Upgrade))
	for i := len(r.Upgrade) - 1; i >= 0; i-- {
		inverse, err := r.Upgrade[i].Inverse()
		if err != nil {
			return nil, &IrreversibleRevisionError{Revision: r.ID, Reason: err.Error()}
		}
		ops = append(ops, inverse...)
	}
	return ops, nil
}

func (r *Revision) validate() error {
	if r.ID == "" {
		return &InvalidRevisionError{Revision: r.ID, Reason: "empty identifier"}
	}
	if strings.IndexFunc(r.ID, unicode.IsSpace) >= 0 {
		return &InvalidRevisionError{Revision: r.ID, Reason: "identifier contains whitespace"}
	}
	switch strings.ToLower(r.ID) {
	case TargetHead, TargetHeads, TargetBase:
		return &InvalidRevisionError{Revision: r.ID, Reason: "identifier is a reserved word"}
	}
	if strings.HasPrefix(r.ID, "-") || strings.HasPrefix(r.ID, "+") {
		return &InvalidRevisionError{Revision: r.ID, Reason: "identifier must not start with a sign"}
	}

	seen := make(map[string]bool, len(r.Parents))
	for _, parent := range r.Parents {
		if parent == r.ID {
			return &InvalidRevisionError{Revision: r.ID, Reason: "revision names itself as parent"}
		}
		if seen[parent] {
			return &InvalidRevisionError{Revision: r.ID, Reason: fmt.Sprintf("parent %q listed twice", parent)}
		}
		seen[parent] = true
	}

	for i, op := range r.Upgrade {
		if op == nil {
			return &InvalidRevisionError{Revision: r.ID, Reason: fmt.Sprintf("upgrade operation %d is empty", i+1)}
		}
		if err := checkOperation(op); err != nil {
			return &InvalidRevisionError{Revision: r.ID, Reason: fmt.Sprintf("upgrade operation %d: %v", i+1, err)}
		}
	}
	for i, op := range r.Downgrade {
		if op == nil {
			return &InvalidRevisionError{Revision: r.ID, Reason: fmt.Sprintf("downgrade operation %d is empty", i+1)}
		}
		if err := checkOperation(op); err != nil {
			return &InvalidRevisionError{Revision: r.ID, Reason: fmt.Sprintf("downgrade operation %d: %v", i+1, err)}
		}
	}

	// без явного отката каждая операция обязана иметь обратную, иначе ревизию надо пометить необратимой
	if !r.Irreversible && r.Downgrade == nil {
		for i, op := range r.Upgrade {
			if _, err := op.Inverse(); err != nil {
				if errors.Is(err, ErrNoInverse) {
					return &InvalidRevisionError{
						Revision: r.ID,
						Reason: fmt.Sprintf(
							"upgrade operation %d (%s) has no inverse: declare a downgrade or mark the revision irreversible",
							i+1, op.Kind(),
						),
					}
				}
				return err
			}
		}
	}

	return nil
}

type checksumOperation struct {
	Kind OpKind    `json:"kind"`
	Op   Operation `json:"op"`
}

type checksumRevision struct {
	ID                 string              `json:"id"`
	Parents            []string            `json:"parents"`
	Label              string              `json:"label"`
	CreatedAt          time.Time           `json:"created_at"`
	Upgrade            []checksumOperation `json:"upgrade"`
	Downgrade          []checksumOperation `json:"downgrade"`
	DowngradeDeclared  bool                `json:"downgrade_declared"`
	Irreversible       bool                `json:"irreversible"`
	IrreversibleReason string              `json:"irreversible_reason"`
}

// Checksum - sha256 канонического содержимого ревизии. Источник (файл) в расчет не входит.
func (r *Revision) Checksum() string {
	parents := append([]string(nil), r.Parents...)
	sort.Strings(parents)

	content := checksumRevision{
		ID:                 r.ID,
		Parents:            parents,
		Label:              r.Label,
		CreatedAt:          r.CreatedAt.UTC(),
		Upgrade:            checksumOperations(r.Upgrade),
		Downgrade:          checksumOperations(r.Downgrade),
		DowngradeDeclared:  r.Downgrade != nil,
		Irreversible:       r.Irreversible,
		IrreversibleReason: r.IrreversibleReason,
	}

	// json.Marshal для этих типов не возвращает ошибок
	data, _ := json.Marshal(content)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func checksumOperations(ops []Operation) []checksumOperation {
	out := make([]checksumOperation, 0, len(ops))
	for _, op := range ops {
		out = append(out, checksumOperation{Kind: op.Kind(), Op: op})
	}
	return out
}

func (r *Revision) String() string {
	if r.Label == "" {
		return r.ID
	}
	return r.ID + " (" + r.Label + ")"
}
