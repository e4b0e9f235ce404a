package db_migrator

import "time"

type RevisionOption func(*Revision)

func WithLabel(label string) RevisionOption {
	return func(r *Revision) {
		r.Label = label
	}
}

// WithCreatedAt задает время создания ревизии. Оно используется линеаризатором для выбора порядка
// между независимыми ревизиями.
func WithCreatedAt(createdAt time.Time) RevisionOption {
	return func(r *Revision) {
		r.CreatedAt = createdAt
	}
}

func WithUpgrade(ops ...Operation) RevisionOption {
	return func(r *Revision) {
		r.Upgrade = append(r.Upgrade, ops...)
	}
}

// WithDowngrade задает операции отката явно. Вызов без аргументов объявляет пустой откат, что для
// ревизии с изменениями равносильно пометке необратимой.
func WithDowngrade(ops ...Operation) RevisionOption {
	return func(r *Revision) {
		if r.Downgrade == nil {
			r.Downgrade = make([]Operation, 0, len(ops))
		}
		r.Downgrade = append(r.Downgrade, ops...)
	}
}

// MarkIrreversible помечает ревизию как необратимую. Downgrade через такую ревизию завершается
// IrreversibleRevisionError до выполнения каких-либо операций.
func MarkIrreversible(reason string) RevisionOption {
	return func(r *Revision) {
		r.Irreversible = true
		r.IrreversibleReason = reason
	}
}
