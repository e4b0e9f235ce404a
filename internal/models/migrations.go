package models

import "time"

type MigrationState string

const (
	StateApplied MigrationState = "applied"
	StateUndone  MigrationState = "undone"
	StateFailed  MigrationState = "failed"
	StateStamped MigrationState = "stamped"
)

// MigrationModel - запись журнала: одно применение, отмена, пометка или сбой ревизии.
type MigrationModel struct {
	Id         uint64         `gorm:"primaryKey;autoIncrement"`
	RunId      string         `gorm:"size:36;index"`
	Revision   string         `gorm:"size:255;not null"`
	Direction  string         `gorm:"size:16;not null"`
	State      MigrationState `gorm:"size:16;not null"`
	Label      string
	Checksum   string `gorm:"size:64"`
	ExecutedOn time.Time
	DurationMs int64
	Error      string
}

func (v MigrationModel) TableName() string {
	return "revision_history"
}
