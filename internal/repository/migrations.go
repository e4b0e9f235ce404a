package repository

import (
	"time"

	"github.com/enockabere/msafiri-visitor-api-sub004/internal/models"
	"gorm.io/gorm"
)

type Order string

const (
	OrderASC  Order = "ASC"
	OrderDESC Order = "DESC"
)

// GetMigrationsSorted возвращает записи журнала в порядке записи. limit <= 0 - без ограничения.
func GetMigrationsSorted(db *gorm.DB, order Order, limit int) ([]models.MigrationModel, error) {
	var migrations []models.MigrationModel
	query := db.Order("id " + string(order))
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&migrations).Error
	return migrations, err
}

type SaveMigrationRequest struct {
	RunId     string
	Revision  string
	Direction string
	State     models.MigrationState
	Label     string
	Checksum  string
	Duration  time.Duration
	Error     string
}

func SaveMigration(db *gorm.DB, request SaveMigrationRequest) (models.MigrationModel, error) {
	migration := models.MigrationModel{
		RunId:      request.RunId,
		Revision:   request.Revision,
		Direction:  request.Direction,
		State:      request.State,
		Label:      request.Label,
		Checksum:   request.Checksum,
		ExecutedOn: time.Now().UTC(),
		DurationMs: request.Duration.Milliseconds(),
		Error:      request.Error,
	}

	return migration, db.Create(&migration).Error
}

func HasMigrationsTable(db *gorm.DB) bool {
	return db.Migrator().HasTable(models.MigrationModel{}.TableName())
}

func CreateMigrationsTable(db *gorm.DB) error {
	return db.Migrator().CreateTable(&models.MigrationModel{})
}
