package repository

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/enockabere/msafiri-visitor-api-sub004/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound    = errors.New("marker not found")
	ErrStaleMarker = errors.New("marker generation changed since it was read")
)

const markerRowID = 1

// Marker - прочитанное состояние маркера.
type Marker struct {
	Heads      []string
	Generation int64
	UpdatedOn  time.Time
}

func HasMarkerTable(db *gorm.DB) bool {
	return db.Migrator().HasTable(models.MarkerModel{}.TableName())
}

func CreateMarkerTable(db *gorm.DB) error {
	return db.Migrator().CreateTable(&models.MarkerModel{})
}

// EnsureMarkerRow создает пустую строку маркера, если ее еще нет.
func EnsureMarkerRow(db *gorm.DB) error {
	row := models.MarkerModel{Id: markerRowID, UpdatedOn: time.Now().UTC()}
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

func GetMarker(db *gorm.DB) (Marker, error) {
	var row models.MarkerModel
	err := db.Where("id = ?", markerRowID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Marker{}, ErrNotFound
	}
	if err != nil {
		return Marker{}, err
	}

	return Marker{
		Heads:      strings.Fields(row.Heads),
		Generation: row.Generation,
		UpdatedOn:  row.UpdatedOn,
	}, nil
}

// SaveMarker записывает новые головы, если поколение маркера все еще равно expectedGeneration.
// Иначе возвращает ErrStaleMarker и ничего не меняет.
func SaveMarker(db *gorm.DB, heads []string, expectedGeneration int64) (Marker, error) {
	sorted := append([]string(nil), heads...)
	sort.Strings(sorted)

	now := time.Now().UTC()
	result := db.Model(&models.MarkerModel{}).
		Where("id = ? AND generation = ?", markerRowID, expectedGeneration).
		Updates(map[string]any{
			"heads":      strings.Join(sorted, " "),
			"generation": expectedGeneration + 1,
			"updated_on": now,
		})
	if result.Error != nil {
		return Marker{}, result.Error
	}
	if result.RowsAffected == 0 {
		return Marker{}, ErrStaleMarker
	}

	return Marker{Heads: sorted, Generation: expectedGeneration + 1, UpdatedOn: now}, nil
}
