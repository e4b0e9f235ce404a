package models

import "time"

// MarkerModel - единственная строка с примененным состоянием схемы.
// Heads - идентификаторы голов через пробел, Generation растет на единицу при каждой записи.
type MarkerModel struct {
	Id         int    `gorm:"primaryKey;autoIncrement:false"`
	Heads      string `gorm:"not null;default:''"`
	Generation int64  `gorm:"not null;default:0"`
	UpdatedOn  time.Time
}

func (v MarkerModel) TableName() string {
	return "revision_marker"
}
