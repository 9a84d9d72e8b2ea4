// Package domain contains persistence models for emission measurements.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Units accepted for a measurement value.
const (
	UnitKg     = "kg"
	UnitTonnes = "tonnes"
	UnitMcf    = "mcf"
	UnitBoe    = "boe"

	DefaultUnit = UnitKg
)

// Sources describing how a reading was produced.
const (
	SourceSensor        = "sensor"
	SourceSatellite     = "satellite"
	SourceManual        = "manual"
	SourceFieldEngineer = "field_engineer"

	DefaultSource = SourceSensor
)

// Measurement stores a single emission reading. Rows are immutable once
// written; the ingest transaction is the only writer.
type Measurement struct {
	ID        snowflake.ID      `json:"id" gorm:"primaryKey"`
	SiteID    snowflake.ID      `json:"site_id" gorm:"not null;index:idx_measurements_site_timestamp,priority:1"`
	Value     decimal.Decimal   `json:"value" gorm:"type:decimal(18,6);not null"`
	Unit      string            `json:"unit" gorm:"type:text;not null;default:kg"`
	Timestamp time.Time         `json:"timestamp" gorm:"not null;index:idx_measurements_site_timestamp,priority:2"`
	Source    string            `json:"source" gorm:"type:text;not null;default:sensor"`
	Metadata  datatypes.JSONMap `json:"metadata" gorm:"type:jsonb"`
	BatchID   string            `json:"batch_id" gorm:"type:text;index"`
	CreatedAt time.Time         `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Measurement) TableName() string { return "measurements" }

// ValidUnit reports whether unit is one of the accepted emission units.
func ValidUnit(unit string) bool {
	switch unit {
	case UnitKg, UnitTonnes, UnitMcf, UnitBoe:
		return true
	default:
		return false
	}
}

// ValidSource reports whether source is one of the accepted reading sources.
func ValidSource(source string) bool {
	switch source {
	case SourceSensor, SourceSatellite, SourceManual, SourceFieldEngineer:
		return true
	default:
		return false
	}
}
