// Package domain contains persistence models for industrial sites.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Site is one regulated industrial site. TotalEmissions and Version are
// mutated exclusively by the ingest transaction, under the site row lock;
// every accepted batch bumps Version by one.
type Site struct {
	ID             snowflake.ID      `json:"id" gorm:"primaryKey"`
	Name           string            `json:"name" gorm:"type:text;not null"`
	Location       string            `json:"location" gorm:"type:text;not null"`
	EmissionLimit  decimal.Decimal   `json:"emission_limit" gorm:"type:decimal(18,6);not null"`
	TotalEmissions decimal.Decimal   `json:"total_emissions_to_date" gorm:"column:total_emissions_to_date;type:decimal(18,6);not null"`
	Metadata       datatypes.JSONMap `json:"metadata" gorm:"type:jsonb"`
	Version        int64             `json:"version" gorm:"not null;default:1"`
	CreatedAt      time.Time         `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time         `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Site) TableName() string { return "sites" }

// Compliance statuses reported by site metrics.
const (
	ComplianceWithinLimit   = "Within Limit"
	ComplianceLimitExceeded = "Limit Exceeded"
)

// ComplianceStatus evaluates the running total against the site limit.
func (s Site) ComplianceStatus() string {
	if s.TotalEmissions.LessThanOrEqual(s.EmissionLimit) {
		return ComplianceWithinLimit
	}
	return ComplianceLimitExceeded
}
