package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	measurementdomain "github.com/smallbiznis/emitra/internal/measurement/domain"
	"github.com/smallbiznis/emitra/pkg/db/pagination"
	"gorm.io/gorm"
)

// MeasurementStats aggregates the measurement history for one site.
type MeasurementStats struct {
	Count         int64
	Average       decimal.Decimal
	LastReadingAt *time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, site *Site) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Site, error)
	List(ctx context.Context, db *gorm.DB) ([]Site, error)
	MeasurementStats(ctx context.Context, db *gorm.DB, id snowflake.ID) (*MeasurementStats, error)
	// ListMeasurements returns up to limit+1 rows newest first, starting
	// after cursor when one is given. The extra row signals another page.
	ListMeasurements(ctx context.Context, db *gorm.DB, id snowflake.ID, cursor *pagination.Cursor, limit int) ([]*measurementdomain.Measurement, error)
}
