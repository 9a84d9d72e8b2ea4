package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	measurementdomain "github.com/smallbiznis/emitra/internal/measurement/domain"
	sitedomain "github.com/smallbiznis/emitra/internal/site/domain"
	"gorm.io/gorm"
)

type Repository interface {
	// FindSiteForUpdate loads the site row under an exclusive row lock when
	// the dialect supports one. Concurrent ingests for the same site queue
	// here; different sites proceed in parallel.
	FindSiteForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*sitedomain.Site, error)
	InsertMeasurements(ctx context.Context, tx *gorm.DB, rows []measurementdomain.Measurement) error
	UpdateSiteTotals(ctx context.Context, tx *gorm.DB, site *sitedomain.Site) error
}
