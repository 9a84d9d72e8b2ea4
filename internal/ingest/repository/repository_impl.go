package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	ingestdomain "github.com/smallbiznis/emitra/internal/ingest/domain"
	measurementdomain "github.com/smallbiznis/emitra/internal/measurement/domain"
	sitedomain "github.com/smallbiznis/emitra/internal/site/domain"
	"github.com/smallbiznis/emitra/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() ingestdomain.Repository {
	return &repo{}
}

func (r *repo) FindSiteForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*sitedomain.Site, error) {
	query := tx.WithContext(ctx)
	if db.SupportsRowLocking(tx) {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var site sitedomain.Site
	err := query.Where("id = ?", id).First(&site).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &site, nil
}

func (r *repo) InsertMeasurements(ctx context.Context, tx *gorm.DB, rows []measurementdomain.Measurement) error {
	return tx.WithContext(ctx).Create(&rows).Error
}

func (r *repo) UpdateSiteTotals(ctx context.Context, tx *gorm.DB, site *sitedomain.Site) error {
	return tx.WithContext(ctx).
		Model(&sitedomain.Site{}).
		Where("id = ?", site.ID).
		Updates(map[string]any{
			"total_emissions_to_date": site.TotalEmissions,
			"version":                 site.Version,
			"updated_at":              site.UpdatedAt,
		}).Error
}
