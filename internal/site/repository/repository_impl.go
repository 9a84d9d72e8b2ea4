package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	measurementdomain "github.com/smallbiznis/emitra/internal/measurement/domain"
	sitedomain "github.com/smallbiznis/emitra/internal/site/domain"
	"github.com/smallbiznis/emitra/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() sitedomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, site *sitedomain.Site) error {
	return db.WithContext(ctx).Create(site).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*sitedomain.Site, error) {
	var site sitedomain.Site
	err := db.WithContext(ctx).Where("id = ?", id).First(&site).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &site, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB) ([]sitedomain.Site, error) {
	var sites []sitedomain.Site
	err := db.WithContext(ctx).Order("created_at ASC").Find(&sites).Error
	if err != nil {
		return nil, err
	}
	return sites, nil
}

type statsRow struct {
	Count int64
	Sum   decimal.Decimal
}

func (r *repo) MeasurementStats(ctx context.Context, db *gorm.DB, id snowflake.ID) (*sitedomain.MeasurementStats, error) {
	var row statsRow
	err := db.WithContext(ctx).
		Model(&measurementdomain.Measurement{}).
		Select("COUNT(*) AS count, COALESCE(SUM(value), 0) AS sum").
		Where("site_id = ?", id).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}

	stats := &sitedomain.MeasurementStats{Count: row.Count}
	if row.Count > 0 {
		// exact decimal division, rounded to the column scale
		stats.Average = row.Sum.DivRound(decimal.NewFromInt(row.Count), 6)

		// MAX(timestamp) comes back as a string on sqlite; go through the
		// model so the driver maps the column type.
		var latest measurementdomain.Measurement
		err = db.WithContext(ctx).
			Where("site_id = ?", id).
			Order("timestamp DESC").
			First(&latest).Error
		if err != nil {
			return nil, err
		}
		ts := latest.Timestamp
		stats.LastReadingAt = &ts
	}
	return stats, nil
}

func (r *repo) ListMeasurements(ctx context.Context, db *gorm.DB, id snowflake.ID, cursor *pagination.Cursor, limit int) ([]*measurementdomain.Measurement, error) {
	query := db.WithContext(ctx).
		Where("site_id = ?", id).
		Order("id DESC").
		Limit(limit + 1)
	if cursor != nil && cursor.ID != "" {
		afterID, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return nil, sitedomain.ErrInvalidCursor
		}
		query = query.Where("id < ?", afterID)
	}

	var rows []*measurementdomain.Measurement
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
