package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	measurementdomain "github.com/smallbiznis/emitra/internal/measurement/domain"
	sitedomain "github.com/smallbiznis/emitra/internal/site/domain"
	"github.com/smallbiznis/emitra/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  sitedomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  sitedomain.Repository
	genID *snowflake.Node
}

func New(p Params) sitedomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("site.service"),
		repo:  p.Repo,
		genID: p.GenID,
	}
}

func (s *Service) Create(ctx context.Context, req sitedomain.CreateRequest) (*sitedomain.Site, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, sitedomain.ErrInvalidName
	}

	location := strings.TrimSpace(req.Location)
	if location == "" {
		return nil, sitedomain.ErrInvalidLocation
	}

	if !req.EmissionLimit.IsPositive() {
		return nil, sitedomain.ErrInvalidEmissionLimit
	}

	now := time.Now().UTC()
	site := &sitedomain.Site{
		ID:            s.genID.Generate(),
		Name:          name,
		Location:      location,
		EmissionLimit: req.EmissionLimit,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if req.Metadata != nil {
		site.Metadata = datatypes.JSONMap(req.Metadata)
	}

	if err := s.repo.Insert(ctx, s.db, site); err != nil {
		return nil, err
	}

	s.log.Info("site created",
		zap.String("site_id", site.ID.String()),
		zap.String("name", site.Name),
	)
	return site, nil
}

func (s *Service) List(ctx context.Context) ([]sitedomain.Site, error) {
	return s.repo.List(ctx, s.db)
}

func (s *Service) GetByID(ctx context.Context, id string) (*sitedomain.Site, error) {
	siteID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || siteID == 0 {
		return nil, sitedomain.ErrInvalidID
	}

	site, err := s.repo.FindByID(ctx, s.db, siteID)
	if err != nil {
		return nil, err
	}
	if site == nil {
		return nil, sitedomain.ErrNotFound
	}
	return site, nil
}

const (
	defaultPageSize = 50
	maxPageSize     = 250
)

func (s *Service) ListMeasurements(ctx context.Context, id string, p pagination.Pagination) (*sitedomain.MeasurementPage, error) {
	site, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	limit := p.PageSize
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	var cursor *pagination.Cursor
	if strings.TrimSpace(p.PageToken) != "" {
		cursor, err = pagination.DecodeCursor(p.PageToken)
		if err != nil {
			return nil, sitedomain.ErrInvalidCursor
		}
	}

	rows, err := s.repo.ListMeasurements(ctx, s.db, site.ID, cursor, limit)
	if err != nil {
		return nil, err
	}

	pageInfo := pagination.BuildCursorPageInfo(rows, limit, func(m *measurementdomain.Measurement) string {
		token, encodeErr := pagination.EncodeCursor(pagination.Cursor{ID: m.ID.String()})
		if encodeErr != nil {
			return ""
		}
		return token
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}

	return &sitedomain.MeasurementPage{
		Measurements: rows,
		PageInfo:     *pageInfo,
	}, nil
}

func (s *Service) Metrics(ctx context.Context, id string) (*sitedomain.MetricsResponse, error) {
	site, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	stats, err := s.repo.MeasurementStats(ctx, s.db, site.ID)
	if err != nil {
		return nil, err
	}

	return &sitedomain.MetricsResponse{
		SiteID:           site.ID.String(),
		SiteName:         site.Name,
		EmissionLimit:    site.EmissionLimit,
		TotalEmissions:   site.TotalEmissions,
		ComplianceStatus: site.ComplianceStatus(),
		MeasurementCount: stats.Count,
		AverageEmission:  stats.Average,
		LastReadingAt:    stats.LastReadingAt,
	}, nil
}
