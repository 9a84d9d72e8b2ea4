package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	measurementdomain "github.com/smallbiznis/emitra/internal/measurement/domain"
	"github.com/smallbiznis/emitra/pkg/db/pagination"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Site, error)
	List(ctx context.Context) ([]Site, error)
	GetByID(ctx context.Context, id string) (*Site, error)
	Metrics(ctx context.Context, id string) (*MetricsResponse, error)
	ListMeasurements(ctx context.Context, id string, p pagination.Pagination) (*MeasurementPage, error)
}

type CreateRequest struct {
	Name          string          `json:"name"`
	Location      string          `json:"location"`
	EmissionLimit decimal.Decimal `json:"emission_limit"`
	Metadata      map[string]any  `json:"metadata"`
}

// MetricsResponse summarizes a site's compliance position.
type MetricsResponse struct {
	SiteID           string          `json:"site_id"`
	SiteName         string          `json:"site_name"`
	EmissionLimit    decimal.Decimal `json:"emission_limit"`
	TotalEmissions   decimal.Decimal `json:"total_emissions_to_date"`
	ComplianceStatus string          `json:"compliance_status"`
	MeasurementCount int64           `json:"measurement_count"`
	AverageEmission  decimal.Decimal `json:"average_emission"`
	LastReadingAt    *time.Time      `json:"last_reading_at"`
}

// MeasurementPage is one cursor page of a site's reading history, newest
// first.
type MeasurementPage struct {
	Measurements []*measurementdomain.Measurement `json:"measurements"`
	PageInfo     pagination.PageInfo              `json:"page_info"`
}

var (
	ErrNotFound             = errors.New("site_not_found")
	ErrInvalidID            = errors.New("invalid_site_id")
	ErrInvalidName          = errors.New("invalid_name")
	ErrInvalidLocation      = errors.New("invalid_location")
	ErrInvalidEmissionLimit = errors.New("invalid_emission_limit")
	ErrInvalidCursor        = errors.New("invalid_cursor")
)
