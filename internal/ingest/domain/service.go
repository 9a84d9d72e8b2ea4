// Package domain defines the ingestion contract: one batch of measurements
// for one site, accepted atomically exactly once per idempotency key.
package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Batch size bounds enforced before any storage access.
const (
	MinBatchSize = 1
	MaxBatchSize = 100
)

type Service interface {
	Ingest(ctx context.Context, req IngestRequest) (*Outcome, error)
}

// MeasurementEntry is one reading supplied by the caller. Unit and Source
// fall back to their defaults when empty.
type MeasurementEntry struct {
	Value     decimal.Decimal `json:"value"`
	Unit      string          `json:"unit"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
	Metadata  map[string]any  `json:"metadata"`
}

type IngestRequest struct {
	SiteID         string             `json:"site_id"`
	IdempotencyKey string             `json:"-"`
	Measurements   []MeasurementEntry `json:"measurements"`
}

// SiteSnapshot is the post-commit state of the site row.
type SiteSnapshot struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	EmissionLimit    decimal.Decimal `json:"emission_limit"`
	TotalEmissions   decimal.Decimal `json:"total_emissions_to_date"`
	Version          int64           `json:"version"`
	ComplianceStatus string          `json:"compliance_status"`
}

// Result is the response payload produced by a winning execution. The exact
// bytes are persisted alongside the idempotency key, so replays return the
// same payload byte for byte.
type Result struct {
	Site              SiteSnapshot    `json:"site"`
	BatchID           string          `json:"batch_id"`
	MeasurementCount  int             `json:"measurement_count"`
	TotalNewEmissions decimal.Decimal `json:"total_new_emissions"`
}

// Outcome carries the payload to write plus whether it came from a previous
// execution. Duplicate lives here, not in the payload: the payload is frozen
// at first execution while duplicate flips per request.
type Outcome struct {
	Response   json.RawMessage
	StatusCode int
	Duplicate  bool
}

// ErrKeyContention means another request holding the same idempotency key won
// the race but its stored response was not yet readable. The caller may retry
// with the same key.
var ErrKeyContention = errors.New("idempotency_key_contention")

var (
	ErrMissingIdempotencyKey = errors.New("missing_idempotency_key")
	ErrEmptyBatch            = errors.New("empty_batch")
	ErrBatchTooLarge         = errors.New("batch_too_large")
	ErrNegativeValue         = errors.New("negative_value")
	ErrInvalidTimestamp      = errors.New("invalid_timestamp")
	ErrInvalidUnit           = errors.New("invalid_unit")
	ErrInvalidSource         = errors.New("invalid_source")
)
