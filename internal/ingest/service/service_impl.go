package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/emitra/internal/clock"
	"github.com/smallbiznis/emitra/internal/events"
	"github.com/smallbiznis/emitra/internal/idempotency"
	ingestdomain "github.com/smallbiznis/emitra/internal/ingest/domain"
	measurementdomain "github.com/smallbiznis/emitra/internal/measurement/domain"
	obsmetrics "github.com/smallbiznis/emitra/internal/observability/metrics"
	sitedomain "github.com/smallbiznis/emitra/internal/site/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// errKeyRace forces a rollback when another writer claimed the idempotency
// key between the guard check and the record insert.
var errKeyRace = errors.New("idempotency_key_race")

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	GenID    *snowflake.Node
	Repo     ingestdomain.Repository
	Guard    *idempotency.Guard
	Outbox   *events.Outbox
	Notifier *events.Notifier
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	genID    *snowflake.Node
	repo     ingestdomain.Repository
	guard    *idempotency.Guard
	outbox   *events.Outbox
	notifier *events.Notifier
	metrics  *obsmetrics.Metrics
}

func New(p Params) ingestdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("ingest.service"),
		clock:    p.Clock,
		genID:    p.GenID,
		repo:     p.Repo,
		guard:    p.Guard,
		outbox:   p.Outbox,
		notifier: p.Notifier,
		metrics:  p.Metrics,
	}
}

// Ingest validates the batch, replays a previously stored response when the
// idempotency key has been seen, and otherwise applies the whole batch in one
// transaction: measurement rows, site running total and version, outbox row,
// and the idempotency record itself. The record's unique key is the
// serialization point between concurrent calls carrying the same token; the
// loser rolls back everything and replays the winner's response.
func (s *Service) Ingest(ctx context.Context, req ingestdomain.IngestRequest) (*ingestdomain.Outcome, error) {
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		return nil, ingestdomain.ErrMissingIdempotencyKey
	}

	siteID, err := snowflake.ParseString(strings.TrimSpace(req.SiteID))
	if err != nil || siteID == 0 {
		return nil, sitedomain.ErrInvalidID
	}

	entries, err := normalize(req.Measurements)
	if err != nil {
		return nil, err
	}

	cached, err := s.guard.Check(ctx, key)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		return &ingestdomain.Outcome{
			Response:   json.RawMessage(cached.Response),
			StatusCode: cached.StatusCode,
			Duplicate:  true,
		}, nil
	}

	batchID := uuid.NewString()
	now := s.clock.Now()

	var (
		record   *idempotency.Record
		result   *ingestdomain.Result
		lockWait time.Duration
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lockStart := time.Now()
		site, err := s.repo.FindSiteForUpdate(ctx, tx, siteID)
		if err != nil {
			return err
		}
		if site == nil {
			return sitedomain.ErrNotFound
		}
		lockWait = time.Since(lockStart)

		rows := make([]measurementdomain.Measurement, 0, len(entries))
		delta := decimal.Zero
		for _, entry := range entries {
			row := measurementdomain.Measurement{
				ID:        s.genID.Generate(),
				SiteID:    site.ID,
				Value:     entry.Value,
				Unit:      entry.Unit,
				Timestamp: entry.Timestamp,
				Source:    entry.Source,
				BatchID:   batchID,
				CreatedAt: now,
			}
			if entry.Metadata != nil {
				row.Metadata = datatypes.JSONMap(entry.Metadata)
			}
			rows = append(rows, row)
			delta = delta.Add(entry.Value)
		}
		if err := s.repo.InsertMeasurements(ctx, tx, rows); err != nil {
			return err
		}

		site.TotalEmissions = site.TotalEmissions.Add(delta)
		site.Version++
		site.UpdatedAt = now
		if err := s.repo.UpdateSiteTotals(ctx, tx, site); err != nil {
			return err
		}

		if err := s.outbox.AppendTx(ctx, tx, events.EventTypeMeasurementsIngested, events.IngestedPayload{
			SiteID:            site.ID.String(),
			BatchID:           batchID,
			MeasurementCount:  len(rows),
			TotalNewEmissions: delta,
			IdempotencyKey:    key,
		}); err != nil {
			return err
		}

		result = &ingestdomain.Result{
			Site: ingestdomain.SiteSnapshot{
				ID:               site.ID.String(),
				Name:             site.Name,
				EmissionLimit:    site.EmissionLimit,
				TotalEmissions:   site.TotalEmissions,
				Version:          site.Version,
				ComplianceStatus: site.ComplianceStatus(),
			},
			BatchID:           batchID,
			MeasurementCount:  len(rows),
			TotalNewEmissions: delta,
		}
		raw, err := json.Marshal(result)
		if err != nil {
			return err
		}

		record = s.guard.NewRecord(key, raw, http.StatusCreated)
		inserted, err := s.guard.AppendTx(ctx, tx, record)
		if err != nil {
			return err
		}
		if !inserted {
			// a row already holds this key: either a live winner (we lost)
			// or an expired leftover we can reclaim
			refreshed, err := s.guard.RefreshExpiredTx(ctx, tx, record)
			if err != nil {
				return err
			}
			if !refreshed {
				return errKeyRace
			}
		}
		return nil
	})
	if errors.Is(err, errKeyRace) {
		return s.replay(ctx, key)
	}
	if err != nil {
		return nil, err
	}

	s.guard.CachePut(ctx, record)
	s.metrics.RecordIngestion(ctx, result.Site.ID, result.MeasurementCount)
	s.metrics.RecordLockWait(ctx, result.Site.ID, lockWait)
	s.notifier.Publish(events.Notification{
		SiteID:            result.Site.ID,
		SiteName:          result.Site.Name,
		BatchID:           batchID,
		MeasurementCount:  result.MeasurementCount,
		TotalNewEmissions: result.TotalNewEmissions,
		TotalEmissions:    result.Site.TotalEmissions,
		IdempotencyKey:    key,
		CommittedAt:       now,
	})

	s.log.Info("batch ingested",
		zap.String("site_id", result.Site.ID),
		zap.String("batch_id", batchID),
		zap.Int("measurement_count", result.MeasurementCount),
		zap.String("total_new_emissions", result.TotalNewEmissions.String()),
		zap.Duration("lock_wait", lockWait),
	)

	return &ingestdomain.Outcome{
		Response:   json.RawMessage(record.Response),
		StatusCode: record.StatusCode,
	}, nil
}

// replay returns the winner's stored response after losing the key race.
func (s *Service) replay(ctx context.Context, key string) (*ingestdomain.Outcome, error) {
	record, err := s.guard.Find(ctx, key)
	if err != nil {
		return nil, err
	}
	if record == nil {
		// winner vanished between conflict and read; transient, retryable
		return nil, ingestdomain.ErrKeyContention
	}
	s.guard.CachePut(ctx, record)
	s.log.Warn("lost idempotency race, replaying stored response",
		zap.String("idempotency_key", key),
	)
	return &ingestdomain.Outcome{
		Response:   json.RawMessage(record.Response),
		StatusCode: record.StatusCode,
		Duplicate:  true,
	}, nil
}

// normalize validates every entry and applies unit/source defaults. The batch
// is rejected as a whole on the first offending entry.
func normalize(entries []ingestdomain.MeasurementEntry) ([]ingestdomain.MeasurementEntry, error) {
	if len(entries) < ingestdomain.MinBatchSize {
		return nil, ingestdomain.ErrEmptyBatch
	}
	if len(entries) > ingestdomain.MaxBatchSize {
		return nil, ingestdomain.ErrBatchTooLarge
	}

	out := make([]ingestdomain.MeasurementEntry, len(entries))
	for i, entry := range entries {
		if entry.Value.IsNegative() {
			return nil, ingestdomain.ErrNegativeValue
		}
		if entry.Timestamp.IsZero() {
			return nil, ingestdomain.ErrInvalidTimestamp
		}

		entry.Unit = strings.TrimSpace(entry.Unit)
		if entry.Unit == "" {
			entry.Unit = measurementdomain.DefaultUnit
		}
		if !measurementdomain.ValidUnit(entry.Unit) {
			return nil, ingestdomain.ErrInvalidUnit
		}

		entry.Source = strings.TrimSpace(entry.Source)
		if entry.Source == "" {
			entry.Source = measurementdomain.DefaultSource
		}
		if !measurementdomain.ValidSource(entry.Source) {
			return nil, ingestdomain.ErrInvalidSource
		}

		entry.Timestamp = entry.Timestamp.UTC()
		out[i] = entry
	}
	return out, nil
}
