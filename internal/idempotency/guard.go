package idempotency

import (
	"context"
	"errors"

	"github.com/smallbiznis/emitra/internal/clock"
	obsmetrics "github.com/smallbiznis/emitra/internal/observability/metrics"
	"github.com/smallbiznis/emitra/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GuardParams struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Cache   ResponseCache
	Metrics *obsmetrics.Metrics `optional:"true"`
}

// Guard is the two-tier idempotency lookup: fast cache over durable store.
type Guard struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	cache   ResponseCache
	metrics *obsmetrics.Metrics
}

func NewGuard(p GuardParams) *Guard {
	return &Guard{
		db:      p.DB,
		log:     p.Log.Named("idempotency.guard"),
		clock:   p.Clock,
		cache:   p.Cache,
		metrics: p.Metrics,
	}
}

// Check reports the previously stored response for key, or nil when the key
// has not been seen (or its record expired). A durable hit repopulates the
// fast cache with the remaining TTL. Any hit counts as a duplicate rejection.
func (g *Guard) Check(ctx context.Context, key string) (*CachedResponse, error) {
	cached, err := g.cache.Get(ctx, key)
	if err != nil {
		// cache trouble must not fail the request; the store decides
		g.log.Warn("idempotency cache read failed", zap.Error(err))
	}
	if cached != nil {
		g.recordDuplicate(ctx, key)
		return cached, nil
	}

	var record Record
	err = g.db.WithContext(ctx).Where("key = ?", key).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	now := g.clock.Now()
	if !now.Before(record.ExpiresAt) {
		return nil, nil
	}

	response := CachedResponse{
		Response:   []byte(record.Response),
		StatusCode: record.StatusCode,
	}
	if err := g.cache.Set(ctx, key, response, record.ExpiresAt.Sub(now)); err != nil {
		g.log.Warn("idempotency cache repopulate failed", zap.Error(err))
	}

	g.recordDuplicate(ctx, key)
	return &response, nil
}

// NewRecord builds a durable record expiring TTL from now.
func (g *Guard) NewRecord(key string, response []byte, statusCode int) *Record {
	now := g.clock.Now()
	return &Record{
		Key:        key,
		Response:   datatypes.JSON(response),
		StatusCode: statusCode,
		CreatedAt:  now,
		ExpiresAt:  now.Add(TTL),
	}
}

// AppendTx inserts the record inside the caller's transaction with
// conflict-ignore semantics. It returns false when another writer already
// owns the key; the caller must then abort its transaction and replay the
// winner's stored response. Folding the insert into the ingestion
// transaction makes the key's uniqueness constraint the serialization point
// between concurrent calls carrying the same token.
func (g *Guard) AppendTx(ctx context.Context, tx *gorm.DB, record *Record) (bool, error) {
	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "key"}}, DoNothing: true}).
		Create(record)
	if result.Error != nil {
		// some dialects surface the conflict instead of swallowing it
		if db.IsDuplicateKeyErr(result.Error) {
			return false, nil
		}
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// RefreshExpiredTx reclaims an expired row for record's key inside the
// caller's transaction. Expired rows are never deleted proactively, so a
// retried key past its TTL conflicts on insert; overwriting the stale row
// lets the new execution become authoritative. Returns false when the
// existing row is still live, meaning the caller genuinely lost the race.
func (g *Guard) RefreshExpiredTx(ctx context.Context, tx *gorm.DB, record *Record) (bool, error) {
	result := tx.WithContext(ctx).
		Model(&Record{}).
		Where("key = ? AND expires_at <= ?", record.Key, g.clock.Now()).
		Updates(map[string]any{
			"response":    record.Response,
			"status_code": record.StatusCode,
			"created_at":  record.CreatedAt,
			"expires_at":  record.ExpiresAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Store persists the response outside any transaction. Insertion is a no-op
// when the key already exists (the first writer stays authoritative); the
// cache is overwritten unconditionally.
func (g *Guard) Store(ctx context.Context, key string, response []byte, statusCode int) error {
	record := g.NewRecord(key, response, statusCode)
	if _, err := g.AppendTx(ctx, g.db, record); err != nil {
		return err
	}
	g.CachePut(ctx, record)
	return nil
}

// CachePut writes the committed record through to the fast cache.
func (g *Guard) CachePut(ctx context.Context, record *Record) {
	if record == nil {
		return
	}
	ttl := record.ExpiresAt.Sub(g.clock.Now())
	response := CachedResponse{
		Response:   []byte(record.Response),
		StatusCode: record.StatusCode,
	}
	if err := g.cache.Set(ctx, record.Key, response, ttl); err != nil {
		g.log.Warn("idempotency cache write failed", zap.Error(err))
	}
}

// Find reads the durable record regardless of cache state. Used by the
// orchestrator to replay the winner's response after losing the insert race.
func (g *Guard) Find(ctx context.Context, key string) (*Record, error) {
	var record Record
	err := g.db.WithContext(ctx).Where("key = ?", key).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (g *Guard) recordDuplicate(ctx context.Context, key string) {
	g.metrics.RecordDuplicateRejection(ctx)
	g.log.Warn("duplicate request rejected", zap.String("idempotency_key", key))
}
