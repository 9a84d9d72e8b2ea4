package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/emitra/internal/clock"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newGuard(t *testing.T, db *gorm.DB, fc *clock.FakeClock) *Guard {
	t.Helper()
	return NewGuard(GuardParams{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: fc,
		Cache: NewMemoryCache(),
	})
}

func guardFixture(t *testing.T) (*gorm.DB, *clock.FakeClock, *Guard) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	assert.NoError(t, err)
	sqlDB, err := db.DB()
	assert.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	assert.NoError(t, db.AutoMigrate(&Record{}))

	fc := clock.NewFakeClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	return db, fc, newGuard(t, db, fc)
}

func TestGuardCheckMiss(t *testing.T) {
	_, _, g := guardFixture(t)

	cached, err := g.Check(context.Background(), "unseen")
	assert.NoError(t, err)
	assert.Nil(t, cached)
}

func TestGuardStoreThenCheck(t *testing.T) {
	_, _, g := guardFixture(t)
	ctx := context.Background()

	assert.NoError(t, g.Store(ctx, "K1", []byte(`{"ok":true}`), 201))

	cached, err := g.Check(ctx, "K1")
	assert.NoError(t, err)
	assert.NotNil(t, cached)
	assert.Equal(t, 201, cached.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, string(cached.Response))
}

func TestGuardDurableHitSurvivesColdCache(t *testing.T) {
	db, fc, g := guardFixture(t)
	ctx := context.Background()

	assert.NoError(t, g.Store(ctx, "K1", []byte(`{"n":1}`), 201))

	// fresh guard, empty cache: hit must come from the durable store
	cold := newGuard(t, db, fc)
	cached, err := cold.Check(ctx, "K1")
	assert.NoError(t, err)
	assert.NotNil(t, cached)
	assert.Equal(t, 201, cached.StatusCode)
}

func TestGuardExpiredRecordReportsAbsent(t *testing.T) {
	db, fc, g := guardFixture(t)
	ctx := context.Background()

	assert.NoError(t, g.Store(ctx, "K1", []byte(`{"n":1}`), 201))
	fc.Advance(TTL + time.Minute)

	cold := newGuard(t, db, fc)
	cached, err := cold.Check(ctx, "K1")
	assert.NoError(t, err)
	assert.Nil(t, cached)

	// the stale row stays in place until a new execution reclaims it
	var count int64
	assert.NoError(t, db.Model(&Record{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestGuardAppendTxFirstWriterWins(t *testing.T) {
	db, _, g := guardFixture(t)
	ctx := context.Background()

	first := g.NewRecord("K1", []byte(`{"winner":true}`), 201)
	inserted, err := g.AppendTx(ctx, db, first)
	assert.NoError(t, err)
	assert.True(t, inserted)

	second := g.NewRecord("K1", []byte(`{"winner":false}`), 201)
	inserted, err = g.AppendTx(ctx, db, second)
	assert.NoError(t, err)
	assert.False(t, inserted)

	record, err := g.Find(ctx, "K1")
	assert.NoError(t, err)
	assert.NotNil(t, record)
	assert.JSONEq(t, `{"winner":true}`, string(record.Response))
}

func TestGuardRefreshExpiredTx(t *testing.T) {
	db, fc, g := guardFixture(t)
	ctx := context.Background()

	stale := g.NewRecord("K1", []byte(`{"n":1}`), 201)
	inserted, err := g.AppendTx(ctx, db, stale)
	assert.NoError(t, err)
	assert.True(t, inserted)

	// live row cannot be reclaimed
	replacement := g.NewRecord("K1", []byte(`{"n":2}`), 201)
	refreshed, err := g.RefreshExpiredTx(ctx, db, replacement)
	assert.NoError(t, err)
	assert.False(t, refreshed)

	fc.Advance(TTL + time.Minute)
	replacement = g.NewRecord("K1", []byte(`{"n":2}`), 201)
	refreshed, err = g.RefreshExpiredTx(ctx, db, replacement)
	assert.NoError(t, err)
	assert.True(t, refreshed)

	record, err := g.Find(ctx, "K1")
	assert.NoError(t, err)
	assert.JSONEq(t, `{"n":2}`, string(record.Response))
	assert.True(t, record.ExpiresAt.After(fc.Now()))
}

func TestGuardNewRecordTTL(t *testing.T) {
	_, fc, g := guardFixture(t)

	record := g.NewRecord("K1", []byte(`{}`), 200)
	assert.Equal(t, fc.Now(), record.CreatedAt)
	assert.Equal(t, fc.Now().Add(TTL), record.ExpiresAt)
}
