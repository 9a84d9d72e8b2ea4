package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/emitra/internal/clock"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&OutboxEvent{}))
	return db
}

func TestOutboxAppendTx(t *testing.T) {
	db := newTestDB(t)
	node, err := snowflake.NewNode(1)
	assert.NoError(t, err)
	fc := clock.NewFakeClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	outbox := NewOutbox(node, fc)
	ctx := context.Background()

	payload := IngestedPayload{
		SiteID:            "42",
		BatchID:           "batch-1",
		MeasurementCount:  3,
		TotalNewEmissions: decimal.RequireFromString("125.7"),
		IdempotencyKey:    "K1",
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		return outbox.AppendTx(ctx, tx, EventTypeMeasurementsIngested, payload)
	})
	assert.NoError(t, err)

	var rows []OutboxEvent
	assert.NoError(t, db.Find(&rows).Error)
	assert.Len(t, rows, 1)
	assert.Equal(t, EventTypeMeasurementsIngested, rows[0].EventType)
	assert.Equal(t, 0, rows[0].Processed)
	assert.Nil(t, rows[0].ProcessedAt)
	// stamped from the injected clock, not the wall clock
	assert.True(t, rows[0].CreatedAt.Equal(fc.Now()))

	var decoded IngestedPayload
	assert.NoError(t, json.Unmarshal(rows[0].Payload, &decoded))
	assert.Equal(t, "batch-1", decoded.BatchID)
	assert.True(t, decoded.TotalNewEmissions.Equal(decimal.RequireFromString("125.7")))
}

func TestOutboxAppendRollsBackWithTransaction(t *testing.T) {
	db := newTestDB(t)
	node, err := snowflake.NewNode(1)
	assert.NoError(t, err)
	outbox := NewOutbox(node, clock.NewSystemClock())
	ctx := context.Background()

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := outbox.AppendTx(ctx, tx, EventTypeMeasurementsIngested, IngestedPayload{BatchID: "doomed"}); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.Error(t, err)

	count, err := outbox.PendingCount(ctx, db)
	assert.NoError(t, err)
	assert.Zero(t, count)
}

func TestOutboxPendingCount(t *testing.T) {
	db := newTestDB(t)
	node, err := snowflake.NewNode(1)
	assert.NoError(t, err)
	outbox := NewOutbox(node, clock.NewSystemClock())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.NoError(t, outbox.AppendTx(ctx, db, EventTypeMeasurementsIngested, IngestedPayload{BatchID: "b"}))
	}
	var first OutboxEvent
	assert.NoError(t, db.Order("id").First(&first).Error)
	assert.NoError(t, db.Model(&OutboxEvent{}).Where("id = ?", first.ID).Update("processed", 1).Error)

	count, err := outbox.PendingCount(ctx, db)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), count)
}
