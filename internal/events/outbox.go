// Package events holds the durable outbox ledger and the best-effort
// in-process notification bridge layered on top of it.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/emitra/internal/clock"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EventTypeMeasurementsIngested marks one committed ingestion batch.
const EventTypeMeasurementsIngested = "measurements.ingested"

// OutboxEvent is append-only and written exclusively inside the ingestion
// transaction, so its existence is consistent with the committed aggregate
// even across crashes. A separate relay marks rows processed; nothing in
// this service updates them.
type OutboxEvent struct {
	ID          snowflake.ID   `json:"id" gorm:"primaryKey"`
	EventType   string         `json:"event_type" gorm:"type:text;not null"`
	Payload     datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	Processed   int            `json:"processed" gorm:"not null;default:0;index:idx_outbox_unprocessed,priority:1"`
	CreatedAt   time.Time      `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP;index:idx_outbox_unprocessed,priority:2"`
	ProcessedAt *time.Time     `json:"processed_at"`
}

// TableName sets the database table name.
func (OutboxEvent) TableName() string { return "outbox_events" }

// IngestedPayload is the outbox payload for one accepted batch.
type IngestedPayload struct {
	SiteID            string          `json:"site_id"`
	BatchID           string          `json:"batch_id"`
	MeasurementCount  int             `json:"measurement_count"`
	TotalNewEmissions decimal.Decimal `json:"total_new_emissions"`
	IdempotencyKey    string          `json:"idempotency_key"`
}

// Outbox appends ledger rows co-transactionally with the state they describe.
type Outbox struct {
	genID *snowflake.Node
	clock clock.Clock
}

func NewOutbox(genID *snowflake.Node, clk clock.Clock) *Outbox {
	return &Outbox{genID: genID, clock: clk}
}

// AppendTx inserts one event row inside the caller's transaction.
func (o *Outbox) AppendTx(ctx context.Context, tx *gorm.DB, eventType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	event := &OutboxEvent{
		ID:        o.genID.Generate(),
		EventType: eventType,
		Payload:   datatypes.JSON(raw),
		CreatedAt: o.clock.Now(),
	}
	return tx.WithContext(ctx).Create(event).Error
}

// PendingCount reports unprocessed ledger rows, for operational visibility.
func (o *Outbox) PendingCount(ctx context.Context, db *gorm.DB) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&OutboxEvent{}).
		Where("processed = ?", 0).
		Count(&count).Error
	return count, err
}
