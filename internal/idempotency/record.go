// Package idempotency guarantees at-most-one-effective-execution semantics
// for retried ingestion calls. A client-supplied token maps to the response
// produced by the first successful execution; replays within the TTL window
// get that response back without re-running the transaction.
package idempotency

import (
	"time"

	"gorm.io/datatypes"
)

// TTL is how long a stored response stays replayable. Fixed at 24 hours from
// creation; expired rows report absent but are not proactively deleted here.
const TTL = 24 * time.Hour

// Record is the durable tier of the guard. The unique key column makes the
// first writer authoritative: later writers conflict and are ignored.
type Record struct {
	Key        string         `json:"key" gorm:"primaryKey;type:text"`
	Response   datatypes.JSON `json:"response" gorm:"type:jsonb;not null"`
	StatusCode int            `json:"status_code" gorm:"not null"`
	CreatedAt  time.Time      `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	ExpiresAt  time.Time      `json:"expires_at" gorm:"not null;index"`
}

// TableName sets the database table name.
func (Record) TableName() string { return "idempotency_keys" }

// CachedResponse is the payload held in the fast cache tier.
type CachedResponse struct {
	Response   []byte `json:"response"`
	StatusCode int    `json:"status_code"`
}
