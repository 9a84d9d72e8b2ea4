package server

import (
	"time"

	"github.com/gin-gonic/gin"
)

// Meta accompanies every response. Duplicate flags a replayed ingestion; the
// data section of a replay is byte-identical to the first execution, so the
// flag lives here instead.
type Meta struct {
	Timestamp      time.Time `json:"timestamp"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	Duplicate      bool      `json:"duplicate"`
}

type Envelope struct {
	Success bool          `json:"success"`
	Data    any           `json:"data,omitempty"`
	Error   *errorPayload `json:"error,omitempty"`
	Meta    Meta          `json:"meta"`
}

func respond(c *gin.Context, status int, data any, meta Meta) {
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now().UTC()
	}
	c.JSON(status, Envelope{
		Success: true,
		Data:    data,
		Meta:    meta,
	})
}
