package metrics

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("site_id", "123"),
		attribute.String("idempotency_key", "K1"),
		attribute.String("endpoint", "/v1/ingest"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "idempotency_key" {
			t.Fatalf("expected idempotency_key to be dropped")
		}
	}
}

func TestMetricsRecordersTolerateNilReceiver(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordIngestion(ctx, "1", 3)
	m.RecordDuplicateRejection(ctx)
	m.RecordLockWait(ctx, "1", time.Millisecond)
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "emitra-test"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.RecordIngestion(context.Background(), "42", 2)
}
