package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
}

// Metrics exposes application-level instruments. The core only writes these;
// nothing in the service reads them back.
type Metrics struct {
	ingestions          metric.Int64Counter
	measurements        metric.Int64Counter
	duplicateRejections metric.Int64Counter
	lockWait            metric.Float64Histogram
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "emitra"
	}
	meter := provider.Meter(name)

	ingestions, err := meter.Int64Counter("emitra_ingestions_total")
	if err != nil {
		return nil, err
	}
	measurements, err := meter.Int64Counter("emitra_measurements_total")
	if err != nil {
		return nil, err
	}
	duplicateRejections, err := meter.Int64Counter("emitra_duplicate_rejections_total")
	if err != nil {
		return nil, err
	}
	lockWait, err := meter.Float64Histogram("emitra_site_lock_wait_ms")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		ingestions:          ingestions,
		measurements:        measurements,
		duplicateRejections: duplicateRejections,
		lockWait:            lockWait,
	}, nil
}

// RecordIngestion counts one accepted batch and its measurement rows.
func (m *Metrics) RecordIngestion(ctx context.Context, siteID string, measurementCount int) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("site_id", strings.TrimSpace(siteID)))
	m.ingestions.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.measurements.Add(ctx, int64(measurementCount), metric.WithAttributes(attrs...))
}

// RecordDuplicateRejection counts one idempotency-key replay.
func (m *Metrics) RecordDuplicateRejection(ctx context.Context) {
	if m == nil {
		return
	}
	m.duplicateRejections.Add(ctx, 1)
}

// RecordLockWait records how long the site row lock took to acquire.
func (m *Metrics) RecordLockWait(ctx context.Context, siteID string, wait time.Duration) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("site_id", strings.TrimSpace(siteID)))
	m.lockWait.Record(ctx, float64(wait.Milliseconds()), metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"site_id":     {},
	"endpoint":    {},
	"status_code": {},
	"event_type":  {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
