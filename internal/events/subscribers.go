package events

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// AlertThreshold is the single-batch emission volume above which a batch is
// flagged as unusually large.
var AlertThreshold = decimal.NewFromInt(1000)

// RunSubscribers attaches the built-in consumers to the notifier for the
// lifetime of the application: a structured audit line per committed batch,
// and a high-volume alert when one batch exceeds AlertThreshold.
func RunSubscribers(lc fx.Lifecycle, notifier *Notifier, log *zap.Logger) {
	log = log.Named("events")

	sub, _, err := notifier.Subscribe()
	if err != nil {
		log.Warn("subscriber disabled", zap.Error(err))
		return
	}
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case note := <-sub.Events():
				handle(log, note)
			}
		}
	}()

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			close(done)
			sub.Close()
			return nil
		},
	})
}

func handle(log *zap.Logger, note Notification) {
	fields := []zap.Field{
		zap.String("site_id", note.SiteID),
		zap.String("batch_id", note.BatchID),
		zap.Int("measurement_count", note.MeasurementCount),
		zap.String("total_new_emissions", note.TotalNewEmissions.String()),
		zap.String("total_emissions", note.TotalEmissions.String()),
	}
	log.Info("measurements ingested", fields...)

	if note.TotalNewEmissions.GreaterThan(AlertThreshold) {
		log.Warn("high emission batch detected",
			zap.String("site_id", note.SiteID),
			zap.String("site_name", note.SiteName),
			zap.String("batch_id", note.BatchID),
			zap.String("total_new_emissions", note.TotalNewEmissions.String()),
			zap.String("threshold", AlertThreshold.String()),
		)
	}
}
