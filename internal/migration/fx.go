package migration

import (
	"strings"

	"github.com/smallbiznis/emitra/internal/events"
	"github.com/smallbiznis/emitra/internal/idempotency"
	measurementdomain "github.com/smallbiznis/emitra/internal/measurement/domain"
	sitedomain "github.com/smallbiznis/emitra/internal/site/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB) error {
		if strings.EqualFold(conn.Dialector.Name(), "postgres") {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		}

		// mysql and sqlite fall back to the model definitions
		return conn.AutoMigrate(
			&sitedomain.Site{},
			&measurementdomain.Measurement{},
			&idempotency.Record{},
			&events.OutboxEvent{},
		)
	}),
)
