package ingest

import (
	"github.com/smallbiznis/emitra/internal/ingest/repository"
	"github.com/smallbiznis/emitra/internal/ingest/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ingest.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
