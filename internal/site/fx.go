package site

import (
	"github.com/smallbiznis/emitra/internal/site/repository"
	"github.com/smallbiznis/emitra/internal/site/service"
	"go.uber.org/fx"
)

var Module = fx.Module("site.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
