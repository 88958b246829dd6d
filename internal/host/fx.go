package host

import (
	"github.com/smallbiznis/pmacctstats/internal/host/repository"
	"github.com/smallbiznis/pmacctstats/internal/host/service"
	"go.uber.org/fx"
)

var Module = fx.Module("host.registry",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
