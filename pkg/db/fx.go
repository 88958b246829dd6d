package db

import "go.uber.org/fx"

var Module = fx.Module("db",
	fx.Provide(
		NewConnector,
		func(c *Connector) Opener { return c },
	),
)
