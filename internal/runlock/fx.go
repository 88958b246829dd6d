package runlock

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/pmacctstats/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("run.lock",
	fx.Provide(NewLocker),
)

// NewLocker returns a Redis locker when a lock address is configured and nil
// otherwise. The client is closed on stop.
func NewLocker(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) Locker {
	if !cfg.Lock.Enabled() {
		log.Named("runlock").Info("runlock.disabled")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Lock.RedisAddr,
		Password: cfg.Lock.RedisPassword,
		DB:       cfg.Lock.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return NewRedisLocker(client)
}
