package usage

import (
	"github.com/smallbiznis/pmacctstats/internal/config"
	flowrepository "github.com/smallbiznis/pmacctstats/internal/flow/repository"
	"github.com/smallbiznis/pmacctstats/internal/subnet"
	usagedomain "github.com/smallbiznis/pmacctstats/internal/usage/domain"
	"github.com/smallbiznis/pmacctstats/internal/usage/repository"
	"github.com/smallbiznis/pmacctstats/internal/usage/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("usage.service",
	fx.Provide(
		provideClassifier,
		flowrepository.Provide,
		repository.Provide,
		fx.Annotate(service.NewAggregator, fx.As(new(usagedomain.Aggregator))),
		fx.Annotate(service.NewPlanner, fx.As(new(usagedomain.Planner))),
		fx.Annotate(service.NewPersister, fx.As(new(usagedomain.Persister))),
	),
)

func provideClassifier(cfg config.Config, log *zap.Logger) (*subnet.Classifier, error) {
	c, err := subnet.New(cfg.Networks, log)
	if err != nil {
		return nil, err
	}
	prefixes := c.Prefixes()
	ranges := make([]string, len(prefixes))
	for i, p := range prefixes {
		ranges[i] = p.String()
	}
	log.Named("subnet").Info("subnet.classifier.ready",
		zap.Int("configured", len(cfg.Networks)),
		zap.Strings("local_ranges", ranges),
	)
	return c, nil
}
