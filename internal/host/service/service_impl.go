package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pmacctstats/internal/clock"
	"github.com/smallbiznis/pmacctstats/internal/host/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
	Clock clock.Clock `optional:"true"`
}

type Service struct {
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
	clock clock.Clock
}

func New(p Params) domain.Registry {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Service{
		log:   p.Log.Named("host.registry"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: c,
	}
}

// Resolve returns the id of the host row for address, creating the row on
// first sighting. More than one row for the address is a DuplicateHostError.
func (s *Service) Resolve(ctx context.Context, tx *gorm.DB, address string) (domain.Resolution, error) {
	if strings.TrimSpace(address) == "" {
		return domain.Resolution{}, domain.ErrInvalidAddress
	}

	id, found, err := s.find(ctx, tx, address)
	if err != nil {
		return domain.Resolution{}, err
	}
	if found {
		s.log.Debug("host.resolve.found", zap.String("address", address), zap.Int64("host_id", id.Int64()))
		return domain.Resolution{ID: id}, nil
	}

	now := s.clock.Now().UTC()
	inserted, err := s.repo.InsertIfAbsent(ctx, tx, domain.Host{
		ID:        s.genID.Generate(),
		Address:   address,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return domain.Resolution{}, err
	}

	id, found, err = s.find(ctx, tx, address)
	if err != nil {
		return domain.Resolution{}, err
	}
	if !found {
		return domain.Resolution{}, gorm.ErrRecordNotFound
	}
	if inserted {
		s.log.Debug("host.resolve.created", zap.String("address", address), zap.Int64("host_id", id.Int64()))
	}
	return domain.Resolution{ID: id, Created: inserted}, nil
}

func (s *Service) find(ctx context.Context, tx *gorm.DB, address string) (snowflake.ID, bool, error) {
	hosts, err := s.repo.FindByAddress(ctx, tx, address)
	if err != nil {
		return 0, false, err
	}
	switch len(hosts) {
	case 0:
		return 0, false, nil
	case 1:
		return hosts[0].ID, true, nil
	default:
		s.log.Error("host.resolve.duplicate", zap.String("address", address), zap.Int("rows", len(hosts)))
		return 0, false, &domain.DuplicateHostError{Address: address}
	}
}
