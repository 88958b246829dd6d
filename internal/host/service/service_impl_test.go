package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pmacctstats/internal/clock"
	"github.com/smallbiznis/pmacctstats/internal/host/domain"
	"github.com/smallbiznis/pmacctstats/internal/host/repository"
	schedulertesting "github.com/smallbiznis/pmacctstats/internal/scheduler/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

func openDestination(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := schedulertesting.OpenMemory(schedulertesting.UniqueName(t.Name()))
	require.NoError(t, err)
	require.NoError(t, schedulertesting.MigrateDestination(conn))
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return conn
}

func newRegistry(t *testing.T, repo domain.Repository) domain.Registry {
	t.Helper()
	return New(Params{
		Log:   zap.NewNop(),
		GenID: mustNode(t),
		Repo:  repo,
		Clock: clock.NewFakeClock(time.Date(2010, 11, 6, 3, 0, 0, 0, time.UTC)),
	})
}

func countHosts(t *testing.T, conn *gorm.DB, address string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, conn.Model(&domain.Host{}).Where("ip = ?", address).Count(&n).Error)
	return n
}

func TestResolveCreatesOnceAndReuses(t *testing.T) {
	ctx := context.Background()
	conn := openDestination(t)
	registry := newRegistry(t, repository.Provide())

	first, err := registry.Resolve(ctx, conn, "192.0.2.10")
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.NotZero(t, first.ID)

	second, err := registry.Resolve(ctx, conn, "192.0.2.10")
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.ID, second.ID)

	assert.Equal(t, int64(1), countHosts(t, conn, "192.0.2.10"))
}

func TestResolveDistinctAddresses(t *testing.T) {
	ctx := context.Background()
	conn := openDestination(t)
	registry := newRegistry(t, repository.Provide())

	a, err := registry.Resolve(ctx, conn, "192.0.2.10")
	require.NoError(t, err)
	b, err := registry.Resolve(ctx, conn, "2001:db8::10")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestResolveStampsClock(t *testing.T) {
	ctx := context.Background()
	conn := openDestination(t)
	registry := newRegistry(t, repository.Provide())

	_, err := registry.Resolve(ctx, conn, "192.0.2.10")
	require.NoError(t, err)

	var host domain.Host
	require.NoError(t, conn.Where("ip = ?", "192.0.2.10").First(&host).Error)
	assert.True(t, host.CreatedAt.Equal(time.Date(2010, 11, 6, 3, 0, 0, 0, time.UTC)))
}

func TestResolveDuplicateRowsIsFatal(t *testing.T) {
	ctx := context.Background()
	conn, err := schedulertesting.OpenMemory(schedulertesting.UniqueName(t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	require.NoError(t, conn.Exec(`CREATE TABLE hosts (
		id INTEGER PRIMARY KEY,
		ip TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`).Error)
	now := time.Now().UTC()
	require.NoError(t, conn.Exec(`INSERT INTO hosts (id, ip, created_at, updated_at) VALUES (?, ?, ?, ?), (?, ?, ?, ?)`,
		1, "192.0.2.10", now, now,
		2, "192.0.2.10", now, now,
	).Error)

	_, err = newRegistry(t, repository.Provide()).Resolve(ctx, conn, "192.0.2.10")
	var dup *domain.DuplicateHostError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "192.0.2.10", dup.Address)
	assert.ErrorIs(t, err, domain.ErrDuplicateHost)
}

func TestResolveRejectsEmptyAddress(t *testing.T) {
	_, err := newRegistry(t, repository.Provide()).Resolve(context.Background(), nil, " ")
	assert.ErrorIs(t, err, domain.ErrInvalidAddress)
}

// racingRepo inserts a competing row just before the registry's own insert.
type racingRepo struct {
	domain.Repository
	rivalID snowflake.ID
}

func (r *racingRepo) InsertIfAbsent(ctx context.Context, tx *gorm.DB, host domain.Host) (bool, error) {
	rival := host
	rival.ID = r.rivalID
	if _, err := r.Repository.InsertIfAbsent(ctx, tx, rival); err != nil {
		return false, err
	}
	return r.Repository.InsertIfAbsent(ctx, tx, host)
}

func TestResolveLosesInsertRace(t *testing.T) {
	ctx := context.Background()
	conn := openDestination(t)
	registry := newRegistry(t, &racingRepo{Repository: repository.Provide(), rivalID: 42})

	res, err := registry.Resolve(ctx, conn, "192.0.2.10")
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, snowflake.ID(42), res.ID)
	assert.Equal(t, int64(1), countHosts(t, conn, "192.0.2.10"))
}

type failingRepo struct {
	domain.Repository
	err error
}

func (r *failingRepo) FindByAddress(context.Context, *gorm.DB, string) ([]domain.Host, error) {
	return nil, r.err
}

func TestResolvePropagatesRepositoryError(t *testing.T) {
	boom := errors.New("boom")
	_, err := newRegistry(t, &failingRepo{err: boom}).Resolve(context.Background(), nil, "192.0.2.10")
	assert.ErrorIs(t, err, boom)
}
