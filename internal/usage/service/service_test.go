package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pmacctstats/internal/clock"
	flowrepository "github.com/smallbiznis/pmacctstats/internal/flow/repository"
	hostrepository "github.com/smallbiznis/pmacctstats/internal/host/repository"
	hostservice "github.com/smallbiznis/pmacctstats/internal/host/service"
	schedulertesting "github.com/smallbiznis/pmacctstats/internal/scheduler/testing"
	"github.com/smallbiznis/pmacctstats/internal/subnet"
	"github.com/smallbiznis/pmacctstats/internal/usage/repository"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var localRanges = []string{"192.0.2.0/24", "2001:db8::/32", "203.0.113.7"}

func day(d int) time.Time {
	return time.Date(2010, time.November, d, 0, 0, 0, 0, time.UTC)
}

func stamp(d, hour int) time.Time {
	return day(d).Add(time.Duration(hour) * time.Hour)
}

type harness struct {
	fixture    *schedulertesting.FlowFixture
	aggregator *Aggregator
	planner    *Planner
	persister  *Persister
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	fixture, err := schedulertesting.NewFlowFixture()
	require.NoError(t, err)
	t.Cleanup(func() { _ = fixture.Close() })

	prefixes, err := subnet.ParseRanges(localRanges)
	require.NoError(t, err)
	classifier, err := subnet.New(prefixes, zap.NewNop())
	require.NoError(t, err)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(stamp(20, 2))

	log := zap.NewNop()
	flows := flowrepository.Provide()
	usage := repository.Provide()
	hosts := hostservice.New(hostservice.Params{
		Log:   log,
		GenID: node,
		Repo:  hostrepository.Provide(),
		Clock: fake,
	})

	return &harness{
		fixture:    fixture,
		aggregator: NewAggregator(AggregatorParams{Log: log, Classifier: classifier, Flows: flows}),
		planner:    NewPlanner(PlannerParams{Log: log, Flows: flows, Usage: usage}),
		persister:  NewPersister(PersisterParams{Log: log, GenID: node, Hosts: hosts, Usage: usage, Clock: fake}),
	}
}

func (h *harness) insert(t *testing.T, src, dst string, bytes uint64, at time.Time) {
	t.Helper()
	require.NoError(t, h.fixture.Insert(context.Background(), schedulertesting.Flow(src, dst, bytes, at)))
}
