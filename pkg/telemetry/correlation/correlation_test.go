package correlation

import (
	"context"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureRunID(t *testing.T) {
	started := time.Date(2024, 11, 7, 10, 0, 0, 0, time.UTC)

	ctx, id := EnsureRunID(context.Background(), started)
	parsed, err := ulid.ParseStrict(id)
	require.NoError(t, err)
	assert.Equal(t, started, ulid.Time(parsed.Time()).UTC())
	assert.Equal(t, id, RunID(ctx))

	again, same := EnsureRunID(ctx, started.Add(time.Hour))
	assert.Equal(t, id, same)
	assert.Equal(t, ctx, again)
}

func TestRunIDsSortByStart(t *testing.T) {
	started := time.Date(2024, 11, 7, 10, 0, 0, 0, time.UTC)
	_, first := EnsureRunID(context.Background(), started)
	_, second := EnsureRunID(context.Background(), started.Add(time.Second))
	assert.Less(t, first, second)
}

func TestEmptyRunIDIsNoop(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, ctx, WithRunID(ctx, ""))
	assert.Empty(t, RunID(nil))
}
