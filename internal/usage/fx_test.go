package usage

import (
	"net/netip"
	"testing"

	"github.com/smallbiznis/pmacctstats/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestProvideClassifierLogsLocalRanges(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	cfg := config.Config{Networks: []netip.Prefix{
		netip.MustParsePrefix("192.0.2.0/25"),
		netip.MustParsePrefix("192.0.2.128/25"),
	}}

	c, err := provideClassifier(cfg, zap.New(core))
	require.NoError(t, err)
	assert.True(t, c.Matches("192.0.2.200"))

	entries := logs.FilterMessage("subnet.classifier.ready").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, int64(2), fields["configured"])
	assert.Equal(t, []interface{}{"192.0.2.0/24"}, fields["local_ranges"])
}
