package subnet

import (
	"math/rand"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newClassifier(t *testing.T, ranges ...string) *Classifier {
	t.Helper()
	prefixes, err := ParseRanges(ranges)
	require.NoError(t, err)
	c, err := New(prefixes, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestMatches(t *testing.T) {
	c := newClassifier(t, "192.0.2.0/24", "fe80::/64")

	cases := []struct {
		name    string
		address string
		want    bool
	}{
		{"ipv4 inside", "192.0.2.1", true},
		{"ipv4 network address", "192.0.2.0", true},
		{"ipv4 outside", "192.0.3.1", false},
		{"ipv4 prefix form inside", "192.0.2.1/32", true},
		{"ipv4 wider prefix outside", "192.0.0.0/16", false},
		{"ipv6 inside", "fe80::1", true},
		{"ipv6 with zone", "fe80::1%eth0", true},
		{"ipv6 outside", "2001:db8::1", false},
		{"ipv4 mapped", "::ffff:192.0.2.7", true},
		{"empty", "", false},
		{"whitespace", "   ", false},
		{"garbage", "not-an-address", false},
		{"bad prefix", "192.0.2.1/40", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, c.Matches(tc.address))
		})
	}
}

func TestClassifyCanonicalForm(t *testing.T) {
	c := newClassifier(t, "192.0.2.0/24", "fe80::/64")

	cases := []struct {
		address string
		key     string
		local   bool
	}{
		{"192.0.2.1", "192.0.2.1", true},
		{" 192.0.2.1 ", "192.0.2.1", true},
		{"::ffff:192.0.2.1", "192.0.2.1", true},
		{"fe80::1%eth0", "fe80::1", true},
		{"2001:DB8:0:0::1", "2001:db8::1", false},
		{"192.0.2.9/24", "192.0.2.0/24", true},
		{"not-an-address", "not-an-address", false},
		{"", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.address, func(t *testing.T) {
			key, local := c.Classify(tc.address)
			assert.Equal(t, tc.key, key)
			assert.Equal(t, tc.local, local)
		})
	}
}

func TestInvalidAddressLoggedAtDebug(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	prefixes, err := ParseRanges([]string{"192.0.2.0/24"})
	require.NoError(t, err)
	c, err := New(prefixes, zap.New(core))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		assert.False(t, c.Matches("not-an-address"))
	}

	assert.Equal(t, 3, logs.FilterMessage("subnet.match.invalid_address").Len())
	assert.Zero(t, logs.Filter(func(e observer.LoggedEntry) bool { return e.Level > zapcore.DebugLevel }).Len())
}

func TestPrefixesMergesRanges(t *testing.T) {
	c := newClassifier(t, "192.0.2.0/25", "192.0.2.128/25", "192.0.2.7", "2001:db8::/32")

	assert.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("192.0.2.0/24"),
		netip.MustParsePrefix("2001:db8::/32"),
	}, c.Prefixes())

	var nilClassifier *Classifier
	assert.Nil(t, nilClassifier.Prefixes())
}

func TestMatchesEmptySet(t *testing.T) {
	c := newClassifier(t)
	assert.False(t, c.Matches("192.0.2.1"))
	assert.False(t, c.Matches("::1"))
}

func TestNilClassifierNeverMatches(t *testing.T) {
	var c *Classifier
	assert.False(t, c.Matches("192.0.2.1"))
}

func TestParsePrefix(t *testing.T) {
	p, err := ParsePrefix(" 10.1.2.3/8 ")
	require.NoError(t, err)
	assert.Equal(t, netip.MustParsePrefix("10.0.0.0/8"), p)

	p, err = ParsePrefix("192.0.2.9")
	require.NoError(t, err)
	assert.Equal(t, netip.MustParsePrefix("192.0.2.9/32"), p)

	p, err = ParsePrefix("::ffff:10.0.0.0/104")
	require.NoError(t, err)
	assert.Equal(t, netip.MustParsePrefix("10.0.0.0/8"), p)

	_, err = ParsePrefix("")
	assert.ErrorIs(t, err, ErrEmptyRange)

	_, err = ParsePrefix("10.0.0.0/33")
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = ParsePrefix("example.org")
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestMatchesAgreesWithPrefixContainment(t *testing.T) {
	ranges := []string{"10.0.0.0/8", "172.16.0.0/12", "192.0.2.128/25", "2001:db8:abcd::/48"}
	c := newClassifier(t, ranges...)
	prefixes, err := ParseRanges(ranges)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 5000; i++ {
		var addr netip.Addr
		if i%2 == 0 {
			var b [4]byte
			rng.Read(b[:])
			addr = netip.AddrFrom4(b)
		} else {
			var b [16]byte
			rng.Read(b[:])
			if i%3 == 0 {
				copy(b[:6], []byte{0x20, 0x01, 0x0d, 0xb8, 0xab, 0xcd})
			}
			addr = netip.AddrFrom16(b)
		}

		want := false
		for _, p := range prefixes {
			if p.Contains(addr) {
				want = true
				break
			}
		}
		require.Equal(t, want, c.Matches(addr.String()), addr.String())
	}
}
