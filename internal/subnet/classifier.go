// Package subnet decides whether an address belongs to the operator's local
// network ranges.
package subnet

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"go.uber.org/zap"
	"go4.org/netipx"
)

var (
	ErrEmptyRange   = errors.New("empty_range")
	ErrInvalidRange = errors.New("invalid_range")
)

// Classifier holds the parsed local ranges as a single IP set. It is safe for
// concurrent use.
type Classifier struct {
	set *netipx.IPSet
	log *zap.Logger
}

// New builds a classifier from already parsed prefixes.
func New(prefixes []netip.Prefix, log *zap.Logger) (*Classifier, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var b netipx.IPSetBuilder
	for _, p := range prefixes {
		if !p.IsValid() {
			return nil, fmt.Errorf("%w: %s", ErrInvalidRange, p)
		}
		b.AddPrefix(p.Masked())
	}
	set, err := b.IPSet()
	if err != nil {
		return nil, fmt.Errorf("build ip set: %w", err)
	}
	return &Classifier{
		set: set,
		log: log.Named("subnet"),
	}, nil
}

// ParseRanges parses every raw range, failing on the first invalid entry.
func ParseRanges(raw []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(raw))
	for _, r := range raw {
		p, err := ParsePrefix(r)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// ParsePrefix accepts CIDR notation or a bare address, which is treated as a
// single-host prefix. Host bits are cleared.
func ParsePrefix(raw string) (netip.Prefix, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return netip.Prefix{}, ErrEmptyRange
	}
	if strings.Contains(raw, "/") {
		p, err := netip.ParsePrefix(raw)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("%w: %q: %v", ErrInvalidRange, raw, err)
		}
		return unmapPrefix(p).Masked(), nil
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("%w: %q: %v", ErrInvalidRange, raw, err)
	}
	addr = addr.WithZone("").Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// Matches reports whether address lies inside the local set. Unparsable or
// empty input is reported as non-local.
func (c *Classifier) Matches(address string) bool {
	_, local := c.Classify(address)
	return local
}

// Classify returns the canonical form of address and whether it is local.
// Addresses lose their zone and IPv4-mapped IPv6 addresses are unmapped, so
// "::ffff:192.0.2.1" and "192.0.2.1" yield the same key. Unparsable input
// comes back trimmed and non-local; it is logged at debug level only since
// one bad exporter can repeat it for every record of a day.
func (c *Classifier) Classify(address string) (string, bool) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", false
	}

	if strings.Contains(address, "/") {
		p, err := netip.ParsePrefix(address)
		if err != nil {
			c.invalid(address, err)
			return address, false
		}
		p = unmapPrefix(p).Masked()
		return p.String(), c.containsPrefix(p)
	}

	addr, err := netip.ParseAddr(address)
	if err != nil {
		c.invalid(address, err)
		return address, false
	}
	addr = addr.WithZone("").Unmap()
	return addr.String(), c != nil && c.set != nil && c.set.Contains(addr)
}

func (c *Classifier) containsPrefix(p netip.Prefix) bool {
	return c != nil && c.set != nil && c.set.ContainsPrefix(p)
}

func (c *Classifier) invalid(address string, err error) {
	if c == nil || c.log == nil {
		return
	}
	c.log.Debug("subnet.match.invalid_address", zap.String("address", address), zap.Error(err))
}

// Prefixes returns the minimal prefix list covering the set.
func (c *Classifier) Prefixes() []netip.Prefix {
	if c == nil || c.set == nil {
		return nil
	}
	return c.set.Prefixes()
}

func unmapPrefix(p netip.Prefix) netip.Prefix {
	addr := p.Addr()
	if !addr.Is4In6() {
		return p
	}
	bits := p.Bits() - 96
	if bits < 0 {
		return p
	}
	return netip.PrefixFrom(addr.Unmap(), bits)
}
