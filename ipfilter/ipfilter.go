// Package ipfilter classifies callback source addresses against allow and deny rules.
package ipfilter

import (
	"net/netip"
	"strings"

	"github.com/rs/zerolog"
)

// Classification is the outcome of matching an address against Rules
type Classification int

const (
	// Unspecified means no rule matched
	Unspecified Classification = iota
	// Allowed means an allow rule matched and no deny rule did
	Allowed
	// Denied means a deny rule matched
	Denied
)

func (c Classification) String() string {
	switch c {
	case Allowed:
		return "allowed"
	case Denied:
		return "denied"
	default:
		return "unspecified"
	}
}

// Environment selects the provider's published default ranges
type Environment string

const (
	EnvironmentLive Environment = "live"
	EnvironmentTest Environment = "test"
)

// Provider webhook source ranges used when no allow list is configured
var (
	LiveRanges = []string{"20.103.218.104/29"}
	TestRanges = []string{"20.31.57.40/29"}
)

// Rules is an immutable set of allow and deny rules. It is built once at
// configuration load and read concurrently without locking.
type Rules struct {
	allowRanges  []netip.Prefix
	allowSingles []netip.Addr
	denyRanges   []netip.Prefix
	denySingles  []netip.Addr
}

// NewRules parses semicolon-delimited allow and deny lists. When the allow list
// yields no rules the provider defaults for env are used instead.
func NewRules(whitelist, blacklist string, env Environment, logger zerolog.Logger) Rules {
	allowRanges, allowSingles := ParseList(whitelist, logger)
	denyRanges, denySingles := ParseList(blacklist, logger)

	if len(allowRanges) == 0 && len(allowSingles) == 0 {
		allowRanges, _ = ParseList(strings.Join(DefaultRanges(env), ";"), logger)
		logger.Debug().
			Str("environment", string(env)).
			Int("ranges", len(allowRanges)).
			Msg("No webhook allow list configured, using provider ranges")
	}

	return Rules{
		allowRanges:  allowRanges,
		allowSingles: allowSingles,
		denyRanges:   denyRanges,
		denySingles:  denySingles,
	}
}

// DefaultRanges returns the provider's published ranges for env
func DefaultRanges(env Environment) []string {
	if env == EnvironmentTest {
		return TestRanges
	}
	return LiveRanges
}

// ParseList splits a semicolon-delimited list into ranges and single addresses.
// Each token is tried as a CIDR range first, then as an address. Tokens that
// parse as neither are logged and skipped.
func ParseList(list string, logger zerolog.Logger) ([]netip.Prefix, []netip.Addr) {
	var ranges []netip.Prefix
	var singles []netip.Addr

	for _, token := range strings.Split(list, ";") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}

		if prefix, err := netip.ParsePrefix(token); err == nil {
			ranges = append(ranges, normalizePrefix(prefix))
			continue
		}

		if addr, err := netip.ParseAddr(token); err == nil {
			singles = append(singles, addr.Unmap())
			continue
		}

		logger.Warn().
			Str("token", token).
			Msg("Ignoring unparseable IP rule")
	}

	return ranges, singles
}

// Classify matches ip against the rules. Deny rules take precedence over allow rules.
func (r Rules) Classify(ip netip.Addr) Classification {
	return Classify(ip, r.allowRanges, r.allowSingles, r.denyRanges, r.denySingles)
}

// Empty reports whether the rules hold no entries at all
func (r Rules) Empty() bool {
	return len(r.allowRanges)+len(r.allowSingles)+len(r.denyRanges)+len(r.denySingles) == 0
}

// Classify matches ip against explicit rule sets. IPv4-mapped IPv6 addresses
// are matched as IPv4.
func Classify(ip netip.Addr, allowRanges []netip.Prefix, allowSingles []netip.Addr, denyRanges []netip.Prefix, denySingles []netip.Addr) Classification {
	if !ip.IsValid() {
		return Unspecified
	}
	ip = ip.Unmap()

	if matches(ip, denyRanges, denySingles) {
		return Denied
	}
	if matches(ip, allowRanges, allowSingles) {
		return Allowed
	}
	return Unspecified
}

func matches(ip netip.Addr, ranges []netip.Prefix, singles []netip.Addr) bool {
	for _, prefix := range ranges {
		if prefix.Contains(ip) {
			return true
		}
	}
	for _, single := range singles {
		if single == ip {
			return true
		}
	}
	return false
}

// normalizePrefix rewrites ::ffff:a.b.c.d/n ranges as a.b.c.d/(n-96) so they
// match unmapped addresses.
func normalizePrefix(p netip.Prefix) netip.Prefix {
	addr := p.Addr()
	if addr.Is4In6() && p.Bits() >= 96 {
		return netip.PrefixFrom(addr.Unmap(), p.Bits()-96).Masked()
	}
	return p.Masked()
}
