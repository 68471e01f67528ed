package cryptutil

import (
	"net"
	"strings"

	"github.com/openportal/mesh/internal/grammar"
)

// IPRange is either a single address or a CIDR-like range, stored as its
// original text form and parsed lazily on Matches (spec.md §4.1: "IPs are
// stored as either a single address or a CIDR-like range").
type IPRange struct {
	Text string
}

// ParseIPRange validates the text eagerly so config loading fails fast.
func ParseIPRange(s string) (IPRange, error) {
	if s == "" {
		return IPRange{}, grammar.New(grammar.KindParse, "empty IP range")
	}
	if strings.Contains(s, "/") {
		if _, _, err := net.ParseCIDR(s); err != nil {
			return IPRange{}, grammar.Wrap(grammar.KindParse, err, "invalid CIDR %q", s)
		}
	} else if net.ParseIP(s) == nil {
		return IPRange{}, grammar.New(grammar.KindParse, "invalid IP address %q", s)
	}
	return IPRange{Text: s}, nil
}

// Matches reports whether a connecting peer's address is admissible.
func (r IPRange) Matches(addr net.IP) bool {
	if strings.Contains(r.Text, "/") {
		_, network, err := net.ParseCIDR(r.Text)
		if err != nil {
			return false
		}
		return network.Contains(addr)
	}
	single := net.ParseIP(r.Text)
	return single != nil && single.Equal(addr)
}

func (r IPRange) String() string { return r.Text }

func (r IPRange) MarshalText() ([]byte, error) { return []byte(r.Text), nil }

func (r *IPRange) UnmarshalText(text []byte) error {
	parsed, err := ParseIPRange(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
