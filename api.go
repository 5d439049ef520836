package ddns

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
)

// Family is an IP address family.
type Family int

const (
	IPv4 Family = iota + 1
	IPv6
)

// Families lists every family in the order a pass evaluates them.
var Families = []Family{IPv4, IPv6}

func (f Family) String() string {
	switch f {
	case IPv4:
		return "IPv4"
	case IPv6:
		return "IPv6"
	}
	return fmt.Sprintf("Family(%d)", int(f))
}

// RecordType returns the DNS record type holding addresses of f.
func (f Family) RecordType() string {
	switch f {
	case IPv4:
		return "A"
	case IPv6:
		return "AAAA"
	}
	return ""
}

// Contains reports whether a is a valid address of family f.
// IPv4-mapped IPv6 addresses belong to neither family; callers that accept them must Unmap first.
func (f Family) Contains(a netip.Addr) bool {
	if !a.IsValid() || a.Zone() != "" {
		return false
	}
	switch f {
	case IPv4:
		return a.Is4()
	case IPv6:
		return a.Is6() && !a.Is4In6()
	}
	return false
}

// network returns the Go network name restricted to f, e.g. "tcp4" for ("tcp", IPv4).
func (f Family) network(proto string) string {
	switch f {
	case IPv4:
		return proto + "4"
	case IPv6:
		return proto + "6"
	}
	return proto
}

// ParseFamily parses "ipv4", "4", "a" and so on into a Family.
func ParseFamily(s string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ipv4", "v4", "4", "a":
		return IPv4, nil
	case "ipv6", "v6", "6", "aaaa":
		return IPv6, nil
	}
	return 0, fmt.Errorf("unknown address family %q", s)
}

// PublicAddress is an address the host is reachable at, as seen from the internet.
type PublicAddress struct {
	Family Family
	Addr   netip.Addr
}

func (p PublicAddress) String() string {
	return fmt.Sprintf("%s %s", p.Family, p.Addr)
}

// Record is a snapshot of one DNS record set as held by the provider.
type Record struct {
	Family Family
	Name   string
	// Values are kept exactly as the provider returned them.
	Values []string
	// TTL in seconds; 0 when the provider did not report one.
	TTL int
}

// Matches reports whether the record holds exactly the address a.
// Stored values are parsed before comparison,
// so differently formatted spellings of the same address match.
func (r Record) Matches(a netip.Addr) bool {
	if len(r.Values) != 1 {
		return false
	}
	stored, err := netip.ParseAddr(strings.TrimSpace(r.Values[0]))
	if err != nil {
		return false
	}
	if r.Family == IPv4 {
		stored = stored.Unmap()
	}
	return r.Family.Contains(stored) && stored == a
}

// AddressResolver looks up the host's public address for one family.
//
// Implementations must not return an address of another family and must not retry;
// retry policy belongs to the Reconciler.
type AddressResolver interface {
	Resolve(ctx context.Context, family Family) (netip.Addr, error)
}

// ResolverFunc adapts an ordinary function to an AddressResolver.
type ResolverFunc func(ctx context.Context, family Family) (netip.Addr, error)

// Resolve implements AddressResolver.
func (fn ResolverFunc) Resolve(ctx context.Context, family Family) (netip.Addr, error) {
	return fn(ctx, family)
}

// RecordStore is a typed client over a DNS provider's record API.
//
// ReadRecord returns an error wrapping ErrNotFound when the record does not exist.
// WriteRecord fully replaces the record's values with value.
// Errors wrap ErrUnauthorized for invalid credentials and ErrRateLimited when throttled;
// see IsRecoverable for how other errors are classified.
type RecordStore interface {
	ReadRecord(ctx context.Context, domain, name string, family Family) (Record, error)
	WriteRecord(ctx context.Context, domain, name string, family Family, value netip.Addr) error
}
