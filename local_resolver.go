package ddns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
)

// InterfaceResolver constructs a resolver that returns an address assigned to one of the given interfaces.
// If no interfaces are provided then all interfaces will be used.
//
// Only global unicast addresses are considered, so loopback, link-local and private addresses are skipped.
// This is useful on hosts that hold their public address directly, such as servers or IPv6 hosts without NAT.
func InterfaceResolver(iface ...string) AddressResolver {
	return interfaceResolver{ifaces: iface}
}

type interfaceResolver struct {
	ifaces []string
}

func (r interfaceResolver) Resolve(ctx context.Context, family Family) (netip.Addr, error) {
	var errs []error
	var addrs []net.Addr
	if len(r.ifaces) == 0 {
		a, err := net.InterfaceAddrs()
		if err != nil {
			return netip.Addr{}, &ResolutionError{Family: family, Err: fmt.Errorf("error getting addresses for interface: %w", err)}
		}
		addrs = a
	}
	for _, ifs := range r.ifaces {
		iface, err := net.InterfaceByName(ifs)
		if err != nil {
			errs = append(errs, fmt.Errorf("error getting interface %s by name: %w", ifs, err))
			continue
		}
		a, err := iface.Addrs()
		if err != nil {
			errs = append(errs, fmt.Errorf("error looking up addresses for interface %s: %w", ifs, err))
			continue
		}
		addrs = append(addrs, a...)
	}

	if addr, ok := pickPublic(addrs, family); ok {
		return addr, nil
	}
	errs = append(errs, fmt.Errorf("no public %s address found on interfaces", family))
	return netip.Addr{}, &ResolutionError{Family: family, Err: errors.Join(errs...)}
}

// pickPublic returns the first global unicast, non-private address of family in addrs.
func pickPublic(addrs []net.Addr, family Family) (netip.Addr, bool) {
	// addr: ip+net:192.168.86.253/24
	// addr: ip+net:fd64:9f44:fc30:0:b951:8b16:2812:a227/64
	// addr: ip+net:fe80::2cc9:801b:3551:9a43/64
	for _, addr := range addrs {
		p, err := netip.ParsePrefix(addr.String())
		if err != nil {
			continue
		}
		a := p.Addr()
		if family == IPv4 {
			a = a.Unmap()
		}
		if !family.Contains(a) || !a.IsGlobalUnicast() || a.IsPrivate() {
			continue
		}
		return a, true
	}
	return netip.Addr{}, false
}
