package ddns

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"

	"github.com/go-logr/logr"
)

// StaticResolver constructs a resolver that always returns the given addresses,
// at most one per family.
func StaticResolver(addrs ...string) (AddressResolver, error) {
	r := staticResolver{}
	for _, s := range addrs {
		a, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("unable to parse IP: %w", err)
		}
		a = a.Unmap()
		f := IPv6
		if a.Is4() {
			f = IPv4
		}
		if _, dup := r[f]; dup {
			return nil, fmt.Errorf("more than one %s address given", f)
		}
		r[f] = a
	}
	return r, nil
}

type staticResolver map[Family]netip.Addr

func (s staticResolver) Resolve(_ context.Context, family Family) (netip.Addr, error) {
	a, ok := s[family]
	if !ok {
		return netip.Addr{}, &ResolutionError{Family: family, Err: errors.New("no static address configured")}
	}
	return a, nil
}

// Fallback constructs a resolver that asks each resolver in order and returns the first address found.
func Fallback(resolvers ...AddressResolver) AddressResolver {
	return fallback(resolvers)
}

type fallback []AddressResolver

func (fb fallback) Resolve(ctx context.Context, family Family) (netip.Addr, error) {
	var errs []error
	for _, r := range fb {
		a, err := r.Resolve(ctx, family)
		if err == nil {
			return a, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		errs = append(errs, errors.New("no resolvers configured"))
	}
	return netip.Addr{}, &ResolutionError{Family: family, Err: errors.Join(errs...)}
}

// SetLogger forwards l to every wrapped resolver that accepts a logger.
func (fb fallback) SetLogger(l logr.Logger) {
	for _, r := range fb {
		if s, ok := r.(interface{ SetLogger(logr.Logger) }); ok {
			s.SetLogger(l)
		}
	}
}

// SetHTTPClient forwards c to every wrapped resolver that accepts an HTTP client.
func (fb fallback) SetHTTPClient(c *http.Client) {
	for _, r := range fb {
		if s, ok := r.(interface{ SetHTTPClient(*http.Client) }); ok {
			s.SetHTTPClient(c)
		}
	}
}
