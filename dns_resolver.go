package ddns

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/go-logr/logr"
	"github.com/miekg/dns"
)

// OpenDNS answers queries for myip.opendns.com with the address the query came from.
var (
	OpenDNSName    = "myip.opendns.com"
	OpenDNSServers = map[Family][]string{
		IPv4: {"208.67.222.222:53", "208.67.220.220:53"},
		IPv6: {"[2620:119:35::35]:53", "[2620:119:53::53]:53"},
	}
)

// DNSResolver looks up the public address by asking a DNS server that echoes the source address of the query,
// such as OpenDNS' myip.opendns.com.
// Queries for IPv4 ask for an A record over UDP/IPv4 and queries for IPv6 ask for an AAAA record over UDP/IPv6.
type DNSResolver struct {
	name    string
	servers map[Family][]string
	timeout time.Duration
	logger  logr.Logger
}

// NewDNSResolver returns a resolver querying name on the given servers ("host:port") per family.
// Servers are tried in order until one answers.
func NewDNSResolver(name string, servers map[Family][]string) *DNSResolver {
	return &DNSResolver{
		name:    dns.Fqdn(name),
		servers: servers,
		timeout: 5 * time.Second,
		logger:  logr.Discard(),
	}
}

// OpenDNSResolver returns a DNSResolver for OpenDNS.
func OpenDNSResolver() *DNSResolver {
	return NewDNSResolver(OpenDNSName, OpenDNSServers)
}

func (r *DNSResolver) SetLogger(l logr.Logger) { r.logger = l }

// Resolve implements AddressResolver.
func (r *DNSResolver) Resolve(ctx context.Context, family Family) (netip.Addr, error) {
	servers := r.servers[family]
	if len(servers) == 0 {
		return netip.Addr{}, &ResolutionError{Family: family, Err: errors.New("no DNS servers configured")}
	}
	qtype := dns.TypeA
	if family == IPv6 {
		qtype = dns.TypeAAAA
	}
	c := &dns.Client{Net: family.network("udp"), Timeout: r.timeout}

	var errs []error
	for _, server := range servers {
		m := new(dns.Msg)
		m.SetQuestion(r.name, qtype)
		m.RecursionDesired = false

		in, _, err := c.ExchangeContext(ctx, m, server)
		if err != nil {
			r.logger.V(1).Info("DNS lookup failed", "server", server, "error", err.Error())
			errs = append(errs, fmt.Errorf("%s: %w", server, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		addr, err := answerAddr(in, family)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", server, err))
			continue
		}
		return addr, nil
	}
	return netip.Addr{}, &ResolutionError{Family: family, Err: errors.Join(errs...)}
}

func answerAddr(in *dns.Msg, family Family) (netip.Addr, error) {
	if in.Rcode != dns.RcodeSuccess {
		return netip.Addr{}, fmt.Errorf("server answered %s", dns.RcodeToString[in.Rcode])
	}
	for _, rr := range in.Answer {
		var ip []byte
		switch rr := rr.(type) {
		case *dns.A:
			ip = rr.A
		case *dns.AAAA:
			ip = rr.AAAA
		default:
			continue
		}
		addr, ok := netip.AddrFromSlice(ip)
		if !ok {
			continue
		}
		if family == IPv4 {
			addr = addr.Unmap()
		}
		if family.Contains(addr) {
			return addr, nil
		}
	}
	return netip.Addr{}, fmt.Errorf("no %s record in answer", family.RecordType())
}
