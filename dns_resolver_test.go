package ddns_test

import (
	"context"
	"net"
	"net/netip"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Travis-Britz/livedns-ddns"
)

// startDNS runs a UDP server on loopback answering with handler and returns its address.
func startDNS(t *testing.T, handler dns.HandlerFunc) string {
	t.Helper()
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)

	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: handler, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })
	return pc.LocalAddr().String()
}

func echoA(addr string) dns.HandlerFunc {
	return func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		q := r.Question[0]
		if q.Qtype == dns.TypeA && q.Name == "myip.opendns.com." {
			m.Answer = append(m.Answer, &dns.A{
				Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 0},
				A:   net.ParseIP(addr),
			})
		}
		_ = w.WriteMsg(m)
	}
}

func TestDNSResolver(t *testing.T) {
	server := startDNS(t, echoA("203.0.113.9"))
	r := ddns.NewDNSResolver(ddns.OpenDNSName, map[ddns.Family][]string{ddns.IPv4: {server}})

	addr, err := r.Resolve(context.Background(), ddns.IPv4)
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("203.0.113.9"), addr)
}

func TestDNSResolverNXDomain(t *testing.T) {
	server := startDNS(t, func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetRcode(r, dns.RcodeNameError)
		_ = w.WriteMsg(m)
	})
	r := ddns.NewDNSResolver(ddns.OpenDNSName, map[ddns.Family][]string{ddns.IPv4: {server}})

	_, err := r.Resolve(context.Background(), ddns.IPv4)
	var rerr *ddns.ResolutionError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, ddns.IPv4, rerr.Family)
	assert.ErrorContains(t, err, "NXDOMAIN")
}

func TestDNSResolverEmptyAnswer(t *testing.T) {
	server := startDNS(t, echoA("203.0.113.9"))
	r := ddns.NewDNSResolver("other.example.", map[ddns.Family][]string{ddns.IPv4: {server}})

	_, err := r.Resolve(context.Background(), ddns.IPv4)
	assert.ErrorContains(t, err, "no A record in answer")
}

func TestDNSResolverFallsThroughServers(t *testing.T) {
	bad := startDNS(t, func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetRcode(r, dns.RcodeServerFailure)
		_ = w.WriteMsg(m)
	})
	good := startDNS(t, echoA("198.51.100.20"))
	r := ddns.NewDNSResolver(ddns.OpenDNSName, map[ddns.Family][]string{ddns.IPv4: {bad, good}})

	addr, err := r.Resolve(context.Background(), ddns.IPv4)
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.20", addr.String())
}

func TestDNSResolverNoServers(t *testing.T) {
	r := ddns.NewDNSResolver(ddns.OpenDNSName, map[ddns.Family][]string{})
	_, err := r.Resolve(context.Background(), ddns.IPv6)
	assert.ErrorContains(t, err, "no DNS servers configured")
}
