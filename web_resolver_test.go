package ddns_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/Travis-Britz/livedns-ddns"
)

func ipServers(t *testing.T, bodies ...string) []string {
	t.Helper()
	var srvs []string
	for _, body := range bodies {
		body := body
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, body)
		}))
		t.Cleanup(srv.Close)
		srvs = append(srvs, srv.URL)
	}
	return srvs
}

func mustWebResolver(t *testing.T, urls ...string) ddns.AddressResolver {
	t.Helper()
	wr, err := ddns.WebResolver(urls...)
	if err != nil {
		t.Fatalf("WebResolver: %s", err)
	}
	return wr
}

func TestLookup(t *testing.T) {
	wr := mustWebResolver(t, ipServers(t, "203.0.113.9\n")...)
	res, err := wr.Resolve(context.Background(), ddns.IPv4)
	if err != nil {
		t.Fatalf("Request failed: %s", err)
	}

	if expected, got := netip.MustParseAddr("203.0.113.9"), res; expected != got {
		t.Fatalf("Expected %q; got %q", expected, got)
	}
}

func TestLookupJSON(t *testing.T) {
	wr := mustWebResolver(t, ipServers(t, `{"ip":"203.0.113.9"}`)...)
	res, err := wr.Resolve(context.Background(), ddns.IPv4)
	if err != nil {
		t.Fatalf("Request failed: %s", err)
	}
	if expected, got := netip.MustParseAddr("203.0.113.9"), res; expected != got {
		t.Fatalf("Expected %q; got %q", expected, got)
	}
}

func TestLookupWrongFamily(t *testing.T) {
	wr := mustWebResolver(t, ipServers(t, "2001:db8::1")...)
	_, err := wr.Resolve(context.Background(), ddns.IPv4)
	var re *ddns.ResolutionError
	if !errors.As(err, &re) {
		t.Fatalf("Expected a ResolutionError for an IPv6 answer to an IPv4 lookup; got %v", err)
	}
	if re.Family != ddns.IPv4 {
		t.Fatalf("Expected family IPv4; got %s", re.Family)
	}
}

func TestLookupBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "203.0.113.9", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	_, err := mustWebResolver(t, srv.URL).Resolve(context.Background(), ddns.IPv4)
	if err == nil {
		t.Fatalf("Expected error response; got err == nil")
	}
}

func TestMismatch(t *testing.T) {
	wr := mustWebResolver(t, ipServers(t, "203.0.113.9", "198.51.100.10", "192.0.2.1")...)
	res, err := wr.Resolve(context.Background(), ddns.IPv4)
	if err == nil {
		t.Fatalf("Expected error response; got err == nil")
	}
	if res.IsValid() {
		t.Fatalf("Expected the zero address; got %s", res)
	}
}

func TestOneFailure(t *testing.T) {
	wr := mustWebResolver(t, ipServers(t, "203.0.113.9", "invalid ip", "203.0.113.9")...)
	res, err := wr.Resolve(context.Background(), ddns.IPv4)
	if err != nil {
		t.Fatalf("Resolve failed: %s", err)
	}
	if expected, got := netip.MustParseAddr("203.0.113.9"), res; expected != got {
		t.Fatalf("Expected %q; got %q", expected, got)
	}
}

func TestTwoFailures(t *testing.T) {
	wr := mustWebResolver(t, ipServers(t, "203.0.113.9", "a", "a")...)
	res, err := wr.Resolve(context.Background(), ddns.IPv4)
	if err == nil {
		t.Fatalf("Expected error response; got err == nil")
	}
	if res.IsValid() {
		t.Fatalf("Expected the zero address; got %s", res)
	}
}

func TestConcurrency(t *testing.T) {
	var srvs []string
	for i := 0; i < 3; i++ {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(50 * time.Millisecond)
			io.WriteString(w, "203.0.113.9")
		}))
		defer srv.Close()
		srvs = append(srvs, srv.URL)
	}
	wr := mustWebResolver(t, srvs...)
	ctx, cancel := context.WithTimeout(context.Background(), 75*time.Millisecond)
	defer cancel()
	res, err := wr.Resolve(ctx, ddns.IPv4)
	if err != nil {
		t.Fatalf("Resolve failed: %s", err)
	}
	if expected, got := netip.MustParseAddr("203.0.113.9"), res; expected != got {
		t.Fatalf("Expected %q; got %q", expected, got)
	}
}

func TestHitCount(t *testing.T) {
	var mu sync.Mutex
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		// forcing every request to fail should prevent early returns with in-flight requests
		io.WriteString(w, "invalid ip")
		mu.Unlock()
	}))
	defer srv.Close()

	expected := []int{1, 3, 3, 3, 3}
	urls := []string{srv.URL}
	for i, want := range expected {
		mu.Lock()
		hits = 0
		mu.Unlock()
		wr := mustWebResolver(t, urls...)
		_, err := wr.Resolve(context.Background(), ddns.IPv4)
		if err == nil {
			t.Fatalf("Expected an error; got err == nil")
		}
		mu.Lock()
		h := hits
		mu.Unlock()
		if h != want {
			t.Fatalf("With %d services: expected %d hits; got %d", i+1, want, h)
		}
		urls = append(urls, srv.URL)
	}
}

func TestWebResolverRejectsBadURLs(t *testing.T) {
	if _, err := ddns.WebResolver(); err == nil {
		t.Fatal("Expected an error without services")
	}
	if _, err := ddns.WebResolver("ftp://example.com/ip"); err == nil {
		t.Fatal("Expected an error for a non-http scheme")
	}
}

func TestSetHTTPClientKeepsFamilyPinning(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "203.0.113.5\n")
	}))
	t.Cleanup(srv.Close)

	wr := mustWebResolver(t, srv.URL)
	// srv.Client is the only client trusting the test certificate
	wr.(interface{ SetHTTPClient(*http.Client) }).SetHTTPClient(srv.Client())

	addr, err := wr.Resolve(context.Background(), ddns.IPv4)
	if err != nil {
		t.Fatalf("IPv4 lookup through the supplied client failed: %s", err)
	}
	if addr != netip.MustParseAddr("203.0.113.5") {
		t.Errorf("expected 203.0.113.5; got %s", addr)
	}

	// the server only listens on 127.0.0.1, which an IPv6-pinned dialer cannot reach
	if _, err := wr.Resolve(context.Background(), ddns.IPv6); err == nil {
		t.Error("expected the IPv6 lookup to stay on IPv6 and fail")
	}
}
