package ddns

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-cleanhttp"
)

// DefaultServiceURLs are dual-stack "what is my IP" services.
// The family of the answer is selected by dialing over IPv4 or IPv6 only.
var DefaultServiceURLs = []string{
	"https://api64.ipify.org?format=json",
	"https://icanhazip.com/",
	"https://ifconfig.co/ip",
}

// DefaultResolver is used when no resolver is given to New.
var DefaultResolver AddressResolver = mustWebResolver(DefaultServiceURLs...)

func mustWebResolver(serviceURL ...string) AddressResolver {
	r, err := WebResolver(serviceURL...)
	if err != nil {
		panic(err)
	}
	return r
}

// WebResolver constructs a resolver which uses external web services to look up a "public" IP address.
//
// Each serviceURL must speak http and return status "200 OK",
// with the address as the first line of the response body,
// or as the "ip" field of a JSON object (e.g. ipify's ?format=json).
// All other responses are considered an error.
//
// Requests for one family are dialed over that family only,
// so a dual-stack service answers with the address of the requested family.
// An answer of the wrong family is rejected.
//
// If only one serviceURL is given,
// then the resolver will simply return the response.
// If multiple are given,
// then the resolver will request from up to three of them and only return successfully if the first two non-error responses agreed on the IP.
// This approach is taken due to the sensitive nature of having control over DNS records.
func WebResolver(serviceURL ...string) (AddressResolver, error) {
	if len(serviceURL) == 0 {
		return nil, errors.New("no external IP lookup services were provided")
	}
	var URLs []*url.URL
	for _, u := range serviceURL {
		pu, err := url.Parse(u)
		if err != nil {
			return nil, fmt.Errorf("error parsing URL: %w", err)
		}
		if pu.Scheme != "http" && pu.Scheme != "https" {
			return nil, fmt.Errorf("unsupported scheme in %q", u)
		}
		URLs = append(URLs, pu)
	}
	return &webResolver{
		serviceURLs: URLs,
		clients: map[Family]*http.Client{
			IPv4: familyClient(IPv4),
			IPv6: familyClient(IPv6),
		},
		logger: logr.Discard(),
	}, nil
}

// familyClient returns a pooled client whose connections only use family f.
func familyClient(f Family) *http.Client {
	transport := cleanhttp.DefaultPooledTransport()
	pinDialer(transport, f)
	return &http.Client{Transport: transport}
}

// pinDialer makes every connection of t dial over family f only.
func pinDialer(t *http.Transport, f Family) {
	dial := t.DialContext
	if dial == nil {
		dial = (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext
	}
	network := f.network("tcp")
	t.DialContext = func(ctx context.Context, _, addr string) (net.Conn, error) {
		return dial(ctx, network, addr)
	}
}

type webResolver struct {
	clients     map[Family]*http.Client
	serviceURLs []*url.URL
	logger      logr.Logger
}

// SetHTTPClient makes lookups use c.
// Each family gets a copy of c with a clone of its *http.Transport pinned to that family,
// so dual-stack services keep answering with the requested family.
// A transport of any other type is used as is and must select the family itself.
func (wr *webResolver) SetHTTPClient(c *http.Client) {
	if c == nil {
		return
	}
	clients := make(map[Family]*http.Client, len(Families))
	for _, f := range Families {
		var t *http.Transport
		switch rt := c.Transport.(type) {
		case nil:
			t = http.DefaultTransport.(*http.Transport).Clone()
		case *http.Transport:
			t = rt.Clone()
		default:
			clients[f] = c
			continue
		}
		pinDialer(t, f)
		cc := *c
		cc.Transport = t
		clients[f] = &cc
	}
	wr.clients = clients
}

func (wr *webResolver) SetLogger(l logr.Logger) { wr.logger = l }

// Resolve implements AddressResolver.
func (wr *webResolver) Resolve(ctx context.Context, family Family) (netip.Addr, error) {
	// IP lookup calls out to three of the public IP resolver urls.
	// It only returns a nil error if the first two non-error responses had matching IPs.
	// This approach has a number of benefits:
	// - faster responses
	// - less likely to be affected by service downtime
	// - safer from wrong results in the event of accidental caching
	// - safer from a single compromised service returning malicious results (assuming all supplied resolvers are https)
	if len(wr.serviceURLs) == 0 {
		return netip.Addr{}, &ResolutionError{Family: family, Err: errors.New("no external IP lookup services were provided")}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		addr netip.Addr
		err  error
	}

	useCount := 3
	resolvercount := len(wr.serviceURLs)
	if resolvercount == 1 {
		useCount = 1
	}
	results := make(chan result, useCount)

	var wg sync.WaitGroup
	wg.Add(useCount)
	for i := 0; i < useCount; i++ {
		u := wr.serviceURLs[i%resolvercount]
		go func() {
			defer wg.Done()
			r := result{}
			r.addr, r.err = wr.lookup(ctx, u, family)
			results <- r
		}()
	}
	go func() { wg.Wait(); close(results) }()

	var errs []error
	var ip netip.Addr
	for r := range results {
		if r.err != nil {
			wr.logger.V(1).Info("public IP lookup failed", "family", family.String(), "error", r.err.Error())
			errs = append(errs, r.err)
			continue
		}
		if useCount == 1 {
			return r.addr, nil
		}
		if !ip.IsValid() {
			ip = r.addr
			continue
		}
		if ip == r.addr {
			return ip, nil
		}
		return netip.Addr{}, &ResolutionError{Family: family, Err: fmt.Errorf("IP resolvers did not agree on our IP: %s != %s", ip, r.addr)}
	}

	return netip.Addr{}, &ResolutionError{Family: family, Err: fmt.Errorf("not enough resolvers responded without errors: %w", errors.Join(errs...))}
}

func (wr *webResolver) client(family Family) *http.Client {
	if c, ok := wr.clients[family]; ok {
		return c
	}
	return familyClient(family)
}

func (wr *webResolver) lookup(ctx context.Context, u *url.URL, family Family) (netip.Addr, error) {
	// 15 seconds is an eternity for the size of the request we're making,
	// but this ensures that all calls to resolve will eventually complete even if the user supplied context.TODO or context.Background
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := wr.client(family).Do(req)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("http request to %s failed: %w", u.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return netip.Addr{}, fmt.Errorf("http request to %s returned %s", u.Host, resp.Status)
	}

	ip, err := parseAddrBody(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error parsing IP address from %s response body: %w", u.Host, err)
	}
	if family == IPv4 {
		ip = ip.Unmap()
	}
	if !family.Contains(ip) {
		return netip.Addr{}, fmt.Errorf("%s returned %s which is not an %s address", u.Host, ip, family)
	}
	return ip, nil
}

// parseAddrBody reads an address from a plain text first line or a JSON {"ip": "..."} object.
func parseAddrBody(body io.Reader) (netip.Addr, error) {
	scanner := bufio.NewReader(body)
	line, _ := scanner.ReadString('\n')
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "{") {
		rest, _ := io.ReadAll(scanner)
		var v struct {
			IP string `json:"ip"`
		}
		if err := json.Unmarshal(append([]byte(line), rest...), &v); err != nil {
			return netip.Addr{}, fmt.Errorf("invalid JSON: %w", err)
		}
		line = strings.TrimSpace(v.IP)
	}
	return netip.ParseAddr(line)
}
