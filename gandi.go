package ddns

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"strings"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-cleanhttp"
)

const (
	// DefaultGandiURL is the Gandi LiveDNS v5 API root.
	DefaultGandiURL = "https://api.gandi.net/v5/livedns/"
	// DefaultGandiTTL is the TTL, in seconds, of records written to Gandi.
	DefaultGandiTTL = 1800
)

// Gandi implements RecordStore for Gandi LiveDNS.
//
// It should be constructed using NewGandi.
type Gandi struct {
	baseURL    *url.URL
	apiKey     string
	ttl        int
	httpClient *http.Client
	logger     logr.Logger
}

// NewGandi returns a LiveDNS client authenticating with apiKey,
// a personal access token sent as a Bearer token.
func NewGandi(apiKey string) *Gandi {
	u, _ := url.Parse(DefaultGandiURL)
	return &Gandi{
		baseURL:    u,
		apiKey:     apiKey,
		ttl:        DefaultGandiTTL,
		httpClient: cleanhttp.DefaultPooledClient(),
		logger:     logr.Discard(),
	}
}

// SetBaseURL points the client at another LiveDNS endpoint, e.g. the sandbox.
func (g *Gandi) SetBaseURL(baseURL string) error {
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("error parsing gandi URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("gandi URL %q must be absolute", baseURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	g.baseURL = u
	return nil
}

// SetTTL sets the TTL in seconds of written records.
func (g *Gandi) SetTTL(ttl int) { g.ttl = ttl }

func (g *Gandi) SetHTTPClient(c *http.Client) {
	if c == nil {
		c = cleanhttp.DefaultPooledClient()
	}
	g.httpClient = c
}

func (g *Gandi) SetLogger(l logr.Logger) { g.logger = l }

// gandiRRSet is the LiveDNS representation of a record set.
type gandiRRSet struct {
	Name   string   `json:"rrset_name,omitempty"`
	Type   string   `json:"rrset_type,omitempty"`
	TTL    int      `json:"rrset_ttl,omitempty"`
	Values []string `json:"rrset_values"`
}

// gandiError is the LiveDNS error body.
type gandiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Cause   string `json:"cause"`
	Object  string `json:"object"`
}

// ReadRecord implements RecordStore.
func (g *Gandi) ReadRecord(ctx context.Context, domain, name string, family Family) (Record, error) {
	var rrset gandiRRSet
	if err := g.do(ctx, "read", http.MethodGet, g.recordURL(domain, name, family), nil, &rrset); err != nil {
		return Record{}, err
	}
	g.logger.V(1).Info("read gandi record", "domain", domain, "name", name, "type", family.RecordType(), "values", rrset.Values, "ttl", rrset.TTL)
	return Record{
		Family: family,
		Name:   name,
		Values: rrset.Values,
		TTL:    rrset.TTL,
	}, nil
}

// WriteRecord implements RecordStore.
// The PUT replaces every value of the record set, creating it if needed.
func (g *Gandi) WriteRecord(ctx context.Context, domain, name string, family Family, value netip.Addr) error {
	if !family.Contains(value) {
		return fmt.Errorf("write: %q is not a valid %s address", value, family)
	}
	body := gandiRRSet{
		TTL:    g.ttl,
		Values: []string{value.String()},
	}
	if err := g.do(ctx, "write", http.MethodPut, g.recordURL(domain, name, family), body, nil); err != nil {
		return err
	}
	g.logger.V(1).Info("wrote gandi record", "domain", domain, "name", name, "type", family.RecordType(), "value", value.String())
	return nil
}

func (g *Gandi) recordURL(domain, name string, family Family) string {
	return g.baseURL.JoinPath("domains", domain, "records", name, family.RecordType()).String()
}

func (g *Gandi) do(ctx context.Context, op, method, u string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: marshal request body: %w", op, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return &APIError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("reading response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Message: gandiMessage(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

func gandiMessage(body []byte) string {
	var e gandiError
	if err := json.Unmarshal(body, &e); err != nil || (e.Message == "" && e.Cause == "") {
		return strings.TrimSpace(string(body))
	}
	if e.Cause != "" && e.Message != "" && e.Cause != e.Message {
		return e.Cause + ": " + e.Message
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Cause
}
