package ddns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"

	"github.com/cloudflare/cloudflare-go"
	"github.com/go-logr/logr"
	"github.com/hashicorp/go-cleanhttp"
)

// NewCloudflare returns a RecordStore managing records through the Cloudflare API.
// Retries inside the cloudflare client are disabled because the Reconciler applies its own policy.
func NewCloudflare(token string, opts ...cloudflare.Option) (*Cloudflare, error) {
	opts = append([]cloudflare.Option{
		cloudflare.UsingRetryPolicy(0, 0, 0),
		cloudflare.HTTPClient(statusClient(cleanhttp.DefaultPooledClient())),
	}, opts...)
	api, err := cloudflare.NewWithAPIToken(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("error creating cloudflare api client: %w", err)
	}
	return &Cloudflare{
		api:     api,
		logger:  logr.Discard(),
		comment: "managed by ddns",
		ttl:     60,
	}, nil
}

// Cloudflare implements ddns.RecordStore.
//
// It should be constructed using NewCloudflare.
type Cloudflare struct {
	api     *cloudflare.API
	logger  logr.Logger
	comment string // optional comment to attach to each new DNS entry
	ttl     int
}

func (cf *Cloudflare) SetLogger(l logr.Logger) { cf.logger = l }

func (cf *Cloudflare) SetHTTPClient(c *http.Client) {
	if c == nil || cf.api == nil {
		return
	}
	_ = cloudflare.HTTPClient(statusClient(c))(cf.api)
}

// cloudflare-go drops the status of 429 and 5xx responses once its retries are disabled,
// so the transport records the last status of each call in the request context.
type statusKey struct{}

type callStatus struct {
	mu   sync.Mutex
	code int
}

func (s *callStatus) get() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code
}

func withCallStatus(ctx context.Context) (context.Context, *callStatus) {
	st := &callStatus{}
	return context.WithValue(ctx, statusKey{}, st), st
}

type statusTransport struct {
	next http.RoundTripper
}

func (t statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if st, ok := req.Context().Value(statusKey{}).(*callStatus); ok {
		st.mu.Lock()
		st.code = 0
		if err == nil {
			st.code = resp.StatusCode
		}
		st.mu.Unlock()
	}
	return resp, err
}

// statusClient returns a copy of c whose transport records response statuses.
func statusClient(c *http.Client) *http.Client {
	if _, ok := c.Transport.(statusTransport); ok {
		return c
	}
	next := c.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	cc := *c
	cc.Transport = statusTransport{next: next}
	return &cc
}

// SetTTL sets the TTL of created and updated records; 1 means automatic.
func (cf *Cloudflare) SetTTL(ttl int) { cf.ttl = ttl }

// ReadRecord implements RecordStore.
func (cf *Cloudflare) ReadRecord(ctx context.Context, domain, name string, family Family) (Record, error) {
	if cf.api == nil {
		return Record{}, errors.New("ddns.Cloudflare should be constructed with ddns.NewCloudflare")
	}
	ctx, st := withCallStatus(ctx)
	_, records, err := cf.list(ctx, st, "read", domain, name, family)
	if err != nil {
		return Record{}, err
	}
	if len(records) == 0 {
		return Record{}, fmt.Errorf("%s record for %s: %w", family.RecordType(), fqdn(domain, name), ErrNotFound)
	}
	rec := Record{Family: family, Name: name, TTL: records[0].TTL}
	for _, r := range records {
		rec.Values = append(rec.Values, r.Content)
	}
	return rec, nil
}

// WriteRecord implements RecordStore.
//
// The first existing record is updated in place and any others of the same type are deleted,
// so the name ends up with exactly one record of the family.
func (cf *Cloudflare) WriteRecord(ctx context.Context, domain, name string, family Family, value netip.Addr) error {
	if cf.api == nil {
		return errors.New("ddns.Cloudflare should be constructed with ddns.NewCloudflare")
	}
	if !family.Contains(value) {
		return fmt.Errorf("write: %q is not a valid %s address", value, family)
	}
	ctx, st := withCallStatus(ctx)
	zid, records, err := cf.list(ctx, st, "write", domain, name, family)
	if err != nil {
		return err
	}
	rc := cloudflare.ZoneIdentifier(zid)
	host := fqdn(domain, name)

	if len(records) == 0 {
		cf.logger.V(1).Info("creating record", "name", host, "type", family.RecordType(), "content", value.String())
		_, err := cf.api.CreateDNSRecord(ctx, rc, cloudflare.CreateDNSRecordParams{
			Type:    family.RecordType(),
			Name:    host,
			Content: value.String(),
			TTL:     cf.ttl,
			Comment: cf.comment,
		})
		if err != nil {
			return cloudflareError("write", st.get(), err)
		}
		return nil
	}

	cf.logger.V(1).Info("updating record", "name", host, "id", records[0].ID, "content", value.String())
	_, err = cf.api.UpdateDNSRecord(ctx, rc, cloudflare.UpdateDNSRecordParams{
		ID:      records[0].ID,
		Type:    family.RecordType(),
		Name:    host,
		Content: value.String(),
		TTL:     cf.ttl,
	})
	if err != nil {
		return cloudflareError("write", st.get(), err)
	}
	for _, r := range records[1:] {
		cf.logger.V(1).Info("deleting duplicate record", "name", host, "id", r.ID, "content", r.Content)
		if err := cf.api.DeleteDNSRecord(ctx, rc, r.ID); err != nil {
			return cloudflareError("write", st.get(), err)
		}
	}
	return nil
}

func (cf *Cloudflare) list(ctx context.Context, st *callStatus, op, domain, name string, family Family) (string, []cloudflare.DNSRecord, error) {
	zid, err := cf.getZoneIDFromDomain(ctx, st, op, domain)
	if err != nil {
		return "", nil, err
	}
	records, _, err := cf.api.ListDNSRecords(ctx, cloudflare.ZoneIdentifier(zid), cloudflare.ListDNSRecordsParams{
		Type: family.RecordType(),
		Name: fqdn(domain, name),
	})
	if err != nil {
		return "", nil, cloudflareError(op, st.get(), err)
	}
	cf.logger.V(1).Info("found existing records", "zone", zid, "count", len(records))
	return zid, records, nil
}

func (cf *Cloudflare) getZoneIDFromDomain(ctx context.Context, st *callStatus, op, domain string) (zid string, err error) {
	zones, err := cf.api.ListZones(ctx)
	if err != nil {
		return "", cloudflareError(op, st.get(), fmt.Errorf("error listing zones: %w", err))
	}

	domain = strings.TrimSuffix(domain, ".")
	max := 0
	for _, z := range zones {
		if (domain == z.Name || strings.HasSuffix(domain, "."+z.Name)) && len(z.Name) > max {
			max, zid = len(z.Name), z.ID
		}
	}
	if max == 0 {
		return "", fmt.Errorf("unable to find a zone matching \"%s\"", domain)
	}
	return zid, nil
}

func fqdn(domain, name string) string {
	return Config{Domain: domain, RecordName: name}.FQDN()
}

// cloudflareError maps cloudflare-go errors onto the APIError taxonomy.
// status is the last HTTP status seen for the call, 0 if no response was received.
func cloudflareError(op string, status int, err error) error {
	var (
		authn    *cloudflare.AuthenticationError
		authz    *cloudflare.AuthorizationError
		notFound *cloudflare.NotFoundError
		limited  *cloudflare.RatelimitError
		service  *cloudflare.ServiceError
		request  *cloudflare.RequestError
	)
	switch {
	case errors.As(err, &authn), errors.As(err, &authz):
		return &APIError{Op: op, StatusCode: http.StatusForbidden, Message: err.Error()}
	case errors.As(err, &notFound):
		return &APIError{Op: op, StatusCode: http.StatusNotFound, Message: err.Error()}
	case errors.As(err, &limited), status == http.StatusTooManyRequests:
		return &APIError{Op: op, StatusCode: http.StatusTooManyRequests, Message: err.Error()}
	case errors.As(err, &service):
		if status < 500 {
			status = http.StatusInternalServerError
		}
		return &APIError{Op: op, StatusCode: status, Message: err.Error()}
	case status >= 500:
		return &APIError{Op: op, StatusCode: status, Message: err.Error()}
	case status >= 400:
		return &APIError{Op: op, StatusCode: status, Message: err.Error()}
	case errors.As(err, &request):
		return &APIError{Op: op, StatusCode: http.StatusBadRequest, Message: err.Error()}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &APIError{Op: op, Err: err}
	}
	// the client failed after a successful response, e.g. an unexpected body
	return fmt.Errorf("%s: %w", op, err)
}
