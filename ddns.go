package ddns

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"
)

// DefaultCallTimeout bounds every single resolve, read and write call.
const DefaultCallTimeout = 15 * time.Second

// Config identifies the record to keep up to date and the credential for the provider.
// It is immutable for the duration of a pass.
type Config struct {
	APIKey string
	Domain string
	// RecordName is relative to Domain; "@" names the apex.
	RecordName string
}

// Validate checks that c names a usable record.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return errors.New("api key cannot be empty")
	}
	if c.Domain == "" {
		return errors.New("domain cannot be empty")
	}
	if !strings.Contains(strings.Trim(c.Domain, "."), ".") {
		return errors.New("domain must have at least one dot")
	}
	if c.RecordName == "" {
		return errors.New(`record name cannot be empty; use "@" for the domain apex`)
	}
	if strings.ContainsAny(c.RecordName, "/ ") {
		return fmt.Errorf("invalid record name %q", c.RecordName)
	}
	return nil
}

// FQDN returns the fully qualified name of the record without a trailing dot.
func (c Config) FQDN() string {
	domain := strings.TrimSuffix(c.Domain, ".")
	if c.RecordName == "@" || c.RecordName == "" {
		return domain
	}
	return c.RecordName + "." + domain
}

// String implements fmt.Stringer without revealing the API key.
func (c Config) String() string {
	key := ""
	if c.APIKey != "" {
		key = "<redacted>"
	}
	return fmt.Sprintf("{APIKey:%s Domain:%s RecordName:%s}", key, c.Domain, c.RecordName)
}

// GoString implements fmt.GoStringer so %#v does not reveal the API key either.
func (c Config) GoString() string { return "ddns.Config" + c.String() }

// New returns a Reconciler for the record named by cfg.
//
// Without options the public addresses are looked up with DefaultResolver
// and records are managed through Gandi LiveDNS using cfg.APIKey.
// Options are applied in order; the logger and HTTP client are propagated
// to the resolver and store after all options ran.
func New(cfg Config, options ...Option) (*Reconciler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("ddns.New: invalid config: %w", err)
	}
	r := &Reconciler{
		cfg:         cfg,
		resolver:    DefaultResolver,
		families:    Families,
		retry:       DefaultRetryPolicy,
		callTimeout: DefaultCallTimeout,
		clock:       realClock{},
		logger:      logr.Discard(),
	}
	for i, opt := range options {
		if err := opt(r); err != nil {
			return nil, fmt.Errorf("ddns.New: option %d returned an error: %w", i, err)
		}
	}
	if r.store == nil {
		r.store = NewGandi(cfg.APIKey)
	}

	// this lets us propagate the logger and http client to dependencies regardless of option order
	r.propagate()
	return r, nil
}

// Option configures a Reconciler.
type Option func(*Reconciler) error

// UsingStore manages records through store instead of Gandi LiveDNS.
func UsingStore(store RecordStore) Option {
	return func(r *Reconciler) error {
		if store == nil {
			return errors.New("ddns.UsingStore: store cannot be nil")
		}
		r.store = store
		return nil
	}
}

// UsingGandi manages records through Gandi LiveDNS at baseURL, or the public API when baseURL is empty.
func UsingGandi(baseURL string, ttl int) Option {
	return func(r *Reconciler) error {
		g := NewGandi(r.cfg.APIKey)
		if baseURL != "" {
			if err := g.SetBaseURL(baseURL); err != nil {
				return fmt.Errorf("ddns.UsingGandi: %w", err)
			}
		}
		if ttl > 0 {
			g.SetTTL(ttl)
		}
		r.store = g
		return nil
	}
}

// UsingCloudflare manages records through Cloudflare, treating the config API key as an API token.
func UsingCloudflare() Option {
	return func(r *Reconciler) (err error) {
		if r.store, err = NewCloudflare(r.cfg.APIKey); err != nil {
			return fmt.Errorf("ddns.UsingCloudflare: error creating cloudflare DNS provider: %w", err)
		}
		return nil
	}
}

// UsingResolver looks up public addresses with resolver; nil restores DefaultResolver.
func UsingResolver(resolver AddressResolver) Option {
	return func(r *Reconciler) error {
		if resolver == nil {
			resolver = DefaultResolver
		}
		r.resolver = resolver
		return nil
	}
}

// UsingWebResolver looks up public addresses with the given "what is my IP" services.
func UsingWebResolver(serviceURL ...string) Option {
	return func(r *Reconciler) error {
		wr, err := WebResolver(serviceURL...)
		if err != nil {
			return fmt.Errorf("ddns.UsingWebResolver: %w", err)
		}
		r.resolver = wr
		return nil
	}
}

// WithLogger sends debug output of the Reconciler, its resolver and its store to logger.
func WithLogger(logger logr.Logger) Option {
	return func(r *Reconciler) error {
		r.logger = logger
		return nil
	}
}

// UsingHTTPClient makes the resolver and store send requests with httpclient.
// Web resolvers still dial each family separately when its transport is an *http.Transport.
func UsingHTTPClient(httpclient *http.Client) Option {
	return func(r *Reconciler) error {
		r.httpClient = httpclient
		return nil
	}
}

// WithRetryPolicy replaces DefaultRetryPolicy for recoverable write failures.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(r *Reconciler) error {
		if p.MaxAttempts < 1 {
			return fmt.Errorf("ddns.WithRetryPolicy: max attempts must be at least 1; got %d", p.MaxAttempts)
		}
		if p.BaseDelay < 0 || p.MaxDelay < 0 || p.MaxElapsed < 0 {
			return errors.New("ddns.WithRetryPolicy: durations cannot be negative")
		}
		r.retry = p
		return nil
	}
}

// WithClock replaces the wall clock used for retry waits.
func WithClock(clock Clock) Option {
	return func(r *Reconciler) error {
		if clock == nil {
			clock = realClock{}
		}
		r.clock = clock
		return nil
	}
}

// WithCallTimeout bounds each network call; d <= 0 restores DefaultCallTimeout.
func WithCallTimeout(d time.Duration) Option {
	return func(r *Reconciler) error {
		if d <= 0 {
			d = DefaultCallTimeout
		}
		r.callTimeout = d
		return nil
	}
}

// WithFamilies restricts passes to the given families. The others are reported as Skipped.
func WithFamilies(families ...Family) Option {
	return func(r *Reconciler) error {
		if len(families) == 0 {
			return errors.New("ddns.WithFamilies: at least one family is required")
		}
		var fs []Family
		for _, f := range Families {
			for _, want := range families {
				if f == want {
					fs = append(fs, f)
					break
				}
			}
		}
		if len(fs) == 0 {
			return fmt.Errorf("ddns.WithFamilies: no known family in %v", families)
		}
		r.families = fs
		return nil
	}
}

// Concurrent evaluates the families in parallel.
//
// By default IPv4 is fully evaluated before IPv6,
// which guarantees that no IPv6 call is made after an authentication failure on IPv4.
// With Concurrent, an authentication failure cancels the other family's in-flight calls instead.
func Concurrent() Option {
	return func(r *Reconciler) error {
		r.concurrent = true
		return nil
	}
}

func (r *Reconciler) propagate() {
	type setLogger interface {
		SetLogger(logr.Logger)
	}
	type setHTTPClient interface {
		SetHTTPClient(*http.Client)
	}

	// DefaultResolver is shared; give this Reconciler its own copy before configuring it
	if r.resolver == DefaultResolver {
		r.resolver = mustWebResolver(DefaultServiceURLs...)
	}
	if s, ok := r.resolver.(setLogger); ok {
		s.SetLogger(r.logger)
	}
	if s, ok := r.store.(setLogger); ok {
		s.SetLogger(r.logger)
	}
	if r.httpClient == nil {
		return
	}
	if s, ok := r.resolver.(setHTTPClient); ok {
		s.SetHTTPClient(r.httpClient)
	}
	if s, ok := r.store.(setHTTPClient); ok {
		s.SetHTTPClient(r.httpClient)
	}
}

// DDNSClient runs reconciliation passes.
type DDNSClient interface {
	Reconcile(ctx context.Context) (Result, error)
}

// RunDaemon starts a goroutine running a pass immediately and then once per interval until ctx is done.
// Intervals below one minute are raised to one minute.
// report, if not nil, receives the result of every pass.
// The returned channel is closed once the goroutine has exited and no report is in progress.
func RunDaemon(ctx context.Context, ddnsClient DDNSClient, interval time.Duration, report func(Result, error)) <-chan struct{} {
	if interval < 1*time.Minute {
		interval = 1 * time.Minute
	}
	if report == nil {
		report = func(Result, error) {}
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			report(ddnsClient.Reconcile(ctx))
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return done
}
