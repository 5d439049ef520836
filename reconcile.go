package ddns

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
)

// Action is what a pass did to one family's record.
type Action int

const (
	// Skipped means the family was not evaluated:
	// it is disabled, or the pass was aborted before reaching it.
	Skipped Action = iota
	Unchanged
	Updated
	Failed
)

func (a Action) String() string {
	switch a {
	case Skipped:
		return "skipped"
	case Unchanged:
		return "unchanged"
	case Updated:
		return "updated"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// Outcome is the result of one family's pipeline.
type Outcome struct {
	Family Family
	Action Action
	// Address is the resolved public address; invalid if resolution failed.
	Address netip.Addr
	// Previous holds the record values found before the pass, nil if the record did not exist.
	Previous []string
	Err      error
}

func (o Outcome) String() string {
	if o.Err != nil {
		return fmt.Sprintf("%s %s: %s", o.Family, o.Action, o.Err)
	}
	if o.Address.IsValid() {
		return fmt.Sprintf("%s %s: %s", o.Family, o.Action, o.Address)
	}
	return fmt.Sprintf("%s %s", o.Family, o.Action)
}

// Result is the pair of outcomes of a pass.
type Result struct {
	IPv4 Outcome
	IPv6 Outcome
}

// Outcome returns the outcome for family f.
func (r Result) Outcome(f Family) Outcome {
	if f == IPv6 {
		return r.IPv6
	}
	return r.IPv4
}

func (r *Result) set(o Outcome) {
	switch o.Family {
	case IPv4:
		r.IPv4 = o
	case IPv6:
		r.IPv6 = o
	}
}

// Succeeded reports whether at least one family is known to be up to date.
// A pass aborted by an authentication failure returns an error from Reconcile
// and must be considered failed regardless.
func (r Result) Succeeded() bool {
	for _, o := range []Outcome{r.IPv4, r.IPv6} {
		if o.Action == Unchanged || o.Action == Updated {
			return true
		}
	}
	return false
}

// Failures returns the outcomes with Action Failed.
func (r Result) Failures() []Outcome {
	var failed []Outcome
	for _, o := range []Outcome{r.IPv4, r.IPv6} {
		if o.Action == Failed {
			failed = append(failed, o)
		}
	}
	return failed
}

// Reconciler keeps the A and AAAA records of one name in line with the host's public addresses.
// It holds no state between passes and is safe for concurrent use.
type Reconciler struct {
	cfg         Config
	resolver    AddressResolver
	store       RecordStore
	families    []Family
	retry       RetryPolicy
	callTimeout time.Duration
	clock       Clock
	concurrent  bool
	logger      logr.Logger
	httpClient  *http.Client
}

// Reconcile runs one pass over every enabled family.
//
// Per-family failures are reported in the Result.
// The returned error is non-nil only when the pass was aborted,
// which happens when the provider rejects the credentials (the error wraps ErrUnauthorized).
func (r *Reconciler) Reconcile(ctx context.Context) (Result, error) {
	var res Result
	for _, f := range Families {
		res.set(Outcome{Family: f, Action: Skipped})
	}
	r.logger.V(1).Info("starting reconciliation pass", "record", r.cfg.FQDN(), "families", r.families)

	if !r.concurrent {
		for _, f := range r.families {
			o, err := r.reconcileFamily(ctx, f)
			res.set(o)
			if err != nil {
				return res, fmt.Errorf("reconciliation aborted: %w", err)
			}
		}
		return res, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	outcomes := make([]Outcome, len(r.families))
	for i, f := range r.families {
		g.Go(func() error {
			var err error
			outcomes[i], err = r.reconcileFamily(gctx, f)
			return err
		})
	}
	err := g.Wait()
	for _, o := range outcomes {
		if err != nil && ctx.Err() == nil && o.Action == Failed && errors.Is(o.Err, context.Canceled) {
			// cancelled by the other family's abort, not by the caller
			o.Action, o.Err = Skipped, nil
		}
		res.set(o)
	}
	if err != nil {
		return res, fmt.Errorf("reconciliation aborted: %w", err)
	}
	return res, nil
}

// reconcileFamily runs Resolving -> Comparing -> (NoChange | Updating) for family f.
// A non-nil error aborts the whole pass.
func (r *Reconciler) reconcileFamily(ctx context.Context, f Family) (Outcome, error) {
	out := Outcome{Family: f}
	log := r.logger.WithValues("family", f.String())

	pub, err := r.resolve(ctx, f)
	if err != nil {
		log.V(1).Info("resolution failed", "error", err.Error())
		out.Action, out.Err = Failed, err
		return out, nil
	}
	addr := pub.Addr
	out.Address = addr
	log.V(1).Info("resolved public address", "address", pub.String())

	record, err := r.read(ctx, f)
	switch {
	case err == nil:
		out.Previous = record.Values
		if record.Matches(addr) {
			log.V(1).Info("record is up to date", "values", record.Values)
			out.Action = Unchanged
			return out, nil
		}
		log.V(1).Info("record differs from public address", "values", record.Values)
	case errors.Is(err, ErrUnauthorized):
		out.Action, out.Err = Failed, err
		return out, err
	case errors.Is(err, ErrNotFound):
		log.V(1).Info("record does not exist yet")
	default:
		out.Action, out.Err = Failed, fmt.Errorf("error reading %s record: %w", f.RecordType(), err)
		return out, nil
	}

	if err := r.write(ctx, f, addr); err != nil {
		out.Action, out.Err = Failed, fmt.Errorf("error writing %s record: %w", f.RecordType(), err)
		if errors.Is(err, ErrUnauthorized) {
			return out, err
		}
		return out, nil
	}
	log.V(1).Info("record updated", "address", addr.String())
	out.Action = Updated
	return out, nil
}

func (r *Reconciler) resolve(ctx context.Context, f Family) (PublicAddress, error) {
	ctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	addr, err := r.resolver.Resolve(ctx, f)
	if err != nil {
		var re *ResolutionError
		if errors.As(err, &re) {
			return PublicAddress{}, err
		}
		return PublicAddress{}, &ResolutionError{Family: f, Err: err}
	}
	if f == IPv4 {
		addr = addr.Unmap()
	}
	if !f.Contains(addr) {
		return PublicAddress{}, &ResolutionError{Family: f, Err: fmt.Errorf("resolver returned %q which is not an %s address", addr, f)}
	}
	return PublicAddress{Family: f, Addr: addr}, nil
}

func (r *Reconciler) read(ctx context.Context, f Family) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()
	return r.store.ReadRecord(ctx, r.cfg.Domain, r.cfg.RecordName, f)
}

func (r *Reconciler) write(ctx context.Context, f Family, addr netip.Addr) error {
	if !f.Contains(addr) {
		return fmt.Errorf("refusing to write %q to an %s record", addr, f.RecordType())
	}
	op := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, r.callTimeout)
		defer cancel()
		return r.store.WriteRecord(ctx, r.cfg.Domain, r.cfg.RecordName, f, addr)
	}
	notify := func(attempt int, err error, wait time.Duration) {
		r.logger.V(1).Info("write failed, retrying", "family", f.String(), "attempt", attempt, "wait", wait.String(), "error", err.Error())
	}
	return r.retry.do(ctx, r.clock, op, notify)
}
