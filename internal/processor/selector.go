package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Lllllllleong/labreportparser/internal/parser"
	"golang.org/x/sync/errgroup"
)

// State is a step of the selection state machine.
type State string

const (
	StateTryPrimary  State = "TRY_PRIMARY"
	StateTryFallback State = "TRY_FALLBACK"
	StateSuccess     State = "SUCCESS"
	StateAllFailed   State = "ALL_FAILED"
)

var (
	ErrAllFailed       = errors.New("all processors failed")
	ErrBudgetExhausted = errors.New("request budget exhausted")
)

// Clock is injected so availability windows can be tested.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Observer receives one call per upstream attempt. outcome is "success" or
// a FailureKind.
type Observer interface {
	ObserveAttempt(processorID, outcome string)
}

// Options bound the selector's retries and time budgets.
type Options struct {
	UnavailableTTL time.Duration
	ProbeInterval  time.Duration
	ProbeTimeout   time.Duration
	PrimaryTimeout time.Duration
	RequestTimeout time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultOptions() Options {
	return Options{
		UnavailableTTL: 5 * time.Minute,
		ProbeInterval:  time.Minute,
		ProbeTimeout:   10 * time.Second,
		PrimaryTimeout: 30 * time.Second,
		RequestTimeout: 90 * time.Second,
		MaxAttempts:    2,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     4 * time.Second,
	}
}

// Attempt records one failed try against a processor.
type Attempt struct {
	ProcessorID string
	Kind        FailureKind
	Err         error
}

// AllFailedError is returned when neither processor produced a result.
type AllFailedError struct {
	Attempts []Attempt
	Trace    []State
}

func (e *AllFailedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %s", a.ProcessorID, a.Kind))
	}
	return fmt.Sprintf("%v (%s)", ErrAllFailed, strings.Join(parts, ", "))
}

func (e *AllFailedError) Is(target error) bool { return target == ErrAllFailed }

// AllMalformed reports whether every processor that was tried rejected
// the document itself.
func (e *AllFailedError) AllMalformed() bool {
	if len(e.Attempts) == 0 {
		return false
	}
	for _, a := range e.Attempts {
		if a.Kind != FailureMalformedInput {
			return false
		}
	}
	return true
}

// Outcome is a successful selection.
type Outcome struct {
	Extraction  parser.RawExtraction
	ProcessorID string
	Trace       []State
	Attempts    []Attempt
}

// Selector runs TRY_PRIMARY -> TRY_FALLBACK -> SUCCESS | ALL_FAILED for
// each document. The availability cache is shared by all requests.
type Selector struct {
	primary  Processor
	fallback *Processor
	opts     Options
	clock    Clock
	cache    *AvailabilityCache
	observer Observer
	sleep    func(context.Context, time.Duration) error
}

// SelectorOption customizes a Selector.
type SelectorOption func(*Selector)

func WithClock(c Clock) SelectorOption { return func(s *Selector) { s.clock = c } }

func WithObserver(o Observer) SelectorOption { return func(s *Selector) { s.observer = o } }

// WithSleep replaces the backoff wait, mainly for tests.
func WithSleep(fn func(context.Context, time.Duration) error) SelectorOption {
	return func(s *Selector) { s.sleep = fn }
}

// NewSelector validates the processors. fallback may be nil.
func NewSelector(primary Processor, fallback *Processor, opts Options, options ...SelectorOption) (*Selector, error) {
	if primary.ID == "" || primary.Backend == nil {
		return nil, fmt.Errorf("primary processor id and backend are required")
	}
	if fallback != nil && (fallback.ID == "" || fallback.Backend == nil) {
		return nil, fmt.Errorf("fallback processor needs an id and a backend")
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	ids := []string{primary.ID}
	if fallback != nil {
		ids = append(ids, fallback.ID)
	}
	s := &Selector{
		primary:  primary,
		fallback: fallback,
		opts:     opts,
		clock:    systemClock{},
		cache:    NewAvailabilityCache(opts.UnavailableTTL, ids...),
		sleep:    sleepCtx,
	}
	for _, o := range options {
		o(s)
	}
	return s, nil
}

// Cache exposes the shared availability marks.
func (s *Selector) Cache() *AvailabilityCache { return s.cache }

// Select obtains a RawExtraction for doc. It returns ErrBudgetExhausted
// when ctx or the request budget runs out and an *AllFailedError when both
// processors failed. It never returns a partial result.
func (s *Selector) Select(ctx context.Context, doc Document) (*Outcome, error) {
	if s.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
		defer cancel()
	}

	logCtx := slog.With("filename", doc.Filename)
	out := &Outcome{Trace: []State{StateTryPrimary}}

	budget, attempts, tryPrimary := s.opts.PrimaryTimeout, s.opts.MaxAttempts, true
	if s.cache.IsDown(s.primary.ID, s.clock.Now()) {
		if s.cache.TryProbe(s.primary.ID, s.clock.Now(), s.opts.ProbeInterval) {
			logCtx.Info("Re-probing primary processor.", "processorId", s.primary.ID)
			budget, attempts = s.opts.ProbeTimeout, 1
		} else {
			logCtx.Info("Primary processor marked unavailable, skipping.", "processorId", s.primary.ID)
			tryPrimary = false
		}
	}

	if tryPrimary {
		raw, err := s.attempt(ctx, s.primary, doc, budget, attempts)
		if err == nil {
			return s.succeed(out, s.primary, raw), nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrBudgetExhausted, err)
		}
		out.Attempts = append(out.Attempts, s.fail(s.primary, err))
		logCtx.Warn("Primary processor failed, switching to fallback.", "processorId", s.primary.ID, "error", err)
	}

	out.Trace = append(out.Trace, StateTryFallback)
	if s.fallback == nil {
		out.Trace = append(out.Trace, StateAllFailed)
		return nil, &AllFailedError{Attempts: out.Attempts, Trace: out.Trace}
	}

	raw, err := s.attempt(ctx, *s.fallback, doc, 0, s.opts.MaxAttempts)
	if err == nil {
		return s.succeed(out, *s.fallback, raw), nil
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrBudgetExhausted, err)
	}
	out.Attempts = append(out.Attempts, s.fail(*s.fallback, err))
	out.Trace = append(out.Trace, StateAllFailed)
	logCtx.Error("Fallback processor failed.", "processorId", s.fallback.ID, "error", err)
	return nil, &AllFailedError{Attempts: out.Attempts, Trace: out.Trace}
}

func (s *Selector) succeed(out *Outcome, p Processor, raw parser.RawExtraction) *Outcome {
	s.cache.MarkUp(p.ID)
	raw.ProcessorID = p.ID
	out.Extraction = raw
	out.ProcessorID = p.ID
	out.Trace = append(out.Trace, StateSuccess)
	return out
}

func (s *Selector) fail(p Processor, err error) Attempt {
	f := asFailure(err, p.ID)
	if f.Kind != FailureMalformedInput {
		s.cache.MarkDown(p.ID, s.clock.Now())
	}
	return Attempt{ProcessorID: p.ID, Kind: f.Kind, Err: f.Err}
}

// attempt calls p up to maxAttempts times within budget. Only transient
// unavailability is retried.
func (s *Selector) attempt(ctx context.Context, p Processor, doc Document, budget time.Duration, maxAttempts int) (parser.RawExtraction, error) {
	stateCtx := ctx
	if budget > 0 {
		var cancel context.CancelFunc
		stateCtx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	backoff := s.opts.InitialBackoff
	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		raw, err := p.Backend.Process(stateCtx, p.Descriptor, doc)
		if err == nil {
			s.observe(p.ID, "success")
			return raw, nil
		}
		f := asFailure(err, p.ID)
		if stateCtx.Err() != nil && ctx.Err() == nil {
			f = NewFailure(FailureTimeout, p.ID, err)
		}
		s.observe(p.ID, string(f.Kind))
		lastErr = f
		if f.Kind != FailureUnavailable || i == maxAttempts-1 || stateCtx.Err() != nil {
			break
		}

		slog.Warn("Processor unavailable, will retry.",
			"processorId", p.ID,
			"attempt", i+1,
			"maxAttempts", maxAttempts,
			"backoff", backoff.String(),
			"error", err,
		)
		if err := s.sleep(stateCtx, backoff); err != nil {
			if ctx.Err() == nil {
				return parser.RawExtraction{}, NewFailure(FailureTimeout, p.ID, err)
			}
			return parser.RawExtraction{}, err
		}
		backoff *= 2
		if s.opts.MaxBackoff > 0 && backoff > s.opts.MaxBackoff {
			backoff = s.opts.MaxBackoff
		}
	}
	return parser.RawExtraction{}, lastErr
}

func (s *Selector) observe(processorID, outcome string) {
	if s.observer != nil {
		s.observer.ObserveAttempt(processorID, outcome)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Health is the availability report for one processor.
type Health struct {
	ID        string     `json:"id"`
	Role      Role       `json:"role"`
	Kind      Kind       `json:"kind"`
	Available bool       `json:"available"`
	DownSince *time.Time `json:"down_since,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Health probes every configured processor concurrently. Backends that
// cannot be probed are reported from the availability cache alone.
func (s *Selector) Health(ctx context.Context) []Health {
	procs := []Processor{s.primary}
	if s.fallback != nil {
		procs = append(procs, *s.fallback)
	}
	out := make([]Health, len(procs))

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(len(procs))
	for i, p := range procs {
		eg.Go(func() error {
			h := Health{ID: p.ID, Role: p.Role, Kind: p.Kind, Available: true}
			if prober, ok := p.Backend.(Prober); ok {
				pctx, cancel := gctx, context.CancelFunc(func() {})
				if s.opts.ProbeTimeout > 0 {
					pctx, cancel = context.WithTimeout(gctx, s.opts.ProbeTimeout)
				}
				err := prober.Probe(pctx, p.Descriptor)
				cancel()
				if err != nil {
					h.Available = false
					h.Error = err.Error()
				} else {
					s.cache.MarkUp(p.ID)
				}
			}
			if since, down := s.cache.DownSince(p.ID, s.clock.Now()); down {
				h.Available = false
				h.DownSince = &since
			}
			out[i] = h
			return nil
		})
	}
	_ = eg.Wait()
	return out
}
