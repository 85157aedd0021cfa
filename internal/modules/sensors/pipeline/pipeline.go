// Package pipeline runs the periodic ingestion loop: pull one reading from
// the configured source, store it in the bounded window, and hand a fresh
// frame to the presentation side.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"iotdrone-monitor/internal/modules/sensors/repository"
	"iotdrone-monitor/internal/modules/sensors/source"
	"iotdrone-monitor/internal/modules/sensors/types"
)

type State int32

const (
	StateIdle State = iota
	StateIngesting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateIngesting:
		return "ingesting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type Outcome int

const (
	OutcomeStored Outcome = iota
	OutcomeNoData
	OutcomeSourceError
	OutcomeStoreError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStored:
		return "stored"
	case OutcomeNoData:
		return "no_data"
	case OutcomeSourceError:
		return "source_error"
	case OutcomeStoreError:
		return "store_error"
	default:
		return "unknown"
	}
}

// Error kinds passed to Observer.ObserveError besides the source kinds.
const (
	KindStoreWrite = "store_write"
	KindInvariant  = "invariant"
	KindQuery      = "query"
	KindPresent    = "present"
)

var ErrStopped = errors.New("pipeline stopped")

// Store is the write side of the window.
type Store interface {
	Insert(ctx context.Context, r types.Reading) (types.Reading, error)
	Count(ctx context.Context) (int, error)
}

// Query builds the frame shown after each stored reading.
type Query interface {
	Frame(ctx context.Context) (types.Frame, error)
}

type Presenter interface {
	Present(ctx context.Context, f types.Frame) error
}

type Observer interface {
	ObserveCycle(outcome string, d time.Duration)
	ObserveError(kind string)
	ObserveStoreRows(n int)
}

type Options struct {
	// Interval is measured from the start of one cycle to the start of the next.
	Interval time.Duration
	// WriteRetries is how many times a failed insert is retried within a cycle.
	WriteRetries int
	// RetryBaseDelay is the first backoff step; it grows exponentially up to Interval.
	RetryBaseDelay time.Duration
}

type Pipeline struct {
	src       source.Source
	store     Store
	query     Query
	presenter Presenter
	observer  Observer
	opts      Options
	logger    *slog.Logger

	state   atomic.Int32
	running atomic.Bool
}

// New wires a pipeline. presenter and observer may be nil.
func New(src source.Source, store Store, query Query, presenter Presenter, observer Observer, opts Options, logger *slog.Logger) (*Pipeline, error) {
	if src == nil || store == nil || query == nil {
		return nil, errors.New("pipeline: source, store and query are required")
	}
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("pipeline: interval must be > 0, got %s", opts.Interval)
	}
	if opts.WriteRetries < 0 {
		return nil, fmt.Errorf("pipeline: write retries must be >= 0, got %d", opts.WriteRetries)
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 100 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Pipeline{
		src:       src,
		store:     store,
		query:     query,
		presenter: presenter,
		observer:  observer,
		opts:      opts,
		logger:    logger.With("component", "pipeline", "source", src.Name()),
	}, nil
}

func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// Run executes one cycle immediately and then one per interval until ctx is
// cancelled or a cycle fails fatally. A cycle in flight is never interrupted.
func (p *Pipeline) Run(ctx context.Context) error {
	if p.State() == StateStopped {
		return ErrStopped
	}
	if !p.running.CompareAndSwap(false, true) {
		return errors.New("pipeline already running")
	}
	defer p.state.Store(int32(StateStopped))

	p.logger.Info("pipeline started", "interval", p.opts.Interval, "write_retries", p.opts.WriteRetries)

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	for {
		if _, err := p.RunCycle(context.WithoutCancel(ctx)); err != nil {
			p.logger.Error("pipeline stopped on fatal error", "error", err)
			return err
		}

		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunCycle performs one ingestion cycle. Recoverable failures are reported and
// folded into the outcome; the returned error is non-nil only when the store
// invariant was violated or the pipeline has stopped.
func (p *Pipeline) RunCycle(ctx context.Context) (Outcome, error) {
	if p.State() == StateStopped {
		return OutcomeNoData, ErrStopped
	}
	p.state.Store(int32(StateIngesting))
	defer p.state.CompareAndSwap(int32(StateIngesting), int32(StateIdle))

	start := time.Now()
	outcome, err := p.cycle(ctx)
	p.observer.ObserveCycle(outcome.String(), time.Since(start))
	return outcome, err
}

func (p *Pipeline) cycle(ctx context.Context) (Outcome, error) {
	reading, ok, err := p.src.Next(ctx)
	if err != nil {
		p.report(sourceKind(err), err)
		return OutcomeSourceError, nil
	}
	if !ok {
		p.logger.Debug("no data this cycle")
		return OutcomeNoData, nil
	}

	stored, err := p.insert(ctx, reading)
	if errors.Is(err, repository.ErrInvariantViolation) {
		p.observer.ObserveError(KindInvariant)
		return OutcomeStoreError, err
	}
	if err != nil {
		p.report(KindStoreWrite, err)
		return OutcomeStoreError, nil
	}
	p.logger.Debug("reading stored",
		"id", stored.ID,
		"timestamp", stored.Timestamp,
		"temperature", stored.Temperature,
		"humidity", stored.Humidity,
	)

	if n, err := p.store.Count(ctx); err != nil {
		p.report(KindQuery, fmt.Errorf("count: %w", err))
	} else {
		p.observer.ObserveStoreRows(n)
	}

	p.present(ctx)
	return OutcomeStored, nil
}

// insert retries transient write failures with exponential backoff. An
// invariant violation is returned immediately.
func (p *Pipeline) insert(ctx context.Context, r types.Reading) (types.Reading, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.opts.RetryBaseDelay
	exp.MaxInterval = p.opts.Interval
	exp.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.opts.WriteRetries)), ctx)

	attempt := 0
	return backoff.RetryNotifyWithData(func() (types.Reading, error) {
		attempt++
		stored, err := p.store.Insert(ctx, r)
		if errors.Is(err, repository.ErrInvariantViolation) {
			return types.Reading{}, backoff.Permanent(err)
		}
		return stored, err
	}, b, func(err error, wait time.Duration) {
		p.logger.Warn("store write failed, retrying", "attempt", attempt, "wait", wait, "error", err)
	})
}

func (p *Pipeline) present(ctx context.Context) {
	frame, err := p.query.Frame(ctx)
	if err != nil {
		p.report(KindQuery, fmt.Errorf("build frame: %w", err))
		return
	}
	if p.presenter == nil {
		return
	}
	if err := p.presenter.Present(ctx, frame); err != nil {
		p.report(KindPresent, err)
	}
}

func (p *Pipeline) report(kind string, err error) {
	p.logger.Warn("ingestion cycle error", "kind", kind, "error", err)
	p.observer.ObserveError(kind)
}

func sourceKind(err error) string {
	var se *source.SourceError
	if errors.As(err, &se) {
		return se.KindName()
	}
	return "source"
}

type nopObserver struct{}

func (nopObserver) ObserveCycle(string, time.Duration) {}
func (nopObserver) ObserveError(string)                {}
func (nopObserver) ObserveStoreRows(int)               {}
