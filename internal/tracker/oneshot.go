package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/relabs-tech/fixtracker/internal/gps"
	"github.com/relabs-tech/fixtracker/internal/metrics"
)

// LocatorConfig bounds one-shot requests.
type LocatorConfig struct {
	// Timeout is used when Locate is called with timeout <= 0.
	Timeout time.Duration
	// FreshnessWindow is the maximum age of a last-known fix that may be
	// returned without a live request.
	FreshnessWindow time.Duration
}

// DefaultLocatorConfig returns a 15 s timeout and a 2 min freshness window.
func DefaultLocatorConfig() LocatorConfig {
	return LocatorConfig{
		Timeout:         15 * time.Second,
		FreshnessWindow: 2 * time.Minute,
	}
}

// Locator answers single on-demand position requests, independent of any
// running session.
type Locator struct {
	sources []Source
	perms   Permissions
	clock   Clock
	cfg     LocatorConfig
	log     zerolog.Logger
}

// NewLocator builds a locator over the same collaborators as the sessions.
func NewLocator(deps Deps, cfg LocatorConfig) *Locator {
	clock := deps.Clock
	if clock == nil {
		clock = SystemClock
	}
	def := DefaultLocatorConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.FreshnessWindow <= 0 {
		cfg.FreshnessWindow = def.FreshnessWindow
	}
	return &Locator{
		sources: deps.Sources,
		perms:   deps.Permissions,
		clock:   clock,
		cfg:     cfg,
		log:     deps.Logger.With().Str("component", "oneshot").Logger(),
	}
}

// Locate returns a recent last-known fix if one exists, otherwise requests
// exactly one live fix from the most accurate enabled source and races it
// against timeout.
func (l *Locator) Locate(ctx context.Context, timeout time.Duration) (gps.Fix, error) {
	if timeout <= 0 {
		timeout = l.cfg.Timeout
	}
	if !l.perms.Granted(ctx).AllowsTracking() {
		metrics.OneShotResults.WithLabelValues("permission").Inc()
		return gps.Fix{}, ErrPermission
	}

	if f, ok := l.fresh(ctx); ok {
		metrics.OneShotResults.WithLabelValues("cached").Inc()
		l.log.Debug().Stringer("fix", f).Msg("oneshot: answered from last known fix")
		return f, nil
	}

	src := l.selectSource(ctx)
	if src == nil {
		metrics.OneShotResults.WithLabelValues("no_provider").Inc()
		return gps.Fix{}, ErrNoProvider
	}

	f, err := l.single(ctx, src, timeout)
	switch {
	case err == nil:
		metrics.OneShotResults.WithLabelValues("live").Inc()
	case errors.Is(err, ErrTimeout):
		metrics.OneShotResults.WithLabelValues("timeout").Inc()
	default:
		metrics.OneShotResults.WithLabelValues("error").Inc()
	}
	return f, err
}

// fresh picks the best last-known fix and returns it if it is young enough.
func (l *Locator) fresh(ctx context.Context) (gps.Fix, bool) {
	var candidates []gps.Fix
	for _, src := range l.sources {
		if !src.Enabled(ctx) {
			continue
		}
		if f, ok := src.LastKnown(ctx); ok {
			candidates = append(candidates, f)
		}
	}
	best, ok := PickBest(candidates)
	if !ok {
		return gps.Fix{}, false
	}
	if best.Age(l.clock.Now()) >= l.cfg.FreshnessWindow {
		return gps.Fix{}, false
	}
	return best, true
}

// selectSource prefers an enabled fine source, then any enabled source,
// then falls back to the gps source even if it reports disabled.
func (l *Locator) selectSource(ctx context.Context) Source {
	var anyEnabled, fallback Source
	for _, src := range l.sources {
		if src.Name() == gps.SourceGPS {
			fallback = src
		}
		if !src.Enabled(ctx) {
			continue
		}
		if src.Fine() {
			return src
		}
		if anyEnabled == nil {
			anyEnabled = src
		}
	}
	if anyEnabled != nil {
		return anyEnabled
	}
	return fallback
}

type raceOutcome struct {
	fix gps.Fix
	err error
}

// race lets exactly one of several branches resolve a request.
type race struct {
	resolved atomic.Bool
	result   chan raceOutcome
}

func newRace() *race {
	return &race{result: make(chan raceOutcome, 1)}
}

// resolve reports whether this call won. Losing calls are no-ops.
func (r *race) resolve(o raceOutcome) bool {
	if !r.resolved.CompareAndSwap(false, true) {
		return false
	}
	r.result <- o
	return true
}

func (l *Locator) single(ctx context.Context, src Source, timeout time.Duration) (gps.Fix, error) {
	subCtx, unsubscribe := context.WithCancel(ctx)
	defer unsubscribe()

	ch, err := src.Subscribe(subCtx)
	if err != nil {
		return gps.Fix{}, &SubscriptionError{Source: src.Name(), Err: err}
	}

	r := newRace()
	timer := l.clock.AfterFunc(timeout, func() {
		if r.resolve(raceOutcome{err: fmt.Errorf("%w from %s after %s", ErrTimeout, src.Name(), timeout)}) {
			unsubscribe()
			return
		}
		l.log.Debug().Msg("oneshot: timeout after resolution ignored")
	})

	go func() {
		defer unsubscribe()
		var o raceOutcome
		select {
		case f, ok := <-ch:
			if !ok {
				// closed by our own unsubscribe
				if subCtx.Err() != nil {
					return
				}
				o.err = &SubscriptionError{Source: src.Name(), Err: errors.New("stream ended before a fix arrived")}
			} else {
				o.fix = f
			}
		case <-subCtx.Done():
			return
		}
		if r.resolve(o) {
			timer.Stop()
		}
	}()

	var o raceOutcome
	select {
	case o = <-r.result:
	case <-ctx.Done():
		if r.resolve(raceOutcome{err: ctx.Err()}) {
			timer.Stop()
		}
		o = <-r.result
	}
	return o.fix, o.err
}
