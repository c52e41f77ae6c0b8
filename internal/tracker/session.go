// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/relabs-tech/fixtracker/internal/gps"
	"github.com/relabs-tech/fixtracker/internal/metrics"
)

// State of a tracking session.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Deps are the collaborators shared by sessions and the one-shot locator.
type Deps struct {
	Sources     []Source
	Permissions Permissions
	Indicator   Indicator
	Bridge      Bridge
	Clock       Clock
	Logger      zerolog.Logger

	// PermissionPollInterval re-checks permissions while running. 0 disables.
	PermissionPollInterval time.Duration
	// ProviderRescanInterval retries sources that were disabled or whose
	// subscription failed. 0 disables.
	ProviderRescanInterval time.Duration
	// DeliveryTimeout bounds one bridge hand-off. 0 means no bound.
	DeliveryTimeout time.Duration
}

type sourcedFix struct {
	source string
	fix    gps.Fix
}

// Session is one run of background tracking from start to stop.
// A Session is started at most once.
type Session struct {
	id   string
	cfg  SessionConfig
	deps Deps
	log  zerolog.Logger

	mu            sync.Mutex
	state         State
	used          bool
	stopRequested bool
	cancel        context.CancelFunc
	done          chan struct{}
	err           error
	indicatorHeld bool
	teardownOnce  sync.Once

	subsMu sync.Mutex
	subs   map[string]context.CancelFunc
	wg     sync.WaitGroup

	fixes chan sourcedFix
	ended chan string

	// owned by the run goroutine
	fixState SessionState
}

// NewSession creates a stopped session.
func NewSession(id string, cfg SessionConfig, deps Deps) *Session {
	if deps.Clock == nil {
		deps.Clock = SystemClock
	}
	return &Session{
		id:    id,
		cfg:   cfg,
		deps:  deps,
		log:   deps.Logger.With().Str("session", id).Logger(),
		subs:  make(map[string]context.CancelFunc),
		fixes: make(chan sourcedFix),
		ended: make(chan string, len(deps.Sources)),
		done:  make(chan struct{}),
	}
}

func (s *Session) ID() string            { return s.id }
func (s *Session) Config() SessionConfig { return s.cfg }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that ended the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once teardown has finished.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) setState(st State) {
	s.state = st
	metrics.SessionState.Set(float64(st))
}

// Start moves Stopped → Starting → Running. Subscriptions are fire and
// forget; Start does not wait for a first fix. Any failure, and a Stop that
// arrives while starting, runs the full teardown before returning.
func (s *Session) Start(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.used {
		s.mu.Unlock()
		return ErrSessionActive
	}
	s.used = true
	s.setState(StateStarting)
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	if !s.deps.Permissions.Granted(ctx).AllowsTracking() {
		s.log.Warn().Msg("session: missing location permission, not starting")
		s.fail(ErrPermission)
		s.teardown()
		metrics.SessionsStarted.WithLabelValues("permission").Inc()
		return fmt.Errorf("session %s: %w", s.id, ErrPermission)
	}

	// teardown releases after any attempted acquire, failed or not
	s.mu.Lock()
	s.indicatorHeld = true
	s.mu.Unlock()
	if err := s.deps.Indicator.Acquire(ctx, s.id, s.cfg.NotifTitle, s.cfg.NotifText); err != nil {
		s.fail(err)
		s.teardown()
		metrics.SessionsStarted.WithLabelValues("error").Inc()
		return fmt.Errorf("session %s: foreground indicator: %w", s.id, err)
	}

	s.subscribeAll(runCtx)

	s.mu.Lock()
	if s.stopRequested {
		s.mu.Unlock()
		s.log.Info().Msg("session: stop requested while starting, aborting")
		s.teardown()
		metrics.SessionsStarted.WithLabelValues("aborted").Inc()
		return fmt.Errorf("session %s: %w", s.id, ErrStartAborted)
	}
	s.setState(StateRunning)
	s.mu.Unlock()

	metrics.SessionsStarted.WithLabelValues("ok").Inc()
	s.log.Info().
		Dur("min_time", s.cfg.MinTime).
		Float64("min_distance_m", s.cfg.MinDistance).
		Msg("session: running")

	go s.run(runCtx)
	return nil
}

// Stop ends the session. It reports whether a session was starting or
// running. A stop during Starting makes the pending Start abort.
func (s *Session) Stop() bool {
	s.mu.Lock()
	switch s.state {
	case StateStarting:
		s.stopRequested = true
		s.mu.Unlock()
		return true
	case StateRunning:
		s.setState(StateStopping)
		cancel := s.cancel
		s.mu.Unlock()
		cancel()
		<-s.done
		return true
	default:
		s.mu.Unlock()
		return false
	}
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

// teardown runs on every exit path exactly once: unsubscribe everything,
// release the indicator, drop the state.
func (s *Session) teardown() {
	s.teardownOnce.Do(func() {
		s.mu.Lock()
		if s.state != StateStopped {
			s.setState(StateStopping)
		}
		cancel := s.cancel
		held := s.indicatorHeld
		s.indicatorHeld = false
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		s.subsMu.Lock()
		for name, unsubscribe := range s.subs {
			unsubscribe()
			delete(s.subs, name)
		}
		s.subsMu.Unlock()
		s.wg.Wait()

		if held {
			ctx, cancelRelease := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.deps.Indicator.Release(ctx, s.id); err != nil {
				s.log.Error().Err(err).Msg("session: release foreground indicator")
			}
			cancelRelease()
		}

		s.fixState = SessionState{}

		s.mu.Lock()
		s.setState(StateStopped)
		s.mu.Unlock()
		close(s.done)
		s.log.Info().Msg("session: stopped")
	})
}

// subscribeAll subscribes to every enabled source not yet subscribed.
// One source failing never prevents the others.
func (s *Session) subscribeAll(ctx context.Context) {
	active := 0
	for _, src := range s.deps.Sources {
		name := src.Name()

		s.subsMu.Lock()
		_, subscribed := s.subs[name]
		s.subsMu.Unlock()
		if subscribed {
			active++
			continue
		}
		if !src.Enabled(ctx) {
			s.log.Debug().Str("source", name).Msg("session: source disabled, skipping")
			continue
		}

		subCtx, unsubscribe := context.WithCancel(ctx)
		ch, err := src.Subscribe(subCtx)
		if err != nil {
			unsubscribe()
			subErr := &SubscriptionError{Source: name, Err: err}
			metrics.SubscriptionErrors.WithLabelValues(name).Inc()
			s.log.Error().Err(subErr).Str("source", name).Msg("session: subscription failed, skipping source")
			continue
		}

		s.subsMu.Lock()
		s.subs[name] = unsubscribe
		s.subsMu.Unlock()
		active++

		s.wg.Add(1)
		go s.forward(subCtx, name, ch)
		s.log.Info().Str("source", name).Msg("session: subscribed")
	}
	if active == 0 {
		s.log.Warn().Err(ErrNoProvider).Msg("session: no source subscribed, waiting for one to become enabled")
	}
}

// forward fans one source into the session's single consumer.
func (s *Session) forward(ctx context.Context, name string, ch <-chan gps.Fix) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-ch:
			if !ok {
				select {
				case s.ended <- name:
				case <-ctx.Done():
				}
				return
			}
			select {
			case s.fixes <- sourcedFix{source: name, fix: f}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// run is the single consumer of all subscribed sources and the only writer
// of fixState.
func (s *Session) run(ctx context.Context) {
	defer s.teardown()

	s.seed(ctx)

	var permC, rescanC <-chan time.Time
	if s.deps.PermissionPollInterval > 0 {
		t := s.deps.Clock.NewTicker(s.deps.PermissionPollInterval)
		defer t.Stop()
		permC = t.C()
	}
	if s.deps.ProviderRescanInterval > 0 {
		t := s.deps.Clock.NewTicker(s.deps.ProviderRescanInterval)
		defer t.Stop()
		rescanC = t.C()
	}

	for {
		select {
		case <-ctx.Done():
			return

		case sf := <-s.fixes:
			s.handle(ctx, sf.fix)

		case name := <-s.ended:
			s.subsMu.Lock()
			if unsubscribe, ok := s.subs[name]; ok {
				unsubscribe()
				delete(s.subs, name)
			}
			s.subsMu.Unlock()
			s.log.Warn().Str("source", name).Msg("session: source stream ended")

		case <-permC:
			if !s.deps.Permissions.Granted(ctx).AllowsTracking() {
				s.log.Warn().Msg("session: location permission revoked, stopping")
				s.fail(ErrPermission)
				return
			}

		case <-rescanC:
			s.subscribeAll(ctx)
		}
	}
}

// seed feeds the best last-known fix across enabled sources to the filter.
func (s *Session) seed(ctx context.Context) {
	var candidates []gps.Fix
	for _, src := range s.deps.Sources {
		if !src.Enabled(ctx) {
			continue
		}
		if f, ok := src.LastKnown(ctx); ok {
			candidates = append(candidates, f)
		}
	}
	best, ok := PickBest(candidates)
	if !ok {
		s.log.Debug().Msg("session: no last known fix to seed from")
		return
	}
	s.handle(ctx, best)
}

// handle is the read-mutate-deliver critical section. State moves before
// the bridge is called so a slow delivery never causes a second accept.
func (s *Session) handle(ctx context.Context, f gps.Fix) {
	d := Evaluate(f, s.fixState, s.cfg)
	metrics.RecordEvaluation(f.Source, d.Accept, string(d.Reason))
	if !d.Accept {
		s.log.Debug().
			Str("source", f.Source).
			Dur("dt", d.Elapsed).
			Float64("dd_m", d.Distance).
			Msg("session: ignored fix")
		return
	}

	s.fixState.Accept(f)

	// an in-flight hand-off survives Stop
	dctx := context.WithoutCancel(ctx)
	if s.deps.DeliveryTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(dctx, s.deps.DeliveryTimeout)
		defer cancel()
	}
	accepted := gps.AcceptedFix{Fix: f, Reason: d.Reason}
	if err := s.deps.Bridge.Deliver(dctx, accepted); err != nil {
		s.log.Error().Err(err).Str("reason", string(d.Reason)).Msg("session: delivery failed")
		return
	}
	s.log.Debug().Str("reason", string(d.Reason)).Stringer("fix", f).Msg("session: delivered")
}
