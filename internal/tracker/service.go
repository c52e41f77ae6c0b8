package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/fixtracker/internal/gps"
)

// Service is the command surface a host uses: start, stop and
// get-current-location. It owns at most one session at a time; each start
// creates a fresh, unseeded session.
type Service struct {
	deps    Deps
	locator *Locator
	newID   func() string

	mu      sync.Mutex
	current *Session
}

// NewService wires a service over deps.
func NewService(deps Deps, locatorCfg LocatorConfig) *Service {
	if deps.Clock == nil {
		deps.Clock = SystemClock
	}
	return &Service{
		deps:    deps,
		locator: NewLocator(deps, locatorCfg),
		newID:   uuid.NewString,
	}
}

// Start begins a tracking session. Start calls are expected to be
// serialized by the host; a start while a session is active fails with
// ErrSessionActive.
func (s *Service) Start(ctx context.Context, cfg SessionConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.current != nil && s.current.State() != StateStopped {
		s.mu.Unlock()
		return ErrSessionActive
	}
	sess := NewSession(s.newID(), cfg, s.deps)
	s.current = sess
	s.mu.Unlock()

	return sess.Start(ctx)
}

// Stop ends the active session and reports whether one was starting or running.
func (s *Service) Stop() bool {
	s.mu.Lock()
	sess := s.current
	s.mu.Unlock()
	if sess == nil {
		return false
	}
	return sess.Stop()
}

// CurrentLocation runs the one-shot locator.
func (s *Service) CurrentLocation(ctx context.Context, timeout time.Duration) (gps.Fix, error) {
	return s.locator.Locate(ctx, timeout)
}

// Status is a snapshot of the current or last session.
type Status struct {
	State       string         `json:"state"`
	SessionID   string         `json:"session_id,omitempty"`
	MinTimeMs   int64          `json:"min_time_ms,omitempty"`
	MinDistance float64        `json:"min_distance_m,omitempty"`
	LastError   string         `json:"last_error,omitempty"`
	Config      *SessionConfig `json:"-"`
}

// Status reports the state of the current session, or of the last one if
// it has stopped.
func (s *Service) Status() Status {
	s.mu.Lock()
	sess := s.current
	s.mu.Unlock()
	if sess == nil {
		return Status{State: StateStopped.String()}
	}
	cfg := sess.Config()
	st := Status{
		State:       sess.State().String(),
		SessionID:   sess.ID(),
		MinTimeMs:   cfg.MinTime.Milliseconds(),
		MinDistance: cfg.MinDistance,
		Config:      &cfg,
	}
	if err := sess.Err(); err != nil {
		st.LastError = err.Error()
	}
	return st
}
