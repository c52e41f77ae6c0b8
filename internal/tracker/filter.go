package tracker

import (
	"fmt"
	"time"

	"github.com/relabs-tech/fixtracker/internal/gps"
)

// SessionConfig is fixed for the lifetime of a session.
type SessionConfig struct {
	MinTime     time.Duration `json:"min_time"`       // minimum elapsed time between accepted fixes
	MinDistance float64       `json:"min_distance_m"` // minimum displacement in meters
	NotifTitle  string        `json:"notif_title"`
	NotifText   string        `json:"notif_text"`
}

// DefaultSessionConfig returns 5 minutes / 10 meters.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MinTime:     5 * time.Minute,
		MinDistance: 10,
		NotifTitle:  "Tracking location",
		NotifText:   "Background location is active",
	}
}

// Validate rejects negative thresholds.
func (c SessionConfig) Validate() error {
	if c.MinTime < 0 {
		return fmt.Errorf("%w: min time %s is negative", ErrInvalidConfig, c.MinTime)
	}
	if c.MinDistance < 0 {
		return fmt.Errorf("%w: min distance %.1fm is negative", ErrInvalidConfig, c.MinDistance)
	}
	return nil
}

// SessionState is the baseline the filter compares against.
type SessionState struct {
	LastAccepted   *gps.Fix
	LastAcceptedAt int64 // ms since epoch, the accepted fix's timestamp
}

// Seeded reports whether a baseline exists.
func (s SessionState) Seeded() bool {
	return s.LastAccepted != nil
}

// Accept moves the baseline to f.
func (s *SessionState) Accept(f gps.Fix) {
	fix := f
	s.LastAccepted = &fix
	s.LastAcceptedAt = f.Time
}

// Decision is the filter result. Elapsed and Distance are set once seeded,
// for logging.
type Decision struct {
	Accept   bool
	Reason   gps.Reason
	Elapsed  time.Duration
	Distance float64
}

// Evaluate decides whether candidate should be forwarded. The first fix of
// a session is always accepted as the seed; later fixes need both the time
// and the distance threshold.
func Evaluate(candidate gps.Fix, state SessionState, cfg SessionConfig) Decision {
	if !state.Seeded() {
		return Decision{Accept: true, Reason: gps.ReasonSeed}
	}

	d := Decision{
		Elapsed:  time.Duration(candidate.Time-state.LastAcceptedAt) * time.Millisecond,
		Distance: gps.Distance(candidate, *state.LastAccepted),
	}
	if d.Elapsed >= cfg.MinTime && d.Distance >= cfg.MinDistance {
		d.Accept = true
		d.Reason = gps.ReasonInterval
	}
	return d
}
