// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package tracker

import (
	"context"
	"time"

	"github.com/relabs-tech/fixtracker/internal/gps"
	"github.com/relabs-tech/fixtracker/internal/permission"
)

// Source is anything that can produce position fixes: an NMEA receiver,
// a network feed, a mock track.
type Source interface {
	Name() string
	// Fine reports satellite-grade accuracy; preferred for one-shot requests.
	Fine() bool
	Enabled(ctx context.Context) bool
	// LastKnown returns the most recent fix the source has seen, if any.
	LastKnown(ctx context.Context) (gps.Fix, bool)
	// Subscribe starts a stream of fixes. The channel is closed when ctx
	// is cancelled or the source stops producing. Cancelling ctx is the
	// unsubscribe and may be repeated.
	Subscribe(ctx context.Context) (<-chan gps.Fix, error)
}

// Permissions reports the currently granted permission set.
type Permissions interface {
	Granted(ctx context.Context) permission.Set
}

// Indicator is the visible foreground marker a session must hold while it runs.
type Indicator interface {
	Acquire(ctx context.Context, sessionID, title, text string) error
	Release(ctx context.Context, sessionID string) error
}

// Bridge hands an accepted fix to the consumer.
type Bridge interface {
	Deliver(ctx context.Context, fix gps.AcceptedFix) error
}

// Clock abstracts time for the session and the one-shot locator.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
	NewTicker(d time.Duration) Ticker
}

// Ticker delivers periodic ticks on C until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Timer is the cancellable registration returned by Clock.AfterFunc.
type Timer interface {
	Stop() bool
}

type systemClock struct{}

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func (systemClock) NewTicker(d time.Duration) Ticker {
	return systemTicker{time.NewTicker(d)}
}

type systemTicker struct{ t *time.Ticker }

func (t systemTicker) C() <-chan time.Time { return t.t.C }
func (t systemTicker) Stop()               { t.t.Stop() }
