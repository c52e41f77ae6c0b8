// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package provider

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/relabs-tech/fixtracker/internal/gps"
	"github.com/relabs-tech/fixtracker/internal/metrics"
)

// MockConfig describes the simulated track: a circle of RadiusM meters
// starting at (Latitude, Longitude), driven at SpeedMps.
type MockConfig struct {
	Latitude  float64
	Longitude float64
	RadiusM   float64
	SpeedMps  float64
	Interval  time.Duration
}

// MockSource generates smooth changing fixes for running without hardware.
type MockSource struct {
	*feed

	name  string
	cfg   MockConfig
	log   zerolog.Logger
	now   func() time.Time
	start time.Time
}

// NewMockSource creates a mock location source.
func NewMockSource(name string, cfg MockConfig, log zerolog.Logger) *MockSource {
	if name == "" {
		name = gps.SourceMock
	}
	if cfg.RadiusM <= 0 {
		cfg.RadiusM = 200
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &MockSource{
		feed:  newFeed(),
		name:  name,
		cfg:   cfg,
		log:   log.With().Str("source", name).Logger(),
		now:   time.Now,
		start: time.Now(),
	}
}

func (m *MockSource) Name() string                 { return m.name }
func (m *MockSource) Fine() bool                   { return false }
func (m *MockSource) Enabled(context.Context) bool { return true }

// At returns the simulated fix at time t.
func (m *MockSource) At(t time.Time) gps.Fix {
	elapsed := t.Sub(m.start).Seconds()
	angle := m.cfg.SpeedMps / m.cfg.RadiusM * elapsed

	north := m.cfg.RadiusM * math.Sin(angle)
	east := m.cfg.RadiusM * (1 - math.Cos(angle))
	lat, lon := gps.Offset(m.cfg.Latitude, m.cfg.Longitude, north, east)

	return gps.Fix{
		Latitude:  lat,
		Longitude: lon,
		Accuracy:  8 + 4*math.Sin(elapsed*0.3),
		Source:    m.name,
		Time:      t.UnixMilli(),
	}
}

// Serve publishes one fix per interval until ctx is done.
func (m *MockSource) Serve(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	metrics.SourceOnline.WithLabelValues(m.name).Set(1)
	defer metrics.SourceOnline.WithLabelValues(m.name).Set(0)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			f := m.At(m.now())
			metrics.FixesReceived.WithLabelValues(m.name).Inc()
			m.publish(f)
			m.log.Debug().Stringer("fix", f).Msg("mock: fix")
		}
	}
}
