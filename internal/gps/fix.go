// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/goccy/go-json"
)

// AccuracyUnknown marks a fix whose source did not report an accuracy.
// Consumers see it as -1 on the wire.
const AccuracyUnknown = -1.0

// Well-known source names, in tie-break priority order.
const (
	SourceGPS     = "gps"
	SourceNetwork = "network"
	SourceMock    = "mock"
)

// Fix represents a single position sample suitable for JSON and MQTT.
type Fix struct {
	Latitude  float64 `json:"latitude"`  // decimal degrees
	Longitude float64 `json:"longitude"` // decimal degrees
	Accuracy  float64 `json:"accuracy"`  // meters, AccuracyUnknown if not reported
	Source    string  `json:"source"`    // "gps", "network", ...
	Time      int64   `json:"timestamp"` // milliseconds since epoch
}

// HasAccuracy reports whether the source supplied an accuracy value.
func (f Fix) HasAccuracy() bool {
	return f.Accuracy >= 0
}

// Timestamp returns the fix time as a time.Time.
func (f Fix) Timestamp() time.Time {
	return time.UnixMilli(f.Time)
}

// Age returns how old the fix is relative to now.
func (f Fix) Age(now time.Time) time.Duration {
	return now.Sub(f.Timestamp())
}

func (f Fix) String() string {
	acc := "?"
	if f.HasAccuracy() {
		acc = fmt.Sprintf("%.0f", f.Accuracy)
	}
	return fmt.Sprintf("%s lat=%.6f lon=%.6f acc=±%sm t=%d", f.Source, f.Latitude, f.Longitude, acc, f.Time)
}

// Reason tells the consumer why a fix was forwarded.
type Reason string

const (
	ReasonSeed     Reason = "seed"
	ReasonInterval Reason = "interval"
)

// AcceptedFix is a Fix that passed the acceptance filter.
type AcceptedFix struct {
	Fix
	Reason Reason `json:"reason"`
}

// wireFix is the inbound JSON shape. Accuracy is a pointer so a missing
// field becomes AccuracyUnknown instead of a zero radius.
type wireFix struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Accuracy  *float64 `json:"accuracy"`
	Source    string   `json:"source"`
	Time      int64    `json:"timestamp"`
}

var ErrInvalidFix = errors.New("invalid fix")

// DecodeFix parses a JSON fix as published on the network-fix topic.
// An empty source is replaced by defaultSource.
func DecodeFix(data []byte, defaultSource string) (Fix, error) {
	var w wireFix
	if err := json.Unmarshal(data, &w); err != nil {
		return Fix{}, fmt.Errorf("%w: %v", ErrInvalidFix, err)
	}
	if w.Latitude == nil || w.Longitude == nil {
		return Fix{}, fmt.Errorf("%w: latitude and longitude are required", ErrInvalidFix)
	}
	f := Fix{
		Latitude:  *w.Latitude,
		Longitude: *w.Longitude,
		Accuracy:  AccuracyUnknown,
		Source:    w.Source,
		Time:      w.Time,
	}
	if w.Accuracy != nil && *w.Accuracy >= 0 && !math.IsNaN(*w.Accuracy) {
		f.Accuracy = *w.Accuracy
	}
	if f.Source == "" {
		f.Source = defaultSource
	}
	if err := f.Validate(); err != nil {
		return Fix{}, err
	}
	return f, nil
}

// Validate checks coordinate ranges and the timestamp.
func (f Fix) Validate() error {
	if math.IsNaN(f.Latitude) || f.Latitude < -90 || f.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidFix, f.Latitude)
	}
	if math.IsNaN(f.Longitude) || f.Longitude < -180 || f.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidFix, f.Longitude)
	}
	if f.Time <= 0 {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidFix)
	}
	return nil
}
