// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package provider

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync/atomic"

	serial "github.com/jacobsa/go-serial/serial"
	"github.com/rs/zerolog"

	"github.com/relabs-tech/fixtracker/internal/gps"
	"github.com/relabs-tech/fixtracker/internal/metrics"
)

// SerialConfig describes the port a NMEA receiver is attached to.
type SerialConfig struct {
	// PortName e.g. /dev/serial0, /dev/ttyAMA0, /dev/ttyUSB0
	PortName string
	BaudRate uint
}

// OpenFunc opens a serial port. serial.Open in production.
type OpenFunc func(serial.OpenOptions) (io.ReadWriteCloser, error)

// NMEASource reads NMEA-0183 sentences from a serial receiver. It is the
// fine-accuracy "gps" source. Serve owns the port; subscribers only attach
// to the feed, so any number of sessions and one-shot requests can share
// one receiver.
type NMEASource struct {
	*feed

	name   string
	cfg    SerialConfig
	open   OpenFunc
	log    zerolog.Logger
	online atomic.Bool
}

// NewNMEASource creates the source. A nil open uses serial.Open.
func NewNMEASource(name string, cfg SerialConfig, open OpenFunc, log zerolog.Logger) *NMEASource {
	if open == nil {
		open = serial.Open
	}
	if name == "" {
		name = gps.SourceGPS
	}
	return &NMEASource{
		feed: newFeed(),
		name: name,
		cfg:  cfg,
		open: open,
		log:  log.With().Str("source", name).Logger(),
	}
}

func (s *NMEASource) Name() string { return s.name }
func (s *NMEASource) Fine() bool   { return true }

// Enabled reports whether the port is open and being read.
func (s *NMEASource) Enabled(context.Context) bool { return s.online.Load() }

func (s *NMEASource) String() string { return "nmea(" + s.cfg.PortName + ")" }

// Serve opens the port and publishes every decoded fix until ctx is done or
// the port fails. On failure all open streams are ended so sessions drop the
// subscription and pick the source up again once it is back online.
func (s *NMEASource) Serve(ctx context.Context) error {
	opts := serial.OpenOptions{
		PortName:              s.cfg.PortName,
		BaudRate:              s.cfg.BaudRate,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}
	port, err := s.open(opts)
	if err != nil {
		return fmt.Errorf("nmea: open %s: %w", s.cfg.PortName, err)
	}
	s.log.Info().Str("port", s.cfg.PortName).Uint("baud", s.cfg.BaudRate).Msg("nmea: serial port opened")

	// unblocks the reader on shutdown
	stop := context.AfterFunc(ctx, func() { port.Close() })
	defer func() {
		if stop() {
			port.Close()
		}
	}()

	s.setOnline(true)
	defer s.setOnline(false)

	err = s.read(port)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.endAll()
	if err == nil {
		err = io.EOF
	}
	return fmt.Errorf("nmea: read %s: %w", s.cfg.PortName, err)
}

func (s *NMEASource) read(r io.Reader) error {
	dec := gps.NewNMEADecoder(s.name)
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			s.handleLine(dec, line)
		}
		if err != nil {
			return err
		}
	}
}

func (s *NMEASource) handleLine(dec *gps.NMEADecoder, line string) {
	fix, ok, err := dec.Decode(line)
	if err != nil {
		// noisy receivers emit partial sentences
		s.log.Debug().Err(err).Str("line", line).Msg("nmea: parse error")
		return
	}
	if !ok {
		return
	}
	metrics.FixesReceived.WithLabelValues(s.name).Inc()
	n := s.publish(fix)
	s.log.Debug().Stringer("fix", fix).Int("subscribers", n).Msg("nmea: fix")
}

func (s *NMEASource) setOnline(v bool) {
	s.online.Store(v)
	g := 0.0
	if v {
		g = 1
	}
	metrics.SourceOnline.WithLabelValues(s.name).Set(g)
}
