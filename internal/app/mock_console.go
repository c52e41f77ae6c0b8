// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/fixtracker/internal/config"
	"github.com/relabs-tech/fixtracker/internal/gps"
	"github.com/relabs-tech/fixtracker/internal/logging"
	"github.com/relabs-tech/fixtracker/internal/platform"
	"github.com/relabs-tech/fixtracker/internal/provider"
	"github.com/relabs-tech/fixtracker/internal/tracker"
)

// printBridge writes accepted fixes to a terminal.
type printBridge struct{ out io.Writer }

func (p printBridge) Deliver(_ context.Context, f gps.AcceptedFix) error {
	_, err := fmt.Fprintln(p.out, formatEvent(f))
	return err
}

// printIndicator shows the foreground indicator as a terminal line.
type printIndicator struct{ out io.Writer }

func (p printIndicator) Acquire(_ context.Context, id, title, text string) error {
	_, err := fmt.Fprintln(p.out, formatStatus(platform.IndicatorStatus{Active: true, SessionID: id, Title: title, Text: text}))
	return err
}

func (p printIndicator) Release(_ context.Context, _ string) error {
	_, err := fmt.Fprintln(p.out, formatStatus(platform.IndicatorStatus{}))
	return err
}

// RunMockConsole runs a tracking session in-process against the simulated
// track and prints what the filter accepts. No broker is needed.
func RunMockConsole() error {
	cfg := config.Get()
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src := provider.NewMockSource(gps.SourceMock, provider.MockConfig{
		Latitude:  cfg.MockLatitude,
		Longitude: cfg.MockLongitude,
		RadiusM:   cfg.MockRadiusM,
		SpeedMps:  cfg.MockSpeedMps,
		Interval:  config.Ms(cfg.MockIntervalMs),
	}, logging.Logger())
	go src.Serve(ctx)

	svc := tracker.NewService(tracker.Deps{
		Sources:     []tracker.Source{src},
		Permissions: platform.NewGrants(cfg.GrantedPermissions(), nil, "", logging.Logger()),
		Indicator:   printIndicator{out: os.Stdout},
		Bridge:      printBridge{out: os.Stdout},
		Logger:      logging.Logger(),
	}, tracker.LocatorConfig{})

	if err := svc.Start(ctx, DefaultSessionConfig(cfg)); err != nil {
		return err
	}
	<-ctx.Done()
	svc.Stop()
	return nil
}
