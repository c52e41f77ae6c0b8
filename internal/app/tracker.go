// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/relabs-tech/fixtracker/internal/broker"
	"github.com/relabs-tech/fixtracker/internal/config"
	"github.com/relabs-tech/fixtracker/internal/delivery"
	"github.com/relabs-tech/fixtracker/internal/gps"
	"github.com/relabs-tech/fixtracker/internal/logging"
	"github.com/relabs-tech/fixtracker/internal/platform"
	"github.com/relabs-tech/fixtracker/internal/provider"
	"github.com/relabs-tech/fixtracker/internal/tracker"
)

// DefaultSessionConfig returns the session thresholds and notification
// text from the configuration file.
func DefaultSessionConfig(cfg *config.Config) tracker.SessionConfig {
	return tracker.SessionConfig{
		MinTime:     config.Ms(cfg.MinTimeMs),
		MinDistance: cfg.MinDistanceM,
		NotifTitle:  cfg.NotifTitle,
		NotifText:   cfg.NotifText,
	}
}

// RunTracker runs the tracking daemon: location sources, the MQTT control
// and delivery plumbing, and the HTTP API, all under one supervisor.
func RunTracker() error {
	cfg := config.Get()
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	log := logging.With("tracker")

	// subscriptions to restore after a reconnect; filled once the client exists
	var (
		attachMu sync.Mutex
		attach   []func(context.Context) error
	)
	client, err := broker.Connect(broker.Options{
		Broker:   cfg.MQTTBroker,
		ClientID: cfg.MQTTClientIDTracker,
		Logger:   log,
		OnConnect: func(broker.Client) {
			attachMu.Lock()
			fns := append([]func(context.Context) error(nil), attach...)
			attachMu.Unlock()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			for _, fn := range fns {
				if err := fn(ctx); err != nil {
					log.Error().Err(err).Msg("tracker: resubscribe after reconnect")
				}
			}
		},
	})
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	root, sourceLayer, messagingLayer, apiLayer := newSupervisor(log)

	var sources []tracker.Source
	if cfg.GPSEnabled {
		src := provider.NewNMEASource(gps.SourceGPS, provider.SerialConfig{
			PortName: cfg.GPSSerialPort,
			BaudRate: cfg.GPSBaudRate,
		}, nil, logging.Logger())
		sources = append(sources, src)
		sourceLayer.Add(serviceFunc{name: src.String(), serve: src.Serve})
	}
	if cfg.NetworkEnabled {
		netSrc := provider.NewMQTTSource(gps.SourceNetwork, client, cfg.TopicNetworkFixes, logging.Logger())
		sources = append(sources, netSrc)
		messagingLayer.Add(serviceFunc{name: netSrc.String(), serve: netSrc.Serve})
		attachMu.Lock()
		attach = append(attach, func(context.Context) error { return netSrc.Attach() })
		attachMu.Unlock()
	}
	if cfg.MockEnabled {
		src := provider.NewMockSource(gps.SourceMock, provider.MockConfig{
			Latitude:  cfg.MockLatitude,
			Longitude: cfg.MockLongitude,
			RadiusM:   cfg.MockRadiusM,
			SpeedMps:  cfg.MockSpeedMps,
			Interval:  config.Ms(cfg.MockIntervalMs),
		}, logging.Logger())
		sources = append(sources, src)
		sourceLayer.Add(serviceFunc{name: "mock", serve: src.Serve})
	}

	grants := platform.NewGrants(cfg.GrantedPermissions(), client, cfg.TopicPermissions, logging.Logger())
	messagingLayer.Add(serviceFunc{name: "permissions", serve: grants.Serve})
	attachMu.Lock()
	attach = append(attach, grants.Attach)
	attachMu.Unlock()

	hub := delivery.NewHub(logging.Logger())
	apiLayer.Add(serviceFunc{name: "websocket-hub", serve: hub.Serve})
	mqttBridge := delivery.NewMQTTBridge(client, cfg.TopicEvents, delivery.BreakerConfig{
		FailureThreshold: cfg.BreakerFailureThreshold,
		Timeout:          config.Ms(cfg.BreakerTimeoutMs),
		MaxRequests:      1,
	}, logging.Logger())

	svc := tracker.NewService(tracker.Deps{
		Sources:                sources,
		Permissions:            grants,
		Indicator:              platform.NewMQTTIndicator(client, cfg.TopicStatus, logging.Logger()),
		Bridge:                 delivery.Fanout{mqttBridge, hub},
		Logger:                 logging.Logger(),
		PermissionPollInterval: config.Ms(cfg.PermissionPollIntervalMs),
		ProviderRescanInterval: config.Ms(cfg.ProviderRescanIntervalMs),
		DeliveryTimeout:        config.Ms(cfg.DeliveryTimeoutMs),
	}, tracker.LocatorConfig{
		Timeout:         config.Ms(cfg.OneShotTimeoutMs),
		FreshnessWindow: config.Ms(cfg.FreshnessWindowMs),
	})
	defaults := DefaultSessionConfig(cfg)

	api := &API{
		Tracker:  svc,
		Defaults: defaults,
		Events:   hub,
		Limiter:  rate.NewLimiter(rate.Limit(cfg.LocationRatePerSec), cfg.LocationRateBurst),
		Log:      logging.With("web"),
	}
	addr := fmt.Sprintf(":%d", cfg.WebServerPort)
	apiLayer.Add(&httpServerService{
		server: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(api),
			ReadHeaderTimeout: 10 * time.Second,
		},
		shutdownTimeout: 10 * time.Second,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	errc := root.ServeBackground(ctx)
	log.Info().Str("addr", addr).Int("sources", len(sources)).Msg("tracker: web server listening")

	if cfg.AutoStart {
		if err := svc.Start(ctx, defaults); err != nil {
			log.Error().Err(err).Msg("tracker: auto start failed")
		}
	}

	err = <-errc
	if svc.Stop() {
		log.Info().Msg("tracker: session stopped on shutdown")
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
