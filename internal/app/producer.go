package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/relabs-tech/fixtracker/internal/broker"
	"github.com/relabs-tech/fixtracker/internal/config"
	"github.com/relabs-tech/fixtracker/internal/gps"
	"github.com/relabs-tech/fixtracker/internal/logging"
	"github.com/relabs-tech/fixtracker/internal/provider"
)

// RunMockProducer publishes a simulated track on the network-fix topic so
// the tracker can be exercised without a receiver.
func RunMockProducer() error {
	cfg := config.Get()
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	log := logging.With("producer")

	client, err := broker.Connect(broker.Options{
		Broker:   cfg.MQTTBroker,
		ClientID: cfg.MQTTClientIDProducer,
		Logger:   log,
	})
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	src := provider.NewMockSource(gps.SourceNetwork, provider.MockConfig{
		Latitude:  cfg.MockLatitude,
		Longitude: cfg.MockLongitude,
		RadiusM:   cfg.MockRadiusM,
		SpeedMps:  cfg.MockSpeedMps,
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(config.Ms(cfg.ProducerIntervalMs))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-ticker.C:
			publishFix(ctx, client, cfg.TopicNetworkFixes, src.At(t), log)
		}
	}
}

func publishFix(ctx context.Context, client broker.Client, topic string, f gps.Fix, log zerolog.Logger) {
	payload, err := json.Marshal(f)
	if err != nil {
		log.Error().Err(err).Msg("producer: json marshal error")
		return
	}
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := broker.Wait(waitCtx, client.Publish(topic, 0, false, payload)); err != nil {
		log.Warn().Err(err).Msg("producer: publish error")
		return
	}
	log.Debug().Stringer("fix", f).Msg("producer: published fix")
}
