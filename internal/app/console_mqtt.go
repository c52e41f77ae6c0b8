package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"

	"github.com/relabs-tech/fixtracker/internal/broker"
	"github.com/relabs-tech/fixtracker/internal/config"
	"github.com/relabs-tech/fixtracker/internal/gps"
	"github.com/relabs-tech/fixtracker/internal/logging"
	"github.com/relabs-tech/fixtracker/internal/platform"
)

// RunConsoleMQTT prints accepted fixes and indicator changes as they
// arrive on the broker.
func RunConsoleMQTT() error {
	cfg := config.Get()
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	log := logging.With("console")

	client, err := broker.Connect(broker.Options{
		Broker:   cfg.MQTTBroker,
		ClientID: cfg.MQTTClientIDConsole,
		Logger:   log,
	})
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := subscribeConsole(ctx, client, cfg, os.Stdout); err != nil {
		return err
	}
	log.Info().Str("events", cfg.TopicEvents).Str("status", cfg.TopicStatus).Msg("console: subscribed")

	<-ctx.Done()
	return nil
}

func subscribeConsole(ctx context.Context, client broker.Client, cfg *config.Config, out io.Writer) error {
	log := logging.With("console")

	// Subscribe to accepted fixes
	tok := client.Subscribe(cfg.TopicEvents, 1, func(_ mqtt.Client, msg mqtt.Message) {
		var f gps.AcceptedFix
		if err := json.Unmarshal(msg.Payload(), &f); err != nil {
			log.Warn().Err(err).Msg("console: event unmarshal error")
			return
		}
		fmt.Fprintln(out, formatEvent(f))
	})
	if err := broker.Wait(ctx, tok); err != nil {
		return err
	}

	// Subscribe to the foreground indicator
	tok = client.Subscribe(cfg.TopicStatus, 1, func(_ mqtt.Client, msg mqtt.Message) {
		var st platform.IndicatorStatus
		if err := json.Unmarshal(msg.Payload(), &st); err != nil {
			log.Warn().Err(err).Msg("console: status unmarshal error")
			return
		}
		fmt.Fprintln(out, formatStatus(st))
	})
	return broker.Wait(ctx, tok)
}

func formatEvent(f gps.AcceptedFix) string {
	acc := "   n/a"
	if f.HasAccuracy() {
		acc = fmt.Sprintf("%5.1fm", f.Accuracy)
	}
	return fmt.Sprintf(
		"[FIX]  %s  LAT=%11.6f  LON=%11.6f  ACC=%s  SRC=%-8s %s",
		f.Timestamp().UTC().Format(time.RFC3339), f.Latitude, f.Longitude, acc, f.Source, f.Reason,
	)
}

func formatStatus(st platform.IndicatorStatus) string {
	if !st.Active {
		return "[TRACK] off"
	}
	return fmt.Sprintf("[TRACK] on  %s: %s (session %s)", st.Title, st.Text, st.SessionID)
}
