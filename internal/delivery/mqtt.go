// Package delivery hands accepted fixes to the outside world: an MQTT
// topic, connected websocket clients, or both.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/relabs-tech/fixtracker/internal/broker"
	"github.com/relabs-tech/fixtracker/internal/gps"
	"github.com/relabs-tech/fixtracker/internal/metrics"
)

// ErrUnavailable is returned while the breaker is open.
var ErrUnavailable = errors.New("delivery: bridge unavailable")

// BreakerConfig tunes the circuit breaker in front of the broker.
type BreakerConfig struct {
	FailureThreshold uint32
	Timeout          time.Duration
	MaxRequests      uint32
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, Timeout: 30 * time.Second, MaxRequests: 1}
}

// MQTTBridge publishes every accepted fix as JSON with QoS 1 and waits for
// the broker to acknowledge it.
type MQTTBridge struct {
	client broker.Client
	topic  string
	cb     *gobreaker.CircuitBreaker[interface{}]
	log    zerolog.Logger
}

func NewMQTTBridge(client broker.Client, topic string, cfg BreakerConfig, log zerolog.Logger) *MQTTBridge {
	log = log.With().Str("component", "mqtt-bridge").Logger()
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	settings := gobreaker.Settings{
		Name:        "mqtt-delivery",
		MaxRequests: cfg.MaxRequests,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("bridge: breaker state change")
		},
	}
	return &MQTTBridge{
		client: client,
		topic:  topic,
		cb:     gobreaker.NewCircuitBreaker[interface{}](settings),
		log:    log,
	}
}

// Deliver publishes f and returns once the broker acknowledged it.
func (b *MQTTBridge) Deliver(ctx context.Context, f gps.AcceptedFix) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("delivery: encode: %w", err)
	}
	_, err = b.cb.Execute(func() (interface{}, error) {
		return nil, broker.Wait(ctx, b.client.Publish(b.topic, 1, false, payload))
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	metrics.RecordDelivery("mqtt", err)
	if err != nil {
		return fmt.Errorf("delivery: publish %s: %w", b.topic, err)
	}
	b.log.Debug().Str("topic", b.topic).Str("reason", string(f.Reason)).Msg("bridge: published")
	return nil
}

// State reports the breaker state for status endpoints.
func (b *MQTTBridge) State() string {
	return b.cb.State().String()
}
