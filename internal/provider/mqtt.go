package provider

import (
	"context"
	"fmt"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/relabs-tech/fixtracker/internal/broker"
	"github.com/relabs-tech/fixtracker/internal/gps"
	"github.com/relabs-tech/fixtracker/internal/metrics"
)

// MQTTSource receives coarse fixes published as JSON on a broker topic,
// e.g. from a network locator or a phone. It is the "network" source.
type MQTTSource struct {
	*feed

	name   string
	topic  string
	client broker.Client
	log    zerolog.Logger

	mu       sync.Mutex
	attached bool
}

// NewMQTTSource creates the source. Call Attach (or run Serve) to start
// receiving.
func NewMQTTSource(name string, client broker.Client, topic string, log zerolog.Logger) *MQTTSource {
	if name == "" {
		name = gps.SourceNetwork
	}
	return &MQTTSource{
		feed:   newFeed(),
		name:   name,
		topic:  topic,
		client: client,
		log:    log.With().Str("source", name).Logger(),
	}
}

func (s *MQTTSource) Name() string { return s.name }
func (s *MQTTSource) Fine() bool   { return false }

// Enabled reports whether the topic is subscribed on a live connection.
func (s *MQTTSource) Enabled(context.Context) bool {
	s.mu.Lock()
	attached := s.attached
	s.mu.Unlock()
	return attached && s.client.IsConnectionOpen()
}

// Attach subscribes to the fix topic. It is safe to call again after a
// reconnect.
func (s *MQTTSource) Attach() error {
	tok := s.client.Subscribe(s.topic, 0, s.onMessage)
	tok.Wait()
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt source: subscribe %s: %w", s.topic, err)
	}
	s.mu.Lock()
	s.attached = true
	s.mu.Unlock()
	metrics.SourceOnline.WithLabelValues(s.name).Set(1)
	s.log.Info().Str("topic", s.topic).Msg("mqtt source: subscribed")
	return nil
}

// Serve attaches and keeps the subscription until ctx is done.
func (s *MQTTSource) Serve(ctx context.Context) error {
	if err := s.Attach(); err != nil {
		return err
	}
	<-ctx.Done()

	s.mu.Lock()
	s.attached = false
	s.mu.Unlock()
	metrics.SourceOnline.WithLabelValues(s.name).Set(0)
	s.client.Unsubscribe(s.topic).Wait()
	s.endAll()
	return ctx.Err()
}

func (s *MQTTSource) String() string { return "mqtt(" + s.topic + ")" }

func (s *MQTTSource) onMessage(_ mqtt.Client, msg mqtt.Message) {
	fix, err := gps.DecodeFix(msg.Payload(), s.name)
	if err != nil {
		s.log.Warn().Err(err).Str("topic", msg.Topic()).Msg("mqtt source: bad fix payload")
		return
	}
	// the topic decides the source, not the payload
	fix.Source = s.name
	metrics.FixesReceived.WithLabelValues(s.name).Inc()
	n := s.publish(fix)
	s.log.Debug().Stringer("fix", fix).Int("subscribers", n).Msg("mqtt source: fix")
}
