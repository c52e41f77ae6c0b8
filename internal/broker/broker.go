// Package broker holds the MQTT plumbing shared by the sources, the
// platform adapters and the delivery bridge.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// Client is the subset of mqtt.Client the tracker uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
	IsConnectionOpen() bool
}

var ErrTokenTimeout = errors.New("broker: timed out waiting for acknowledgement")

// Options for Connect.
type Options struct {
	Broker   string
	ClientID string
	// OnConnect runs after every (re)connect, e.g. to restore subscriptions.
	OnConnect func(Client)
	Logger    zerolog.Logger
}

// Connect dials the broker with auto-reconnect enabled.
func Connect(opts Options) (mqtt.Client, error) {
	log := opts.Logger
	o := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second).
		SetOrderMatters(false).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn().Err(err).Str("broker", opts.Broker).Msg("mqtt: connection lost")
		}).
		SetOnConnectHandler(func(c mqtt.Client) {
			log.Info().Str("broker", opts.Broker).Str("client_id", opts.ClientID).Msg("mqtt: connected")
			if opts.OnConnect != nil {
				opts.OnConnect(c)
			}
		})

	client := mqtt.NewClient(o)
	tok := client.Connect()
	if !tok.WaitTimeout(10*time.Second) {
		// SetConnectRetry keeps trying in the background
		log.Warn().Str("broker", opts.Broker).Msg("mqtt: broker not reachable yet, retrying in background")
		return client, nil
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", opts.Broker, err)
	}
	return client, nil
}

// Wait blocks until tok completes or ctx is done.
func Wait(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrTokenTimeout, ctx.Err())
	}
}
