// Package platform adapts the host facilities a tracker depends on:
// permission grants and the foreground indicator.
package platform

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/relabs-tech/fixtracker/internal/broker"
	"github.com/relabs-tech/fixtracker/internal/permission"
)

// Grants holds the permissions the host granted. The initial set comes
// from configuration; an operator can change it at runtime by publishing
// to the permissions topic, either plain text ("fine,background") or
// JSON ({"granted":"coarse,background"}).
type Grants struct {
	set atomic.Uint32
	log zerolog.Logger

	client broker.Client
	topic  string
}

// NewGrants starts with initial. client may be nil when runtime changes are
// not wanted.
func NewGrants(initial permission.Set, client broker.Client, topic string, log zerolog.Logger) *Grants {
	g := &Grants{
		log:    log.With().Str("component", "permissions").Logger(),
		client: client,
		topic:  topic,
	}
	g.set.Store(uint32(initial))
	return g
}

// Granted returns the current permission set.
func (g *Grants) Granted(context.Context) permission.Set {
	return permission.Set(g.set.Load())
}

// Set replaces the granted permissions.
func (g *Grants) Set(s permission.Set) {
	old := permission.Set(g.set.Swap(uint32(s)))
	if old != s {
		g.log.Info().Stringer("from", old).Stringer("to", s).Msg("permissions: changed")
	}
}

type grantsMessage struct {
	Granted string `json:"granted"`
}

// Apply parses a control message and updates the set.
func (g *Grants) Apply(payload []byte) error {
	text := strings.TrimSpace(string(payload))
	if strings.HasPrefix(text, "{") {
		var m grantsMessage
		if err := json.Unmarshal(payload, &m); err != nil {
			return fmt.Errorf("permissions: %w", err)
		}
		text = m.Granted
	}
	s, err := permission.Parse(text)
	if err != nil {
		return fmt.Errorf("permissions: %w", err)
	}
	g.Set(s)
	return nil
}

// Attach subscribes to the permissions topic. It is safe to call again
// after a reconnect.
func (g *Grants) Attach(ctx context.Context) error {
	tok := g.client.Subscribe(g.topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		if err := g.Apply(msg.Payload()); err != nil {
			g.log.Warn().Err(err).Str("payload", string(msg.Payload())).Msg("permissions: ignoring control message")
		}
	})
	if err := broker.Wait(ctx, tok); err != nil {
		return fmt.Errorf("permissions: subscribe %s: %w", g.topic, err)
	}
	g.log.Info().Str("topic", g.topic).Stringer("granted", g.Granted(ctx)).Msg("permissions: listening")
	return nil
}

// Serve listens on the permissions topic until ctx is done.
func (g *Grants) Serve(ctx context.Context) error {
	if g.client == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	if err := g.Attach(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	g.client.Unsubscribe(g.topic)
	return ctx.Err()
}
