// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package platform

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/relabs-tech/fixtracker/internal/broker"
)

// IndicatorStatus is the retained message that tells anyone watching the
// status topic whether tracking is running.
type IndicatorStatus struct {
	Active    bool   `json:"active"`
	SessionID string `json:"session_id,omitempty"`
	Title     string `json:"title,omitempty"`
	Text      string `json:"text,omitempty"`
	Since     int64  `json:"since,omitempty"` // unix ms
}

// MQTTIndicator is the user-visible "tracking is active" marker: a
// retained status message that stays on the broker for as long as a
// session holds it.
type MQTTIndicator struct {
	client broker.Client
	topic  string
	log    zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	current IndicatorStatus
}

func NewMQTTIndicator(client broker.Client, topic string, log zerolog.Logger) *MQTTIndicator {
	return &MQTTIndicator{
		client: client,
		topic:  topic,
		log:    log.With().Str("component", "indicator").Logger(),
		now:    time.Now,
	}
}

// Acquire marks tracking active for sessionID.
func (i *MQTTIndicator) Acquire(ctx context.Context, sessionID, title, text string) error {
	st := IndicatorStatus{
		Active:    true,
		SessionID: sessionID,
		Title:     title,
		Text:      text,
		Since:     i.now().UnixMilli(),
	}
	// holder is recorded before the publish so Release can clear an unacked one
	i.mu.Lock()
	i.current = st
	i.mu.Unlock()
	if err := i.publish(ctx, st); err != nil {
		return err
	}
	i.log.Info().Str("session", sessionID).Str("title", title).Msg("indicator: shown")
	return nil
}

// Release clears the indicator if sessionID still holds it.
func (i *MQTTIndicator) Release(ctx context.Context, sessionID string) error {
	i.mu.Lock()
	holder := i.current.SessionID
	i.mu.Unlock()
	if holder != sessionID {
		return nil
	}
	if err := i.publish(ctx, IndicatorStatus{Active: false}); err != nil {
		return err
	}
	i.log.Info().Str("session", sessionID).Msg("indicator: cleared")
	return nil
}

// Current returns the last status handed to the broker, acknowledged or not.
func (i *MQTTIndicator) Current() IndicatorStatus {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.current
}

func (i *MQTTIndicator) publish(ctx context.Context, st IndicatorStatus) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := broker.Wait(ctx, i.client.Publish(i.topic, 1, true, payload)); err != nil {
		return fmt.Errorf("indicator: publish %s: %w", i.topic, err)
	}
	i.mu.Lock()
	i.current = st
	i.mu.Unlock()
	return nil
}
