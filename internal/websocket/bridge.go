// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package websocket

import (
	"github.com/ThreeDotsLabs/watermill/message"
	json "github.com/goccy/go-json"

	"github.com/correlatus/correlatus/internal/logging"
	"github.com/correlatus/correlatus/internal/metrics"
	"github.com/correlatus/correlatus/internal/pipeline"
)

// FeedSource registers consume-only handlers on pipeline topics. Satisfied
// by *pipeline.Pipeline; the interface exists so tests can drive the bridge
// without a running router.
type FeedSource interface {
	AddConsumerHandler(name, topic string, handler message.NoPublishHandlerFunc) error
}

// Bridge forwards pipeline notices to the WebSocket hub. It consumes
// sessions.changed and metrics.refreshed and translates each payload into a
// client-facing message. Delivery is best-effort: a payload that cannot be
// decoded is dropped and counted, never retried.
type Bridge struct {
	hub *Hub
}

// NewBridge creates a bridge that broadcasts through hub.
func NewBridge(hub *Hub) *Bridge {
	return &Bridge{hub: hub}
}

// Attach registers the bridge's handlers on the feed source. Call before
// the pipeline router starts.
func (b *Bridge) Attach(src FeedSource) error {
	if err := src.AddConsumerHandler("ws-session-feed", pipeline.TopicSessionsChanged, b.handleSessionChange); err != nil {
		return err
	}
	if err := src.AddConsumerHandler("ws-metrics-feed", pipeline.TopicMetricsRefreshed, b.handleMetricsRefresh); err != nil {
		return err
	}

	logging.Info().Str("component", "websocket-bridge").Msg("pipeline to websocket bridge attached")
	return nil
}

// handleSessionChange fans a sessions.changed notice out to clients, one
// message per touched session.
func (b *Bridge) handleSessionChange(msg *message.Message) error {
	var change pipeline.SessionChange
	if err := json.Unmarshal(msg.Payload, &change); err != nil {
		metrics.WSErrors.WithLabelValues("decode").Inc()
		logging.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("failed to decode session change for broadcast")
		return nil
	}

	b.hub.BroadcastSessionChange(change.Change, change.Sessions)
	return nil
}

// handleMetricsRefresh broadcasts a metrics.refreshed notice.
func (b *Bridge) handleMetricsRefresh(msg *message.Message) error {
	var refresh pipeline.MetricsRefresh
	if err := json.Unmarshal(msg.Payload, &refresh); err != nil {
		metrics.WSErrors.WithLabelValues("decode").Inc()
		logging.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("failed to decode metrics refresh for broadcast")
		return nil
	}

	b.hub.BroadcastMetricsRefreshed(refresh.Partitions, refresh.RefreshedAt)
	return nil
}
