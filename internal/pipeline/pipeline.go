// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	json "github.com/goccy/go-json"

	"github.com/correlatus/correlatus/internal/config"
	"github.com/correlatus/correlatus/internal/correlator"
	"github.com/correlatus/correlatus/internal/logging"
	"github.com/correlatus/correlatus/internal/metrics"
	"github.com/correlatus/correlatus/internal/models"
	"github.com/correlatus/correlatus/internal/wal"
)

// Topics carried by the pipeline.
const (
	TopicEventsAdmitted   = "events.admitted"
	TopicSessionsChanged  = "sessions.changed"
	TopicMetricsRefreshed = "metrics.refreshed"
)

// Message metadata keys.
const (
	metadataJournalEntry = "journal_entry"
	metadataNamespace    = "namespace"
	metadataChange       = "change"
)

// Consumer group names, which double as durable consumer prefixes on the
// NATS transport.
const (
	groupCorrelator = "correlator"
	groupAggregator = "aggregator"
	groupBridge     = "bridge"
)

// Correlator applies one admitted event to session state.
type Correlator interface {
	Process(ctx context.Context, event *models.Event) (*correlator.Outcome, error)
}

// Aggregator recomputes the metric partitions a set of changed sessions
// touches.
type Aggregator interface {
	RecomputeForSessions(ctx context.Context, sessions []*models.Session) error
}

// Gate re-admits replayed events. The insert behind it is idempotent, so
// an event that already landed in the store reports inserted=false and is
// only re-correlated.
type Gate interface {
	Admit(ctx context.Context, event *models.Event) (bool, error)
}

// Journal settles write-ahead entries once their correlation landed.
type Journal interface {
	Commit(id uint64) error
}

// Pipeline owns the Watermill router, its transport, and the two core
// handlers: events.admitted into the correlator and sessions.changed into
// the aggregator. It is the Publisher the ingest service hands admitted
// events to and the Sink the journal replays pending entries into.
type Pipeline struct {
	cfg        config.PipelineConfig
	router     *message.Router
	tr         transport
	logger     watermill.LoggerAdapter
	correlator Correlator
	aggregator Aggregator
	gate       Gate
	journal    Journal

	dropped atomic.Int64

	mu      sync.Mutex
	running bool
}

// New builds the pipeline on the configured transport and registers the
// correlate and aggregate handlers. The journal may be nil when the
// write-ahead log is disabled, and the aggregator may be nil when
// continuous recomputation is off; correlator and gate are required.
func New(cfg *config.PipelineConfig, natsCfg *config.NATSConfig, corr Correlator, agg Aggregator, gate Gate, journal Journal) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("pipeline: configuration required")
	}
	if corr == nil {
		return nil, fmt.Errorf("pipeline: correlator required")
	}
	if gate == nil {
		return nil, fmt.Errorf("pipeline: admission gate required")
	}

	resolved := *cfg
	if resolved.RetryCount <= 0 {
		resolved.RetryCount = 5
	}
	if resolved.RetryInitialInterval <= 0 {
		resolved.RetryInitialInterval = time.Second
	}
	if resolved.CloseTimeout <= 0 {
		resolved.CloseTimeout = 30 * time.Second
	}

	logger := newLoggerAdapter()

	tr, err := newTransport(&resolved, natsCfg, logger)
	if err != nil {
		return nil, err
	}

	router, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: resolved.CloseTimeout,
	}, logger)
	if err != nil {
		_ = tr.Close()
		return nil, fmt.Errorf("pipeline: create router: %w", err)
	}

	p := &Pipeline{
		cfg:        resolved,
		router:     router,
		tr:         tr,
		logger:     logger,
		correlator: corr,
		aggregator: agg,
		gate:       gate,
		journal:    journal,
	}

	// Middleware runs outermost first: panics become errors, transient
	// failures retry with backoff, permanent ones are dropped before the
	// retry layer ever sees them.
	router.AddMiddleware(middleware.Recoverer)
	router.AddMiddleware(middleware.Retry{
		MaxRetries:      resolved.RetryCount,
		InitialInterval: resolved.RetryInitialInterval,
		MaxInterval:     time.Minute,
		Multiplier:      2.0,
		Logger:          logger,
	}.Middleware)
	router.AddMiddleware(p.dropPermanent)

	if err := p.registerHandlers(); err != nil {
		_ = tr.Close()
		return nil, err
	}

	return p, nil
}

func (p *Pipeline) registerHandlers() error {
	corrSub, err := p.tr.Subscriber(groupCorrelator)
	if err != nil {
		return err
	}
	p.router.AddHandler(
		"correlate",
		TopicEventsAdmitted,
		corrSub,
		TopicSessionsChanged,
		p.tr.Publisher(),
		p.handleAdmitted,
	)

	// Without an aggregator, session changes still reach the bridge but
	// partitions recompute only on demand.
	if p.aggregator == nil {
		return nil
	}

	aggSub, err := p.tr.Subscriber(groupAggregator)
	if err != nil {
		return err
	}
	p.router.AddHandler(
		"aggregate",
		TopicSessionsChanged,
		aggSub,
		TopicMetricsRefreshed,
		p.tr.Publisher(),
		p.handleSessionsChanged,
	)
	return nil
}

// AddConsumerHandler registers an extra consume-only handler, used by the
// WebSocket bridge to watch sessions.changed and metrics.refreshed. Must
// be called before Run.
func (p *Pipeline) AddConsumerHandler(name, topic string, handler message.NoPublishHandlerFunc) error {
	sub, err := p.tr.Subscriber(groupBridge)
	if err != nil {
		return err
	}
	p.router.AddNoPublisherHandler(name, topic, sub, handler)
	return nil
}

// PublishAdmitted hands an admitted event to the correlation pipeline. The
// journal entry id rides in message metadata so the correlate handler can
// settle the entry once the session change lands.
func (p *Pipeline) PublishAdmitted(ctx context.Context, event *models.Event, journalID uint64) error {
	if event == nil {
		return fmt.Errorf("pipeline: nil event")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("pipeline: encode event %s: %w", event.DedupKey(), err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(metadataNamespace, event.NamespaceID)
	if journalID != 0 {
		msg.Metadata.Set(metadataJournalEntry, strconv.FormatUint(journalID, 10))
	}

	if err := p.tr.Publisher().Publish(TopicEventsAdmitted, msg); err != nil {
		return fmt.Errorf("pipeline: publish %s: %w", TopicEventsAdmitted, err)
	}
	metrics.RecordPipelinePublish(TopicEventsAdmitted)
	return nil
}

// HandleEntry re-admits one journaled event that never finished
// correlating, called by startup replay and the journal retry loop. The
// event is correlated inline and the entry committed before returning, so
// a successful replay leaves nothing pending. Session changes flow out on
// the usual topic.
func (p *Pipeline) HandleEntry(ctx context.Context, entry *wal.Entry) error {
	if entry == nil || entry.Event == nil {
		return fmt.Errorf("pipeline: empty journal entry")
	}

	if _, err := p.gate.Admit(ctx, entry.Event); err != nil {
		return fmt.Errorf("re-admit %s: %w", entry.Event.DedupKey(), err)
	}

	outcome, err := p.correlator.Process(ctx, entry.Event)
	if err != nil {
		return fmt.Errorf("correlate %s: %w", entry.Event.DedupKey(), err)
	}

	if p.journal != nil {
		if err := p.journal.Commit(entry.ID); err != nil && !errors.Is(err, wal.ErrEntryNotFound) {
			logging.Warn().Err(err).
				Uint64("journal_entry", entry.ID).
				Msg("Journal commit failed after replayed correlation")
		}
	}

	if outcome.SessionsChanged() {
		p.publishSessionChange(outcome)
	}
	return nil
}

// publishSessionChange emits a change notice outside the router path. A
// failed publish only delays aggregation: partition recompute is
// self-healing on the next change that touches it.
func (p *Pipeline) publishSessionChange(outcome *correlator.Outcome) {
	msg, err := newSessionChangeMessage(outcome)
	if err != nil {
		logging.Warn().Err(err).Msg("Session change payload failed to encode")
		return
	}
	if err := p.tr.Publisher().Publish(TopicSessionsChanged, msg); err != nil {
		logging.Warn().Err(err).
			Str("change", string(outcome.Change)).
			Msg("Session change publish failed, partitions refresh on next touch")
		return
	}
	metrics.RecordPipelinePublish(TopicSessionsChanged)
}

// dropPermanent acks messages whose handling failed for a reason no retry
// can fix. Sits innermost so the retry middleware never sees them.
func (p *Pipeline) dropPermanent(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		out, err := h(msg)
		if err == nil || !IsPermanent(err) {
			return out, err
		}
		p.dropped.Add(1)
		logging.Error().Err(err).
			Str("message_uuid", msg.UUID).
			Msg("Dropping message after permanent handler failure")
		return nil, nil
	}
}

// Run starts the router and blocks until the context is canceled or the
// router is closed.
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	p.running = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()
	return p.router.Run(ctx)
}

// Running returns a channel closed once the router is consuming. Startup
// waits on it before replaying the journal and opening HTTP.
func (p *Pipeline) Running() <-chan struct{} {
	return p.router.Running()
}

// IsRunning reports whether Run is active, used by health checks.
func (p *Pipeline) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Dropped returns how many messages were discarded for permanent failures.
func (p *Pipeline) Dropped() int64 {
	return p.dropped.Load()
}

// Close stops the router and tears down the transport.
func (p *Pipeline) Close() error {
	var firstErr error
	if err := p.router.Close(); err != nil {
		firstErr = err
	}
	if err := p.tr.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
