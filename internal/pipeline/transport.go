// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/nats-io/nats-server/v2/server"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/correlatus/correlatus/internal/config"
)

// Transport names accepted in pipeline configuration.
const (
	TransportChannel = "gochannel"
	TransportNATS    = "nats"
)

const (
	natsReconnectWait  = 2 * time.Second
	natsAckWait        = 30 * time.Second
	natsMaxDeliver     = 5
	natsMaxAckPending  = 1024
	natsReadyTimeout   = 30 * time.Second
	streamMaxAge       = 7 * 24 * time.Hour
	streamDuplicates   = 2 * time.Minute
	defaultStreamName  = "CORRELATUS"
	embeddedServerName = "correlatus-events"
)

// transport is the Pub/Sub pair behind the router. The channel transport
// fans every message out to all in-process subscribers; the NATS transport
// gives each consumer group its own durable JetStream consumer so groups
// survive restarts without re-reading each other's messages.
type transport interface {
	Publisher() message.Publisher
	Subscriber(group string) (message.Subscriber, error)
	Close() error
}

func newTransport(cfg *config.PipelineConfig, natsCfg *config.NATSConfig, logger watermill.LoggerAdapter) (transport, error) {
	switch cfg.Transport {
	case "", TransportChannel:
		return newChannelTransport(cfg.Buffer, logger), nil
	case TransportNATS:
		return newNATSTransport(natsCfg, logger)
	default:
		return nil, fmt.Errorf("pipeline: unknown transport %q", cfg.Transport)
	}
}

// channelTransport runs everything over a single GoChannel Pub/Sub. Every
// subscriber of a topic receives every message, which is exactly the
// fan-out the consumer groups expect.
type channelTransport struct {
	pubsub *gochannel.GoChannel
}

func newChannelTransport(buffer int, logger watermill.LoggerAdapter) *channelTransport {
	if buffer <= 0 {
		buffer = 1024
	}
	return &channelTransport{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: int64(buffer),
		}, logger),
	}
}

func (t *channelTransport) Publisher() message.Publisher { return t.pubsub }

func (t *channelTransport) Subscriber(string) (message.Subscriber, error) { return t.pubsub, nil }

func (t *channelTransport) Close() error { return t.pubsub.Close() }

// natsTransport connects the pipeline to a NATS JetStream broker,
// starting an embedded nats-server first when configured. The stream is
// provisioned up front so publishers and subscribers never race its
// creation.
type natsTransport struct {
	cfg      config.NATSConfig
	logger   watermill.LoggerAdapter
	embedded *server.Server
	pub      message.Publisher

	mu   sync.Mutex
	subs map[string]message.Subscriber
}

func newNATSTransport(cfg *config.NATSConfig, logger watermill.LoggerAdapter) (*natsTransport, error) {
	if cfg == nil {
		return nil, fmt.Errorf("pipeline: nats transport requires nats configuration")
	}

	t := &natsTransport{
		cfg:    *cfg,
		logger: logger,
		subs:   make(map[string]message.Subscriber),
	}
	if t.cfg.StreamName == "" {
		t.cfg.StreamName = defaultStreamName
	}

	if t.cfg.EmbeddedServer {
		ns, err := startEmbeddedServer(&t.cfg)
		if err != nil {
			return nil, err
		}
		t.embedded = ns
		t.cfg.URL = ns.ClientURL()
	}

	if err := t.ensureStream(context.Background()); err != nil {
		t.shutdownEmbedded()
		return nil, err
	}

	pub, err := wmnats.NewPublisher(wmnats.PublisherConfig{
		URL:         t.cfg.URL,
		NatsOptions: t.natsOptions(),
		Marshaler:   &wmnats.NATSMarshaler{},
		JetStream: wmnats.JetStreamConfig{
			TrackMsgId: true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, logger)
	if err != nil {
		t.shutdownEmbedded()
		return nil, fmt.Errorf("pipeline: create nats publisher: %w", err)
	}
	t.pub = pub

	return t, nil
}

// startEmbeddedServer boots an in-process nats-server with JetStream and
// waits until it accepts connections. The broker runs with logging and
// signal handling off; the hosting process owns both.
func startEmbeddedServer(cfg *config.NATSConfig) (*server.Server, error) {
	host, port := hostPort(cfg.URL)
	opts := &server.Options{
		ServerName:         embeddedServerName,
		Host:               host,
		Port:               port,
		JetStream:          true,
		StoreDir:           cfg.StoreDir,
		JetStreamMaxMemory: cfg.MaxMemory,
		JetStreamMaxStore:  cfg.MaxStore,
		NoLog:              true,
		NoSigs:             true,
		MaxPayload:         1 << 20,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("pipeline: create embedded nats server: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(natsReadyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("pipeline: embedded nats server not ready within %s", natsReadyTimeout)
	}
	return ns, nil
}

func hostPort(rawURL string) (string, int) {
	host, port := "127.0.0.1", 4222
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return host, port
	}
	h, p, err := net.SplitHostPort(u.Host)
	if err != nil {
		return u.Host, port
	}
	host = h
	if n, err := strconv.Atoi(p); err == nil {
		port = n
	}
	return host, port
}

// ensureStream creates or updates the JetStream stream holding all three
// pipeline topics. Idempotent, runs before any publisher or subscriber.
func (t *natsTransport) ensureStream(ctx context.Context) error {
	nc, err := natsgo.Connect(t.cfg.URL,
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(3),
		natsgo.ReconnectWait(natsReconnectWait),
	)
	if err != nil {
		return fmt.Errorf("pipeline: connect to nats: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("pipeline: create jetstream context: %w", err)
	}

	streamCfg := jetstream.StreamConfig{
		Name:        t.cfg.StreamName,
		Subjects:    []string{"events.>", "sessions.>", "metrics.>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      streamMaxAge,
		MaxBytes:    t.cfg.MaxStore,
		MaxMsgs:     -1,
		Duplicates:  streamDuplicates,
		Replicas:    1,
		Storage:     jetstream.FileStorage,
		AllowDirect: true,
		Discard:     jetstream.DiscardOld,
	}

	ensureCtx, cancel := context.WithTimeout(ctx, natsReadyTimeout)
	defer cancel()

	if _, err := js.Stream(ensureCtx, t.cfg.StreamName); err == nil {
		if _, err := js.UpdateStream(ensureCtx, streamCfg); err != nil {
			return fmt.Errorf("pipeline: update stream %s: %w", t.cfg.StreamName, err)
		}
		return nil
	} else if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("pipeline: check stream %s: %w", t.cfg.StreamName, err)
	}

	if _, err := js.CreateStream(ensureCtx, streamCfg); err != nil {
		return fmt.Errorf("pipeline: create stream %s: %w", t.cfg.StreamName, err)
	}
	return nil
}

func (t *natsTransport) natsOptions() []natsgo.Option {
	return []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(natsReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				t.logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			t.logger.Info("NATS reconnected", watermill.LogFields{
				"url": nc.ConnectedUrl(),
			})
		}),
	}
}

func (t *natsTransport) Publisher() message.Publisher { return t.pub }

// Subscriber returns the durable subscriber for a consumer group, creating
// it on first use. Group names become both the queue group and the durable
// consumer prefix, so each group sees the full topic exactly once.
func (t *natsTransport) Subscriber(group string) (message.Subscriber, error) {
	if group == "" {
		return nil, fmt.Errorf("pipeline: subscriber group required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if sub, ok := t.subs[group]; ok {
		return sub, nil
	}

	sub, err := wmnats.NewSubscriber(wmnats.SubscriberConfig{
		URL:              t.cfg.URL,
		QueueGroupPrefix: group,
		SubscribersCount: 1,
		AckWaitTimeout:   natsAckWait,
		CloseTimeout:     natsReadyTimeout,
		NatsOptions:      t.natsOptions(),
		Unmarshaler:      &wmnats.NATSMarshaler{},
		JetStream: wmnats.JetStreamConfig{
			AckAsync:      false,
			DurablePrefix: group,
			SubscribeOptions: []natsgo.SubOpt{
				natsgo.BindStream(t.cfg.StreamName),
				natsgo.MaxDeliver(natsMaxDeliver),
				natsgo.MaxAckPending(natsMaxAckPending),
				natsgo.AckWait(natsAckWait),
				natsgo.DeliverNew(),
			},
		},
	}, t.logger)
	if err != nil {
		return nil, fmt.Errorf("pipeline: create nats subscriber %q: %w", group, err)
	}

	t.subs[group] = sub
	return sub, nil
}

func (t *natsTransport) Close() error {
	var firstErr error

	if t.pub != nil {
		if err := t.pub.Close(); err != nil {
			firstErr = err
		}
	}

	t.mu.Lock()
	for group, sub := range t.subs {
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close subscriber %q: %w", group, err)
		}
	}
	t.subs = make(map[string]message.Subscriber)
	t.mu.Unlock()

	t.shutdownEmbedded()
	return firstErr
}

func (t *natsTransport) shutdownEmbedded() {
	if t.embedded == nil {
		return
	}
	t.embedded.Shutdown()
	t.embedded.WaitForShutdown()
	t.embedded = nil
}
