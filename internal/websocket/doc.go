// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

/*
Package websocket provides the live feed of session and metric activity to
connected dashboard clients.

This package implements WebSocket support for broadcasting session lifecycle
notices (open, close, reconcile) and metric refresh notices as the pipeline
produces them. It uses the gorilla/websocket library with a hub-client
architecture for efficient fan-out.

Key Components:

  - Hub: Central broker that manages client connections and broadcasts
  - Client: A single WebSocket connection with read/write goroutines
  - Bridge: Subscribes to pipeline topics and translates payloads into
    client-facing messages

Architecture:

The hub fans each message out to every connected client:

	sessions.changed ──┐
	                   ├─→ Bridge ─→ Hub ─→ Client1, Client2, ...
	metrics.refreshed ─┘

Each client runs two goroutines:
  - readPump: reads from the socket, answers pings, detects dead peers
  - writePump: writes hub messages to the socket, sends keepalive pings

Message Types:

  - session_opened: a session was created or updated and remains open;
    the payload carries the change kind and the session's current state
  - session_closed: a session reached a terminal state (closed, forced
    close, reconciled, leave-only)
  - metrics_refreshed: channel-day or user-day partitions were recomputed;
    the payload names the affected partitions
  - ping / pong: client keepalive

Usage:

	hub := websocket.NewHub()
	go hub.RunWithContext(ctx)

	bridge := websocket.NewBridge(hub)
	if err := bridge.Attach(pl); err != nil {
	    return err
	}

	// In the HTTP layer, after upgrading the connection:
	client := websocket.NewClient(hub, conn)
	hub.Register <- client
	client.Start()

Client example (JavaScript):

	const ws = new WebSocket('ws://localhost:8080/ws');

	ws.onmessage = (event) => {
	    const msg = JSON.parse(event.data);

	    if (msg.type === 'session_closed') {
	        appendToSessionLog(msg.data.session);
	    }

	    if (msg.type === 'metrics_refreshed') {
	        refreshCharts(msg.data.partitions);
	    }
	};

Delivery Semantics:

The feed is best-effort. Broadcasts to a client whose send buffer is full
drop the client rather than block the hub, and a malformed pipeline payload
is logged and discarded rather than retried. Dashboards that miss a notice
recover on their next query; the stores remain the source of truth.

Connection Lifecycle:

 1. Client connects via HTTP upgrade (internal/api owns the upgrader)
 2. Hub registers the client
 3. Client starts read/write goroutines
 4. Hub broadcasts messages to all clients
 5. Client disconnects (network error, ping timeout, or explicit close)
 6. Hub unregisters the client and closes its send channel

Configuration:

WebSocket timing is fixed by constants:
  - writeWait: 10 seconds per message write
  - pongWait: 60 seconds to hear a pong before the peer is considered dead
  - pingPeriod: 54 seconds between keepalive pings (must be < pongWait)
  - maxMessageSize: 4 KB inbound (clients only send control messages)

See Also:

  - github.com/gorilla/websocket: underlying WebSocket library
  - internal/pipeline: source topics for the bridge
  - internal/api: connection upgrade endpoint
*/
package websocket
