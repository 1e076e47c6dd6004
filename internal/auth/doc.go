// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

/*
Package auth protects the query API with a single-admin JWT scheme.

Ingestion is deliberately outside this package: provider webhooks
authenticate at the network layer, and an auth failure there would turn
into silent data loss. Only the read side (sessions, metrics, export,
admin) sits behind a token.

# Components

  - Service: wires credentials, token manager, and login limiter from
    config.AuthConfig. When auth is disabled the service is inert and
    its middleware passes every request through.
  - JWTManager: issues and validates HS256 tokens carrying the admin
    username and role.
  - AdminCredentials: bcrypt-backed verification of the one admin
    account. When no password hash is configured, a random password is
    generated at startup and logged exactly once.
  - LoginLimiter: per-IP token bucket in front of Login. Five attempts,
    then one more per five minutes. Throttled attempts never reach
    bcrypt.

# Usage

	svc, err := auth.NewService(&cfg.Auth)
	if err != nil {
	    return err
	}

	token, expiresAt, err := svc.Login(username, password, clientIP)

	r.Group(func(r chi.Router) {
	    r.Use(svc.RequireAuth)
	    r.Get("/api/v1/sessions", listSessions)
	})

Handlers behind RequireAuth can recover the verified claims:

	claims, ok := auth.GetClaims(r.Context())

Tokens are stateless. There is no revocation list; the TTL bounds the
damage of a leaked token, and restarting with a fresh generated secret
invalidates everything outstanding.
*/
package auth
