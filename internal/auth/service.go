// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/correlatus/correlatus/internal/config"
	"github.com/correlatus/correlatus/internal/logging"
	"github.com/correlatus/correlatus/internal/metrics"
)

// Login throttling. Five attempts per IP, then one more each window.
const (
	LoginAttempts = 5
	LoginWindow   = 5 * time.Minute
)

// limiterCleanupInterval is how often stale per-IP limiters are swept.
const limiterCleanupInterval = 5 * time.Minute

var (
	// ErrInvalidCredentials means the username/password pair did not
	// match. Callers map this to 401 without detail about which half
	// was wrong.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrLoginThrottled means the client IP has exhausted its login
	// budget. Callers map this to 429 with a Retry-After of
	// LoginWindow.
	ErrLoginThrottled = errors.New("auth: too many login attempts")
)

// Service bundles the token manager, admin credentials, and login
// limiter behind one login entry point. A disabled service is a valid
// value whose middleware passes everything through.
type Service struct {
	enabled bool
	jwt     *JWTManager
	creds   *AdminCredentials
	limiter *LoginLimiter
	ttl     time.Duration
}

// NewService builds the auth service from config. With auth disabled
// the service is inert. An empty JWT secret gets replaced by a random
// one for this process, which invalidates outstanding tokens on every
// restart.
func NewService(cfg *config.AuthConfig) (*Service, error) {
	if !cfg.Enabled {
		return &Service{enabled: false}, nil
	}

	secret := cfg.JWTSecret
	if secret == "" {
		generated, err := randomToken(48)
		if err != nil {
			return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
		}
		secret = generated
		logging.Warn().Msg("no JWT secret configured, generated one for this run; tokens will not survive a restart")
	}

	creds, err := NewAdminCredentials(cfg.AdminUsername, cfg.AdminPasswordHash)
	if err != nil {
		return nil, err
	}

	limiter := NewLoginLimiter(LoginAttempts, LoginWindow)
	go limiter.startCleanup(limiterCleanupInterval)

	logging.Info().
		Str("username", cfg.AdminUsername).
		Dur("token_ttl", cfg.TokenTTL).
		Msg("query API authentication enabled")

	return &Service{
		enabled: true,
		jwt:     NewJWTManager([]byte(secret), cfg.TokenTTL),
		creds:   creds,
		limiter: limiter,
		ttl:     cfg.TokenTTL,
	}, nil
}

// Enabled reports whether authentication is enforced.
func (s *Service) Enabled() bool {
	return s.enabled
}

// Login verifies credentials and returns a signed token plus its
// expiry. The limiter is consulted before the credentials, so a
// throttled IP cannot burn bcrypt time or probe usernames.
func (s *Service) Login(username, password, ip string) (string, time.Time, error) {
	if !s.enabled {
		return "", time.Time{}, fmt.Errorf("auth: service disabled")
	}

	if !s.limiter.Allow(ip) {
		metrics.RecordLogin("throttled")
		logging.Warn().Str("ip", ip).Msg("login throttled")
		return "", time.Time{}, ErrLoginThrottled
	}

	if !s.creds.Verify(username, password) {
		metrics.RecordLogin("invalid")
		logging.Warn().Str("username", username).Str("ip", ip).Msg("login failed")
		return "", time.Time{}, ErrInvalidCredentials
	}

	token, err := s.jwt.GenerateToken(username, RoleAdmin)
	if err != nil {
		return "", time.Time{}, err
	}

	metrics.RecordLogin("success")
	logging.Info().Str("username", username).Str("ip", ip).Msg("login succeeded")
	return token, time.Now().Add(s.ttl), nil
}

// Stop terminates the limiter's cleanup goroutine. Safe on a disabled
// service.
func (s *Service) Stop() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}
