// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/correlatus/correlatus/internal/logging"
)

// bcryptCost balances hash strength against login latency. Cost 12 is
// roughly 250ms per verification on current hardware, slow enough that
// the login limiter, not bcrypt throughput, bounds guessing.
const bcryptCost = 12

// AdminCredentials verifies the single admin account.
type AdminCredentials struct {
	username     string
	passwordHash []byte
}

// NewAdminCredentials builds the credential store from config. With an
// empty passwordHash a random password is generated, hashed, and logged
// once so the operator can log in; it does not survive a restart.
func NewAdminCredentials(username, passwordHash string) (*AdminCredentials, error) {
	if username == "" {
		return nil, fmt.Errorf("admin username must not be empty")
	}

	if passwordHash == "" {
		password, err := randomToken(18)
		if err != nil {
			return nil, fmt.Errorf("failed to generate admin password: %w", err)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash generated password: %w", err)
		}
		logging.Warn().
			Str("username", username).
			Str("password", password).
			Msg("no admin password hash configured, generated one for this run; set AUTH_ADMIN_PASSWORD_HASH to keep it")
		return &AdminCredentials{username: username, passwordHash: hash}, nil
	}

	// Catch a raw password pasted where the hash belongs before the
	// first login fails mysteriously.
	if _, err := bcrypt.Cost([]byte(passwordHash)); err != nil {
		return nil, fmt.Errorf("AUTH_ADMIN_PASSWORD_HASH is not a bcrypt hash: %w", err)
	}
	return &AdminCredentials{username: username, passwordHash: []byte(passwordHash)}, nil
}

// Verify reports whether the pair matches the admin account. Both the
// username comparison and the bcrypt comparison always run, so a wrong
// username takes as long as a wrong password.
func (c *AdminCredentials) Verify(username, password string) bool {
	usernameMatch := subtle.ConstantTimeCompare([]byte(username), []byte(c.username)) == 1
	passwordMatch := bcrypt.CompareHashAndPassword(c.passwordHash, []byte(password)) == nil
	return usernameMatch && passwordMatch
}

// HashPassword produces a bcrypt hash suitable for
// AUTH_ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// randomToken returns n random bytes as unpadded URL-safe base64.
func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
