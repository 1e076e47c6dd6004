// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/correlatus/correlatus/internal/models"
	"github.com/correlatus/correlatus/internal/validation"
)

// metricDateLayout is the canonical YYYY-MM-DD form used by the metric
// tables.
const metricDateLayout = "2006-01-02"

// SessionsRequest holds validated query parameters for GET /sessions.
type SessionsRequest struct {
	Namespace   string `validate:"required,max=128"`
	Channel     string `validate:"max=256"`
	Participant string `validate:"max=128"`
	Limit       int    `validate:"min=0"`
	Offset      int    `validate:"min=0"`
}

// ChannelsRequest holds validated query parameters for GET /channels.
type ChannelsRequest struct {
	Namespace string `validate:"required,max=128"`
	Limit     int    `validate:"min=0"`
	Offset    int    `validate:"min=0"`
}

// ChannelMetricsRequest holds validated query parameters for
// GET /metrics/channel.
type ChannelMetricsRequest struct {
	Namespace string `validate:"required,max=128"`
	Channel   string `validate:"required,max=256"`
	FromDate  string `validate:"required,datetime=2006-01-02"`
	ToDate    string `validate:"required,datetime=2006-01-02"`
}

// UserMetricsRequest holds validated query parameters for GET /metrics/user.
type UserMetricsRequest struct {
	Namespace   string `validate:"required,max=128"`
	Participant string `validate:"required,max=128"`
	FromDate    string `validate:"required,datetime=2006-01-02"`
	ToDate      string `validate:"required,datetime=2006-01-02"`
}

// QualityRequest holds validated query parameters for GET /quality. Exactly
// one of Channel and Participant scopes the report.
type QualityRequest struct {
	Namespace   string `validate:"required,max=128"`
	Channel     string `validate:"max=256"`
	Participant string `validate:"max=128"`
}

// ConcurrencyRequest holds validated query parameters for GET /concurrency.
type ConcurrencyRequest struct {
	Namespace string `validate:"required,max=128"`
	Channel   string `validate:"required,max=256"`
}

// ExportRequest holds validated query parameters for GET /export.
type ExportRequest struct {
	Namespace string `validate:"required,max=128"`
	Format    string `validate:"required,oneof=json csv"`
}

// LoginRequest is the POST /auth/login body.
type LoginRequest struct {
	Username string `json:"username" validate:"required,max=128"`
	Password string `json:"password" validate:"required,max=512"`
}

// validateRequest runs struct validation and converts a failure to the
// envelope's error shape.
func validateRequest(v interface{}) *models.APIError {
	validationErr := validation.ValidateStruct(v)
	if validationErr == nil {
		return nil
	}
	apiErr := validationErr.ToAPIError()
	return &models.APIError{
		Code:    apiErr.Code,
		Message: apiErr.Message,
		Details: apiErr.Details,
	}
}

// getIntParam extracts an integer query parameter with a default.
func getIntParam(r *http.Request, key string, defaultValue int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

// getBoolParam extracts an optional boolean query parameter; absent or
// unparsable values return nil.
func getBoolParam(r *http.Request, key string) *bool {
	value := r.URL.Query().Get(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return nil
	}
	return &parsed
}

// parseTimeParam accepts RFC 3339 or a bare date. Bare dates are midnight
// UTC.
func parseTimeParam(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(metricDateLayout, value); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unparseable time %q, want RFC 3339 or YYYY-MM-DD", value)
}

// parseTimeRange reads from/to query parameters. A missing range defaults to
// the trailing defaultDays ending now; a missing edge defaults relative to
// the present one.
func parseTimeRange(r *http.Request, now time.Time, defaultDays int) (time.Time, time.Time, error) {
	fromRaw := r.URL.Query().Get("from")
	toRaw := r.URL.Query().Get("to")

	var from, to time.Time
	var err error

	if toRaw == "" {
		to = now
	} else if to, err = parseTimeParam(toRaw); err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid to: %w", err)
	}

	if fromRaw == "" {
		from = to.AddDate(0, 0, -defaultDays)
	} else if from, err = parseTimeParam(fromRaw); err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid from: %w", err)
	}

	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("to %s precedes from %s", to.Format(time.RFC3339), from.Format(time.RFC3339))
	}
	return from, to, nil
}

// parseDateRange reads from/to as metric dates, defaulting to the trailing
// defaultDays ending today.
func parseDateRange(r *http.Request, now time.Time, defaultDays int) (string, string, error) {
	fromRaw := r.URL.Query().Get("from")
	toRaw := r.URL.Query().Get("to")

	if toRaw == "" {
		toRaw = models.MetricDate(now)
	}
	if fromRaw == "" {
		t, err := time.Parse(metricDateLayout, toRaw)
		if err != nil {
			return "", "", fmt.Errorf("invalid to: %w", err)
		}
		fromRaw = models.MetricDate(t.AddDate(0, 0, -defaultDays))
	}
	return fromRaw, toRaw, nil
}

// clampPageSize bounds a requested page size to the configured window.
func clampPageSize(requested, defaultSize, maxSize int) int {
	if requested <= 0 {
		return defaultSize
	}
	if requested > maxSize {
		return maxSize
	}
	return requested
}
