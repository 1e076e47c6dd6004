// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package models

import (
	"time"
)

// APIResponse is the standardized response wrapper used by all HTTP
// endpoints. Status is "success" or "error"; Error is populated only for
// error responses.
//
// Example successful response:
//
//	{
//	  "status": "success",
//	  "data": {"sessions": [...], "total": 42},
//	  "metadata": {"timestamp": "2026-08-01T12:00:00Z", "query_time_ms": 7}
//	}
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata carries response observability fields: generation time and the
// query execution time in milliseconds.
type Metadata struct {
	Timestamp   time.Time `json:"timestamp"`
	QueryTimeMS int64     `json:"query_time_ms,omitempty"`
}

// APIError is the structured error payload.
//
// Common codes: VALIDATION_ERROR, DATABASE_ERROR, STORAGE_UNAVAILABLE,
// AUTHENTICATION_ERROR, NOT_FOUND, RATE_LIMIT_EXCEEDED, METHOD_NOT_ALLOWED.
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// IngestResult is the ingestion boundary's synchronous answer for one
// submitted notification.
type IngestResult string

// Ingestion outcomes. Duplicate is idempotent success, not an error.
const (
	IngestAccepted  IngestResult = "accepted"
	IngestDuplicate IngestResult = "duplicate"
	IngestMalformed IngestResult = "malformed"
)
