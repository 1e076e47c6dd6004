// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package pipeline

import "errors"

// PermanentError marks a handler failure no retry can fix, such as a
// payload that does not decode. The router drops and counts the message
// instead of retrying it. Any other handler error is treated as transient
// and goes through the retry middleware.
type PermanentError struct {
	Message string
	Cause   error
}

// NewPermanentError wraps a cause as a permanent failure.
func NewPermanentError(message string, cause error) *PermanentError {
	return &PermanentError{Message: message, Cause: cause}
}

func (e *PermanentError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *PermanentError) Unwrap() error {
	return e.Cause
}

// IsPermanent reports whether the error chain contains a PermanentError.
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}
