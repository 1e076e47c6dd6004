// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package ingest

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/correlatus/correlatus/internal/models"
	"github.com/correlatus/correlatus/internal/validation"
)

// Notification is the wire shape of one vendor notification callback.
type Notification struct {
	NoticeID  string               `json:"noticeId"`
	ProductID int                  `json:"productId"`
	EventType int                  `json:"eventType"`
	NotifyMs  int64                `json:"notifyMs"`
	SID       string               `json:"sid"`
	Payload   *NotificationPayload `json:"payload" validate:"required"`
}

// NotificationPayload carries the channel-scoped body of a notification.
// ClientSeq and Reason are pointers because absence and zero mean different
// things on the wire.
type NotificationPayload struct {
	ChannelName string `json:"channelName" validate:"required"`
	UID         int64  `json:"uid"`
	TS          int64  `json:"ts" validate:"gt=0"`
	ClientSeq   *int64 `json:"clientSeq"`
	Platform    int    `json:"platform"`
	Reason      *int   `json:"reason"`
	ClientType  int    `json:"clientType"`
	Account     string `json:"account"`
}

// MalformedError reports a notification rejected at decode. Field names the
// wire element at fault when one can be singled out.
type MalformedError struct {
	Field  string
	Reason string
}

func (e *MalformedError) Error() string {
	if e.Field == "" {
		return "malformed notification: " + e.Reason
	}
	return fmt.Sprintf("malformed notification: %s: %s", e.Field, e.Reason)
}

// IsMalformed reports whether err is a decode rejection. The HTTP layer maps
// these to 400 responses.
func IsMalformed(err error) bool {
	var me *MalformedError
	return errors.As(err, &me)
}

// Decode parses a raw notification body and normalizes it for the namespace.
func Decode(namespaceID string, body []byte) (*models.Event, error) {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, &MalformedError{Reason: "invalid JSON: " + err.Error()}
	}
	return Normalize(namespaceID, &n)
}

// Normalize maps a decoded notification onto the internal event shape. User
// events need an addressable participant and a client sequence; channel
// lifecycle events need neither. The event it returns has no ingestion
// timestamp yet; Submit stamps that at admission.
func Normalize(namespaceID string, n *Notification) (*models.Event, error) {
	if namespaceID == "" {
		return nil, &MalformedError{Field: "namespace", Reason: "namespace is required"}
	}
	if verr := validation.ValidateStruct(n); verr != nil {
		field := "payload"
		if errs := verr.Errors(); len(errs) > 0 {
			field = wireField(errs[0].Field())
		}
		return nil, &MalformedError{Field: field, Reason: verr.Error()}
	}

	kind, roleHint, ok := kindForCode(n.EventType)
	if !ok {
		return nil, &MalformedError{
			Field:  "eventType",
			Reason: fmt.Sprintf("unknown event type %d", n.EventType),
		}
	}

	p := n.Payload
	participant := strings.TrimSpace(p.Account)
	if participant == "" && p.UID > 0 {
		participant = strconv.FormatInt(p.UID, 10)
	}

	var clientSeq int64
	if kind.IsChannelLifecycle() {
		if p.ClientSeq != nil {
			clientSeq = *p.ClientSeq
		}
	} else {
		if participant == "" {
			return nil, &MalformedError{
				Field:  "payload.uid",
				Reason: "user events need a uid or account",
			}
		}
		if p.ClientSeq == nil {
			return nil, &MalformedError{
				Field:  "payload.clientSeq",
				Reason: "user events need a clientSeq",
			}
		}
		clientSeq = *p.ClientSeq
	}

	event := &models.Event{
		NamespaceID:   namespaceID,
		NoticeID:      strings.TrimSpace(n.NoticeID),
		ChannelName:   p.ChannelName,
		ParticipantID: participant,
		Kind:          kind,
		SequenceNo:    n.NotifyMs,
		ClientSeq:     clientSeq,
		OccurredAt:    time.Unix(p.TS, 0).UTC(),
		RoleHint:      roleHint,
		PlatformHint:  platformHint(p.Platform, p.ClientType),
		ProductHint:   productHint(n.ProductID),
		SessionRef:    n.SID,
	}
	if p.Reason != nil {
		reason := *p.Reason
		event.ReasonCode = &reason
	}
	return event, nil
}

// wireField translates validated struct field names back to their wire
// spelling for error reporting.
func wireField(name string) string {
	switch name {
	case "Payload":
		return "payload"
	case "ChannelName":
		return "payload.channelName"
	case "TS":
		return "payload.ts"
	}
	return strings.ToLower(name)
}
