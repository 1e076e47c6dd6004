// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/correlatus/correlatus/internal/metrics"
	"github.com/correlatus/correlatus/internal/models"
)

// =============================================================================
// Event Store Operations (append-only)
// =============================================================================

// InsertEvent appends an admitted event. Returns inserted=false when the
// dedup key already exists; the unique index makes this race-free across
// concurrent submitters, so callers treat inserted=false as an authoritative
// duplicate verdict rather than an error.
//
// On success the event's ID is populated with its arrival ordinal.
func (db *DB) InsertEvent(ctx context.Context, event *models.Event) (bool, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if event.IngestedAt.IsZero() {
		event.IngestedAt = time.Now().UTC()
	}

	query := `INSERT INTO events (
		namespace_id, notice_id, dedup_key, channel_name, participant_id,
		event_kind, sequence_no, client_seq, occurred_at,
		role_hint, platform_hint, product_hint, reason_code, session_ref, ingested_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (dedup_key) DO NOTHING
	RETURNING id`

	start := time.Now()
	err := db.conn.QueryRowContext(ctx, query,
		event.NamespaceID, nullIfEmpty(event.NoticeID), event.DedupKey(), event.ChannelName, nullIfEmpty(event.ParticipantID),
		string(event.Kind), event.SequenceNo, event.ClientSeq, event.OccurredAt,
		nullIfEmpty(string(event.RoleHint)), nullIfEmpty(event.PlatformHint), nullIfEmpty(event.ProductHint),
		event.ReasonCode, nullIfEmpty(event.SessionRef), event.IngestedAt,
	).Scan(&event.ID)
	metrics.RecordDBQuery("insert", "events", time.Since(start), err)

	if err != nil {
		// DO NOTHING suppresses the conflicting row from RETURNING, so a
		// duplicate surfaces as ErrNoRows rather than a constraint error.
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert event: %w", err)
	}
	return true, nil
}

// HasDedupKey reports whether an event with the given dedup key has already
// been admitted. This is the deduplication gate's authoritative slow path
// behind the recency cache.
func (db *DB) HasDedupKey(ctx context.Context, key string) (bool, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	var exists bool
	err := db.conn.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM events WHERE dedup_key = ?)`, key,
	).Scan(&exists)
	metrics.RecordDBQuery("select", "events", time.Since(start), err)

	if err != nil {
		return false, fmt.Errorf("failed to check dedup key: %w", err)
	}
	return exists, nil
}

// GetEventByID retrieves a single event by its arrival ordinal.
func (db *DB) GetEventByID(ctx context.Context, id int64) (*models.Event, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx, selectEventColumns+` FROM events WHERE id = ?`, id)
	event, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("event not found: %d", id)
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return event, nil
}

// EventFilter contains filter options for listing events.
// Zero values mean "no constraint".
type EventFilter struct {
	NamespaceID   string
	ChannelName   string
	ParticipantID string
	Kind          models.EventKind
	FromTime      *time.Time
	ToTime        *time.Time
	Limit         int
	Offset        int
}

// buildWhereClause builds the WHERE clause and args for event queries.
func (filter EventFilter) buildWhereClause() (string, []interface{}) {
	var conditions []string
	var args []interface{}

	if filter.NamespaceID != "" {
		conditions = append(conditions, "namespace_id = ?")
		args = append(args, filter.NamespaceID)
	}
	if filter.ChannelName != "" {
		conditions = append(conditions, "channel_name = ?")
		args = append(args, filter.ChannelName)
	}
	if filter.ParticipantID != "" {
		conditions = append(conditions, "participant_id = ?")
		args = append(args, filter.ParticipantID)
	}
	if filter.Kind != "" {
		conditions = append(conditions, "event_kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.FromTime != nil {
		conditions = append(conditions, "occurred_at >= ?")
		args = append(args, *filter.FromTime)
	}
	if filter.ToTime != nil {
		conditions = append(conditions, "occurred_at <= ?")
		args = append(args, *filter.ToTime)
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	return whereClause, args
}

// getPaginationDefaults returns normalized limit and offset values.
func (filter EventFilter) getPaginationDefaults() (int, int) {
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// ListEvents lists admitted events with optional filtering. Results are
// ordered by occurrence time descending, newest first.
func (db *DB) ListEvents(ctx context.Context, filter EventFilter) ([]*models.Event, int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	whereClause, args := filter.buildWhereClause()

	countQuery := "SELECT COUNT(*) FROM events" + whereClause
	var totalCount int64
	if err := db.conn.QueryRowContext(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count events: %w", err)
	}

	limit, offset := filter.getPaginationDefaults()

	query := selectEventColumns + ` FROM events` + whereClause +
		` ORDER BY occurred_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, query, args...)
	metrics.RecordDBQuery("select", "events", time.Since(start), err)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating events: %w", err)
	}

	return events, totalCount, nil
}

// ListEventsForChannel returns all events for a channel in arrival order,
// oldest first, for correlator replay after a restart. The correlator
// re-derives sessions from these; the event store is the source of truth.
func (db *DB) ListEventsForChannel(ctx context.Context, namespaceID, channelName string, since time.Time) ([]*models.Event, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := selectEventColumns + ` FROM events
		WHERE namespace_id = ? AND channel_name = ? AND occurred_at >= ?
		ORDER BY id ASC`

	rows, err := db.conn.QueryContext(ctx, query, namespaceID, channelName, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list channel events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	return events, rows.Err()
}

// ListLifecycleEvents returns every ChannelCreate and ChannelDestroy event for
// a channel in occurrence order, with sequence number then arrival order as
// deterministic tie-breaks. The correlator rebuilds its channel instance
// registry from these.
func (db *DB) ListLifecycleEvents(ctx context.Context, namespaceID, channelName string) ([]*models.Event, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := selectEventColumns + ` FROM events
		WHERE namespace_id = ? AND channel_name = ? AND event_kind IN (?, ?)
		ORDER BY occurred_at ASC, sequence_no ASC, id ASC`

	rows, err := db.conn.QueryContext(ctx, query,
		namespaceID, channelName,
		string(models.KindChannelCreate), string(models.KindChannelDestroy))
	if err != nil {
		return nil, fmt.Errorf("failed to list lifecycle events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	return events, rows.Err()
}

// selectEventColumns is the shared column list for event scans, kept in one
// place so scanEvent stays aligned with it.
const selectEventColumns = `SELECT
	id, namespace_id, notice_id, dedup_key, channel_name, participant_id,
	event_kind, sequence_no, client_seq, occurred_at,
	role_hint, platform_hint, product_hint, reason_code, session_ref, ingested_at`

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan helpers.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanEvent scans one event row into a model.
func scanEvent(row rowScanner) (*models.Event, error) {
	event := &models.Event{}
	var noticeID, participantID, roleHint, platformHint, productHint, sessionRef sql.NullString
	var dedupKey string
	var reasonCode sql.NullInt32

	err := row.Scan(
		&event.ID, &event.NamespaceID, &noticeID, &dedupKey, &event.ChannelName, &participantID,
		&event.Kind, &event.SequenceNo, &event.ClientSeq, &event.OccurredAt,
		&roleHint, &platformHint, &productHint, &reasonCode, &sessionRef, &event.IngestedAt,
	)
	if err != nil {
		return nil, err
	}

	event.NoticeID = noticeID.String
	event.ParticipantID = participantID.String
	event.RoleHint = models.Role(roleHint.String)
	event.PlatformHint = platformHint.String
	event.ProductHint = productHint.String
	event.SessionRef = sessionRef.String
	if reasonCode.Valid {
		rc := int(reasonCode.Int32)
		event.ReasonCode = &rc
	}
	return event, nil
}

// nullIfEmpty maps empty strings to NULL so optional columns stay sparse.
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
