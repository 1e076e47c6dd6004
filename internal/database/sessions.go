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

	json "github.com/goccy/go-json"

	"github.com/correlatus/correlatus/internal/metrics"
	"github.com/correlatus/correlatus/internal/models"
)

// =============================================================================
// Session Store Operations
// =============================================================================

// UpsertSession writes a session whole, inserting on first write and
// replacing mutable columns after. The correlator is the only writer and
// serializes writes per (channel_instance_id, participant_id), so no
// read-modify-write races reach this layer.
func (db *DB) UpsertSession(ctx context.Context, session *models.Session) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now

	roleChanges, err := marshalRoleChanges(session.RoleChanges)
	if err != nil {
		return fmt.Errorf("failed to encode role changes: %w", err)
	}

	query := `INSERT INTO sessions (
		id, namespace_id, channel_name, participant_id, channel_instance_id,
		started_at, ended_at, is_closed, communication_mode,
		initial_role, final_role, role_change_count, role_changes, exit_reason,
		forced_close, leave_only, platform, product, last_client_seq,
		created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		channel_instance_id = excluded.channel_instance_id,
		started_at = excluded.started_at,
		ended_at = excluded.ended_at,
		is_closed = excluded.is_closed,
		communication_mode = excluded.communication_mode,
		initial_role = excluded.initial_role,
		final_role = excluded.final_role,
		role_change_count = excluded.role_change_count,
		role_changes = excluded.role_changes,
		exit_reason = excluded.exit_reason,
		forced_close = excluded.forced_close,
		leave_only = excluded.leave_only,
		platform = excluded.platform,
		product = excluded.product,
		last_client_seq = excluded.last_client_seq,
		updated_at = excluded.updated_at`

	start := time.Now()
	_, err = db.conn.ExecContext(ctx, query,
		session.ID, session.NamespaceID, session.ChannelName, session.ParticipantID, session.ChannelInstanceID,
		session.StartedAt, session.EndedAt, session.IsClosed, nullIfEmpty(string(session.CommunicationMode)),
		nullIfEmpty(string(session.InitialRole)), nullIfEmpty(string(session.FinalRole)),
		session.RoleChangeCount, roleChanges, session.ExitReason,
		session.ForcedClose, session.LeaveOnly,
		nullIfEmpty(session.Platform), nullIfEmpty(session.Product), session.LastClientSeq,
		session.CreatedAt, session.UpdatedAt,
	)
	metrics.RecordDBQuery("upsert", "sessions", time.Since(start), err)

	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}
	return nil
}

// GetSessionByID retrieves a session by its id.
func (db *DB) GetSessionByID(ctx context.Context, id string) (*models.Session, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx, selectSessionColumns+` FROM sessions WHERE id = ?`, id)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// GetOpenSession returns the open session for a correlation key, or nil when
// the key has no open session. At most one row can match while the
// correlator's single-writer invariant holds; the LIMIT is load-bearing only
// if that invariant is violated upstream.
func (db *DB) GetOpenSession(ctx context.Context, instanceID, participantID string) (*models.Session, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := selectSessionColumns + ` FROM sessions
		WHERE channel_instance_id = ? AND participant_id = ? AND is_closed = FALSE
		ORDER BY started_at DESC LIMIT 1`

	row := db.conn.QueryRowContext(ctx, query, instanceID, participantID)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get open session: %w", err)
	}
	return session, nil
}

// GetLatestForcedClosure returns the most recently force-closed session for a
// correlation key whose closure precedes endedBy, or nil when none exists.
// Reconciliation uses this to find the session a late leave belongs to; the
// caller applies the tolerance window to the returned closure time.
func (db *DB) GetLatestForcedClosure(ctx context.Context, instanceID, participantID string, endedBy time.Time) (*models.Session, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := selectSessionColumns + ` FROM sessions
		WHERE channel_instance_id = ? AND participant_id = ?
		AND is_closed = TRUE AND forced_close = TRUE AND leave_only = FALSE
		AND ended_at <= ?
		ORDER BY ended_at DESC LIMIT 1`

	row := db.conn.QueryRowContext(ctx, query, instanceID, participantID, endedBy)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get forced closure: %w", err)
	}
	return session, nil
}

// ListOpenSessionsForInstance returns all open sessions bound to a channel
// instance. ChannelDestroy handling force-closes each of these.
func (db *DB) ListOpenSessionsForInstance(ctx context.Context, instanceID string) ([]*models.Session, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := selectSessionColumns + ` FROM sessions
		WHERE channel_instance_id = ? AND is_closed = FALSE
		ORDER BY started_at ASC`

	rows, err := db.conn.QueryContext(ctx, query, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list open sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// RebindSessionInstance moves sessions from one channel instance id to
// another, limited to sessions started at or after notBefore. Used when a
// provisional instance (created for a join witnessed before its
// ChannelCreate) merges into the authoritative instance; the cutoff keeps
// sessions older than the create out of the merge. Returns the number of
// sessions moved.
func (db *DB) RebindSessionInstance(ctx context.Context, fromInstanceID, toInstanceID string, notBefore time.Time) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	result, err := db.conn.ExecContext(ctx,
		`UPDATE sessions SET channel_instance_id = ?, updated_at = ?
		WHERE channel_instance_id = ? AND started_at >= ?`,
		toInstanceID, time.Now().UTC(), fromInstanceID, notBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to rebind sessions: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected, nil
}

// ListOpenInstanceIDs returns the distinct channel instance ids that still
// have open sessions for a channel. The correlator rebuilds provisional
// instance state from these after a restart.
func (db *DB) ListOpenInstanceIDs(ctx context.Context, namespaceID, channelName string) ([]string, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT DISTINCT channel_instance_id FROM sessions
		WHERE namespace_id = ? AND channel_name = ? AND is_closed = FALSE
		ORDER BY channel_instance_id`,
		namespaceID, channelName)
	if err != nil {
		return nil, fmt.Errorf("failed to list open instance ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan instance id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// buildSessionWhere builds the WHERE clause and args for session queries.
func buildSessionWhere(filter models.SessionFilter) (string, []interface{}) {
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
	if filter.InstanceID != "" {
		conditions = append(conditions, "channel_instance_id = ?")
		args = append(args, filter.InstanceID)
	}
	if filter.From != nil {
		conditions = append(conditions, "started_at >= ?")
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		conditions = append(conditions, "started_at <= ?")
		args = append(args, *filter.To)
	}
	if filter.Closed != nil {
		conditions = append(conditions, "is_closed = ?")
		args = append(args, *filter.Closed)
	}
	if !filter.IncludeLeaveOnly {
		conditions = append(conditions, "leave_only = FALSE")
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	return whereClause, args
}

// sessionPaginationDefaults returns normalized limit and offset values.
func sessionPaginationDefaults(filter models.SessionFilter) (int, int) {
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

// ListSessions lists sessions with optional filtering, newest first.
func (db *DB) ListSessions(ctx context.Context, filter models.SessionFilter) ([]*models.Session, int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	whereClause, args := buildSessionWhere(filter)

	countQuery := "SELECT COUNT(*) FROM sessions" + whereClause
	var totalCount int64
	if err := db.conn.QueryRowContext(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count sessions: %w", err)
	}

	limit, offset := sessionPaginationDefaults(filter)

	query := selectSessionColumns + ` FROM sessions` + whereClause +
		` ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, query, args...)
	metrics.RecordDBQuery("select", "sessions", time.Since(start), err)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating sessions: %w", err)
	}

	return sessions, totalCount, nil
}

// ListSessionsOverlappingRange returns sessions whose presence interval
// intersects [from, to). This is the aggregator's input set: a session
// contributes to a day when any portion of it falls inside that day, so the
// query keys on overlap rather than start time. Open sessions overlap any
// range starting before now. Leave-only records are included when
// includeLeaveOnly is set; they carry no duration but the quality scorer
// tallies their exit reasons.
func (db *DB) ListSessionsOverlappingRange(ctx context.Context, namespaceID, channelName string, from, to time.Time, includeLeaveOnly bool) ([]*models.Session, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var conditions []string
	var args []interface{}

	conditions = append(conditions, "namespace_id = ?")
	args = append(args, namespaceID)
	if channelName != "" {
		conditions = append(conditions, "channel_name = ?")
		args = append(args, channelName)
	}
	conditions = append(conditions, "started_at < ?")
	args = append(args, to)
	conditions = append(conditions, "(ended_at IS NULL OR ended_at >= ?)")
	args = append(args, from)
	if !includeLeaveOnly {
		conditions = append(conditions, "leave_only = FALSE")
	}

	query := selectSessionColumns + ` FROM sessions WHERE ` +
		strings.Join(conditions, " AND ") + ` ORDER BY started_at ASC, id ASC`

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, query, args...)
	metrics.RecordDBQuery("select", "sessions", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list overlapping sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// ListSessionsForParticipant returns sessions for one participant
// intersecting [from, to), oldest first. Input set for per-user day metrics
// and participant quality reports.
func (db *DB) ListSessionsForParticipant(ctx context.Context, namespaceID, participantID string, from, to time.Time, includeLeaveOnly bool) ([]*models.Session, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := selectSessionColumns + ` FROM sessions
		WHERE namespace_id = ? AND participant_id = ?
		AND started_at < ? AND (ended_at IS NULL OR ended_at >= ?)`
	args := []interface{}{namespaceID, participantID, to, from}
	if !includeLeaveOnly {
		query += ` AND leave_only = FALSE`
	}
	query += ` ORDER BY started_at ASC, id ASC`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list participant sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// ListChannels returns the distinct channels in a namespace with their
// activity envelope across instances, most recently active first.
func (db *DB) ListChannels(ctx context.Context, namespaceID string, limit, offset int) ([]*models.ChannelSummary, int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var totalCount int64
	if err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT channel_name) FROM sessions WHERE namespace_id = ?`, namespaceID,
	).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count channels: %w", err)
	}

	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT
		namespace_id, channel_name,
		COUNT(*) AS session_count,
		COUNT(DISTINCT channel_instance_id) AS instance_count,
		MIN(started_at) AS first_activity,
		MAX(COALESCE(ended_at, started_at)) AS last_activity,
		SUM(CASE WHEN is_closed THEN 0 ELSE 1 END) AS open_sessions,
		MAX(ended_at) AS last_closed_at
	FROM sessions
	WHERE namespace_id = ?
	GROUP BY namespace_id, channel_name
	ORDER BY last_activity DESC
	LIMIT ? OFFSET ?`

	rows, err := db.conn.QueryContext(ctx, query, namespaceID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list channels: %w", err)
	}
	defer rows.Close()

	var channels []*models.ChannelSummary
	for rows.Next() {
		summary := &models.ChannelSummary{}
		var lastClosed sql.NullTime
		if err := rows.Scan(
			&summary.NamespaceID, &summary.ChannelName,
			&summary.SessionCount, &summary.InstanceCount,
			&summary.FirstActivity, &summary.LastActivity,
			&summary.OpenSessions, &lastClosed,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan channel summary: %w", err)
		}
		if lastClosed.Valid {
			summary.LastClosedAt = &lastClosed.Time
		}
		channels = append(channels, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating channels: %w", err)
	}

	return channels, totalCount, nil
}

// selectSessionColumns is the shared column list for session scans.
const selectSessionColumns = `SELECT
	id, namespace_id, channel_name, participant_id, channel_instance_id,
	started_at, ended_at, is_closed, communication_mode,
	initial_role, final_role, role_change_count, role_changes, exit_reason,
	forced_close, leave_only, platform, product, last_client_seq,
	created_at, updated_at`

// scanSession scans one session row into a model.
func scanSession(row rowScanner) (*models.Session, error) {
	session := &models.Session{}
	var endedAt sql.NullTime
	var commMode, initialRole, finalRole, platform, product sql.NullString
	var roleChanges sql.NullString
	var exitReason sql.NullInt32

	err := row.Scan(
		&session.ID, &session.NamespaceID, &session.ChannelName, &session.ParticipantID, &session.ChannelInstanceID,
		&session.StartedAt, &endedAt, &session.IsClosed, &commMode,
		&initialRole, &finalRole, &session.RoleChangeCount, &roleChanges, &exitReason,
		&session.ForcedClose, &session.LeaveOnly, &platform, &product, &session.LastClientSeq,
		&session.CreatedAt, &session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if endedAt.Valid {
		session.EndedAt = &endedAt.Time
	}
	session.CommunicationMode = models.CommunicationMode(commMode.String)
	session.InitialRole = models.Role(initialRole.String)
	session.FinalRole = models.Role(finalRole.String)
	session.Platform = platform.String
	session.Product = product.String
	if exitReason.Valid {
		er := int(exitReason.Int32)
		session.ExitReason = &er
	}
	if roleChanges.Valid && roleChanges.String != "" {
		if err := json.Unmarshal([]byte(roleChanges.String), &session.RoleChanges); err != nil {
			return nil, fmt.Errorf("failed to decode role changes: %w", err)
		}
	}
	return session, nil
}

// marshalRoleChanges encodes role changes as JSON, NULL when empty.
func marshalRoleChanges(changes []models.RoleChange) (interface{}, error) {
	if len(changes) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(changes)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
