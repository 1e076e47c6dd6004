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
	"time"

	"github.com/correlatus/correlatus/internal/logging"
	"github.com/correlatus/correlatus/internal/metrics"
	"github.com/correlatus/correlatus/internal/models"
)

// =============================================================================
// Derived Metric Tables (atomic replace)
// =============================================================================

// replaceRetries bounds optimistic-concurrency retries for metric replaces.
// DuckDB aborts one of two transactions touching the same rows, so a replace
// racing the session writer occasionally needs a second attempt.
const replaceRetries = 3

// runReplaceTx executes fn inside a transaction, retrying on transaction
// conflict. Any other error aborts immediately.
func (db *DB) runReplaceTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var err error
	for attempt := 0; attempt < replaceRetries; attempt++ {
		err = db.execTx(ctx, fn)
		if err == nil || !isTransactionConflict(err) {
			return err
		}
		logging.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Msg("Metric replace hit transaction conflict, retrying")
		time.Sleep(time.Duration(attempt+1) * 50 * time.Millisecond)
	}
	return err
}

// execTx runs fn in one transaction with rollback on failure.
func (db *DB) execTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logging.Error().
					Err(rbErr).
					AnErr("original_error", err).
					Msg("Transaction rollback failed")
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ReplaceChannelDayMetrics atomically replaces the channel day metric rows
// for one (namespace, date) partition, optionally narrowed to a single
// channel. Delete and insert run in one transaction so readers never observe
// a half-replaced partition. Passing an empty rows slice clears the
// partition, which is correct when the last qualifying session vanished.
func (db *DB) ReplaceChannelDayMetrics(ctx context.Context, namespaceID, channelName, date string, rows []*models.ChannelDayMetric) (err error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	defer func() {
		metrics.RecordDBQuery("replace", "channel_day_metrics", time.Since(start), err)
	}()

	return db.runReplaceTx(ctx, func(tx *sql.Tx) error {
		deleteQuery := `DELETE FROM channel_day_metrics WHERE namespace_id = ? AND metric_date = ?`
		deleteArgs := []interface{}{namespaceID, date}
		if channelName != "" {
			deleteQuery += ` AND channel_name = ?`
			deleteArgs = append(deleteArgs, channelName)
		}
		if _, err := tx.ExecContext(ctx, deleteQuery, deleteArgs...); err != nil {
			return fmt.Errorf("failed to clear channel day metrics: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `INSERT INTO channel_day_metrics (
			namespace_id, channel_name, metric_date, total_minutes,
			unique_participants, session_count, host_minutes, audience_minutes, computed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare metric insert: %w", err)
		}
		defer closeWithLog(stmt, "prepared statement")

		for _, m := range rows {
			if _, err := stmt.ExecContext(ctx,
				m.NamespaceID, m.ChannelName, m.Date, m.TotalMinutes,
				m.UniqueParticipants, m.SessionCount, m.HostMinutes, m.AudienceMinutes, m.ComputedAt,
			); err != nil {
				return fmt.Errorf("failed to insert channel day metric %s/%s: %w", m.ChannelName, m.Date, err)
			}
		}
		return nil
	})
}

// ReplaceUserDayMetrics atomically replaces the user day metric rows for one
// (namespace, date) partition, optionally narrowed to a single participant.
func (db *DB) ReplaceUserDayMetrics(ctx context.Context, namespaceID, participantID, date string, rows []*models.UserChannelDayMetric) (err error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	defer func() {
		metrics.RecordDBQuery("replace", "user_channel_day_metrics", time.Since(start), err)
	}()

	return db.runReplaceTx(ctx, func(tx *sql.Tx) error {
		deleteQuery := `DELETE FROM user_channel_day_metrics WHERE namespace_id = ? AND metric_date = ?`
		deleteArgs := []interface{}{namespaceID, date}
		if participantID != "" {
			deleteQuery += ` AND participant_id = ?`
			deleteArgs = append(deleteArgs, participantID)
		}
		if _, err := tx.ExecContext(ctx, deleteQuery, deleteArgs...); err != nil {
			return fmt.Errorf("failed to clear user day metrics: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `INSERT INTO user_channel_day_metrics (
			namespace_id, participant_id, metric_date, total_minutes,
			channels_visited, session_count, host_minutes, audience_minutes, computed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare metric insert: %w", err)
		}
		defer closeWithLog(stmt, "prepared statement")

		for _, m := range rows {
			if _, err := stmt.ExecContext(ctx,
				m.NamespaceID, m.ParticipantID, m.Date, m.TotalMinutes,
				m.ChannelsVisited, m.SessionCount, m.HostMinutes, m.AudienceMinutes, m.ComputedAt,
			); err != nil {
				return fmt.Errorf("failed to insert user day metric %s/%s: %w", m.ParticipantID, m.Date, err)
			}
		}
		return nil
	})
}

// GetChannelDayMetric retrieves one channel day row, nil when absent.
func (db *DB) GetChannelDayMetric(ctx context.Context, namespaceID, channelName, date string) (*models.ChannelDayMetric, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := selectChannelDayColumns + ` FROM channel_day_metrics
		WHERE namespace_id = ? AND channel_name = ? AND metric_date = ?`

	row := db.conn.QueryRowContext(ctx, query, namespaceID, channelName, date)
	metric, err := scanChannelDayMetric(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get channel day metric: %w", err)
	}
	return metric, nil
}

// ListChannelDayMetrics returns channel day rows for [fromDate, toDate]
// inclusive, ordered by date then channel. An empty channelName spans the
// namespace.
func (db *DB) ListChannelDayMetrics(ctx context.Context, namespaceID, channelName, fromDate, toDate string) ([]*models.ChannelDayMetric, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := selectChannelDayColumns + ` FROM channel_day_metrics
		WHERE namespace_id = ? AND metric_date >= ? AND metric_date <= ?`
	args := []interface{}{namespaceID, fromDate, toDate}
	if channelName != "" {
		query += ` AND channel_name = ?`
		args = append(args, channelName)
	}
	query += ` ORDER BY metric_date ASC, channel_name ASC`

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, query, args...)
	metrics.RecordDBQuery("select", "channel_day_metrics", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list channel day metrics: %w", err)
	}
	defer rows.Close()

	var result []*models.ChannelDayMetric
	for rows.Next() {
		metric, err := scanChannelDayMetric(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan channel day metric: %w", err)
		}
		result = append(result, metric)
	}
	return result, rows.Err()
}

// GetUserDayMetric retrieves one user day row, nil when absent.
func (db *DB) GetUserDayMetric(ctx context.Context, namespaceID, participantID, date string) (*models.UserChannelDayMetric, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := selectUserDayColumns + ` FROM user_channel_day_metrics
		WHERE namespace_id = ? AND participant_id = ? AND metric_date = ?`

	row := db.conn.QueryRowContext(ctx, query, namespaceID, participantID, date)
	metric, err := scanUserDayMetric(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user day metric: %w", err)
	}
	return metric, nil
}

// ListUserDayMetrics returns user day rows for [fromDate, toDate] inclusive,
// ordered by date. An empty participantID spans the namespace.
func (db *DB) ListUserDayMetrics(ctx context.Context, namespaceID, participantID, fromDate, toDate string) ([]*models.UserChannelDayMetric, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := selectUserDayColumns + ` FROM user_channel_day_metrics
		WHERE namespace_id = ? AND metric_date >= ? AND metric_date <= ?`
	args := []interface{}{namespaceID, fromDate, toDate}
	if participantID != "" {
		query += ` AND participant_id = ?`
		args = append(args, participantID)
	}
	query += ` ORDER BY metric_date ASC, participant_id ASC`

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, query, args...)
	metrics.RecordDBQuery("select", "user_channel_day_metrics", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list user day metrics: %w", err)
	}
	defer rows.Close()

	var result []*models.UserChannelDayMetric
	for rows.Next() {
		metric, err := scanUserDayMetric(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user day metric: %w", err)
		}
		result = append(result, metric)
	}
	return result, rows.Err()
}

// selectChannelDayColumns casts metric_date back to its canonical string
// form so scans stay driver-agnostic.
const selectChannelDayColumns = `SELECT
	namespace_id, channel_name, CAST(metric_date AS VARCHAR), total_minutes,
	unique_participants, session_count, host_minutes, audience_minutes, computed_at`

const selectUserDayColumns = `SELECT
	namespace_id, participant_id, CAST(metric_date AS VARCHAR), total_minutes,
	channels_visited, session_count, host_minutes, audience_minutes, computed_at`

func scanChannelDayMetric(row rowScanner) (*models.ChannelDayMetric, error) {
	m := &models.ChannelDayMetric{}
	err := row.Scan(
		&m.NamespaceID, &m.ChannelName, &m.Date, &m.TotalMinutes,
		&m.UniqueParticipants, &m.SessionCount, &m.HostMinutes, &m.AudienceMinutes, &m.ComputedAt,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func scanUserDayMetric(row rowScanner) (*models.UserChannelDayMetric, error) {
	m := &models.UserChannelDayMetric{}
	err := row.Scan(
		&m.NamespaceID, &m.ParticipantID, &m.Date, &m.TotalMinutes,
		&m.ChannelsVisited, &m.SessionCount, &m.HostMinutes, &m.AudienceMinutes, &m.ComputedAt,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}
