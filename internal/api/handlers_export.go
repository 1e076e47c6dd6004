// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package api

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"github.com/correlatus/correlatus/internal/logging"
	"github.com/correlatus/correlatus/internal/models"
)

// exportPageSize is the session page size used while draining the range.
const exportPageSize = 1000

// exportPayload is the JSON export document.
type exportPayload struct {
	Namespace      string                     `json:"namespace"`
	From           time.Time                  `json:"from"`
	To             time.Time                  `json:"to"`
	GeneratedAt    time.Time                  `json:"generated_at"`
	Sessions       []*models.Session          `json:"sessions"`
	ChannelMetrics []*models.ChannelDayMetric `json:"channel_metrics"`
}

// Export is GET /export: sessions plus channel day metrics over a bounded
// date range, as a JSON document or a zip archive of CSV files. The range
// is capped at export.max_days and defaults to the trailing
// export.default_days.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	req := ExportRequest{
		Namespace: r.URL.Query().Get("namespace"),
		Format:    r.URL.Query().Get("format"),
	}
	if req.Format == "" {
		req.Format = "json"
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondValidationError(w, apiErr)
		return
	}

	now := time.Now().UTC()
	from, to, err := parseTimeRange(r, now, h.config.Export.DefaultDays)
	if err != nil {
		respondError(w, http.StatusBadRequest, codeValidation, err.Error(), nil)
		return
	}
	if maxSpan := time.Duration(h.config.Export.MaxDays) * 24 * time.Hour; to.Sub(from) > maxSpan {
		respondError(w, http.StatusBadRequest, codeValidation,
			fmt.Sprintf("range exceeds %d days", h.config.Export.MaxDays), nil)
		return
	}

	sessions, err := h.collectSessions(r.Context(), req.Namespace, from, to)
	if err != nil {
		respondError(w, http.StatusInternalServerError, codeDatabase,
			"failed to collect sessions for export", err)
		return
	}

	channelMetrics, err := h.db.ListChannelDayMetrics(r.Context(), req.Namespace, "",
		models.MetricDate(from), models.MetricDate(to))
	if err != nil {
		respondError(w, http.StatusInternalServerError, codeDatabase,
			"failed to collect channel metrics for export", err)
		return
	}

	stamp := now.Format("20060102-150405")
	if req.Format == "csv" {
		h.writeZipExport(w, stamp, sessions, channelMetrics)
		return
	}

	payload := &exportPayload{
		Namespace:      req.Namespace,
		From:           from,
		To:             to,
		GeneratedAt:    now,
		Sessions:       sessions,
		ChannelMetrics: channelMetrics,
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition",
		`attachment; filename="correlatus-export-`+stamp+`.json"`)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Error().Err(err).Msg("failed to write JSON export")
	}
}

// collectSessions drains the session listing for the range page by page.
func (h *Handler) collectSessions(ctx context.Context, namespace string, from, to time.Time) ([]*models.Session, error) {
	var all []*models.Session
	filter := models.SessionFilter{
		NamespaceID:      namespace,
		From:             &from,
		To:               &to,
		IncludeLeaveOnly: true,
		Limit:            exportPageSize,
	}
	for {
		page, _, err := h.db.ListSessions(ctx, filter)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < exportPageSize {
			return all, nil
		}
		filter.Offset += exportPageSize
	}
}

// writeZipExport streams a zip archive holding sessions.csv and
// channel_metrics.csv.
func (h *Handler) writeZipExport(w http.ResponseWriter, stamp string, sessions []*models.Session, channelMetrics []*models.ChannelDayMetric) {
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition",
		`attachment; filename="correlatus-export-`+stamp+`.zip"`)

	zw := zip.NewWriter(w)
	defer func() {
		if err := zw.Close(); err != nil {
			logging.Error().Err(err).Msg("failed to finalize export archive")
		}
	}()

	if err := writeSessionsCSV(zw, sessions); err != nil {
		logging.Error().Err(err).Msg("failed to write sessions CSV")
		return
	}
	if err := writeChannelMetricsCSV(zw, channelMetrics); err != nil {
		logging.Error().Err(err).Msg("failed to write channel metrics CSV")
	}
}

func writeSessionsCSV(zw *zip.Writer, sessions []*models.Session) error {
	f, err := zw.Create("sessions.csv")
	if err != nil {
		return err
	}
	cw := csv.NewWriter(f)
	header := []string{
		"id", "namespace_id", "channel_name", "participant_id",
		"channel_instance_id", "started_at", "ended_at", "is_closed",
		"leave_only", "communication_mode", "initial_role", "final_role",
		"role_change_count", "exit_reason", "platform", "product",
		"duration_seconds",
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, s := range sessions {
		endedAt := ""
		if s.EndedAt != nil {
			endedAt = s.EndedAt.UTC().Format(time.RFC3339)
		}
		exitReason := ""
		if s.ExitReason != nil {
			exitReason = strconv.Itoa(*s.ExitReason)
		}
		row := []string{
			s.ID, s.NamespaceID, s.ChannelName, s.ParticipantID,
			s.ChannelInstanceID,
			s.StartedAt.UTC().Format(time.RFC3339),
			endedAt,
			strconv.FormatBool(s.IsClosed),
			strconv.FormatBool(s.LeaveOnly),
			string(s.CommunicationMode),
			string(s.InitialRole), string(s.FinalRole),
			strconv.Itoa(s.RoleChangeCount),
			exitReason,
			s.Platform, s.Product,
			strconv.FormatFloat(s.DurationSeconds(), 'f', 3, 64),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeChannelMetricsCSV(zw *zip.Writer, rows []*models.ChannelDayMetric) error {
	f, err := zw.Create("channel_metrics.csv")
	if err != nil {
		return err
	}
	cw := csv.NewWriter(f)
	header := []string{
		"namespace_id", "channel_name", "date", "total_minutes",
		"unique_participants", "session_count", "host_minutes",
		"audience_minutes",
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, m := range rows {
		row := []string{
			m.NamespaceID, m.ChannelName, m.Date,
			strconv.FormatFloat(m.TotalMinutes, 'f', 3, 64),
			strconv.Itoa(m.UniqueParticipants),
			strconv.Itoa(m.SessionCount),
			strconv.FormatFloat(m.HostMinutes, 'f', 3, 64),
			strconv.FormatFloat(m.AudienceMinutes, 'f', 3, 64),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
