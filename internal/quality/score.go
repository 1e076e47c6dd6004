// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package quality

import (
	"fmt"
	"sort"
	"time"

	"github.com/correlatus/correlatus/internal/models"
)

const (
	baseScore = 100

	// A closed session shorter than this is a failed call.
	failedCallSeconds = 5.0
	failedCallPenalty = 5
	failedCallCap     = 30

	// Flat penalty when the set's average duration is under a minute.
	lowAverageSeconds = 60.0
	lowAveragePenalty = 20

	// Bonus when more than 70% of exits are reason 1.
	normalExitBonus = 5

	unstablePenalty = 25
	moderatePenalty = 15
	rapidPenalty    = 10
	burstPenalty    = 5
	burstPenaltyCap = 20

	// Reconnection gap thresholds. A gap at or under burstGap is a burst;
	// over burstGap but at or under rapidGap is rapid.
	burstGap = 30 * time.Second
	rapidGap = 2 * time.Minute
)

// reasonRule is one row of the per-reason penalty table. Each reason caps
// independently, including the two 8-point reasons.
type reasonRule struct {
	reason  int
	perExit int
	cap     int
	insight string
}

var reasonRules = []reasonRule{
	{models.ReasonAbnormal, 15, 60, "%d exits caused by abnormal join/leave churn"},
	{models.ReasonUnknown, 10, 40, "%d exits with unknown cause"},
	{models.ReasonTimeout, 8, 35, "%d exits from connection timeouts"},
	{models.ReasonNetwork, 8, 35, "%d exits from network changes"},
	{models.ReasonMultiIP, 8, 35, "%d exits from multi-IP conflicts"},
	{models.ReasonServerLoad, 6, 25, "%d exits from server load adjustments"},
	{models.ReasonNoPermission, 3, 15, "%d exits from permission changes"},
	{models.ReasonDeviceSwitch, 3, 15, "%d exits from device switches"},
}

// Score computes the quality report for a session set. Scope names whatever
// the set was selected by, a channel or a participant, and is echoed into
// the report. Leave-only records contribute their exit reason to the
// histogram and reason penalties but are excluded from every duration-derived
// signal. The result depends only on the session set, never on input order.
func Score(namespaceID, scope string, sessions []*models.Session) *models.QualityReport {
	ordered := make([]*models.Session, len(sessions))
	copy(ordered, sessions)
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].StartedAt.Equal(ordered[j].StartedAt) {
			return ordered[i].StartedAt.Before(ordered[j].StartedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})

	report := &models.QualityReport{
		NamespaceID:     namespaceID,
		Scope:           scope,
		SessionCount:    len(ordered),
		ReasonHistogram: make(map[int]int),
	}

	var durationSum float64
	for _, s := range ordered {
		if s.ExitReason != nil {
			report.ReasonHistogram[*s.ExitReason]++
		}
		if !s.IsClosed || s.LeaveOnly {
			continue
		}
		report.ClosedSessions++
		d := s.DurationSeconds()
		durationSum += d
		if d < failedCallSeconds {
			report.FailedCallCount++
		}
	}
	report.ChurnEventCount = report.ReasonHistogram[models.ReasonAbnormal]
	if report.ClosedSessions > 0 {
		report.AverageDurationSeconds = durationSum / float64(report.ClosedSessions)
	}

	type finding struct {
		deduction int
		text      string
	}
	var findings []finding
	penalty := 0
	deduct := func(points int, text string) {
		penalty += points
		findings = append(findings, finding{points, text})
	}

	for _, rule := range reasonRules {
		n := report.ReasonHistogram[rule.reason]
		if n == 0 {
			continue
		}
		points := n * rule.perExit
		if points > rule.cap {
			points = rule.cap
		}
		deduct(points, fmt.Sprintf(rule.insight, n))
	}

	if report.FailedCallCount > 0 {
		points := report.FailedCallCount * failedCallPenalty
		if points > failedCallCap {
			points = failedCallCap
		}
		deduct(points, fmt.Sprintf("%d calls ended within 5 seconds", report.FailedCallCount))
	}
	if report.ClosedSessions > 0 && report.AverageDurationSeconds < lowAverageSeconds {
		deduct(lowAveragePenalty,
			fmt.Sprintf("Average call duration is %.1f seconds - sessions are unusually short", report.AverageDurationSeconds))
	}

	recon := classifyReconnections(ordered)
	report.ReconnectionPattern = recon.Worst
	switch recon.Worst {
	case models.PatternUnstable:
		deduct(unstablePenalty, "Participants show unstable reconnection behavior")
	case models.PatternModerate:
		deduct(moderatePenalty, "Participants reconnect repeatedly")
	}
	if recon.Rapids > 0 {
		deduct(rapidPenalty, fmt.Sprintf("%d reconnections within two minutes", recon.Rapids))
	}
	if recon.Bursts > 0 {
		points := recon.Bursts * burstPenalty
		if points > burstPenaltyCap {
			points = burstPenaltyCap
		}
		deduct(points, fmt.Sprintf("%d immediate rejoins within thirty seconds", recon.Bursts))
	}

	score := baseScore - penalty
	exits := 0
	for _, n := range report.ReasonHistogram {
		exits += n
	}
	if exits > 0 && 10*report.ReasonHistogram[models.ReasonNormal] > 7*exits {
		score += normalExitBonus
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	report.Score = score

	sort.SliceStable(findings, func(i, j int) bool { return findings[i].deduction > findings[j].deduction })
	for _, f := range findings {
		report.Insights = append(report.Insights, f.text)
	}
	return report
}
