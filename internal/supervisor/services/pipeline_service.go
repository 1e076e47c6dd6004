// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package services

import (
	"context"
	"fmt"
)

// PipelineRunner matches *pipeline.Pipeline's run contract: Run blocks
// until the context is canceled or the router fails.
type PipelineRunner interface {
	Run(ctx context.Context) error
}

// PipelineService supervises the event pipeline router. A router error
// surfaces through Serve so suture restarts the pipeline with backoff.
type PipelineService struct {
	pipe PipelineRunner
	name string
}

// NewPipelineService wraps pipe as a supervised service.
func NewPipelineService(pipe PipelineRunner) *PipelineService {
	return &PipelineService{pipe: pipe, name: "event-pipeline"}
}

// Serve implements suture.Service.
func (s *PipelineService) Serve(ctx context.Context) error {
	if err := s.pipe.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("pipeline router failed: %w", err)
	}
	return ctx.Err()
}

// String implements fmt.Stringer for suture's log messages.
func (s *PipelineService) String() string {
	return s.name
}
