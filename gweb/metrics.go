// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package gweb

import (
	"context"
	"time"
)

const (
	// Dispatch stages, one observation per request.
	MetricsStageDecode  = "decode"
	MetricsStagePersist = "persist"
	MetricsStageEncode  = "encode"

	// Engine stages.
	MetricsStageSlotWait = "slot_wait"
	MetricsStagePing     = "ping"
	MetricsStageTx       = "tx"

	// Upload sink stages.
	MetricsStageUploadBlock    = "upload_block"
	MetricsStageUploadComplete = "upload_complete"
)

// StageTiming is one timed stage of request processing. Operation is the API name,
// or empty when the request failed before an API was chosen.
type StageTiming struct {
	Operation string
	Stage     string
	Duration  time.Duration
	Count     int
	Error     bool
}

type StageMetricsRecorder interface {
	ObserveStage(ctx context.Context, timing StageTiming)
}

type StageMetricsRecorderFunc func(ctx context.Context, timing StageTiming)

func (f StageMetricsRecorderFunc) ObserveStage(ctx context.Context, timing StageTiming) {
	f(ctx, timing)
}

func (e *Engine) stageTimingEnabled() bool {
	if e == nil {
		return false
	}
	return e.config.StageMetrics != nil || e.config.LogStageTimings
}

func (e *Engine) stageStart() time.Time {
	if !e.stageTimingEnabled() {
		return time.Time{}
	}
	return time.Now()
}

func (e *Engine) observeStage(ctx context.Context, op, stage string, start time.Time, count int, hadError bool) {
	if start.IsZero() || e == nil {
		return
	}

	timing := StageTiming{
		Operation: op,
		Stage:     stage,
		Duration:  time.Since(start),
		Count:     count,
		Error:     hadError,
	}

	if e.config.StageMetrics != nil {
		e.config.StageMetrics.ObserveStage(ctx, timing)
	}
	if e.config.LogStageTimings && e.logger != nil {
		e.logger.Debug("Stage timing",
			"op", timing.Operation,
			"stage", timing.Stage,
			"duration", timing.Duration,
			"count", timing.Count,
			"error", timing.Error,
		)
	}
}
