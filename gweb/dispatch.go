// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package gweb

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// Result is the framed outcome of one dispatch
type Result struct {
	API     string
	Outcome Outcome
	Body    []byte
}

// HTTPStatus collapses the outcome onto the HTTP status line
func (r *Result) HTTPStatus() int {
	if r.Outcome == OutcomeOK {
		return http.StatusOK
	}
	return http.StatusNotFound
}

// Dispatcher routes decoded wire objects to the registered APIs
type Dispatcher struct {
	engine *Engine
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher backed by engine
func NewDispatcher(engine *Engine, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{engine: engine, logger: logger}
}

// Engine returns the persistence engine behind the dispatcher
func (d *Dispatcher) Engine() *Engine {
	return d.engine
}

// Dispatch services exactly one API from a wire payload. The payload must hold the
// API name as a top-level key; when several registered names are present only the
// first one in registry order is serviced.
func (d *Dispatcher) Dispatch(ctx context.Context, body []byte) (*Result, error) {
	start := d.engine.stageStart()
	root, err := ParseWire(body)
	if err != nil {
		d.engine.observeStage(ctx, "", MetricsStageDecode, start, 0, true)
		return nil, err
	}

	var (
		api    API
		record gjson.Result
		found  bool
		keys   int
	)
	root.ForEach(func(key, _ gjson.Result) bool {
		keys++
		return true
	})
	for _, candidate := range registry {
		rec := root.Get(candidate.Name)
		if rec.Exists() {
			api, record, found = candidate, rec, true
			break
		}
	}
	if !found {
		d.engine.observeStage(ctx, "", MetricsStageDecode, start, 0, true)
		return nil, fmt.Errorf("%w: no registered API in payload", ErrUnknownAPI)
	}
	if keys > 1 {
		d.logger.Warn("Payload carries more than one top-level key; servicing only the first registered API",
			"api", api.Name, "keys", keys)
	}

	return d.run(ctx, api, record, start)
}

// DispatchMessage services an already decoded message, bypassing tokenization
func (d *Dispatcher) DispatchMessage(ctx context.Context, msg Message) (*Result, error) {
	api, ok := LookupAPI(msg.Kind.String())
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAPI, msg.Kind)
	}
	return d.run(ctx, api, gjson.ParseBytes(EncodeMessage(msg)).Get(api.Name), d.engine.stageStart())
}

func (d *Dispatcher) run(ctx context.Context, api API, record gjson.Result, start time.Time) (*Result, error) {
	resp := AcquireResponse(api.Kind)
	defer api.Destroy(resp)

	msg := api.Decode(record)
	d.engine.observeStage(ctx, api.Name, MetricsStageDecode, start, 1, false)

	persistStart := d.engine.stageStart()
	err := api.Persist(d.engine, ctx, msg, resp)
	outcome := OutcomeOf(err)
	d.engine.observeStage(ctx, api.Name, MetricsStagePersist, persistStart, len(resp.Rows), err != nil)
	if err != nil {
		d.logger.Debug("API handler failed", "api", api.Name, "outcome", outcome.String(), "error", err)
		// Partial results are never returned alongside an error status
		resp.Rows = resp.Rows[:0]
		resp.Fields.Clear()
	}
	resp.Status = StatusFor(outcome)

	encodeStart := d.engine.stageStart()
	out, err := api.Encode(resp)
	d.engine.observeStage(ctx, api.Name, MetricsStageEncode, encodeStart, 1, err != nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s response: %w", api.Name, err)
	}

	return &Result{API: api.Name, Outcome: outcome, Body: out}, nil
}
