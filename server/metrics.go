// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rchandramouli/gweb-app/gweb"
)

// PrometheusRecorder exports stage timings and request outcomes as Prometheus collectors
type PrometheusRecorder struct {
	registry *prometheus.Registry

	stageDuration *prometheus.HistogramVec
	stageErrors   *prometheus.CounterVec
	stageItems    *prometheus.CounterVec
	responses     *prometheus.CounterVec
}

// NewPrometheusRecorder registers the gweb collectors on a private registry
func NewPrometheusRecorder(namespace string) *PrometheusRecorder {
	if namespace == "" {
		namespace = "gweb"
	}
	r := &PrometheusRecorder{registry: prometheus.NewRegistry()}

	r.stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stage",
			Name:      "duration_seconds",
			Help:      "Duration of request processing stages",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op", "stage"},
	)
	r.stageErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stage",
			Name:      "errors_total",
			Help:      "Stages that finished with an error",
		},
		[]string{"op", "stage"},
	)
	r.stageItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stage",
			Name:      "items_total",
			Help:      "Items (rows, statements, bytes) handled per stage",
		},
		[]string{"op", "stage"},
	)
	r.responses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "responses_total",
			Help:      "HTTP responses by route and status code",
		},
		[]string{"route", "code"},
	)

	r.registry.MustRegister(r.stageDuration, r.stageErrors, r.stageItems, r.responses)
	return r
}

// ObserveStage implements gweb.StageMetricsRecorder
func (r *PrometheusRecorder) ObserveStage(_ context.Context, timing gweb.StageTiming) {
	op := timing.Operation
	if op == "" {
		op = "none"
	}
	r.stageDuration.WithLabelValues(op, timing.Stage).Observe(timing.Duration.Seconds())
	if timing.Count > 0 {
		r.stageItems.WithLabelValues(op, timing.Stage).Add(float64(timing.Count))
	}
	if timing.Error {
		r.stageErrors.WithLabelValues(op, timing.Stage).Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry
func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	return r.registry
}
