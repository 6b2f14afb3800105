// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics holds the Prometheus collectors for message sends and
// reply streams, plus an optional /metrics listener.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Object kinds for ObserveObject.
const (
	KindDelta        = "delta"
	KindResolved     = "resolved"
	KindUnclassified = "unclassified"
)

// Send outcomes for ObserveSend.
const (
	OutcomeSuccess           = "success"
	OutcomeError             = "error"
	OutcomeCredentialInvalid = "credential_invalid"
	OutcomeCanceled          = "canceled"
	OutcomeRejected          = "rejected"
)

var (
	once sync.Once

	streamObjects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evalchat_stream_objects_total",
			Help: "Complete JSON objects decoded from reply streams, by kind.",
		},
		[]string{"kind"},
	)

	sendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evalchat_sends_total",
			Help: "Message sends by outcome.",
		},
		[]string{"outcome"},
	)

	sendLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "evalchat_send_duration_seconds",
			Help:    "Wall time from request to end of reply stream.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		},
		[]string{"outcome"},
	)

	firstEventLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "evalchat_stream_first_event_seconds",
			Help:    "Delay before the first usable object of a reply stream.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
		},
	)

	refetchFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "evalchat_refetch_failures_total",
			Help: "Authoritative history refetches that failed after a successful stream.",
		},
	)
)

// MustRegister registers collectors with the default registry (idempotent).
func MustRegister() {
	once.Do(func() {
		prometheus.MustRegister(
			streamObjects, sendsTotal, sendLatency,
			firstEventLatency, refetchFailures,
		)
	})
}

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// ObserveObject counts one decoded stream object.
func ObserveObject(kind string) {
	streamObjects.WithLabelValues(norm(kind)).Inc()
}

// ObserveSend records the outcome and duration of one send.
func ObserveSend(outcome string, elapsed time.Duration) {
	sendsTotal.WithLabelValues(norm(outcome)).Inc()
	sendLatency.WithLabelValues(norm(outcome)).Observe(elapsed.Seconds())
}

// ObserveFirstEvent records time-to-first-event. Zero means no event arrived
// and is not recorded.
func ObserveFirstEvent(d time.Duration) {
	if d <= 0 {
		return
	}
	firstEventLatency.Observe(d.Seconds())
}

// IncRefetchFailure counts a failed post-stream refetch.
func IncRefetchFailure() {
	refetchFailures.Inc()
}

// =============================================================================
// HTTP EXPOSITION
// =============================================================================

// Serve exposes /metrics on addr until ctx is cancelled. An empty addr
// disables the listener and returns nil immediately.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	if addr == "" {
		return nil
	}
	MustRegister()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics listener started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
