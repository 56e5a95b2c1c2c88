// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package opsmetrics exposes process-level Prometheus metrics for the
// stats engine: ingest throughput, data-lock hold time, ring occupancy,
// and persistence batch health. It is the generalisation of the
// teacher's telemetry/churn package — global counters/gauges/histograms
// registered once at init and served over promhttp — retargeted from
// VSA write-reduction KPIs to this engine's operational surface.
package opsmetrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ingestEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_ingest_events_total",
		Help: "Total query lifecycle events observed by the engine, by kind.",
	}, []string{"kind"})

	dataLockHoldSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "telemetry_data_lock_hold_seconds",
		Help:    "Duration the engine's single data lock is held per critical section.",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
	})

	ringSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "telemetry_ring_size",
		Help: "Current number of live records in the query ring.",
	})

	persistenceBatchRows = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "telemetry_persistence_batch_rows",
		Help:    "Number of rows written per persistence flush cycle.",
		Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64, 128, 256, 512, 1024},
	})

	persistenceErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_persistence_errors_total",
		Help: "Total row-insert and transaction errors seen by the persistence worker.",
	})

	dispatchRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_dispatch_requests_total",
		Help: "Total requests served by the dispatcher, labelled by wire protocol.",
	}, []string{"proto"})
)

func init() {
	prometheus.MustRegister(
		ingestEventsTotal,
		dataLockHoldSeconds,
		ringSize,
		persistenceBatchRows,
		persistenceErrorsTotal,
		dispatchRequestsTotal,
	)
}

// IngestEvent increments the event counter for one ingest-path transition
// (e.g. "new_query", "reply", "upstream_sent", "regex_result").
func IngestEvent(kind string) {
	ingestEventsTotal.WithLabelValues(kind).Inc()
}

// ObserveLockHold records how long one data-lock critical section ran.
// Callers typically defer opsmetrics.ObserveLockHold(time.Now()) immediately
// after acquiring the lock.
func ObserveLockHold(start time.Time) {
	dataLockHoldSeconds.Observe(time.Since(start).Seconds())
}

// SetRingSize reports the ring's current live length.
func SetRingSize(n int) {
	ringSize.Set(float64(n))
}

// ObservePersistenceBatch records one flush cycle's row count.
func ObservePersistenceBatch(rows int) {
	persistenceBatchRows.Observe(float64(rows))
}

// PersistenceError increments the persistence error counter.
func PersistenceError() {
	persistenceErrorsTotal.Inc()
}

// DispatchRequest increments the per-protocol request counter ("line",
// "http", "binary").
func DispatchRequest(proto string) {
	dispatchRequestsTotal.WithLabelValues(proto).Inc()
}

// ListenAndServe starts a dedicated /metrics HTTP server on addr. It
// mirrors the teacher's startMetricsEndpoint, generalized to return an
// error and accept a context for graceful shutdown instead of firing a
// bare background goroutine.
func ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
