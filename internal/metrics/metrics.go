/*
 * Copyright (c) 2026 PatientDB Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package metrics tracks server activity counters and exposes them in
Prometheus text format.

Tracked:
  - requests: total, failed, per verb, latency
  - sessions: active, total, handshake failures
  - transactions: committed, aborted
  - permission refusals and silently filtered records

Exposition is plain text at /metrics:

	patientdb_requests_total 12345
	patientdb_requests_by_verb_total{verb="req_patient:"} 120
	patientdb_sessions_active 4
*/
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"patientdb/internal/logging"
)

// Metrics holds all PatientDB server counters.
type Metrics struct {
	// Request metrics.
	RequestsTotal  atomic.Uint64
	RequestsFailed atomic.Uint64

	// Request latency (microseconds).
	RequestLatencySum   atomic.Uint64
	RequestLatencyCount atomic.Uint64

	// Session metrics.
	SessionsActive    atomic.Int64
	SessionsTotal     atomic.Uint64
	HandshakesFailed  atomic.Uint64
	PermissionRefused atomic.Uint64
	RecordsFiltered   atomic.Uint64

	// Transaction metrics.
	TransactionsCommitted atomic.Uint64
	TransactionsAborted   atomic.Uint64

	// Per-verb request counts.
	mu     sync.Mutex
	byVerb map[string]*atomic.Uint64
}

// Global metrics instance.
var globalMetrics = New()

// Get returns the global metrics instance.
func Get() *Metrics {
	return globalMetrics
}

// New creates an independent metrics instance, mainly for tests.
func New() *Metrics {
	return &Metrics{byVerb: make(map[string]*atomic.Uint64)}
}

// verbCounter returns the counter for one verb, creating it on first
// use.
func (m *Metrics) verbCounter(verb string) *atomic.Uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byVerb[verb]
	if !ok {
		c = new(atomic.Uint64)
		m.byVerb[verb] = c
	}
	return c
}

// RecordRequest records one completed request.
func (m *Metrics) RecordRequest(verb string, latency time.Duration, failed bool) {
	m.RequestsTotal.Add(1)
	if failed {
		m.RequestsFailed.Add(1)
	}
	m.RequestLatencySum.Add(uint64(latency.Microseconds()))
	m.RequestLatencyCount.Add(1)
	m.verbCounter(verb).Add(1)
}

// SessionOpened records a session entering service.
func (m *Metrics) SessionOpened() {
	m.SessionsActive.Add(1)
	m.SessionsTotal.Add(1)
}

// SessionClosed records a session teardown.
func (m *Metrics) SessionClosed() {
	m.SessionsActive.Add(-1)
}

// HandshakeFailed records a connection discarded during handshake.
func (m *Metrics) HandshakeFailed() {
	m.HandshakesFailed.Add(1)
}

// AverageRequestLatency returns the mean request latency in
// microseconds.
func (m *Metrics) AverageRequestLatency() float64 {
	count := m.RequestLatencyCount.Load()
	if count == 0 {
		return 0
	}
	return float64(m.RequestLatencySum.Load()) / float64(count)
}

// WriteTo renders the metrics in Prometheus text format.
func (m *Metrics) WriteTo(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	fmt.Fprintf(w, "# HELP patientdb_requests_total Total requests served\n")
	fmt.Fprintf(w, "# TYPE patientdb_requests_total counter\n")
	fmt.Fprintf(w, "patientdb_requests_total %d\n", m.RequestsTotal.Load())

	fmt.Fprintf(w, "# HELP patientdb_requests_failed_total Requests that returned an error\n")
	fmt.Fprintf(w, "# TYPE patientdb_requests_failed_total counter\n")
	fmt.Fprintf(w, "patientdb_requests_failed_total %d\n", m.RequestsFailed.Load())

	fmt.Fprintf(w, "# HELP patientdb_requests_by_verb_total Requests by verb\n")
	fmt.Fprintf(w, "# TYPE patientdb_requests_by_verb_total counter\n")
	m.mu.Lock()
	verbs := make([]string, 0, len(m.byVerb))
	for verb := range m.byVerb {
		verbs = append(verbs, verb)
	}
	sort.Strings(verbs)
	for _, verb := range verbs {
		fmt.Fprintf(w, "patientdb_requests_by_verb_total{verb=%q} %d\n", verb, m.byVerb[verb].Load())
	}
	m.mu.Unlock()

	fmt.Fprintf(w, "# HELP patientdb_request_latency_avg_microseconds Average request latency\n")
	fmt.Fprintf(w, "# TYPE patientdb_request_latency_avg_microseconds gauge\n")
	fmt.Fprintf(w, "patientdb_request_latency_avg_microseconds %.2f\n", m.AverageRequestLatency())

	fmt.Fprintf(w, "# HELP patientdb_sessions_active Sessions currently in service\n")
	fmt.Fprintf(w, "# TYPE patientdb_sessions_active gauge\n")
	fmt.Fprintf(w, "patientdb_sessions_active %d\n", m.SessionsActive.Load())

	fmt.Fprintf(w, "# HELP patientdb_sessions_total Sessions accepted since start\n")
	fmt.Fprintf(w, "# TYPE patientdb_sessions_total counter\n")
	fmt.Fprintf(w, "patientdb_sessions_total %d\n", m.SessionsTotal.Load())

	fmt.Fprintf(w, "# HELP patientdb_handshakes_failed_total Connections discarded during handshake\n")
	fmt.Fprintf(w, "# TYPE patientdb_handshakes_failed_total counter\n")
	fmt.Fprintf(w, "patientdb_handshakes_failed_total %d\n", m.HandshakesFailed.Load())

	fmt.Fprintf(w, "# HELP patientdb_permission_refused_total Reads refused for lack of permissions\n")
	fmt.Fprintf(w, "# TYPE patientdb_permission_refused_total counter\n")
	fmt.Fprintf(w, "patientdb_permission_refused_total %d\n", m.PermissionRefused.Load())

	fmt.Fprintf(w, "# HELP patientdb_records_filtered_total Records silently omitted below read level\n")
	fmt.Fprintf(w, "# TYPE patientdb_records_filtered_total counter\n")
	fmt.Fprintf(w, "patientdb_records_filtered_total %d\n", m.RecordsFiltered.Load())

	fmt.Fprintf(w, "# HELP patientdb_transactions_committed_total Committed transactions\n")
	fmt.Fprintf(w, "# TYPE patientdb_transactions_committed_total counter\n")
	fmt.Fprintf(w, "patientdb_transactions_committed_total %d\n", m.TransactionsCommitted.Load())

	fmt.Fprintf(w, "# HELP patientdb_transactions_aborted_total Aborted transactions\n")
	fmt.Fprintf(w, "# TYPE patientdb_transactions_aborted_total counter\n")
	fmt.Fprintf(w, "patientdb_transactions_aborted_total %d\n", m.TransactionsAborted.Load())
}

// Server exposes the global metrics over HTTP.
type Server struct {
	addr   string
	server *http.Server
	logger *logging.Logger
}

// NewServer creates a metrics server. An empty address disables it.
func NewServer(addr string) *Server {
	return &Server{
		addr:   addr,
		logger: logging.NewLogger("metrics"),
	}
}

// Start starts the metrics HTTP server in the background.
func (s *Server) Start() error {
	if s.addr == "" {
		s.logger.Info("Metrics exposition disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		Get().WriteTo(w)
	})
	s.server = &http.Server{Addr: s.addr, Handler: mux}

	go func() {
		s.logger.Info("Starting metrics server", "addr", s.addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Metrics server error", "error", err)
		}
	}()
	return nil
}

// Stop shuts the metrics HTTP server down.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.logger.Info("Stopping metrics server")
	return s.server.Shutdown(ctx)
}
