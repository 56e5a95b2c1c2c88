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

package dispatch

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/kestrelfilter/telemetry/internal/classify"
	"github.com/kestrelfilter/telemetry/internal/config"
	"github.com/kestrelfilter/telemetry/internal/stats/engine"
	"github.com/kestrelfilter/telemetry/internal/store"
)

// dnsLister is the optional interface a Classifier may implement to expose
// its current blocklist for read-only inspection by /dns/blacklist. A
// classifier that doesn't implement it (e.g. classify.None, or a real
// resolver-side classifier queried out of process) simply reports an
// empty list.
type dnsLister interface {
	Entries() []string
}

// Server is the HTTP/JSON framing over the shared aggregation algorithms.
// It mirrors the teacher's api.Server shape (a thin struct wrapping the
// domain object, RegisterRoutes, ListenAndServe) generalized from one
// rate-limiter endpoint pair to the full dashboard surface.
type Server struct {
	Engine     *engine.Engine
	Config     config.Config
	Classifier classify.Classifier
	Logger     *slog.Logger

	// DB is the durable store, set via SetStore once the caller has
	// opened one; nil means persistence is disabled, and `>dbstats`
	// reports the documented filesize -1 sentinel.
	DB *store.Store

	killed atomic.Bool
}

// SetStore attaches the durable store so dbstats-style diagnostics can
// report on it. Passing nil is equivalent to never calling it.
func (s *Server) SetStore(st *store.Store) {
	s.DB = st
}

// NewServer wires a Server. A nil Logger defaults to slog.Default().
func NewServer(e *engine.Engine, cfg config.Config, classifier classify.Classifier, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if classifier == nil {
		classifier = classify.None
	}
	return &Server{Engine: e, Config: cfg, Classifier: classifier, Logger: logger}
}

// Kill marks the server as shutting down; /healthz starts reporting 503
// and the dispatcher's accept loops (line, binary) stop taking new
// connections at their next poll, per the killed-flag cancellation model.
func (s *Server) Kill() {
	s.killed.Store(true)
}

// RegisterRoutes installs every HTTP route named in the wire contract, plus
// the two additive operational routes (/healthz here; /metrics is
// registered separately by internal/opsmetrics via promhttp.Handler).
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/stats/summary", s.withCORS(s.handleSummary))
	mux.HandleFunc("/stats/top_domains", s.withCORS(s.handleTopDomains))
	mux.HandleFunc("/stats/top_ads", s.withCORS(s.handleTopAds))
	mux.HandleFunc("/stats/top_clients", s.withCORS(s.handleTopClients))
	mux.HandleFunc("/stats/forward_dest", s.withCORS(s.handleForwardDest))
	mux.HandleFunc("/stats/query_types", s.withCORS(s.handleQueryTypes))
	mux.HandleFunc("/stats/overTime/graph", s.withCORS(s.handleOverTime))
	mux.HandleFunc("/stats/overTime/forward_dest", s.withCORS(s.handleForwardedOverTime))
	mux.HandleFunc("/stats/overTime/query_types", s.withCORS(s.handleQueryTypesOverTime))
	mux.HandleFunc("/stats/history", s.withCORS(s.handleHistory))
	mux.HandleFunc("/stats/recent_blocked", s.withCORS(s.handleRecentBlocked))
	mux.HandleFunc("/stats/dashboard", s.withCORS(s.handleDashboard))
	mux.HandleFunc("/dns/status", s.withCORS(s.handleDNSStatus))
	mux.HandleFunc("/dns/blacklist", s.withCORS(s.handleDNSBlacklist))
	mux.HandleFunc("/dns/whitelist", s.withCORS(s.handleDNSWhitelist))
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/", s.handleNotFound)
}

// ListenAndServe starts the HTTP server, mirroring the teacher's
// api.Server.ListenAndServe timeout posture.
func (s *Server) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	s.Logger.Info("dispatch: http listening", "addr", addr)
	return httpServer.ListenAndServe()
}

func (s *Server) withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Content-Type", "application/json")
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Socket writes do not suspend mid-record; nothing left to do but
		// log it, matching the "partial write aborts the remainder"
		// posture from the concurrency model.
		slog.Default().Warn("dispatch: http response write failed", "error", err)
	}
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	writeJSON(w, map[string]string{"status": "not_found"})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.killed.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	w.Write([]byte("ok"))
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func queryBool(r *http.Request, key string) bool {
	v := r.URL.Query().Get(key)
	b, _ := strconv.ParseBool(v)
	return b
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	s.Engine.WithLock(func(snap *engine.Snapshot) {
		writeJSON(w, map[string]any{
			"total_queries":    snap.Counters.Total,
			"blocked_queries":  snap.Counters.Blocked,
			"cached_queries":   snap.Counters.Cached,
			"forwarded":        snap.Counters.Forwarded,
			"unique_domains":   snap.Counters.DomainCount,
			"unique_clients":   snap.Counters.ClientCount,
			"blocking_enabled": snap.Counters.BlockingEnabled,
		})
	})
}

func (s *Server) handleTopDomains(w http.ResponseWriter, r *http.Request) {
	n := queryInt(r, "n", 10)
	asc := queryBool(r, "asc")
	s.Engine.WithLock(func(snap *engine.Snapshot) {
		writeJSON(w, map[string]any{"top_domains": TopDomains(snap, n, asc, s.Config.ExcludeDomains)})
	})
}

func (s *Server) handleTopAds(w http.ResponseWriter, r *http.Request) {
	n := queryInt(r, "n", 10)
	asc := queryBool(r, "asc")
	s.Engine.WithLock(func(snap *engine.Snapshot) {
		writeJSON(w, map[string]any{"top_ads": TopAds(snap, n, asc, s.Config.ExcludeDomains)})
	})
}

func (s *Server) handleTopClients(w http.ResponseWriter, r *http.Request) {
	n := queryInt(r, "n", 10)
	asc := queryBool(r, "asc")
	withZero := queryBool(r, "withzero")
	byBlocked := queryBool(r, "blocked")
	s.Engine.WithLock(func(snap *engine.Snapshot) {
		writeJSON(w, map[string]any{"top_clients": TopClients(snap, n, asc, withZero, byBlocked, s.Config.ExcludeClients)})
	})
}

func (s *Server) handleForwardDest(w http.ResponseWriter, r *http.Request) {
	sorted := !queryBool(r, "unsorted")
	s.Engine.WithLock(func(snap *engine.Snapshot) {
		writeJSON(w, map[string]any{"forward_destinations": ForwardDest(snap, s.Config.ForwardDestLimit, sorted)})
	})
}

func (s *Server) handleQueryTypes(w http.ResponseWriter, r *http.Request) {
	s.Engine.WithLock(func(snap *engine.Snapshot) {
		types := make(map[string]uint32, len(snap.Buckets.All()))
		for _, b := range snap.Buckets.All() {
			for t, count := range b.PerType {
				types[strconv.Itoa(t)] += count
			}
		}
		writeJSON(w, map[string]any{"query_types": types})
	})
}

func (s *Server) handleOverTime(w http.ResponseWriter, r *http.Request) {
	s.Engine.WithLock(func(snap *engine.Snapshot) {
		writeJSON(w, map[string]any{"over_time": OverTime(snap)})
	})
}

func (s *Server) handleForwardedOverTime(w http.ResponseWriter, r *http.Request) {
	s.Engine.WithLock(func(snap *engine.Snapshot) {
		writeJSON(w, map[string]any{"forward_dest_over_time": ForwardedOverTime(snap)})
	})
}

func (s *Server) handleQueryTypesOverTime(w http.ResponseWriter, r *http.Request) {
	s.Engine.WithLock(func(snap *engine.Snapshot) {
		writeJSON(w, map[string]any{"query_types_over_time": QueryTypesOverTime(snap)})
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	filter := HistoryFilter{
		Domain:   r.URL.Query().Get("domain"),
		Client:   r.URL.Query().Get("client"),
		Upstream: r.URL.Query().Get("upstream"),
	}
	if from := queryInt(r, "from", 0); from != 0 {
		filter.From = int64(from)
	}
	if to := queryInt(r, "to", 0); to != 0 {
		filter.To = int64(to)
	}
	n := queryInt(r, "n", 0)
	s.Engine.WithLock(func(snap *engine.Snapshot) {
		writeJSON(w, map[string]any{"data": GetAllQueries(snap, filter, n, s.Config.QueryLogShow)})
	})
}

func (s *Server) handleRecentBlocked(w http.ResponseWriter, r *http.Request) {
	n := queryInt(r, "n", 1)
	s.Engine.WithLock(func(snap *engine.Snapshot) {
		rows := GetAllQueries(snap, HistoryFilter{}, 0, config.ShowBlockedOnly)
		if len(rows) > n {
			rows = rows[len(rows)-n:]
		}
		writeJSON(w, map[string]any{"recent_blocked": rows})
	})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	s.Engine.WithLock(func(snap *engine.Snapshot) {
		writeJSON(w, map[string]any{
			"summary": map[string]any{
				"total_queries":   snap.Counters.Total,
				"blocked_queries": snap.Counters.Blocked,
			},
			"top_domains":          TopDomains(snap, 10, false, s.Config.ExcludeDomains),
			"top_clients":          TopClients(snap, 10, false, false, false, s.Config.ExcludeClients),
			"forward_destinations": ForwardDest(snap, s.Config.ForwardDestLimit, true),
		})
	})
}

func (s *Server) handleDNSStatus(w http.ResponseWriter, r *http.Request) {
	s.Engine.WithLock(func(snap *engine.Snapshot) {
		status := "enabled"
		if !snap.Counters.BlockingEnabled {
			status = "disabled"
		}
		writeJSON(w, map[string]string{"status": status})
	})
}

func (s *Server) handleDNSBlacklist(w http.ResponseWriter, r *http.Request) {
	var entries []string
	if lister, ok := s.Classifier.(dnsLister); ok {
		entries = lister.Entries()
	}
	writeJSON(w, map[string]any{"blacklist": entries})
}

func (s *Server) handleDNSWhitelist(w http.ResponseWriter, r *http.Request) {
	// No in-process allowlist store exists in this engine (the classifier
	// port only reports block verdicts); always empty.
	writeJSON(w, map[string]any{"whitelist": []string{}})
}
