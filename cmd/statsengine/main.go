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

// Package main wires the stats engine, its persistence worker, its three
// dispatch framings, and the optional Redis/Prometheus side-channels into
// one long-running process. It follows the teacher's
// cmd/ratelimiter-api/main.go shape: flags as knobs (here layered over a
// config file, since this engine has far more settings than fit
// comfortably as flags alone), background worker started before the
// listeners, and signal-driven graceful shutdown with a final flush.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kestrelfilter/telemetry/internal/classify"
	"github.com/kestrelfilter/telemetry/internal/config"
	"github.com/kestrelfilter/telemetry/internal/dispatch"
	"github.com/kestrelfilter/telemetry/internal/notify"
	"github.com/kestrelfilter/telemetry/internal/opsmetrics"
	"github.com/kestrelfilter/telemetry/internal/stats/counters"
	"github.com/kestrelfilter/telemetry/internal/stats/engine"
	"github.com/kestrelfilter/telemetry/internal/store"
)

func main() {
	configPath := flag.String("config", "", "Path to a KEY=value configuration file (optional; defaults apply otherwise)")
	lineAddr := flag.String("line_addr", ":4711", "Line-protocol listen address")
	httpAddr := flag.String("http_addr", ":4712", "HTTP/JSON listen address")
	binaryAddr := flag.String("binary_addr", ":4713", "Length-tagged binary listen address")
	metricsAddr := flag.String("metrics_addr", "", "If non-empty, expose Prometheus /metrics on this address")
	redisAddr := flag.String("redis_addr", "", "If non-empty, publish live-update events to this Redis address")
	redisChannel := flag.String("redis_channel", "telemetry:updates", "Redis channel for live-update events")
	dbFile := flag.String("db_file", "", "SQLite database path; empty disables persistence")
	maxLogAge := flag.Int64("max_log_age", 0, "In-memory retention window, seconds (0 keeps the config value, default 86400)")
	dbInterval := flag.Int64("db_interval", 0, "Persistence cycle period, seconds (0 keeps the config value, default 60)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.Error("statsengine: failed to load config", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	// Flags win over the config file, the teacher's "flags as knobs" convention.
	cfg.LineAddr = *lineAddr
	cfg.HTTPAddr = *httpAddr
	cfg.BinaryAddr = *binaryAddr
	cfg.MetricsAddr = *metricsAddr
	cfg.RedisAddr = *redisAddr
	cfg.RedisChannel = *redisChannel
	if *dbFile != "" {
		cfg.DBFile = *dbFile
	}
	if *maxLogAge > 0 {
		cfg.MaxLogAge = *maxLogAge
	}
	if *dbInterval > 0 {
		cfg.DBInterval = *dbInterval
	}

	e := engine.New(engine.Options{
		Classifier:      classify.None,
		IgnoreLocalhost: cfg.IgnoreLocalhost,
	})
	e.SetPrivacyLevel(counters.PrivacyLevel(cfg.PrivacyLevel))

	var (
		st          *store.Store
		worker      *store.Worker
		redisClient interface{ Close() error }
	)
	if cfg.DBFile != "" {
		var err error
		st, err = store.Open(cfg.DBFile)
		if err != nil {
			logger.Error("statsengine: failed to open store, continuing memory-only", "error", err)
		} else {
			imported, lastIndex, err := store.Bootstrap(st, e, time.Duration(cfg.MaxLogAge)*time.Second, cfg.AAAAQueryAnalysis)
			if err != nil {
				logger.Error("statsengine: bootstrap failed, continuing memory-only", "error", err)
				st.Close()
				st = nil
			} else {
				logger.Info("statsengine: bootstrap complete", "imported", imported, "last_index", lastIndex)

				var changeNotifier store.ChangeNotifier
				if cfg.RedisAddr != "" {
					n, client := notify.New(cfg.RedisAddr, cfg.RedisChannel, logger)
					changeNotifier = n
					redisClient = client
				}

				worker = store.NewWorker(e, st, store.WorkerOptions{
					Interval:  time.Duration(cfg.DBInterval) * time.Second,
					MaxDBDays: cfg.MaxDBDays,
					Notify:    changeNotifier,
					Logger:    logger,
				})
				worker.SetLastSavedIndex(lastIndex)
				worker.Start()
			}
		}
	}

	dispatchServer := dispatch.NewServer(e, cfg, classify.None, logger)
	if st != nil {
		dispatchServer.SetStore(st)
	}

	errCh := make(chan error, 4)
	go func() { errCh <- dispatchServer.ListenAndServe(cfg.HTTPAddr) }()
	go func() { errCh <- dispatchServer.ListenLine(cfg.LineAddr) }()
	go func() { errCh <- dispatchServer.ListenBinary(cfg.BinaryAddr) }()
	if cfg.MetricsAddr != "" {
		metricsCtx, cancelMetrics := context.WithCancel(context.Background())
		defer cancelMetrics()
		go func() { errCh <- opsmetrics.ListenAndServe(metricsCtx, cfg.MetricsAddr) }()
	}

	logger.Info("statsengine: listening", "line", cfg.LineAddr, "http", cfg.HTTPAddr, "binary", cfg.BinaryAddr)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("statsengine: received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		logger.Error("statsengine: a listener exited unexpectedly", "error", err)
	}

	dispatchServer.Kill()
	if worker != nil {
		worker.Stop() // triggers a final flush cycle before returning
	}
	if st != nil {
		st.Close()
	}
	if redisClient != nil {
		redisClient.Close()
	}

	logger.Info("statsengine: shutdown complete")
}
