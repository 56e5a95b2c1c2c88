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

package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kestrelfilter/telemetry/internal/stats/counters"
	"github.com/kestrelfilter/telemetry/internal/stats/engine"
	"github.com/kestrelfilter/telemetry/internal/stats/privacy"
	"github.com/kestrelfilter/telemetry/internal/stats/ring"
)

// maxConsecutiveRowErrors bounds how many back-to-back row-insert failures
// a single cycle tolerates before it aborts and rolls back, per the
// at-most-two-tolerated rule.
const maxConsecutiveRowErrors = 3

// ChangeNotifier is told about every successful flush so a live-update
// layer (internal/notify) can push flush-committed events to subscribers
// without the persistence worker importing pub/sub machinery directly.
// A nil ChangeNotifier is a valid no-op configuration.
type ChangeNotifier interface {
	NotifyFlush(ctx context.Context, rowsWritten int, total, blocked uint64)
}

// Worker periodically flushes the engine's ring into the Store. Its
// Start/Stop/ticking shape is the teacher's Worker (commitLoop +
// final-flush-on-stop), generalized from a threshold-triggered VSA commit
// to a pure time-interval scan because the query ring has no watermark to
// re-arm against — every row not yet stamped with a DBID is eligible.
type Worker struct {
	engine *engine.Engine
	store  *Store
	notify ChangeNotifier
	logger *slog.Logger

	interval  time.Duration
	maxDBDays int // 0 disables pruning

	lastSavedIndex int64

	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	Interval  time.Duration
	MaxDBDays int
	Notify    ChangeNotifier
	Logger    *slog.Logger
}

// NewWorker wires an Engine to a Store. lastSavedIndex starts at 0; callers
// that bootstrapped the engine from an existing file should set it via
// Worker.SetLastSavedIndex to the cursor Bootstrap returns so the first
// cycle does not re-insert rows already on disk.
func NewWorker(e *engine.Engine, s *Store, opts WorkerOptions) *Worker {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Worker{
		engine:    e,
		store:     s,
		notify:    opts.Notify,
		logger:    opts.Logger,
		interval:  opts.Interval,
		maxDBDays: opts.MaxDBDays,
		stopChan:  make(chan struct{}),
	}
}

// SetLastSavedIndex moves the flush cursor forward, used once at startup
// after Bootstrap has replayed every row already in the store.
func (w *Worker) SetLastSavedIndex(index int64) {
	w.lastSavedIndex = index
}

// Start launches the background flush loop.
func (w *Worker) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.loop()
	}()
}

// Stop signals the flush loop to perform one final cycle and exit, then
// blocks until it has.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
}

func (w *Worker) loop() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.runCycle(context.Background()); err != nil {
				w.logger.Error("persistence cycle failed", "error", err)
			}
		case <-w.stopChan:
			if err := w.runCycle(context.Background()); err != nil {
				w.logger.Error("final persistence cycle failed", "error", err)
			}
			return
		}
	}
}

type pendingStamp struct {
	index int64
	rowID int64
}

// runCycle is one instance of the flush algorithm: acquire the engine's
// data lock for the whole scan-and-commit (a deliberate stop-the-world
// pause the hot path tolerates because the batch is bounded by interval),
// walk the ring from lastSavedIndex, insert every eligible row inside one
// transaction, and only stamp DBIDs into the ring after the transaction
// has actually committed — an aborted cycle must leave no trace in
// memory, matching the "no db_id stamping persists" rule.
func (w *Worker) runCycle(ctx context.Context) error {
	var (
		cycleErr     error
		pending      []pendingStamp
		deltaTotal   int64
		deltaBlocked int64
		maxTS        int64
		rowsWritten  int
	)

	w.engine.WithLock(func(snap *engine.Snapshot) {
		tx, err := w.store.db.BeginTx(ctx, nil)
		if err != nil {
			cycleErr = fmt.Errorf("%w: begin tx: %v", ErrStoreBusyRetryable, err)
			return
		}
		committing := false
		defer func() {
			if !committing {
				_ = tx.Rollback()
			}
		}()

		cursor := w.lastSavedIndex
		// firstUnresolved pins the cursor at the first row this cycle could
		// not stamp a DBID for (an isolated insert error). Once set, cursor
		// must not advance past it even though later rows in the same scan
		// succeed — otherwise lastSavedIndex would move beyond a DBID=0 row
		// and it would never be retried on a later cycle.
		firstUnresolved := int64(-1)
		consecutiveErrs := 0
		now := engine.Now()

		snap.Ring.Range(w.lastSavedIndex, func(index int64, rec *ring.Record) bool {
			if rec.DBID != 0 {
				if firstUnresolved < 0 {
					cursor = index + 1
				}
				return true
			}
			if !privacy.Persistable(counters.PrivacyLevel(rec.PrivacyLevel)) {
				if firstUnresolved < 0 {
					cursor = index + 1
				}
				return true
			}
			if !rec.Complete && rec.Timestamp > now-2 {
				return false // stop: likely nothing older remains incomplete either
			}

			domain := snap.Interner.Resolve(snap.Tables.Domains[rec.DomainID].Name)
			client := snap.Interner.Resolve(snap.Tables.Clients[rec.ClientID].IP)
			var upstream any
			if rec.UpstreamID != engine.NoUpstream {
				upstream = snap.Interner.Resolve(snap.Tables.Upstreams[rec.UpstreamID].IP)
			}

			res, err := tx.ExecContext(ctx,
				`INSERT INTO queries(timestamp, type, status, domain, client, upstream) VALUES (?, ?, ?, ?, ?, ?)`,
				rec.Timestamp, rec.Type, rec.Status, domain, client, upstream)
			if err != nil {
				consecutiveErrs++
				w.logger.Warn("persistence: row insert failed", "index", index, "error", err, "consecutive", consecutiveErrs)
				if firstUnresolved < 0 {
					firstUnresolved = index
				}
				if consecutiveErrs >= maxConsecutiveRowErrors {
					cycleErr = fmt.Errorf("persistence cycle aborted after %d consecutive row errors: %w", consecutiveErrs, err)
					return false
				}
				return true // leave cursor where it is; retry this row next cycle
			}
			consecutiveErrs = 0

			rowID, _ := res.LastInsertId()
			pending = append(pending, pendingStamp{index: index, rowID: rowID})
			deltaTotal++
			if engine.QueryStatus(rec.Status).IsBlocked() {
				deltaBlocked++
			}
			if rec.Timestamp > maxTS {
				maxTS = rec.Timestamp
			}
			if firstUnresolved < 0 {
				cursor = index + 1
			}
			return true
		})

		if cycleErr != nil {
			return
		}

		if len(pending) > 0 {
			if err := w.store.writeMetaIntTx(tx, metaKeyLastTimestamp, maxTS); err != nil {
				cycleErr = err
				return
			}
			if _, err := tx.Exec(`UPDATE counters SET value = value + ? WHERE id = ?`, deltaTotal, counterKeyTotal); err != nil {
				cycleErr = fmt.Errorf("%w: update total counter: %v", ErrStoreUnavailable, err)
				return
			}
			if _, err := tx.Exec(`UPDATE counters SET value = value + ? WHERE id = ?`, deltaBlocked, counterKeyBlocked); err != nil {
				cycleErr = fmt.Errorf("%w: update blocked counter: %v", ErrStoreUnavailable, err)
				return
			}
		}

		if w.maxDBDays > 0 {
			// A row exactly maxDBDays*86400 seconds old (timestamp == cutoff)
			// is kept; one second older (timestamp < cutoff) is pruned.
			cutoff := now - int64(w.maxDBDays)*86400
			if _, err := tx.ExecContext(ctx, `DELETE FROM queries WHERE timestamp < ?`, cutoff); err != nil {
				cycleErr = fmt.Errorf("%w: prune: %v", ErrStoreUnavailable, err)
				return
			}
		}

		if err := tx.Commit(); err != nil {
			cycleErr = fmt.Errorf("%w: commit: %v", ErrStoreBusyRetryable, err)
			return
		}
		committing = true

		for _, p := range pending {
			snap.Ring.SetDBID(p.index, p.rowID)
		}
		w.lastSavedIndex = cursor
		rowsWritten = len(pending)
	})

	if cycleErr != nil {
		return cycleErr
	}
	if rowsWritten > 0 && w.notify != nil {
		w.notify.NotifyFlush(ctx, rowsWritten, uint64(deltaTotal), uint64(deltaBlocked))
	}
	return nil
}
