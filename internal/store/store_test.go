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
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/kestrelfilter/telemetry/internal/stats/counters"
	"github.com/kestrelfilter/telemetry/internal/stats/engine"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "telemetry.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesSchemaAndStampsVersion(t *testing.T) {
	s := openTestStore(t)
	v, ok, err := s.readMetaInt(metaKeyVersion)
	if err != nil {
		t.Fatalf("readMetaInt: %v", err)
	}
	if !ok || v != schemaVersion {
		t.Fatalf("version = %d, ok=%v, want %d", v, ok, schemaVersion)
	}

	var total, blocked int64
	if err := s.db.QueryRow(`SELECT value FROM counters WHERE id = ?`, counterKeyTotal).Scan(&total); err != nil {
		t.Fatalf("query total counter: %v", err)
	}
	if err := s.db.QueryRow(`SELECT value FROM counters WHERE id = ?`, counterKeyBlocked).Scan(&blocked); err != nil {
		t.Fatalf("query blocked counter: %v", err)
	}
	if total != 0 || blocked != 0 {
		t.Fatalf("fresh counters = %d/%d, want 0/0", total, blocked)
	}
}

func TestReopenAnExistingDatabaseDoesNotReseedCounters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry.db")
	s1, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s1.db.Exec(`UPDATE counters SET value = 7 WHERE id = ?`, counterKeyTotal); err != nil {
		t.Fatalf("seed: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	var total int64
	if err := s2.db.QueryRow(`SELECT value FROM counters WHERE id = ?`, counterKeyTotal).Scan(&total); err != nil {
		t.Fatalf("query: %v", err)
	}
	if total != 7 {
		t.Fatalf("total = %d, want 7 (reopen must not reseed)", total)
	}
}

func TestSchemaIncompatibleVersionIsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.db.Exec(`UPDATE ftl SET value = ? WHERE id = ?`, encodeMetaInt(0), metaKeyVersion); err != nil {
		t.Fatalf("downgrade version: %v", err)
	}
	s.Close()

	_, err = Open(path)
	if !errors.Is(err, ErrSchemaIncompatible) {
		t.Fatalf("Open with version 0 = %v, want ErrSchemaIncompatible", err)
	}
}

func newTestEngineWithQueries(t *testing.T) (*engine.Engine, int64) {
	t.Helper()
	e := engine.New(engine.Options{})
	idx, ok := e.OnNewQuery(engine.NewQueryInput{
		Timestamp: 1700000000,
		Type:      engine.TypeA,
		Status:    engine.StatusForwarded,
		Domain:    "example.com",
		Client:    "10.0.0.1",
	})
	if !ok {
		t.Fatalf("OnNewQuery failed")
	}
	if !e.OnUpstreamSent(idx, "8.8.8.8", "") {
		t.Fatalf("OnUpstreamSent failed")
	}
	if !e.OnReply(idx, 5, engine.ReplyIP, engine.DNSSECSecure, false, false) {
		t.Fatalf("OnReply failed")
	}
	return e, idx
}

func TestWorkerFlushesCompleteRecordAndStampsDBID(t *testing.T) {
	e, idx := newTestEngineWithQueries(t)
	s := openTestStore(t)
	w := NewWorker(e, s, WorkerOptions{Interval: time.Hour})

	if err := w.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}

	e.WithLock(func(snap *engine.Snapshot) {
		rec, ok := snap.Ring.Get(idx)
		if !ok {
			t.Fatalf("record missing from ring")
		}
		if rec.DBID == 0 {
			t.Fatalf("record was not stamped with a DBID after a successful flush")
		}
	})

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM queries`).Scan(&count); err != nil {
		t.Fatalf("count queries: %v", err)
	}
	if count != 1 {
		t.Fatalf("queries row count = %d, want 1", count)
	}

	var total int64
	if err := s.db.QueryRow(`SELECT value FROM counters WHERE id = ?`, counterKeyTotal).Scan(&total); err != nil {
		t.Fatalf("query total: %v", err)
	}
	if total != 1 {
		t.Fatalf("counters.total = %d, want 1", total)
	}
}

func TestWorkerDoesNotReflushAnAlreadyStampedRecord(t *testing.T) {
	e, _ := newTestEngineWithQueries(t)
	s := openTestStore(t)
	w := NewWorker(e, s, WorkerOptions{Interval: time.Hour})

	if err := w.runCycle(context.Background()); err != nil {
		t.Fatalf("first runCycle: %v", err)
	}
	if err := w.runCycle(context.Background()); err != nil {
		t.Fatalf("second runCycle: %v", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM queries`).Scan(&count); err != nil {
		t.Fatalf("count queries: %v", err)
	}
	if count != 1 {
		t.Fatalf("queries row count after two cycles = %d, want 1 (no duplicate insert)", count)
	}
}

func TestWorkerSkipsPrivacyMaximumRecords(t *testing.T) {
	e := engine.New(engine.Options{})
	e.OnNewQuery(engine.NewQueryInput{
		Timestamp:    1700000000,
		Type:         engine.TypeA,
		Status:       engine.StatusForwarded,
		Domain:       "private.test",
		Client:       "10.0.0.2",
		PrivacyLevel: counters.PrivacyMaximum,
	})
	s := openTestStore(t)
	w := NewWorker(e, s, WorkerOptions{Interval: time.Hour})

	if err := w.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM queries`).Scan(&count); err != nil {
		t.Fatalf("count queries: %v", err)
	}
	if count != 0 {
		t.Fatalf("queries row count = %d, want 0 (privacy maximum rows are never persisted)", count)
	}
}

func TestWorkerSkipsPrivacyNoStatsRecords(t *testing.T) {
	e := engine.New(engine.Options{})
	e.OnNewQuery(engine.NewQueryInput{
		Timestamp:    1700000000,
		Type:         engine.TypeA,
		Status:       engine.StatusForwarded,
		Domain:       "private.test",
		Client:       "10.0.0.2",
		PrivacyLevel: counters.PrivacyNoStats,
	})
	s := openTestStore(t)
	w := NewWorker(e, s, WorkerOptions{Interval: time.Hour})

	if err := w.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM queries`).Scan(&count); err != nil {
		t.Fatalf("count queries: %v", err)
	}
	if count != 0 {
		t.Fatalf("queries row count = %d, want 0 (nostats rows are discarded for persistence, per §4.F)", count)
	}
}

func TestWorkerStopsScanAtIncompleteYoungRecord(t *testing.T) {
	e := engine.New(engine.Options{})
	restore := engine.Now
	engine.Now = func() int64 { return 1700000000 }
	defer func() { engine.Now = restore }()

	e.OnNewQuery(engine.NewQueryInput{
		Timestamp: 1700000000,
		Type:      engine.TypeA,
		Status:    engine.StatusForwarded, // awaits a reply; still incomplete and fresh
		Domain:    "pending.test",
		Client:    "10.0.0.3",
	})

	s := openTestStore(t)
	w := NewWorker(e, s, WorkerOptions{Interval: time.Hour})
	if err := w.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM queries`).Scan(&count); err != nil {
		t.Fatalf("count queries: %v", err)
	}
	if count != 0 {
		t.Fatalf("queries row count = %d, want 0 (incomplete young record must not be persisted yet)", count)
	}
}

func TestBootstrapReplaysPersistedRowsAndAdvancesCursor(t *testing.T) {
	e, _ := newTestEngineWithQueries(t)
	s := openTestStore(t)
	w := NewWorker(e, s, WorkerOptions{Interval: time.Hour})
	if err := w.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}

	e2 := engine.New(engine.Options{})
	imported, lastIndex, err := Bootstrap(s, e2, 0, false)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if imported != 1 {
		t.Fatalf("imported = %d, want 1", imported)
	}
	if lastIndex != 1 {
		t.Fatalf("lastIndex = %d, want 1", lastIndex)
	}
	e2.WithLock(func(snap *engine.Snapshot) {
		rec, ok := snap.Ring.Get(0)
		if !ok || !rec.Complete || rec.DBID == 0 {
			t.Fatalf("bootstrapped record not complete/stamped: %+v ok=%v", rec, ok)
		}
	})
}
