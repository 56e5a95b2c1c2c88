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

// Package store is the durable query log: a SQLite file opened through the
// pure-Go modernc.org/sqlite driver, with a three-table schema (queries,
// ftl, counters) and a background worker that periodically flushes the
// in-memory ring into it. It plays the role the teacher's
// persistence.Persister interface and postgres.go implementation play for
// the VSA store, adapted from idempotent-commit semantics to an
// append-and-stamp flush cycle because the query ring, unlike a VSA
// vector, is never re-applied once a row carries a DBID.
package store

import (
	"database/sql"
	"encoding/binary"
	"fmt"

	_ "modernc.org/sqlite"
)

// schemaVersion is the minimum schema this engine writes. Versions below
// minReadableVersion are rejected outright; version 1 is migrated forward
// in place the first time a process with this code opens the file.
const (
	schemaVersion      = 2
	minReadableVersion = 1
)

// Meta keys stored as 8-byte big-endian blobs in the ftl table, mirroring
// the flywall analytics store's use of a narrow key/value table for
// bookkeeping that doesn't belong in the row-oriented queries table.
const (
	metaKeyVersion               = 0
	metaKeyLastTimestamp         = 1
	metaKeyFirstCounterTimestamp = 2
)

// Counter row ids in the counters table.
const (
	counterKeyTotal   = 0
	counterKeyBlocked = 1
)

// Store wraps the SQLite handle. It has no lock of its own: the
// persistence worker serializes every access through the engine's data
// lock the same way the rest of the stats engine does, because each flush
// cycle reads and mutates the ring under that lock anyway.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the SQLite file at path, applying the same
// WAL/busy-timeout pragmas the flywall analytics store uses so a slow
// writer never starves a concurrent dashboard read, then ensures the
// schema is present and at the current version.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrStoreUnavailable, path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", ErrStoreUnavailable, path, err)
	}

	s := &Store{db: db, path: path}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying SQLite handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path reports the file path the store was opened with, used by the
// `>dbstats` diagnostic to report file size.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) ensureSchema() error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS queries (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		type      INTEGER NOT NULL,
		status    INTEGER NOT NULL,
		domain    TEXT NOT NULL,
		client    TEXT NOT NULL,
		upstream  TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_queries_timestamp ON queries(timestamp);
	CREATE TABLE IF NOT EXISTS ftl (
		id    INTEGER PRIMARY KEY,
		value BLOB NOT NULL
	);
	CREATE TABLE IF NOT EXISTS counters (
		id    INTEGER PRIMARY KEY,
		value INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("%w: create schema: %v", ErrStoreUnavailable, err)
	}

	version, ok, err := s.readMetaInt(metaKeyVersion)
	if err != nil {
		return fmt.Errorf("%w: read schema version: %v", ErrStoreUnavailable, err)
	}
	if !ok {
		// Freshly created file: stamp the current version and seed the
		// counter rows so later UPDATE ... SET value = value + ? never
		// operates on a missing row.
		return s.initializeFreshSchema()
	}
	if version < minReadableVersion {
		return ErrSchemaIncompatible
	}
	if version == 1 {
		return s.migrateV1ToV2()
	}
	return nil
}

func (s *Store) initializeFreshSchema() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	if err := s.writeMetaIntTx(tx, metaKeyVersion, schemaVersion); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR IGNORE INTO counters(id, value) VALUES (?, 0), (?, 0)`,
		counterKeyTotal, counterKeyBlocked); err != nil {
		return fmt.Errorf("%w: seed counters: %v", ErrStoreUnavailable, err)
	}
	return tx.Commit()
}

// migrateV1ToV2 adds the counters table (created unconditionally above via
// IF NOT EXISTS, so this step only has to seed rows and bump the stamp)
// for files written by a version of this engine that predated the running
// counters snapshot.
func (s *Store) migrateV1ToV2() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT OR IGNORE INTO counters(id, value) VALUES (?, 0), (?, 0)`,
		counterKeyTotal, counterKeyBlocked); err != nil {
		return fmt.Errorf("%w: migrate v1->v2 seed counters: %v", ErrStoreUnavailable, err)
	}
	if err := s.writeMetaIntTx(tx, metaKeyVersion, schemaVersion); err != nil {
		return err
	}
	return tx.Commit()
}

func encodeMetaInt(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func decodeMetaInt(b []byte) int64 {
	if len(b) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

func (s *Store) readMetaInt(key int) (value int64, ok bool, err error) {
	var raw []byte
	err = s.db.QueryRow(`SELECT value FROM ftl WHERE id = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return decodeMetaInt(raw), true, nil
}

func (s *Store) writeMetaIntTx(tx *sql.Tx, key int, value int64) error {
	_, err := tx.Exec(`INSERT INTO ftl(id, value) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET value = excluded.value`, key, encodeMetaInt(value))
	if err != nil {
		return fmt.Errorf("%w: write meta %d: %v", ErrStoreUnavailable, key, err)
	}
	return nil
}
