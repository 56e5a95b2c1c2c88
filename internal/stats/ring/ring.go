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

// Package ring implements the query log: a monotonically indexed,
// append-only (optionally bounded) log of query records. All methods
// assume the caller already holds the engine's data lock; Ring does not
// lock itself, matching the single-lock discipline of the whole stats
// engine.
package ring

// QueryType, QueryStatus, and the other per-record enums live in the
// engine package since they are shared with entities and buckets; Ring
// only needs an opaque Record shape, so we define the minimal fields it
// must mutate in place here and let callers embed richer types via the
// Record interface-free approach: Record is a concrete struct with the
// fields every layer of the spec names.
type Record struct {
	Timestamp    int64
	Type         uint8
	Status       uint8
	DomainID     int32
	ClientID     int32
	UpstreamID   int32 // -1 means none
	BucketID     int32
	DBID         int64 // 0 = not yet persisted
	ResponseMs   uint32
	DNSSEC       uint8
	Reply        uint8
	ADFlag       bool
	Complete     bool
	PrivacyLevel uint8
}

// Ring is a logically monotonic, index-addressable log of Records. When
// MaxEntries is 0 the ring grows without bound for the process lifetime
// (the teacher's default posture); when MaxEntries > 0 it evicts the
// oldest entries once it fills, advancing base so indices stay globally
// stable even after eviction.
type Ring struct {
	entries    []Record
	base       int64 // logical index of entries[0]
	maxEntries int
}

// New creates a ring. maxEntries <= 0 means unbounded.
func New(maxEntries int) *Ring {
	return &Ring{maxEntries: maxEntries}
}

// Append adds rec to the end of the ring and returns its stable logical
// index. If the ring is bounded and full, the oldest entry is evicted
// first.
func (r *Ring) Append(rec Record) int64 {
	if r.maxEntries > 0 && len(r.entries) >= r.maxEntries {
		// Evict the oldest entry; base advances so existing indices below
		// the new base are permanently gone, matching Get's contract.
		r.entries = r.entries[1:]
		r.base++
	}
	r.entries = append(r.entries, rec)
	return r.base + int64(len(r.entries)) - 1
}

// Get returns the record at the given logical index. ok is false if the
// index was never assigned or has since been evicted.
func (r *Ring) Get(index int64) (*Record, bool) {
	pos := index - r.base
	if pos < 0 || pos >= int64(len(r.entries)) {
		return nil, false
	}
	return &r.entries[pos], true
}

// MutateComplete sets the fields that change exactly once, on answer
// arrival: ResponseMs, Reply, DNSSEC, ADFlag, and Complete=true.
func (r *Ring) MutateComplete(index int64, responseMs uint32, reply, dnssec uint8, adFlag bool) bool {
	rec, ok := r.Get(index)
	if !ok {
		return false
	}
	rec.ResponseMs = responseMs
	rec.Reply = reply
	rec.DNSSEC = dnssec
	rec.ADFlag = adFlag
	rec.Complete = true
	return true
}

// SetDBID stamps the row id assigned by the persistence worker.
func (r *Ring) SetDBID(index int64, dbID int64) bool {
	rec, ok := r.Get(index)
	if !ok {
		return false
	}
	rec.DBID = dbID
	return true
}

// Len reports how many live (non-evicted) entries the ring currently
// holds.
func (r *Ring) Len() int {
	return len(r.entries)
}

// Base reports the logical index of the oldest live entry (0 if nothing
// has ever been evicted).
func (r *Ring) Base() int64 {
	return r.base
}

// NextIndex reports the logical index Append would assign next, useful
// for "scan everything new since X" cursors in the persistence worker.
func (r *Ring) NextIndex() int64 {
	return r.base + int64(len(r.entries))
}

// Range calls f for every live record from start (inclusive) to the
// current end, in index order. f returning false stops iteration early.
func (r *Ring) Range(start int64, f func(index int64, rec *Record) bool) {
	if start < r.base {
		start = r.base
	}
	for i := start; i < r.NextIndex(); i++ {
		rec, ok := r.Get(i)
		if !ok {
			continue
		}
		if !f(i, rec) {
			return
		}
	}
}
