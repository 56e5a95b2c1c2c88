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

// Package buckets implements the fixed-width ten-minute time-bucket
// accumulator. Like ring and entities, it is not internally synchronized;
// the engine's single data lock guards every call.
package buckets

// Width is the bucket width in seconds. A bucket centred by convention at
// Start+Width/2.
const Width = 600

// NumTypes is the number of distinct query types tracked per bucket
// (A, AAAA, ANY, SRV, SOA, PTR, TXT, UNKN).
const NumTypes = 8

// Bucket is one ten-minute aggregation window.
type Bucket struct {
	Start     int64
	Total     uint32
	Blocked   uint32
	Cached    uint32
	PerType   [NumTypes]uint32
	PerClient []uint32
}

// Accumulator holds an ordered, gapless sequence of Buckets. Start values
// form an arithmetic progression with common difference Width; holes
// between sightings are filled with empty buckets so the invariant always
// holds.
type Accumulator struct {
	buckets    []Bucket
	startIndex map[int64]int // bucket start timestamp -> index in buckets
	numClients int
}

// New creates an empty accumulator.
func New() *Accumulator {
	return &Accumulator{startIndex: make(map[int64]int, 256)}
}

// alignedStart returns the start of the bucket containing ts.
func alignedStart(ts int64) int64 {
	return ts - (ts % Width)
}

// BucketFor returns the index and pointer to the bucket containing ts,
// creating it (and any intermediate empty buckets) if necessary. A
// timestamp exactly on a bucket boundary belongs to the bucket that
// starts there, not the previous one.
func (a *Accumulator) BucketFor(ts int64) (int, *Bucket) {
	start := alignedStart(ts)
	if idx, ok := a.startIndex[start]; ok {
		return idx, &a.buckets[idx]
	}

	if len(a.buckets) == 0 {
		a.appendBucket(start)
		return 0, &a.buckets[0]
	}

	last := a.buckets[len(a.buckets)-1].Start
	if start > last {
		// Fill every intermediate empty bucket up to and including start.
		for s := last + Width; s <= start; s += Width {
			a.appendBucket(s)
		}
		idx := a.startIndex[start]
		return idx, &a.buckets[idx]
	}

	first := a.buckets[0].Start
	if start < first {
		// Prepend empty buckets back to start; rare (out-of-order/backfill
		// ingestion during bootstrap) but must preserve the progression.
		var prefix []Bucket
		for s := start; s < first; s += Width {
			prefix = append(prefix, a.newBucket(s))
		}
		a.buckets = append(prefix, a.buckets...)
		a.rebuildIndex()
		idx := a.startIndex[start]
		return idx, &a.buckets[idx]
	}

	// Shouldn't be reachable: start is between first and last but missing
	// from the index means the progression was violated upstream.
	a.appendBucket(start)
	idx := a.startIndex[start]
	return idx, &a.buckets[idx]
}

func (a *Accumulator) newBucket(start int64) Bucket {
	return Bucket{Start: start, PerClient: make([]uint32, a.numClients)}
}

func (a *Accumulator) appendBucket(start int64) {
	a.startIndex[start] = len(a.buckets)
	a.buckets = append(a.buckets, a.newBucket(start))
}

func (a *Accumulator) rebuildIndex() {
	for i := range a.buckets {
		a.startIndex[a.buckets[i].Start] = i
	}
}

// ExtendClients grows every existing bucket's PerClient vector to length n
// and remembers n so future buckets are created at that width. n must only
// ever grow (the client table is append-only).
func (a *Accumulator) ExtendClients(n int) {
	if n <= a.numClients {
		return
	}
	a.numClients = n
	for i := range a.buckets {
		if len(a.buckets[i].PerClient) < n {
			grown := make([]uint32, n)
			copy(grown, a.buckets[i].PerClient)
			a.buckets[i].PerClient = grown
		}
	}
}

// All returns every bucket in chronological order. Callers must not
// retain the slice across subsequent mutating calls.
func (a *Accumulator) All() []Bucket {
	return a.buckets
}

// RecentSince returns buckets whose Start is >= cutoff, in chronological
// order. This is the timestamp filter used by "recent" aggregations;
// buckets older than the retention window remain in All() but are
// excluded here.
func (a *Accumulator) RecentSince(cutoff int64) []Bucket {
	out := make([]Bucket, 0, len(a.buckets))
	for _, b := range a.buckets {
		if b.Start >= cutoff {
			out = append(out, b)
		}
	}
	return out
}

// Len reports the number of buckets tracked, including empty filler
// buckets.
func (a *Accumulator) Len() int {
	return len(a.buckets)
}
