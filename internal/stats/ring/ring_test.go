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

package ring

import "testing"

func TestAppendReturnsStableIncreasingIndices(t *testing.T) {
	r := New(0)
	i0 := r.Append(Record{Timestamp: 1})
	i1 := r.Append(Record{Timestamp: 2})
	if i0 != 0 || i1 != 1 {
		t.Fatalf("indices = %d,%d want 0,1", i0, i1)
	}
	rec, ok := r.Get(i0)
	if !ok || rec.Timestamp != 1 {
		t.Fatalf("Get(0) = %+v, %v", rec, ok)
	}
}

func TestMutateCompleteSetsReplyFieldsPlusFlag(t *testing.T) {
	r := New(0)
	idx := r.Append(Record{Timestamp: 10, Complete: false})
	if ok := r.MutateComplete(idx, 42, 1, 2, true); !ok {
		t.Fatalf("MutateComplete returned false")
	}
	rec, _ := r.Get(idx)
	if !rec.Complete || rec.ResponseMs != 42 || rec.Reply != 1 || rec.DNSSEC != 2 || !rec.ADFlag {
		t.Fatalf("unexpected record after mutate: %+v", rec)
	}
	if rec.Timestamp != 10 {
		t.Fatalf("Timestamp mutated unexpectedly: %d", rec.Timestamp)
	}
}

func TestBoundedRingEvictsOldestAndAdvancesBase(t *testing.T) {
	r := New(2)
	r.Append(Record{Timestamp: 1})
	r.Append(Record{Timestamp: 2})
	r.Append(Record{Timestamp: 3}) // evicts index 0

	if _, ok := r.Get(0); ok {
		t.Fatalf("Get(0) should report evicted")
	}
	rec, ok := r.Get(1)
	if !ok || rec.Timestamp != 2 {
		t.Fatalf("Get(1) = %+v, %v, want Timestamp=2", rec, ok)
	}
	if r.Base() != 1 {
		t.Fatalf("Base() = %d, want 1", r.Base())
	}
}

func TestRangeSkipsEvictedAndStopsEarly(t *testing.T) {
	r := New(0)
	for i := int64(0); i < 5; i++ {
		r.Append(Record{Timestamp: i})
	}
	var seen []int64
	r.Range(0, func(index int64, rec *Record) bool {
		seen = append(seen, rec.Timestamp)
		return rec.Timestamp < 2
	})
	if len(seen) != 3 || seen[2] != 2 {
		t.Fatalf("seen = %v, want [0 1 2]", seen)
	}
}
