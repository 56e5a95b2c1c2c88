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

package buckets

import "testing"

func TestBucketForAlignsToWindowStart(t *testing.T) {
	a := New()
	idx, b := a.BucketFor(1700000000)
	want := int64(1700000000) - (int64(1700000000) % Width)
	if b.Start != want {
		t.Fatalf("Start = %d, want %d", b.Start, want)
	}
	idx2, b2 := a.BucketFor(1700000000 + 1)
	if idx != idx2 || b2.Start != want {
		t.Fatalf("same-window timestamp produced a different bucket")
	}
}

func TestBoundaryTimestampBelongsToNewBucket(t *testing.T) {
	a := New()
	_, b1 := a.BucketFor(600) // aligns to 600 itself (600 % 600 == 0)
	if b1.Start != 600 {
		t.Fatalf("Start = %d, want 600", b1.Start)
	}
	_, b0 := a.BucketFor(599)
	if b0.Start != 0 {
		t.Fatalf("Start = %d, want 0", b0.Start)
	}
	if b0.Start == b1.Start {
		t.Fatalf("boundary timestamp 600 should land in the new bucket, not the old one")
	}
}

func TestGapsAreFilledWithEmptyBuckets(t *testing.T) {
	a := New()
	a.BucketFor(0)
	a.BucketFor(1800) // three buckets away: 0, 600, 1200, 1800
	if a.Len() != 4 {
		t.Fatalf("Len() = %d, want 4 (holes filled)", a.Len())
	}
	all := a.All()
	for i := 1; i < len(all); i++ {
		if all[i].Start-all[i-1].Start != Width {
			t.Fatalf("progression broken at %d: %d -> %d", i, all[i-1].Start, all[i].Start)
		}
	}
}

func TestExtendClientsGrowsAllBucketsUniformly(t *testing.T) {
	a := New()
	a.BucketFor(0)
	a.BucketFor(600)
	a.ExtendClients(3)
	for _, b := range a.All() {
		if len(b.PerClient) != 3 {
			t.Fatalf("PerClient len = %d, want 3", len(b.PerClient))
		}
	}
	// A bucket created after extension should already have the right width.
	_, b := a.BucketFor(1200)
	if len(b.PerClient) != 3 {
		t.Fatalf("new bucket PerClient len = %d, want 3", len(b.PerClient))
	}
}

func TestRecentSinceFiltersByStart(t *testing.T) {
	a := New()
	a.BucketFor(0)
	a.BucketFor(600)
	a.BucketFor(1200)
	recent := a.RecentSince(600)
	if len(recent) != 2 {
		t.Fatalf("RecentSince(600) returned %d buckets, want 2", len(recent))
	}
}
