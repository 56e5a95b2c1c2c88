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
	"testing"

	"github.com/kestrelfilter/telemetry/internal/config"
	"github.com/kestrelfilter/telemetry/internal/stats/engine"
)

func seedEngine(t *testing.T) *engine.Engine {
	t.Helper()
	e := engine.New(engine.Options{})
	e.OnNewQuery(engine.NewQueryInput{Timestamp: 1, Type: engine.TypeA, Status: engine.StatusForwarded, Domain: "good.test", Client: "10.0.0.1"})
	e.OnNewQuery(engine.NewQueryInput{Timestamp: 2, Type: engine.TypeA, Status: engine.StatusGravity, Domain: "ads.test", Client: "10.0.0.1"})
	e.OnNewQuery(engine.NewQueryInput{Timestamp: 3, Type: engine.TypeA, Status: engine.StatusGravity, Domain: "ads.test", Client: "10.0.0.2"})
	e.OnNewQuery(engine.NewQueryInput{Timestamp: 4, Type: engine.TypeA, Status: engine.StatusCached, Domain: "good.test", Client: "10.0.0.2"})
	return e
}

func TestTopAdsRanksByBlockedCount(t *testing.T) {
	e := seedEngine(t)
	e.WithLock(func(snap *engine.Snapshot) {
		top := TopAds(snap, 0, false, nil)
		if len(top) == 0 || top[0].Name != "ads.test" || top[0].Value != 2 {
			t.Fatalf("TopAds = %+v, want ads.test first with value 2", top)
		}
	})
}

func TestTopDomainsExcludesConfiguredList(t *testing.T) {
	e := seedEngine(t)
	e.WithLock(func(snap *engine.Snapshot) {
		top := TopDomains(snap, 0, false, []string{"good.test"})
		for _, entry := range top {
			if entry.Name == "good.test" {
				t.Fatalf("excluded domain good.test leaked into TopDomains: %+v", top)
			}
		}
	})
}

func TestTopClientsWithZeroIncludesUntouchedClients(t *testing.T) {
	e := engine.New(engine.Options{})
	e.OnNewQuery(engine.NewQueryInput{Timestamp: 1, Type: engine.TypeA, Status: engine.StatusForwarded, Domain: "a.test", Client: "10.0.0.1"})
	e.WithLock(func(snap *engine.Snapshot) {
		withZero := TopClients(snap, 0, false, true, true, nil)
		if len(withZero) != 1 || withZero[0].Value != 0 {
			t.Fatalf("TopClients(withZero=true) = %+v, want one zero-blocked client", withZero)
		}
		noZero := TopClients(snap, 0, false, false, true, nil)
		if len(noZero) != 0 {
			t.Fatalf("TopClients(withZero=false) = %+v, want no positive-blocked clients", noZero)
		}
	})
}

func TestForwardDestEmitsSyntheticRowsFirst(t *testing.T) {
	e := seedEngine(t)
	e.WithLock(func(snap *engine.Snapshot) {
		rows := ForwardDest(snap, 8, true)
		if len(rows) < 2 || rows[0].Name != "blocklist" || rows[1].Name != "cache" {
			t.Fatalf("ForwardDest = %+v, want blocklist/cache first", rows)
		}
	})
}

func TestGetAllQueriesAppliesBlockedOnlyFilter(t *testing.T) {
	e := seedEngine(t)
	e.WithLock(func(snap *engine.Snapshot) {
		rows := GetAllQueries(snap, HistoryFilter{}, 0, config.ShowBlockedOnly)
		if len(rows) != 2 {
			t.Fatalf("len(rows) = %d, want 2 blocked rows", len(rows))
		}
		for _, r := range rows {
			if !r.Status.IsBlocked() {
				t.Fatalf("non-blocked row leaked through blockedonly filter: %+v", r)
			}
		}
	})
}

func TestGetAllQueriesShowNothingReturnsEmpty(t *testing.T) {
	e := seedEngine(t)
	e.WithLock(func(snap *engine.Snapshot) {
		rows := GetAllQueries(snap, HistoryFilter{}, 0, config.ShowNothing)
		if len(rows) != 0 {
			t.Fatalf("len(rows) = %d, want 0 under API_QUERY_LOG_SHOW=nothing", len(rows))
		}
	})
}

func TestGetAllQueriesHonoursNLimit(t *testing.T) {
	e := seedEngine(t)
	e.WithLock(func(snap *engine.Snapshot) {
		rows := GetAllQueries(snap, HistoryFilter{}, 2, config.ShowAll)
		if len(rows) != 2 {
			t.Fatalf("len(rows) = %d, want 2", len(rows))
		}
	})
}

func TestOverTimeBucketsAreSixHundredSecondsApart(t *testing.T) {
	e := engine.New(engine.Options{})
	for i := 0; i < 5; i++ {
		e.OnNewQuery(engine.NewQueryInput{Timestamp: 1700000000 + int64(i), Type: engine.TypeA, Status: engine.StatusForwarded, Domain: "a.test", Client: "10.0.0.1"})
	}
	for i := 0; i < 5; i++ {
		e.OnNewQuery(engine.NewQueryInput{Timestamp: 1700000600 + int64(i), Type: engine.TypeA, Status: engine.StatusGravity, Domain: "b.test", Client: "10.0.0.1"})
	}
	e.WithLock(func(snap *engine.Snapshot) {
		rows := OverTime(snap)
		if len(rows) != 2 {
			t.Fatalf("len(rows) = %d, want 2", len(rows))
		}
		if rows[1].Timestamp-rows[0].Timestamp != 600 {
			t.Fatalf("bucket gap = %d, want 600", rows[1].Timestamp-rows[0].Timestamp)
		}
		if rows[0].Total != 5 || rows[1].Total != 5 || rows[1].Blocked != 5 {
			t.Fatalf("rows = %+v, want 5 total each and 5 blocked in the second bucket", rows)
		}
	})
}

func TestQueryTypeTotalsSumsAcrossBuckets(t *testing.T) {
	e := seedEngine(t)
	e.WithLock(func(snap *engine.Snapshot) {
		totals := QueryTypeTotals(snap)
		if totals[engine.TypeA] != 4 {
			t.Fatalf("totals[TypeA] = %d, want 4", totals[engine.TypeA])
		}
	})
}

func TestForwardNamesListsKnownUpstreams(t *testing.T) {
	e := engine.New(engine.Options{})
	idx, _ := e.OnNewQuery(engine.NewQueryInput{Timestamp: 1, Type: engine.TypeA, Status: engine.StatusForwarded, Domain: "a.test", Client: "10.0.0.1"})
	e.OnUpstreamSent(idx, "1.1.1.1", "")
	e.WithLock(func(snap *engine.Snapshot) {
		names := ForwardNames(snap)
		if len(names) != 1 || names[0].IP != "1.1.1.1" || names[0].Hostname != "1.1.1.1" {
			t.Fatalf("names = %+v, want one unresolved 1.1.1.1 entry", names)
		}
	})
}
