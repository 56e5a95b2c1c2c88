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
	"strings"
	"testing"

	"github.com/kestrelfilter/telemetry/internal/classify"
	"github.com/kestrelfilter/telemetry/internal/config"
)

func TestParseLineRequestExtractsModifiers(t *testing.T) {
	req := parseLineRequest(">top-clients withzero blocked asc (5)\n")
	if req.command != "top-clients" {
		t.Fatalf("command = %q, want top-clients", req.command)
	}
	if !req.withZero || !req.blocked || !req.asc {
		t.Fatalf("modifiers = %+v, want all three set", req)
	}
	if req.n != 5 {
		t.Fatalf("n = %d, want 5", req.n)
	}
}

func TestParseLineRequestDefaultsWhenNoModifiers(t *testing.T) {
	req := parseLineRequest(">stats\n")
	if req.command != "stats" {
		t.Fatalf("command = %q, want stats", req.command)
	}
	if req.n != 0 || req.asc || req.withZero || req.blocked || req.unsorted {
		t.Fatalf("req = %+v, want all modifiers zero", req)
	}
}

func TestDispatchLineUnknownCommandReportsError(t *testing.T) {
	srv := NewServer(seedEngine(t), config.Default(), classify.None, nil)
	resp := srv.dispatchLine(lineRequest{command: "bogus"}, "")
	if resp != "unknown command: bogus\n" {
		t.Fatalf("resp = %q, want unknown command message", resp)
	}
}

func TestDispatchLineStatsReportsCounters(t *testing.T) {
	srv := NewServer(seedEngine(t), config.Default(), classify.None, nil)
	resp := srv.dispatchLine(lineRequest{command: "stats"}, "")
	if !containsAll(resp, "dns_queries_today 4", "ads_blocked_today 2", "unique_domains 2", "queries_forwarded 1", "queries_cached 1") {
		t.Fatalf("resp = %q, want queries/ads/domains/forwarded/cached counters", resp)
	}
}

func TestDispatchLineDBStatsReportsMinusOneWithoutStore(t *testing.T) {
	srv := NewServer(seedEngine(t), config.Default(), classify.None, nil)
	resp := srv.dispatchLine(lineRequest{command: "dbstats"}, "")
	if resp != "filesize -1\n" {
		t.Fatalf("resp = %q, want filesize -1 when no store is attached", resp)
	}
}

func TestDispatchLineClientIDResolvesPeer(t *testing.T) {
	srv := NewServer(seedEngine(t), config.Default(), classify.None, nil)
	resp := srv.dispatchLine(lineRequest{command: "clientID"}, "10.0.0.9")
	if !strings.HasPrefix(resp, "clientID ") {
		t.Fatalf("resp = %q, want a clientID line", resp)
	}
	again := srv.dispatchLine(lineRequest{command: "clientID"}, "10.0.0.9")
	if resp != again {
		t.Fatalf("clientID changed across calls for the same peer: %q vs %q", resp, again)
	}
}

func TestDispatchLineOverTimeReportsBucketRows(t *testing.T) {
	srv := NewServer(seedEngine(t), config.Default(), classify.None, nil)
	resp := srv.dispatchLine(lineRequest{command: "overTime"}, "")
	if got := strings.Count(resp, "\n"); got != 1 {
		t.Fatalf("line count = %d, want 1 (all seeded queries share one bucket)", got)
	}
}

func TestDispatchLineTopDomainsHonoursCount(t *testing.T) {
	srv := NewServer(seedEngine(t), config.Default(), classify.None, nil)
	resp := srv.dispatchLine(lineRequest{command: "top-domains", n: 1}, "")
	if got := strings.Count(resp, "\n"); got != 1 {
		t.Fatalf("line count = %d, want 1", got)
	}
}

func containsAll(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
