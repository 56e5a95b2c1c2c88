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

package privacy

import (
	"testing"

	"github.com/kestrelfilter/telemetry/internal/stats/counters"
)

func TestProjectDomainHiddenAtOrAboveHideDomains(t *testing.T) {
	if got := ProjectDomain(counters.PrivacyHideDomains, "example.com"); got != HiddenDomain {
		t.Fatalf("ProjectDomain = %q, want %q", got, HiddenDomain)
	}
	if got := ProjectDomain(counters.PrivacyNone, "example.com"); got != "example.com" {
		t.Fatalf("ProjectDomain(none) = %q, want unredacted", got)
	}
}

func TestProjectClientHiddenOnlyAtHideDomainsClients(t *testing.T) {
	if got := ProjectClient(counters.PrivacyHideDomains, "10.0.0.1"); got != "10.0.0.1" {
		t.Fatalf("client should not be hidden at HideDomains level alone, got %q", got)
	}
	if got := ProjectClient(counters.PrivacyHideDomainsClients, "10.0.0.1"); got != HiddenClient {
		t.Fatalf("ProjectClient = %q, want %q", got, HiddenClient)
	}
}

func TestHistorySuppressedOnlyAtMaximum(t *testing.T) {
	if !HistoryVisible(counters.PrivacyNoStats) {
		t.Fatalf("history should remain visible at nostats")
	}
	if HistoryVisible(counters.PrivacyMaximum) {
		t.Fatalf("history must be suppressed at maximum")
	}
}

func TestPersistableExcludesNoStatsAndMaximum(t *testing.T) {
	cases := []struct {
		level counters.PrivacyLevel
		want  bool
	}{
		{counters.PrivacyNone, true},
		{counters.PrivacyHideDomains, true},
		{counters.PrivacyHideDomainsClients, true},
		{counters.PrivacyNoStats, false},
		{counters.PrivacyMaximum, false},
	}
	for _, c := range cases {
		if got := Persistable(c.level); got != c.want {
			t.Fatalf("Persistable(%v) = %v, want %v", c.level, got, c.want)
		}
	}
}
