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

// Package privacy redacts domain/client fields at read time according to
// the privacy level recorded on each query at ingest. It is a pure
// function library: nothing here reads or writes global state, so
// lowering the privacy level later can never retroactively unhide a past
// query — the level travels with the record, not with the clock.
package privacy

import "github.com/kestrelfilter/telemetry/internal/stats/counters"

// HiddenDomain and HiddenClient are the sentinels substituted for
// redacted fields.
const (
	HiddenDomain = "hidden"
	HiddenClient = "0.0.0.0"
)

// ProjectDomain returns domain unless level hides domains, in which case
// it returns HiddenDomain.
func ProjectDomain(level counters.PrivacyLevel, domain string) string {
	if level >= counters.PrivacyHideDomains {
		return HiddenDomain
	}
	return domain
}

// ProjectClient returns client unless level hides clients, in which case
// it returns HiddenClient.
func ProjectClient(level counters.PrivacyLevel, client string) string {
	if level >= counters.PrivacyHideDomainsClients {
		return HiddenClient
	}
	return client
}

// Project applies both projections at once, the common case for a single
// query-history row.
func Project(level counters.PrivacyLevel, domain, client string) (string, string) {
	return ProjectDomain(level, domain), ProjectClient(level, client)
}

// HistoryVisible reports whether a query recorded at level should appear
// in query-history reads at all. Maximum privacy suppresses history
// entirely, regardless of how it is projected.
func HistoryVisible(level counters.PrivacyLevel) bool {
	return level < counters.PrivacyMaximum
}

// DomainTopListVisible reports whether a domain-keyed top-list should
// include entries at all under level (it is always computed, but names
// are omitted once domains are hidden — callers that can't show a name
// should skip the row rather than show the sentinel in a ranked list).
func DomainTopListVisible(level counters.PrivacyLevel) bool {
	return level < counters.PrivacyHideDomains
}

// ClientTopListVisible reports whether client-keyed top-lists and
// client-over-time views should be shown at all.
func ClientTopListVisible(level counters.PrivacyLevel) bool {
	return level < counters.PrivacyHideDomainsClients
}

// Persistable reports whether a query recorded at level may be written to
// the durable store. Maximum privacy is not persisted, ever; nostats
// discards new records for persistence too, per the projection table.
func Persistable(level counters.PrivacyLevel) bool {
	return level < counters.PrivacyNoStats
}
