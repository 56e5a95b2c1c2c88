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

// Package counters holds the process-wide totals and mutable status flags
// of the stats engine. Like its siblings in internal/stats, it carries no
// lock of its own.
package counters

// PrivacyLevel is the ordinal redaction setting captured per query at
// ingest time (see internal/stats/privacy).
type PrivacyLevel uint8

const (
	PrivacyNone PrivacyLevel = iota
	PrivacyHideDomains
	PrivacyHideDomainsClients
	PrivacyNoStats
	PrivacyMaximum
)

// Counters is the single structure of process-wide, monotonically
// non-decreasing totals, plus the mutable blocking flag and privacy
// level.
type Counters struct {
	Total     uint64
	Blocked   uint64
	Cached    uint64
	Forwarded uint64
	Unknown   uint64

	DomainCount   int
	ClientCount   int
	UpstreamCount int

	BlockingEnabled bool
	PrivacyLevel    PrivacyLevel
}

// New returns Counters with blocking enabled and privacy level none, the
// engine's default boot state.
func New() *Counters {
	return &Counters{BlockingEnabled: true, PrivacyLevel: PrivacyNone}
}

// RecordStatus applies the exclusive status-update rule from the ingest
// spec: every query increments Total exactly once, plus at most one of
// Blocked/Forwarded/Cached/Unknown depending on status classification
// (blocked statuses also count toward Total but not toward any other
// bucket; a call with every flag false counts toward Total only).
func (c *Counters) RecordStatus(blocked, forwarded, cached, unknown bool) {
	c.Total++
	switch {
	case blocked:
		c.Blocked++
	case forwarded:
		c.Forwarded++
	case cached:
		c.Cached++
	case unknown:
		c.Unknown++
	}
}
