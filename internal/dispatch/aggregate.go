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

// Package dispatch parses line, HTTP, and length-tagged binary requests and
// routes them to one shared set of aggregation algorithms
// (aggregate.go), rendered by each framing's own serializer. It is the
// generalisation of the teacher's api.Server: one ServeMux-shaped surface
// grows into three framings because the spec's dashboards speak all
// three, but the aggregation math underneath is written exactly once.
package dispatch

import (
	"sort"
	"strings"

	"github.com/kestrelfilter/telemetry/internal/config"
	"github.com/kestrelfilter/telemetry/internal/stats/buckets"
	"github.com/kestrelfilter/telemetry/internal/stats/counters"
	"github.com/kestrelfilter/telemetry/internal/stats/engine"
	"github.com/kestrelfilter/telemetry/internal/stats/privacy"
	"github.com/kestrelfilter/telemetry/internal/stats/ring"
)

// TopEntry is one ranked row of a top-domains/top-ads/top-clients response.
type TopEntry struct {
	Name  string
	Value uint32
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}

// topEntries is the shared ranking routine behind TopDomains, TopAds, and
// TopClients: copy {name, key} pairs, optionally drop non-positive keys,
// skip excluded names, sort by key (ties broken by ascending original
// index, which falling back to a stable sort over the as-built slice
// already gives us), then take the first n.
func topEntries(names []string, keys []uint32, n int, asc, withZero bool, exclude []string) []TopEntry {
	entries := make([]TopEntry, 0, len(names))
	for i, name := range names {
		if !withZero && keys[i] == 0 {
			continue
		}
		if containsFold(exclude, name) {
			continue
		}
		entries = append(entries, TopEntry{Name: name, Value: keys[i]})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if asc {
			return entries[i].Value < entries[j].Value
		}
		return entries[i].Value > entries[j].Value
	})
	if n > 0 && n < len(entries) {
		entries = entries[:n]
	}
	return entries
}

// TopDomains ranks domains by total-blocked (the permitted count), hiding
// domain names entirely once the snapshot's privacy level hides domains
// (the projector says the row doesn't even get a name, so the whole
// top-list comes back empty per DomainTopListVisible).
func TopDomains(snap *engine.Snapshot, n int, asc bool, exclude []string) []TopEntry {
	level := snap.Counters.PrivacyLevel
	if !privacy.DomainTopListVisible(level) {
		return nil
	}
	names := make([]string, len(snap.Tables.Domains))
	keys := make([]uint32, len(snap.Tables.Domains))
	for i, d := range snap.Tables.Domains {
		names[i] = snap.Interner.Resolve(d.Name)
		keys[i] = d.Total - d.Blocked
	}
	return topEntries(names, keys, n, asc, false, exclude)
}

// TopAds ranks domains by blocked count, same visibility rule as TopDomains.
func TopAds(snap *engine.Snapshot, n int, asc bool, exclude []string) []TopEntry {
	level := snap.Counters.PrivacyLevel
	if !privacy.DomainTopListVisible(level) {
		return nil
	}
	names := make([]string, len(snap.Tables.Domains))
	keys := make([]uint32, len(snap.Tables.Domains))
	for i, d := range snap.Tables.Domains {
		names[i] = snap.Interner.Resolve(d.Name)
		keys[i] = d.Blocked
	}
	return topEntries(names, keys, n, asc, false, exclude)
}

// TopClients ranks clients by blocked count (byBlocked=true) or total count
// otherwise. withZero disables the positive-key filter.
func TopClients(snap *engine.Snapshot, n int, asc, withZero, byBlocked bool, exclude []string) []TopEntry {
	level := snap.Counters.PrivacyLevel
	if !privacy.ClientTopListVisible(level) {
		return nil
	}
	names := make([]string, len(snap.Tables.Clients))
	keys := make([]uint32, len(snap.Tables.Clients))
	for i, c := range snap.Tables.Clients {
		names[i] = snap.Interner.Resolve(c.IP)
		if byBlocked {
			keys[i] = c.Blocked
		} else {
			keys[i] = c.Total
		}
	}
	return topEntries(names, keys, n, asc, withZero, exclude)
}

// OverTimeEntry is one ten-minute bucket's worth of the rolling summary,
// the row shape `>overTime` and `/stats/overTime/graph` both emit.
type OverTimeEntry struct {
	Timestamp int64
	Total     uint32
	Blocked   uint32
	Cached    uint32
}

// OverTime reports every tracked bucket in chronological order. Bucket
// timestamps are Start values, so consecutive rows are exactly Width (600)
// seconds apart per the bucket-start arithmetic-progression invariant;
// nothing here filters by privacy level since the row carries only
// aggregate counts, never a domain or client name.
func OverTime(snap *engine.Snapshot) []OverTimeEntry {
	bs := snap.Buckets.All()
	out := make([]OverTimeEntry, len(bs))
	for i, b := range bs {
		out[i] = OverTimeEntry{Timestamp: b.Start, Total: b.Total, Blocked: b.Blocked, Cached: b.Cached}
	}
	return out
}

// QueryTypesOverTimeEntry is one bucket's per-type breakdown.
type QueryTypesOverTimeEntry struct {
	Timestamp int64
	PerType   [buckets.NumTypes]uint32
}

// QueryTypesOverTime reports the per-type sub-counters already tracked on
// each bucket, in chronological order.
func QueryTypesOverTime(snap *engine.Snapshot) []QueryTypesOverTimeEntry {
	bs := snap.Buckets.All()
	out := make([]QueryTypesOverTimeEntry, len(bs))
	for i, b := range bs {
		out[i] = QueryTypesOverTimeEntry{Timestamp: b.Start, PerType: b.PerType}
	}
	return out
}

// ForwardOverTimeEntry is one bucket's per-upstream forward counts. Unlike
// per-client counts, buckets carry no per-upstream sub-counter array
// (§3's Bucket shape only names per_type and per_client), so this walks
// the ring once and groups by each record's recorded BucketID.
type ForwardOverTimeEntry struct {
	Timestamp int64
	Upstreams map[string]uint32
}

// ForwardedOverTime reports, for every tracked bucket, how many queries
// were forwarded to each upstream.
func ForwardedOverTime(snap *engine.Snapshot) []ForwardOverTimeEntry {
	bs := snap.Buckets.All()
	out := make([]ForwardOverTimeEntry, len(bs))
	for i, b := range bs {
		out[i] = ForwardOverTimeEntry{Timestamp: b.Start, Upstreams: make(map[string]uint32)}
	}
	snap.Ring.Range(0, func(_ int64, rec *ring.Record) bool {
		if rec.UpstreamID == engine.NoUpstream {
			return true
		}
		bi := int(rec.BucketID)
		if bi < 0 || bi >= len(out) {
			return true
		}
		name := snap.Interner.Resolve(snap.Tables.Upstreams[rec.UpstreamID].IP)
		out[bi].Upstreams[name]++
		return true
	})
	return out
}

// QueryTypeTotals sums every bucket's per-type sub-counters into one
// process-lifetime total per type, the figure `>querytypes` and
// `/stats/query_types` both report.
func QueryTypeTotals(snap *engine.Snapshot) [buckets.NumTypes]uint32 {
	var totals [buckets.NumTypes]uint32
	for _, b := range snap.Buckets.All() {
		for t, c := range b.PerType {
			totals[t] += c
		}
	}
	return totals
}

// ForwardNamesEntry pairs an upstream's IP with its resolved hostname (or
// the IP again when no reverse lookup has completed yet).
type ForwardNamesEntry struct {
	IP       string
	Hostname string
}

// ForwardNames lists every known upstream with its resolved name, for the
// `>forward-names` diagnostic.
func ForwardNames(snap *engine.Snapshot) []ForwardNamesEntry {
	out := make([]ForwardNamesEntry, 0, len(snap.Tables.Upstreams))
	for _, u := range snap.Tables.Upstreams {
		ip := snap.Interner.Resolve(u.IP)
		hostname := ip
		if u.Hostname != 0 {
			hostname = snap.Interner.Resolve(u.Hostname)
		}
		out = append(out, ForwardNamesEntry{IP: ip, Hostname: hostname})
	}
	return out
}

// ForwardEntry is one row of the forward-destinations response: either a
// synthetic "blocklist"/"cache" row or a real upstream, each carrying the
// percentage of all queries it accounts for.
type ForwardEntry struct {
	Name    string
	Percent float64
}

// ForwardDest emits the two synthetic rows (blocklist, cache) followed by
// up to limit real upstreams. When sorted is true the real upstreams are
// ordered by descending query count; "unsorted" requests pass sorted=false
// and get table order instead. A zero-percentage real row is suppressed
// (the synthetic rows are always emitted, even at 0%).
func ForwardDest(snap *engine.Snapshot, limit int, sorted bool) []ForwardEntry {
	total := snap.Counters.Total
	if total == 0 {
		return []ForwardEntry{{Name: "blocklist", Percent: 0}, {Name: "cache", Percent: 0}}
	}

	out := make([]ForwardEntry, 0, limit+2)
	out = append(out, ForwardEntry{Name: "blocklist", Percent: float64(snap.Counters.Blocked) / float64(total) * 100})
	out = append(out, ForwardEntry{Name: "cache", Percent: float64(snap.Counters.Cached) / float64(total) * 100})

	type row struct {
		name  string
		count uint32
	}
	rows := make([]row, len(snap.Tables.Upstreams))
	for i, u := range snap.Tables.Upstreams {
		rows[i] = row{name: snap.Interner.Resolve(u.IP), count: u.Total}
	}
	if sorted {
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].count > rows[j].count })
	}
	if limit <= 0 {
		limit = len(rows)
	}
	for i, r := range rows {
		if i >= limit {
			break
		}
		pct := float64(r.count) / float64(total) * 100
		if pct == 0 {
			continue
		}
		out = append(out, ForwardEntry{Name: r.name, Percent: pct})
	}
	return out
}

// HistoryFilter narrows a getallqueries scan. Zero-value fields mean
// "unfiltered" on that dimension.
type HistoryFilter struct {
	From, To       int64
	Domain, Client string
	Upstream       string
	Type           *engine.QueryType
	StartIndex     int64
}

// HistoryRow is one emitted query-history record, already privacy-projected.
type HistoryRow struct {
	Timestamp int64
	Type      engine.QueryType
	Status    engine.QueryStatus
	Domain    string
	Client    string
	Upstream  string
}

// statusVisible applies one API_QUERY_LOG_SHOW value to a status. The
// history paths pass the configured value; recentBlocked always passes
// blockedonly.
func statusVisible(show config.QueryLogShow, status engine.QueryStatus) bool {
	switch show {
	case config.ShowBlockedOnly:
		return status.IsBlocked()
	case config.ShowPermittedOnly:
		return !status.IsBlocked()
	case config.ShowNothing:
		return false
	default:
		return true
	}
}

// GetAllQueries scans the ring from filter.StartIndex, applying window,
// entity, type, privacy, and query-log-show filters, returning up to n
// matching rows in ring order (oldest first). n<=0 means unbounded.
//
// Visibility uses each record's own frozen PrivacyLevel (recorded at
// ingest), not the snapshot's current global level: a history row is a
// specific past event, and the engine's contract is that its privacy
// treatment never changes retroactively when the operator later changes
// the global setting.
func GetAllQueries(snap *engine.Snapshot, filter HistoryFilter, n int, show config.QueryLogShow) []HistoryRow {
	var out []HistoryRow
	snap.Ring.Range(filter.StartIndex, func(_ int64, rec *ring.Record) bool {
		if n > 0 && len(out) >= n {
			return false
		}
		level := counters.PrivacyLevel(rec.PrivacyLevel)
		if !privacy.HistoryVisible(level) {
			return true
		}
		if filter.From != 0 && rec.Timestamp < filter.From {
			return true
		}
		if filter.To != 0 && rec.Timestamp > filter.To {
			return true
		}
		status := engine.QueryStatus(rec.Status)
		if !statusVisible(show, status) {
			return true
		}
		if filter.Type != nil && engine.QueryType(rec.Type) != *filter.Type {
			return true
		}

		domain := snap.Interner.Resolve(snap.Tables.Domains[rec.DomainID].Name)
		client := snap.Interner.Resolve(snap.Tables.Clients[rec.ClientID].IP)
		if filter.Domain != "" && !strings.EqualFold(domain, filter.Domain) {
			return true
		}
		if filter.Client != "" && !strings.EqualFold(client, filter.Client) {
			return true
		}
		var upstream string
		if rec.UpstreamID != engine.NoUpstream {
			upstream = snap.Interner.Resolve(snap.Tables.Upstreams[rec.UpstreamID].IP)
		}
		if filter.Upstream != "" && !strings.EqualFold(upstream, filter.Upstream) {
			return true
		}

		pDomain, pClient := privacy.Project(level, domain, client)
		out = append(out, HistoryRow{
			Timestamp: rec.Timestamp,
			Type:      engine.QueryType(rec.Type),
			Status:    status,
			Domain:    pDomain,
			Client:    pClient,
			Upstream:  upstream,
		})
		return true
	})
	return out
}
