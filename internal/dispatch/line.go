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
	"bufio"
	"fmt"
	"net"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/kestrelfilter/telemetry/internal/stats/engine"
)

// eot is the line protocol's response terminator.
const eot = 0x04

var countArg = regexp.MustCompile(`\((\d+)\)`)

// lineRequest is one parsed `>command [modifiers]` request.
type lineRequest struct {
	command  string
	n        int // 0 means "no explicit count requested"
	asc      bool
	withZero bool
	blocked  bool
	forAudit bool
	unsorted bool
}

func parseLineRequest(line string) lineRequest {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, ">")
	fields := strings.Fields(line)
	req := lineRequest{}
	if len(fields) > 0 {
		req.command = fields[0]
	}
	rest := strings.Join(fields[1:], " ")
	if m := countArg.FindStringSubmatch(rest); m != nil {
		req.n, _ = strconv.Atoi(m[1])
	}
	req.asc = strings.Contains(rest, "asc")
	req.withZero = strings.Contains(rest, "withzero")
	req.blocked = strings.Contains(rest, "blocked")
	req.forAudit = strings.Contains(rest, "for audit")
	req.unsorted = strings.Contains(rest, "unsorted")
	return req
}

// ListenLine starts the line-protocol listener. Its accept loop polls
// s.killed between connections rather than forcing a mid-response
// cancellation, matching the spec's cancellation model exactly.
func (s *Server) ListenLine(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("dispatch: line listen %s: %w", addr, err)
	}
	defer ln.Close()
	s.Logger.Info("dispatch: line protocol listening", "addr", addr)

	for {
		if s.killed.Load() {
			return nil
		}
		conn, err := ln.Accept()
		if err != nil {
			if s.killed.Load() {
				return nil
			}
			s.Logger.Warn("dispatch: line accept failed", "error", err)
			continue
		}
		go s.handleLineConn(conn)
	}
}

func (s *Server) handleLineConn(conn net.Conn) {
	defer conn.Close()
	remoteIP := remoteHost(conn.RemoteAddr())
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		req := parseLineRequest(line)
		resp := s.dispatchLine(req, remoteIP)
		if _, err := conn.Write(append([]byte(resp), eot)); err != nil {
			return // partial write aborts the remainder of this response
		}
		if req.command == "quit" || req.command == "kill" {
			if req.command == "kill" {
				s.Kill()
			}
			return
		}
	}
}

// remoteHost strips the port off a connection's remote address, falling
// back to the raw address string if it isn't host:port shaped (e.g. a
// Unix socket). Used only by `>clientID`.
func remoteHost(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func (s *Server) dispatchLine(req lineRequest, remoteIP string) string {
	switch {
	case strings.HasPrefix(req.command, "stats"):
		return s.lineStats()
	case strings.HasPrefix(req.command, "top-domains"):
		return s.lineTopEntries(req, true)
	case strings.HasPrefix(req.command, "top-ads"):
		return s.lineTopEntries(req, false)
	case strings.HasPrefix(req.command, "top-clients"):
		return s.lineTopClients(req)
	case strings.HasPrefix(req.command, "forward-dest"):
		return s.lineForwardDest(req)
	case strings.HasPrefix(req.command, "forward-names"):
		return s.lineForwardNames()
	case strings.HasPrefix(req.command, "getallqueries"):
		return s.lineGetAllQueries(req)
	case strings.HasPrefix(req.command, "recentBlocked"):
		return s.lineRecentBlocked(req)
	case strings.HasPrefix(req.command, "memory"):
		return s.lineMemory()
	case strings.HasPrefix(req.command, "ForwardedoverTime"):
		return s.lineForwardedOverTime()
	case strings.HasPrefix(req.command, "QueryTypesoverTime"):
		return s.lineQueryTypesOverTime()
	case strings.HasPrefix(req.command, "overTime"):
		return s.lineOverTime()
	case strings.HasPrefix(req.command, "querytypes"):
		return s.lineQueryTypes()
	case strings.HasPrefix(req.command, "dbstats"):
		return s.lineDBStats()
	case strings.HasPrefix(req.command, "clientID"):
		return s.lineClientID(remoteIP)
	case strings.HasPrefix(req.command, "version"):
		return "version 1\n"
	case strings.HasPrefix(req.command, "quit"), strings.HasPrefix(req.command, "kill"):
		return "\n"
	default:
		return fmt.Sprintf("unknown command: %s\n", req.command)
	}
}

func (s *Server) lineStats() string {
	var sb strings.Builder
	s.Engine.WithLock(func(snap *engine.Snapshot) {
		fmt.Fprintf(&sb, "domains_being_blocked %d\n", snap.Counters.DomainCount)
		fmt.Fprintf(&sb, "dns_queries_today %d\n", snap.Counters.Total)
		fmt.Fprintf(&sb, "ads_blocked_today %d\n", snap.Counters.Blocked)
		fmt.Fprintf(&sb, "unique_domains %d\n", snap.Counters.DomainCount)
		fmt.Fprintf(&sb, "unique_clients %d\n", snap.Counters.ClientCount)
		fmt.Fprintf(&sb, "queries_forwarded %d\n", snap.Counters.Forwarded)
		fmt.Fprintf(&sb, "queries_cached %d\n", snap.Counters.Cached)
		fmt.Fprintf(&sb, "status %s\n", enabledWord(snap.Counters.BlockingEnabled))
	})
	return sb.String()
}

func enabledWord(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

func (s *Server) lineTopEntries(req lineRequest, domains bool) string {
	var sb strings.Builder
	s.Engine.WithLock(func(snap *engine.Snapshot) {
		var entries []TopEntry
		if domains {
			entries = TopDomains(snap, req.n, req.asc, s.Config.ExcludeDomains)
		} else {
			entries = TopAds(snap, req.n, req.asc, s.Config.ExcludeDomains)
		}
		for _, e := range entries {
			fmt.Fprintf(&sb, "%s %d\n", e.Name, e.Value)
		}
	})
	return sb.String()
}

func (s *Server) lineTopClients(req lineRequest) string {
	var sb strings.Builder
	s.Engine.WithLock(func(snap *engine.Snapshot) {
		entries := TopClients(snap, req.n, req.asc, req.withZero, req.blocked, s.Config.ExcludeClients)
		for _, e := range entries {
			fmt.Fprintf(&sb, "%s %d\n", e.Name, e.Value)
		}
	})
	return sb.String()
}

func (s *Server) lineForwardDest(req lineRequest) string {
	var sb strings.Builder
	s.Engine.WithLock(func(snap *engine.Snapshot) {
		for _, e := range ForwardDest(snap, s.Config.ForwardDestLimit, !req.unsorted) {
			fmt.Fprintf(&sb, "%s %.2f\n", e.Name, e.Percent)
		}
	})
	return sb.String()
}

func (s *Server) lineGetAllQueries(req lineRequest) string {
	var sb strings.Builder
	s.Engine.WithLock(func(snap *engine.Snapshot) {
		for _, row := range GetAllQueries(snap, HistoryFilter{}, req.n, s.Config.QueryLogShow) {
			fmt.Fprintf(&sb, "%d %d %d %s %s %s\n", row.Timestamp, row.Type, row.Status, row.Domain, row.Client, row.Upstream)
		}
	})
	return sb.String()
}

func (s *Server) lineRecentBlocked(req lineRequest) string {
	n := req.n
	if n == 0 {
		n = 1
	}
	var sb strings.Builder
	s.Engine.WithLock(func(snap *engine.Snapshot) {
		rows := GetAllQueries(snap, HistoryFilter{}, 0, "blockedonly")
		if len(rows) > n {
			rows = rows[len(rows)-n:]
		}
		for _, row := range rows {
			fmt.Fprintf(&sb, "%s\n", row.Domain)
		}
	})
	return sb.String()
}

// lineMemory reports interner arena bytes, entity table sizes, and the
// ring's live entry count — the supplemented `>memory` diagnostic grounded on the
// original implementation's database.c/memory.c exposition of the same
// figures.
func (s *Server) lineMemory() string {
	var sb strings.Builder
	s.Engine.WithLock(func(snap *engine.Snapshot) {
		fmt.Fprintf(&sb, "arena_bytes %d\n", snap.Interner.ArenaBytes())
		fmt.Fprintf(&sb, "domains %d\n", len(snap.Tables.Domains))
		fmt.Fprintf(&sb, "clients %d\n", len(snap.Tables.Clients))
		fmt.Fprintf(&sb, "upstreams %d\n", len(snap.Tables.Upstreams))
		fmt.Fprintf(&sb, "ring_len %d\n", snap.Ring.Len())
	})
	return sb.String()
}

// lineForwardNames lists every known upstream's IP and resolved hostname.
func (s *Server) lineForwardNames() string {
	var sb strings.Builder
	s.Engine.WithLock(func(snap *engine.Snapshot) {
		for _, e := range ForwardNames(snap) {
			fmt.Fprintf(&sb, "%s %s\n", e.IP, e.Hostname)
		}
	})
	return sb.String()
}

// lineQueryTypes reports the process-lifetime total per query type.
func (s *Server) lineQueryTypes() string {
	var sb strings.Builder
	s.Engine.WithLock(func(snap *engine.Snapshot) {
		for t, c := range QueryTypeTotals(snap) {
			fmt.Fprintf(&sb, "%d %d\n", t, c)
		}
	})
	return sb.String()
}

// lineOverTime emits one {timestamp total blocked} row per tracked
// bucket, in chronological order; consecutive rows are Width seconds
// apart per the bucket-start arithmetic-progression invariant.
func (s *Server) lineOverTime() string {
	var sb strings.Builder
	s.Engine.WithLock(func(snap *engine.Snapshot) {
		for _, e := range OverTime(snap) {
			fmt.Fprintf(&sb, "%d %d %d\n", e.Timestamp, e.Total, e.Blocked)
		}
	})
	return sb.String()
}

// lineQueryTypesOverTime emits one row per bucket: the timestamp followed
// by each type's count in enum order.
func (s *Server) lineQueryTypesOverTime() string {
	var sb strings.Builder
	s.Engine.WithLock(func(snap *engine.Snapshot) {
		for _, e := range QueryTypesOverTime(snap) {
			fmt.Fprintf(&sb, "%d", e.Timestamp)
			for _, c := range e.PerType {
				fmt.Fprintf(&sb, " %d", c)
			}
			sb.WriteByte('\n')
		}
	})
	return sb.String()
}

// lineForwardedOverTime emits one row per bucket: the timestamp followed
// by "name=count" for every upstream that received at least one query in
// that bucket, names sorted for deterministic output.
func (s *Server) lineForwardedOverTime() string {
	var sb strings.Builder
	s.Engine.WithLock(func(snap *engine.Snapshot) {
		for _, e := range ForwardedOverTime(snap) {
			names := make([]string, 0, len(e.Upstreams))
			for name := range e.Upstreams {
				names = append(names, name)
			}
			sort.Strings(names)
			fmt.Fprintf(&sb, "%d", e.Timestamp)
			for _, name := range names {
				fmt.Fprintf(&sb, " %s=%d", name, e.Upstreams[name])
			}
			sb.WriteByte('\n')
		}
	})
	return sb.String()
}

// lineDBStats reports the durable store's on-disk size, or -1 when
// persistence is disabled (no store was ever attached), per §7's
// documented sentinel.
func (s *Server) lineDBStats() string {
	size := int64(-1)
	if s.DB != nil {
		if info, err := os.Stat(s.DB.Path()); err == nil {
			size = info.Size()
		}
	}
	return fmt.Sprintf("filesize %d\n", size)
}

// lineClientID resolves the requesting connection's peer address to its
// client-table index, creating the entry if this is its first contact.
func (s *Server) lineClientID(remoteIP string) string {
	if remoteIP == "" {
		return "clientID -1\n"
	}
	idx := s.Engine.ClientIndex(remoteIP)
	return fmt.Sprintf("clientID %d\n", idx)
}
