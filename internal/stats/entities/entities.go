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

// Package entities holds the append-only domain/client/upstream tables of
// the stats engine. Nothing here is internally synchronized: the engine
// serializes every mutation and every read under its single data lock, the
// same way the teacher's Store serializes VSA access under sync.Map
// semantics but coarser — here the lock lives one layer up.
package entities

import "github.com/kestrelfilter/telemetry/pkg/intern"

// RegexState is the three-state machine a domain's regex classification
// moves through. It only ever moves forward: Unknown -> {Blocked,
// NotBlocked}, never back.
type RegexState uint8

const (
	RegexUnknown RegexState = iota
	RegexBlocked
	RegexNotBlocked
)

// Domain is one append-only row of the domain table.
type Domain struct {
	Name       intern.Handle
	Total      uint32
	Blocked    uint32
	RegexState RegexState
}

// Client is one append-only row of the client table.
type Client struct {
	IP                 intern.Handle
	Hostname           intern.Handle
	Total              uint32
	Blocked            uint32
	NeedsReverseLookup bool
	LastSeen           int64
}

// Upstream is one append-only row of the upstream table.
type Upstream struct {
	IP                 intern.Handle
	Hostname           intern.Handle
	Total              uint32
	Failed             uint32
	NeedsReverseLookup bool
}

// Tables bundles the three entity tables together with their find-or-insert
// indices. It has no lock of its own; the engine's data lock guards it.
type Tables struct {
	Domains   []Domain
	Clients   []Client
	Upstreams []Upstream

	domainIdx   map[intern.Handle]int32
	clientIdx   map[intern.Handle]int32
	upstreamIdx map[intern.Handle]int32
}

// New returns an empty set of entity tables.
func New() *Tables {
	return &Tables{
		domainIdx:   make(map[intern.Handle]int32, 1024),
		clientIdx:   make(map[intern.Handle]int32, 256),
		upstreamIdx: make(map[intern.Handle]int32, 16),
	}
}

// FindOrInsertDomain returns the existing index for name, or appends a new
// zeroed Domain row and returns its index. created reports whether a new
// row was appended.
func (t *Tables) FindOrInsertDomain(name intern.Handle) (index int32, created bool) {
	if idx, ok := t.domainIdx[name]; ok {
		return idx, false
	}
	idx := int32(len(t.Domains))
	t.Domains = append(t.Domains, Domain{Name: name, RegexState: RegexUnknown})
	t.domainIdx[name] = idx
	return idx, true
}

// FindOrInsertClient returns the existing index for ip, or appends a new
// Client row. created reports whether a new row was appended; callers
// (the engine) must extend every time bucket's per-client vector when
// created is true.
func (t *Tables) FindOrInsertClient(ip intern.Handle) (index int32, created bool) {
	if idx, ok := t.clientIdx[ip]; ok {
		return idx, false
	}
	idx := int32(len(t.Clients))
	t.Clients = append(t.Clients, Client{IP: ip})
	t.clientIdx[ip] = idx
	return idx, true
}

// FindOrInsertUpstream returns the existing index for ip, or appends a new
// Upstream row.
func (t *Tables) FindOrInsertUpstream(ip intern.Handle) (index int32, created bool) {
	if idx, ok := t.upstreamIdx[ip]; ok {
		return idx, false
	}
	idx := int32(len(t.Upstreams))
	t.Upstreams = append(t.Upstreams, Upstream{IP: ip})
	t.upstreamIdx[ip] = idx
	return idx, true
}

// IncrementDomain applies one query outcome to a domain row. blocked also
// implies total.
func (t *Tables) IncrementDomain(index int32, blocked bool) {
	d := &t.Domains[index]
	d.Total++
	if blocked {
		d.Blocked++
	}
}

// IncrementClient applies one query outcome to a client row and bumps
// LastSeen.
func (t *Tables) IncrementClient(index int32, blocked bool, now int64) {
	c := &t.Clients[index]
	c.Total++
	if blocked {
		c.Blocked++
	}
	c.LastSeen = now
}

// IncrementUpstreamTotal bumps an upstream's total when a query is
// forwarded to it.
func (t *Tables) IncrementUpstreamTotal(index int32) {
	t.Upstreams[index].Total++
}

// IncrementUpstreamFailed bumps an upstream's failure counter.
func (t *Tables) IncrementUpstreamFailed(index int32) {
	t.Upstreams[index].Failed++
}

// SetRegexState applies a monotonic transition: a terminal state is sticky
// and never overwritten once set.
func (t *Tables) SetRegexState(index int32, state RegexState) {
	d := &t.Domains[index]
	if d.RegexState == RegexUnknown {
		d.RegexState = state
	}
}

// ClientCount reports the current size of the client table, used by the
// bucket accumulator to size PerClient vectors.
func (t *Tables) ClientCount() int {
	return len(t.Clients)
}
