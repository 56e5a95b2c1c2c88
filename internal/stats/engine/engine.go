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

// Package engine is the live statistics engine: it composes the string
// interner, the entity tables, the query ring, the time-bucket
// accumulator, and the global counters behind one data lock, and exposes
// the ingest API the resolver calls on its hot path.
//
// The single mutex here is deliberate, not an oversight: it is the same
// choice the teacher's Store/Worker pairing makes (one lock for the whole
// VSA map), generalized from a sync.Map of independent keys to a single
// struct because the invariants in this spec (bucket sums equal global
// counters, per-client sums equal client totals) span every table at
// once and a finer-grained lock would have to be taken in a fixed order
// across all of them anyway.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/kestrelfilter/telemetry/internal/classify"
	"github.com/kestrelfilter/telemetry/internal/stats/buckets"
	"github.com/kestrelfilter/telemetry/internal/stats/counters"
	"github.com/kestrelfilter/telemetry/internal/stats/entities"
	"github.com/kestrelfilter/telemetry/internal/stats/ring"
	"github.com/kestrelfilter/telemetry/pkg/intern"
)

// Now is abstracted for testability, the same pattern the teacher's tfd
// plugin uses for its footprint clock.
var Now = func() int64 { return time.Now().Unix() }

// Engine owns the single data lock protecting every in-memory table named
// in the spec's data model.
type Engine struct {
	mu sync.Mutex

	interner   *intern.Interner
	tables     *entities.Tables
	ring       *ring.Ring
	buckets    *buckets.Accumulator
	counters   *counters.Counters
	classifier classify.Classifier

	ignoreLocalhost bool
}

// Options configures a new Engine.
type Options struct {
	// MaxRingEntries bounds the query ring; 0 means unbounded (the
	// teacher's default posture — see ring.New).
	MaxRingEntries int
	// Classifier is consulted by ConsultClassifier, which passes any
	// verdict it reaches to OnRegexResult; the resolver decides when to
	// call it. A nil Classifier defaults to classify.None.
	Classifier classify.Classifier
	// IgnoreLocalhost drops queries from 127.0.0.1/::1 at ingest.
	IgnoreLocalhost bool
}

// New creates an Engine ready to accept ingest calls.
func New(opts Options) *Engine {
	if opts.Classifier == nil {
		opts.Classifier = classify.None
	}
	return &Engine{
		interner:        intern.New(),
		tables:          entities.New(),
		ring:            ring.New(opts.MaxRingEntries),
		buckets:         buckets.New(),
		counters:        counters.New(),
		classifier:      opts.Classifier,
		ignoreLocalhost: opts.IgnoreLocalhost,
	}
}

// NewQueryInput is the set of fields the resolver knows at the moment it
// dispatches a query, before any upstream answer exists.
type NewQueryInput struct {
	Timestamp    int64
	Type         QueryType
	Status       QueryStatus
	Domain       string
	Client       string
	ClientName   string
	PrivacyLevel counters.PrivacyLevel
}

func isLocalhost(ip string) bool {
	return ip == "127.0.0.1" || ip == "::1"
}

// OnNewQuery records a freshly dispatched query and returns its ring
// index, which the resolver must retain to later call OnUpstreamSent /
// OnReply. The bucket id is computed once here and stored on the record
// so subsequent mutations never recompute it.
func (e *Engine) OnNewQuery(in NewQueryInput) (index int64, ok bool) {
	if e.ignoreLocalhost && isLocalhost(in.Client) {
		return 0, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	domainHandle := e.interner.Intern(in.Domain)
	clientHandle := e.interner.Intern(in.Client)

	domainIdx, _ := e.tables.FindOrInsertDomain(domainHandle)

	clientIdx, clientCreated := e.tables.FindOrInsertClient(clientHandle)
	if in.ClientName != "" {
		e.tables.Clients[clientIdx].Hostname = e.interner.Intern(in.ClientName)
	} else {
		e.tables.Clients[clientIdx].NeedsReverseLookup = true
	}
	if clientCreated {
		e.buckets.ExtendClients(e.tables.ClientCount())
	}

	blocked := in.Status.IsBlocked()
	e.tables.IncrementDomain(domainIdx, blocked)
	e.tables.IncrementClient(clientIdx, blocked, in.Timestamp)

	e.counters.RecordStatus(blocked, in.Status == StatusForwarded, in.Status == StatusCached, in.Status == StatusUnknown)
	e.counters.DomainCount = len(e.tables.Domains)
	e.counters.ClientCount = len(e.tables.Clients)

	bucketIdx, bucket := e.buckets.BucketFor(in.Timestamp)
	bucket.Total++
	if blocked {
		bucket.Blocked++
	}
	if in.Status == StatusCached {
		bucket.Cached++
	}
	bucket.PerType[in.Type]++
	if clientIdx < int32(len(bucket.PerClient)) {
		bucket.PerClient[clientIdx]++
	}

	// The record keeps the stricter of the caller's level and the global
	// level active at this moment; later SetPrivacyLevel calls never touch it.
	level := in.PrivacyLevel
	if e.counters.PrivacyLevel > level {
		level = e.counters.PrivacyLevel
	}

	rec := ring.Record{
		Timestamp:    in.Timestamp,
		Type:         uint8(in.Type),
		Status:       uint8(in.Status),
		DomainID:     domainIdx,
		ClientID:     clientIdx,
		UpstreamID:   NoUpstream,
		BucketID:     int32(bucketIdx),
		Complete:     in.Status != StatusForwarded, // forwarded queries await an answer
		PrivacyLevel: uint8(level),
	}
	idx := e.ring.Append(rec)
	return idx, true
}

// OnUpstreamSent records that index was forwarded to the given upstream.
// Per the invariant Status=Forwarded ⇒ UpstreamID != none, this must be
// called before OnReply for any forwarded query.
func (e *Engine) OnUpstreamSent(index int64, upstreamIP, upstreamName string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.ring.Get(index)
	if !ok {
		return false
	}
	ipHandle := e.interner.Intern(upstreamIP)
	upIdx, _ := e.tables.FindOrInsertUpstream(ipHandle)
	if upstreamName != "" {
		e.tables.Upstreams[upIdx].Hostname = e.interner.Intern(upstreamName)
	} else {
		e.tables.Upstreams[upIdx].NeedsReverseLookup = true
	}
	e.tables.IncrementUpstreamTotal(upIdx)
	rec.UpstreamID = upIdx
	e.counters.UpstreamCount = len(e.tables.Upstreams)
	return true
}

// OnReply mutates the fields that change exactly once, on answer arrival
// (ResponseMs, Reply, DNSSEC, ADFlag), and flips Complete to true.
func (e *Engine) OnReply(index int64, responseMs uint32, reply ReplyType, dnssec DNSSECStatus, adFlag, failed bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	ok := e.ring.MutateComplete(index, responseMs, uint8(reply), uint8(dnssec), adFlag)
	if ok && failed {
		rec, _ := e.ring.Get(index)
		if rec.UpstreamID != NoUpstream {
			e.tables.IncrementUpstreamFailed(rec.UpstreamID)
		}
	}
	return ok
}

// OnRegexResult transitions a domain's regex state. Per the three-state
// machine, the transition is only applied if the domain is still Unknown;
// later calls for the same domain are no-ops.
func (e *Engine) OnRegexResult(domain string, blocked bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	handle := e.interner.Intern(domain)
	idx, _ := e.tables.FindOrInsertDomain(handle)
	state := entities.RegexNotBlocked
	if blocked {
		state = entities.RegexBlocked
	}
	e.tables.SetRegexState(idx, state)
}

// ConsultClassifier asks the configured classifier for a verdict and, if
// one is reached, applies it via OnRegexResult. It is a convenience
// wrapper; resolvers that already have a classifier of their own can call
// OnRegexResult directly instead.
func (e *Engine) ConsultClassifier(ctx context.Context, domain string) {
	blocked, ok := e.classifier.Classify(ctx, domain)
	if !ok {
		return
	}
	e.OnRegexResult(domain, blocked)
}

// SetBlockingEnabled flips the global blocking flag.
func (e *Engine) SetBlockingEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.counters.BlockingEnabled = enabled
}

// SetPrivacyLevel changes the privacy level applied to queries ingested
// from now on. It never touches records already in the ring: their
// PrivacyLevel was frozen at ingest.
func (e *Engine) SetPrivacyLevel(level counters.PrivacyLevel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.counters.PrivacyLevel = level
}

// ClientIndex resolves ip to its client-table index, creating the entry
// (with NeedsReverseLookup set) if this is the first time it has been
// seen. This backs the `>clientID` diagnostic, which must be able to
// identify a connecting client even before it has issued a DNS query.
func (e *Engine) ClientIndex(ip string) int32 {
	e.mu.Lock()
	defer e.mu.Unlock()

	handle := e.interner.Intern(ip)
	idx, created := e.tables.FindOrInsertClient(handle)
	if created {
		e.tables.Clients[idx].NeedsReverseLookup = true
		e.buckets.ExtendClients(e.tables.ClientCount())
		e.counters.ClientCount = len(e.tables.Clients)
	}
	return idx
}

// WithLock runs f with the data lock held, giving read paths (the
// dispatcher's aggregators) consistent access to every table at once. f
// must not call back into any other Engine method, which would deadlock
// on the same non-reentrant mutex.
func (e *Engine) WithLock(f func(*Snapshot)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f(&Snapshot{
		Interner: e.interner,
		Tables:   e.tables,
		Ring:     e.ring,
		Buckets:  e.buckets,
		Counters: e.counters,
	})
}

// Snapshot exposes every table to a read path while the lock is held. It
// is only valid for the duration of the WithLock callback.
type Snapshot struct {
	Interner *intern.Interner
	Tables   *entities.Tables
	Ring     *ring.Ring
	Buckets  *buckets.Accumulator
	Counters *counters.Counters
}
