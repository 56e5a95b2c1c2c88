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

package engine

import "github.com/kestrelfilter/telemetry/internal/stats/counters"

// BootstrapInput describes one row read back from the durable store on
// process start. It mirrors NewQueryInput but always carries a DBID and
// is already complete — the answer, by definition, was received before
// the row was ever persisted.
type BootstrapInput struct {
	Timestamp int64
	Type      QueryType
	Status    QueryStatus
	Domain    string
	Client    string
	Upstream  string // empty when the row has no upstream
	DBID      int64
}

// Bootstrap replays one persisted row into memory, updating every table
// and counter exactly as ingest would, except that it stamps DBID and
// marks the record Complete immediately. It is the inverse of the
// persistence worker's normal flush cycle, used only during startup
// import. It returns the ring index the row was assigned (NextIndex-1 on
// success, -1 if the row was rejected at ingest, e.g. IgnoreLocalhost).
func (e *Engine) Bootstrap(in BootstrapInput) int64 {
	index, ok := e.OnNewQuery(NewQueryInput{
		Timestamp:    in.Timestamp,
		Type:         in.Type,
		Status:       in.Status,
		Domain:       in.Domain,
		Client:       in.Client,
		PrivacyLevel: counters.PrivacyNone, // only records persisted below NoStats were ever written
	})
	if !ok {
		return -1
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if in.Upstream != "" {
		upHandle := e.interner.Intern(in.Upstream)
		upIdx, _ := e.tables.FindOrInsertUpstream(upHandle)
		e.tables.IncrementUpstreamTotal(upIdx)
		if rec, ok := e.ring.Get(index); ok {
			rec.UpstreamID = upIdx
		}
		e.counters.UpstreamCount = len(e.tables.Upstreams)
	}

	e.ring.MutateComplete(index, 0, uint8(ReplyUnknown), uint8(DNSSECUnknown), false)
	e.ring.SetDBID(index, in.DBID)
	return index
}
