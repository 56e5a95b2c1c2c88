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

// Package intern provides a process-lifetime string arena. Equal strings
// always resolve to equal handles, handles stay valid forever, and the
// empty string is the reserved handle 0.
//
// Interner is not internally synchronized: callers that share an Interner
// across goroutines must hold their own lock around Intern/Resolve, the
// same way the stats engine holds its single data lock around the whole
// ingest critical section.
package intern

// Handle is an opaque reference into the arena. The zero value denotes the
// empty string and is always valid.
type Handle uint32

// span records where a string lives inside the arena.
type span struct {
	offset uint32
	length uint32
}

// Interner deduplicates strings into stable Handles backed by an
// append-only byte arena. Nothing is ever freed.
type Interner struct {
	arena  []byte
	spans  []span // index 0 is the reserved empty string
	lookup map[string]Handle
}

// New creates an empty Interner with the reserved handle 0 already bound
// to the empty string.
func New() *Interner {
	in := &Interner{
		arena:  make([]byte, 0, 4096),
		spans:  make([]span, 1, 256), // spans[0] == {0,0}
		lookup: make(map[string]Handle, 256),
	}
	in.lookup[""] = 0
	return in
}

// Intern returns the handle for s, creating a new entry if s has not been
// seen before. The empty string always returns handle 0 without touching
// the arena.
func (in *Interner) Intern(s string) Handle {
	if s == "" {
		return 0
	}
	if h, ok := in.lookup[s]; ok {
		return h
	}
	off := uint32(len(in.arena))
	in.arena = append(in.arena, s...)
	h := Handle(len(in.spans))
	in.spans = append(in.spans, span{offset: off, length: uint32(len(s))})
	in.lookup[s] = h
	return h
}

// Resolve returns the string bound to h. An out-of-range handle returns
// the empty string rather than panicking, since callers on the read path
// must never crash a dashboard request over a stale handle.
func (in *Interner) Resolve(h Handle) string {
	if int(h) >= len(in.spans) {
		return ""
	}
	sp := in.spans[h]
	if sp.length == 0 {
		return ""
	}
	return string(in.arena[sp.offset : sp.offset+sp.length])
}

// Len reports how many distinct non-empty strings are interned.
func (in *Interner) Len() int {
	return len(in.spans) - 1
}

// ArenaBytes reports the number of bytes currently held in the arena, used
// by the `>memory` diagnostic command.
func (in *Interner) ArenaBytes() int {
	return len(in.arena)
}
