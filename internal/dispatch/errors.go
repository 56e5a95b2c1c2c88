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

import "errors"

// Sentinel errors covering the remaining error kinds named in the engine
// spec's error handling design (the store-related kinds live in
// internal/store/errors.go).
var (
	// ErrMemoryExhausted means a table could not grow further; fatal.
	ErrMemoryExhausted = errors.New("dispatch: memory exhausted")

	// ErrMalformedRequest means the request could not be parsed into a
	// known command/route; produces a one-line text error or a 404 JSON
	// body, never a panic.
	ErrMalformedRequest = errors.New("dispatch: malformed request")

	// ErrOutOfBounds flags an implementation bug (an index computed by
	// this process landed outside a table it should never escape), not
	// user input. The affected response is truncated rather than crashing
	// the connection.
	ErrOutOfBounds = errors.New("dispatch: out of bounds")

	// ErrPrivacyDenied is never returned to a caller; it exists so call
	// sites can document, at the type level, that a privacy check
	// produces a sentinel value instead of an error or a panic.
	ErrPrivacyDenied = errors.New("dispatch: privacy denied")
)
