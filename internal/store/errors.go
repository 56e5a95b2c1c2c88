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

package store

import "errors"

// Sentinel errors the persistence worker and its callers branch on. They
// mirror the error kinds named in the engine spec's error handling design.
var (
	// ErrStoreUnavailable means the database file could not be opened at
	// all (permissions, missing directory, corruption beyond repair).
	ErrStoreUnavailable = errors.New("store: unavailable")

	// ErrStoreBusyRetryable means a transient condition (e.g. SQLITE_BUSY)
	// that is worth retrying on the next cycle without disabling
	// persistence.
	ErrStoreBusyRetryable = errors.New("store: busy, retry next cycle")

	// ErrSchemaIncompatible means the on-disk schema version is below the
	// minimum this engine can read (version < 1). Persistence is disabled
	// permanently for the life of the process.
	ErrSchemaIncompatible = errors.New("store: schema incompatible")
)

// IsRetryable reports whether err should be retried on the next cycle
// rather than permanently disabling persistence.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreBusyRetryable)
}
