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

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/kestrelfilter/telemetry/internal/stats/engine"
)

// minPlausibleTimestamp is 2017-01-01T00:00:00Z; rows older than this (or
// timestamped in the future) are almost certainly corrupt and are skipped
// with a warning rather than imported.
const minPlausibleTimestamp = 1483228800

// Bootstrap replays every row younger than maxLogAge (0 means "read
// everything") from the queries table into e, in timestamp order, via
// e.Bootstrap, then returns the row count imported and the ring index just
// past the last imported record (0 when nothing was imported) so the
// caller can hand it to Worker.SetLastSavedIndex as the starting flush
// cursor. A scan error aborts the import and is returned. When skipAAAA is set (AAAA_QUERY_ANALYSIS),
// rows of type AAAA are skipped on import, matching the config key's
// documented effect.
func Bootstrap(s *Store, e *engine.Engine, maxLogAge time.Duration, skipAAAA bool) (imported int, lastIndex int64, err error) {
	query := `SELECT id, timestamp, type, status, domain, client, upstream FROM queries`
	args := []any{}
	if maxLogAge > 0 {
		cutoff := engine.Now() - int64(maxLogAge/time.Second)
		query += ` WHERE timestamp >= ?`
		args = append(args, cutoff)
	}
	query += ` ORDER BY timestamp ASC, id ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: bootstrap query: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var index int64
	for rows.Next() {
		var (
			dbID     int64
			ts       int64
			qtype    uint8
			status   uint8
			domain   string
			client   string
			upstream sql.NullString
		)
		if err := rows.Scan(&dbID, &ts, &qtype, &status, &domain, &client, &upstream); err != nil {
			return imported, index, fmt.Errorf("%w: bootstrap scan: %v", ErrStoreUnavailable, err)
		}
		if ts < minPlausibleTimestamp || ts > engine.Now() {
			slog.Warn("bootstrap: skipping row with implausible timestamp", "id", dbID, "timestamp", ts)
			continue
		}
		if skipAAAA && engine.QueryType(qtype) == engine.TypeAAAA {
			continue
		}
		idx := e.Bootstrap(engine.BootstrapInput{
			Timestamp: ts,
			Type:      engine.QueryType(qtype),
			Status:    engine.QueryStatus(status),
			Domain:    domain,
			Client:    client,
			Upstream:  upstream.String,
			DBID:      dbID,
		})
		if idx >= 0 {
			index = idx
			imported++
		}
	}
	if err := rows.Err(); err != nil {
		return imported, index, fmt.Errorf("%w: bootstrap rows: %v", ErrStoreUnavailable, err)
	}
	if imported > 0 {
		index++ // the worker's flush cursor starts just past the last bootstrapped row
	}
	return imported, index, nil
}
