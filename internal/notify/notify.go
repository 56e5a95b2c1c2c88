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

// Package notify publishes live-update events to Redis pub/sub so that
// dashboards watching the configured channel learn about a flush or a
// blocking-state change without polling the dispatcher. It is the
// supplemented component standing in for the original implementation's
// FTL "API data changed" signal, addressed to the teacher's RedisEvaler
// seam but built on the real github.com/redis/go-redis/v9 client rather
// than the teacher's Lua-script commit path (this package has nothing to
// apply idempotently — it only fans out ephemeral notifications).
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Publisher is the minimal surface this package needs from a Redis
// client, satisfied by *redis.Client.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Notifier publishes change-of-state envelopes to one Redis channel. It
// implements the store.ChangeNotifier interface without importing
// internal/store, keeping the dependency direction store -> notify
// rather than a cycle.
type Notifier struct {
	client  Publisher
	channel string
	logger  *slog.Logger
}

// New wires a Notifier against addr (e.g. "localhost:6379") and channel.
// The returned *redis.Client is also returned so the caller can Close it
// during graceful shutdown. A nil logger defaults to slog.Default().
func New(addr, channel string, logger *slog.Logger) (*Notifier, *redis.Client) {
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	return &Notifier{client: client, channel: channel, logger: logger}, client
}

type flushEvent struct {
	Event       string `json:"event"`
	RowsWritten int    `json:"rows_written"`
	Total       uint64 `json:"total"`
	Blocked     uint64 `json:"blocked"`
}

// NotifyFlush publishes a "flush_committed"-shaped envelope after a
// persistence cycle commits, satisfying store.ChangeNotifier. Publish
// failures are logged, not returned: a missed live-update notification
// must never roll back or retry the persistence cycle that triggered it.
func (n *Notifier) NotifyFlush(ctx context.Context, rowsWritten int, total, blocked uint64) {
	payload, err := json.Marshal(flushEvent{
		Event:       "flush_committed",
		RowsWritten: rowsWritten,
		Total:       total,
		Blocked:     blocked,
	})
	if err != nil {
		n.logger.Warn("notify: marshal flush event", "error", err)
		return
	}
	if err := n.publish(ctx, payload); err != nil {
		n.logger.Warn("notify: publish flush event failed", "error", err)
	}
}

type blockingEvent struct {
	Event   string `json:"event"`
	Enabled bool   `json:"enabled"`
}

// NotifyBlockingChanged publishes a "blocking_changed" envelope carrying
// the given blocking state. It is not part of store.ChangeNotifier, and
// Engine.SetBlockingEnabled does not call it: the envelope is published
// only when a caller invokes this method directly.
func (n *Notifier) NotifyBlockingChanged(ctx context.Context, enabled bool) {
	payload, err := json.Marshal(blockingEvent{Event: "blocking_changed", Enabled: enabled})
	if err != nil {
		n.logger.Warn("notify: marshal blocking event", "error", err)
		return
	}
	if err := n.publish(ctx, payload); err != nil {
		n.logger.Warn("notify: publish blocking event failed", "error", err)
	}
}

func (n *Notifier) publish(ctx context.Context, payload []byte) error {
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("notify: publish to %s: %w", n.channel, err)
	}
	return nil
}
