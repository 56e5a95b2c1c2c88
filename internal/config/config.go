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

// Package config reads the engine's key-value configuration file once at
// process start. The teacher's cmd/ratelimiter-api snapshots its knobs into
// package-level threshold variables via SetThreshold*; this package
// generalizes that same "read once, expose typed accessors" shape to a
// file-backed Config struct, since this engine has far more knobs than fit
// comfortably as flags alone.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// QueryLogShow is the API_QUERY_LOG_SHOW filter applied to getallqueries
// and /stats/history. recentBlocked always shows blocked queries regardless
// of this setting, and the dashboard carries no query table.
type QueryLogShow string

const (
	ShowAll           QueryLogShow = "all"
	ShowPermittedOnly QueryLogShow = "permittedonly"
	ShowBlockedOnly   QueryLogShow = "blockedonly"
	ShowNothing       QueryLogShow = "nothing"
)

// Config is the full set of recognised keys from the wire contract's
// configuration table, plus the ambient knobs (listen addresses) that have
// no distilled-spec key but are required to wire the process together.
type Config struct {
	PrivacyLevel      uint8
	MaxLogAge         int64 // seconds
	DBInterval        int64 // seconds
	MaxDBDays         int   // 0 disables pruning
	DBFile            string
	IgnoreLocalhost   bool
	AAAAQueryAnalysis bool
	ExcludeDomains    []string
	ExcludeClients    []string
	QueryLogShow      QueryLogShow
	ForwardDestLimit  int // Open Question (b): kept at 8, configurable

	// Ambient: not in the distilled spec's config table, but needed to
	// stand the process up.
	LineAddr     string
	HTTPAddr     string
	BinaryAddr   string
	MetricsAddr  string
	RedisAddr    string
	RedisChannel string
}

// Default returns the engine's documented defaults.
func Default() Config {
	return Config{
		PrivacyLevel:     0,
		MaxLogAge:        86400,
		DBInterval:       60,
		MaxDBDays:        0,
		DBFile:           "",
		QueryLogShow:     ShowAll,
		ForwardDestLimit: 8,
	}
}

// Load reads path as a sequence of `KEY=value` lines (blank lines and lines
// starting with `#` ignored) into a Config seeded with Default(). Unknown
// keys are ignored rather than rejected: forward-compatible with config
// files written by a newer version of this engine.
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return cfg, fmt.Errorf("config: %s:%d: missing '=' in %q", path, lineNo, line)
		}
		if err := cfg.apply(strings.TrimSpace(key), strings.TrimSpace(value)); err != nil {
			return cfg, fmt.Errorf("config: %s:%d: %w", path, lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) apply(key, value string) error {
	switch key {
	case "PRIVACY_LEVEL":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 || n > 4 {
			return fmt.Errorf("PRIVACY_LEVEL must be 0..4, got %q", value)
		}
		c.PrivacyLevel = uint8(n)
	case "MAXLOGAGE":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("MAXLOGAGE: %w", err)
		}
		c.MaxLogAge = n
	case "DBINTERVAL":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("DBINTERVAL: %w", err)
		}
		c.DBInterval = n
	case "MAXDBDAYS":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("MAXDBDAYS: %w", err)
		}
		c.MaxDBDays = n
	case "DBFILE":
		c.DBFile = value
	case "IGNORE_LOCALHOST":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("IGNORE_LOCALHOST: %w", err)
		}
		c.IgnoreLocalhost = b
	case "AAAA_QUERY_ANALYSIS":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("AAAA_QUERY_ANALYSIS: %w", err)
		}
		c.AAAAQueryAnalysis = b
	case "API_EXCLUDE_DOMAINS":
		c.ExcludeDomains = splitList(value)
	case "API_EXCLUDE_CLIENTS":
		c.ExcludeClients = splitList(value)
	case "API_QUERY_LOG_SHOW":
		switch QueryLogShow(value) {
		case ShowAll, ShowPermittedOnly, ShowBlockedOnly, ShowNothing:
			c.QueryLogShow = QueryLogShow(value)
		default:
			return fmt.Errorf("API_QUERY_LOG_SHOW: unrecognised value %q", value)
		}
	case "FORWARD_DEST_LIMIT":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("FORWARD_DEST_LIMIT must be a positive integer, got %q", value)
		}
		c.ForwardDestLimit = n
	default:
		// Forward-compatible: unknown keys are ignored, not rejected.
	}
	return nil
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
