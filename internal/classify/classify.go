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

// Package classify defines the port to the gravity/blacklist/regex
// classifier. The classifier itself is an external collaborator (§6 of
// the engine spec): this package only describes the contract the engine
// consults, plus a small in-process stub for tests and standalone runs.
package classify

import (
	"context"
	"sort"
)

// Classifier decides whether domain matches a regex blocklist. ok=false
// means no verdict was reached (classifier unavailable, or it has not
// been asked to evaluate this domain yet) and the domain's regex state
// must remain Unknown.
type Classifier interface {
	Classify(ctx context.Context, domain string) (blocked bool, ok bool)
}

// StaticClassifier is a map-backed Classifier for tests and for running
// the engine without a real resolver-side classifier attached.
type StaticClassifier struct {
	Blocklist map[string]bool
}

// NewStatic returns a StaticClassifier seeded with blocklist.
func NewStatic(blocklist map[string]bool) *StaticClassifier {
	if blocklist == nil {
		blocklist = map[string]bool{}
	}
	return &StaticClassifier{Blocklist: blocklist}
}

// Classify reports a verdict only for domains present in the map; any
// other domain yields ok=false (no verdict), leaving regex state Unknown.
func (s *StaticClassifier) Classify(_ context.Context, domain string) (blocked bool, ok bool) {
	blocked, ok = s.Blocklist[domain]
	return blocked, ok
}

// Entries returns the domains currently classified as blocked, sorted, for
// read-only inspection by the dispatcher's `/dns/blacklist` route.
func (s *StaticClassifier) Entries() []string {
	out := make([]string, 0, len(s.Blocklist))
	for domain, blocked := range s.Blocklist {
		if blocked {
			out = append(out, domain)
		}
	}
	sort.Strings(out)
	return out
}

// None is a Classifier that never reaches a verdict. It is the default
// when no classifier is wired, so every domain's regex state stays
// Unknown until a real classifier is attached.
var None Classifier = noneClassifier{}

type noneClassifier struct{}

func (noneClassifier) Classify(context.Context, string) (bool, bool) { return false, false }
