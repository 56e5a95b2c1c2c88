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

package counters

import "testing"

func TestRecordStatusIsExclusivePerQuery(t *testing.T) {
	c := New()
	c.RecordStatus(true, false, false, false)  // gravity/blacklist/etc.
	c.RecordStatus(false, true, false, false)  // forwarded
	c.RecordStatus(false, false, true, false)  // cached
	c.RecordStatus(false, false, false, false) // none of the above -> still counted in Total only

	if c.Total != 4 {
		t.Fatalf("Total = %d, want 4", c.Total)
	}
	if c.Blocked != 1 || c.Forwarded != 1 || c.Cached != 1 {
		t.Fatalf("got blocked=%d forwarded=%d cached=%d, want 1 each", c.Blocked, c.Forwarded, c.Cached)
	}
}

func TestDefaultsOnBoot(t *testing.T) {
	c := New()
	if !c.BlockingEnabled {
		t.Fatalf("BlockingEnabled should default to true")
	}
	if c.PrivacyLevel != PrivacyNone {
		t.Fatalf("PrivacyLevel = %v, want PrivacyNone", c.PrivacyLevel)
	}
}
