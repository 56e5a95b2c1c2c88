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

// QueryType enumerates the DNS record types the engine tracks per the
// fixed PerType bucket layout.
type QueryType uint8

const (
	TypeA QueryType = iota
	TypeAAAA
	TypeANY
	TypeSRV
	TypeSOA
	TypePTR
	TypeTXT
	TypeUNKN
)

// QueryStatus enumerates the outcomes a query can settle into.
type QueryStatus uint8

const (
	StatusUnknown QueryStatus = iota
	StatusGravity
	StatusForwarded
	StatusCached
	StatusWildcard
	StatusBlacklist
	StatusExternalBlocked
)

// IsBlocked reports whether status counts toward the blocked totals.
func (s QueryStatus) IsBlocked() bool {
	switch s {
	case StatusGravity, StatusWildcard, StatusBlacklist, StatusExternalBlocked:
		return true
	default:
		return false
	}
}

// DNSSECStatus mirrors the resolver's validation outcome for a reply.
type DNSSECStatus uint8

const (
	DNSSECUnknown DNSSECStatus = iota
	DNSSECSecure
	DNSSECInsecure
	DNSSECBogus
	DNSSECAbandoned
)

// ReplyType mirrors the resolver's reply classification.
type ReplyType uint8

const (
	ReplyUnknown ReplyType = iota
	ReplyNoData
	ReplyNXDomain
	ReplyCNAME
	ReplyIP
	ReplyDomain
	ReplyRRName
	ReplyServFail
	ReplyRefused
	ReplyNotImp
	ReplyOther
	ReplyDNSSEC
	ReplyNone
	ReplyBlob
)

// NoUpstream is the sentinel UpstreamID for queries with no upstream
// (not forwarded, e.g. blocked or cached).
const NoUpstream = -1
