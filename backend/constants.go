// Copyright (c) 2026 TTBT Enterprises LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backend

// Schema Versions
const (
	SchemaVersionV1 = 1

	CurrentSchemaVersion = SchemaVersionV1
)

// Match status values.
const (
	StatusLive    = "live"
	StatusFinal   = "final"
	StatusDeleted = "deleted"
)

// Cricket constants.
const (
	BallsPerOver  = 6
	DefaultXISize = 11
	MaxOversLimit = 50
)

// DLS constants.
const (
	DefaultG50 = 245
	MinG50     = 100
	MaxG50     = 400
)

// Event types carried in the match event log.
const (
	EvMatchStart    = "MATCH_START"
	EvOpeners       = "OPENERS"
	EvDelivery      = "DELIVERY"
	EvNewOver       = "NEW_OVER"
	EvMidOverChange = "MID_OVER_CHANGE"
	EvNewBatter     = "NEW_BATTER"
	EvNewInnings    = "NEW_INNINGS"
	EvEndInnings    = "END_INNINGS"
	EvReduceOvers   = "REDUCE_OVERS"
	EvApplyTarget   = "APPLY_TARGET"
	EvMatchFinalize = "MATCH_FINALIZE"
)

// Overs-reduction scopes.
const (
	ReduceScopeMatch   = "match"
	ReduceScopeInnings = "innings"
)
