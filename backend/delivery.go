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

import "fmt"

// ExtraType classifies a delivery's extras, if any.
type ExtraType string

const (
	ExtraNone   ExtraType = ""
	ExtraWide   ExtraType = "wide"
	ExtraNoBall ExtraType = "noBall"
	ExtraBye    ExtraType = "bye"
	ExtraLegBye ExtraType = "legBye"
)

// DismissalType classifies how a batter got out.
type DismissalType string

const (
	DismissalBowled    DismissalType = "bowled"
	DismissalCaught    DismissalType = "caught"
	DismissalLBW       DismissalType = "lbw"
	DismissalRunOut    DismissalType = "runOut"
	DismissalStumped   DismissalType = "stumped"
	DismissalHitWicket DismissalType = "hitWicket"
	DismissalRetired   DismissalType = "retiredOut"
)

// BallKey is the identity key of one logical ball. Retried submissions of
// the same ball carry the same key and must collapse to one record.
type BallKey struct {
	Innings int `json:"innings"`
	Over    int `json:"over"`
	Ball    int `json:"ball"`
}

func (k BallKey) String() string {
	return fmt.Sprintf("%d/%d.%d", k.Innings, k.Over, k.Ball)
}

// Less reports whether k is an earlier ball than other.
func (k BallKey) Less(other BallKey) bool {
	if k.Innings != other.Innings {
		return k.Innings < other.Innings
	}
	if k.Over != other.Over {
		return k.Over < other.Over
	}
	return k.Ball < other.Ball
}

// Delivery represents one ball bowled, legal or not.
//
// For wides, ExtraRuns includes the automatic one-run penalty, so a plain
// wide has ExtraRuns == 1. For no-balls, ExtraRuns likewise includes the
// penalty run; RunsOffBat holds anything the striker hit. For byes and
// leg-byes, ExtraRuns is the number of runs physically run.
type Delivery struct {
	Innings    int `json:"innings"`
	Over       int `json:"over"`
	BallInOver int `json:"ballInOver"`

	StrikerID    string `json:"strikerId"`
	NonStrikerID string `json:"nonStrikerId"`
	BowlerID     string `json:"bowlerId"`

	RunsOffBat int       `json:"runsOffBat"`
	ExtraType  ExtraType `json:"extraType,omitempty"`
	ExtraRuns  int       `json:"extraRuns,omitempty"`

	IsWicket          bool          `json:"isWicket,omitempty"`
	DismissalType     DismissalType `json:"dismissalType,omitempty"`
	DismissedPlayerID string        `json:"dismissedPlayerId,omitempty"`
	FielderID         string        `json:"fielderId,omitempty"`

	// AtUTC is the client-side wall clock of the ball, Unix milliseconds.
	AtUTC int64 `json:"atUtc,omitempty"`
}

// Key returns the delivery's identity key.
func (d *Delivery) Key() BallKey {
	return BallKey{Innings: d.Innings, Over: d.Over, Ball: d.BallInOver}
}

// IsLegal reports whether the delivery consumes one of the over's six balls.
func (d *Delivery) IsLegal() bool {
	return d.ExtraType != ExtraWide && d.ExtraType != ExtraNoBall
}

// TotalRuns is the number of runs the delivery adds to the team total.
func (d *Delivery) TotalRuns() int {
	switch d.ExtraType {
	case ExtraWide, ExtraBye, ExtraLegBye:
		return d.ExtraRuns
	case ExtraNoBall:
		return d.RunsOffBat + d.ExtraRuns
	default:
		return d.RunsOffBat
	}
}

// BatterRuns is the number of runs credited to the striker.
func (d *Delivery) BatterRuns() int {
	switch d.ExtraType {
	case ExtraWide, ExtraBye, ExtraLegBye:
		return 0
	default:
		return d.RunsOffBat
	}
}

// BowlerRuns is the number of runs charged against the bowler.
// Byes and leg-byes are not the bowler's fault.
func (d *Delivery) BowlerRuns() int {
	switch d.ExtraType {
	case ExtraWide:
		return d.ExtraRuns
	case ExtraNoBall:
		return 1 + d.RunsOffBat
	case ExtraBye, ExtraLegBye:
		return 0
	default:
		return d.RunsOffBat
	}
}

// RunsActuallyRun is the number of times the batters physically crossed,
// which is what decides strike rotation. The automatic penalty run on a
// wide or no-ball is not run.
func (d *Delivery) RunsActuallyRun() int {
	switch d.ExtraType {
	case ExtraWide:
		return max(0, d.ExtraRuns-1)
	case ExtraNoBall:
		return d.RunsOffBat + max(0, d.ExtraRuns-1)
	case ExtraBye, ExtraLegBye:
		return d.ExtraRuns
	default:
		return d.RunsOffBat
	}
}

// FacesBatter reports whether the ball counts toward the striker's balls
// faced. Wides are excluded; no-balls are included because the batter
// played the ball.
func (d *Delivery) FacesBatter() bool {
	return d.ExtraType != ExtraWide
}

// countsForBowler reports whether the ball counts toward the bowler's
// over tally. Everything except wides and no-balls does.
func (d *Delivery) countsForBowler() bool {
	return d.IsLegal()
}

// needsFielder reports whether the dismissal type requires a fielder.
func needsFielder(dt DismissalType) bool {
	switch dt {
	case DismissalCaught, DismissalRunOut, DismissalStumped:
		return true
	}
	return false
}

// creditsBowler reports whether the dismissal counts as the bowler's wicket.
func creditsBowler(dt DismissalType) bool {
	switch dt {
	case DismissalBowled, DismissalCaught, DismissalLBW, DismissalStumped, DismissalHitWicket:
		return true
	}
	return false
}

func validDismissal(dt DismissalType) bool {
	switch dt {
	case DismissalBowled, DismissalCaught, DismissalLBW, DismissalRunOut,
		DismissalStumped, DismissalHitWicket, DismissalRetired:
		return true
	}
	return false
}

func validExtra(et ExtraType) bool {
	switch et {
	case ExtraNone, ExtraWide, ExtraNoBall, ExtraBye, ExtraLegBye:
		return true
	}
	return false
}
