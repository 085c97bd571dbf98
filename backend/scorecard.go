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

// BattingRow is one batter's line on the scorecard.
type BattingRow struct {
	PlayerID   string        `json:"playerId"`
	Runs       int           `json:"runs"`
	BallsFaced int           `json:"ballsFaced"`
	Fours      int           `json:"fours"`
	Sixes      int           `json:"sixes"`
	Out        bool          `json:"out"`
	HowOut     DismissalType `json:"howOut,omitempty"`
	StrikeRate float64       `json:"strikeRate"`
}

// BowlingRow is one bowler's line on the scorecard.
type BowlingRow struct {
	PlayerID string  `json:"playerId"`
	Overs    string  `json:"overs"` // "completed.balls"
	Maidens  int     `json:"maidens"`
	Runs     int     `json:"runs"`
	Wickets  int     `json:"wickets"`
	Economy  float64 `json:"economy"`
}

// Scorecard is the full derived card for one innings.
type Scorecard struct {
	Innings int          `json:"innings"`
	Batting []BattingRow `json:"batting"`
	Bowling []BowlingRow `json:"bowling"`
	Extras  ExtrasLine   `json:"extras"`
	Total   int          `json:"total"`
	Wickets int          `json:"wickets"`
	Overs   string       `json:"overs"`
}

// ExtrasLine breaks down the extras conceded in an innings.
type ExtrasLine struct {
	Wides   int `json:"wides"`
	NoBalls int `json:"noBalls"`
	Byes    int `json:"byes"`
	LegByes int `json:"legByes"`
	Total   int `json:"total"`
}

// Aggregate derives the scorecard for one innings from the delivery
// list. It is a pure fold: identical inputs always produce identical
// cards, and rows appear in order of first participation.
func Aggregate(deliveries []Delivery, innings int) *Scorecard {
	card := &Scorecard{Innings: innings}
	batIndex := map[string]int{}
	bowlIndex := map[string]int{}
	legalBalls := 0

	// Per-bowler tally of the over in progress, for maiden detection. An
	// over split between two bowlers is a maiden for neither.
	type overTally struct {
		over  int
		balls int
		runs  int
	}
	overs := map[string]*overTally{}
	bowlBalls := map[string]int{}

	batRow := func(id string) *BattingRow {
		if i, ok := batIndex[id]; ok {
			return &card.Batting[i]
		}
		batIndex[id] = len(card.Batting)
		card.Batting = append(card.Batting, BattingRow{PlayerID: id})
		return &card.Batting[len(card.Batting)-1]
	}
	bowlRow := func(id string) *BowlingRow {
		if i, ok := bowlIndex[id]; ok {
			return &card.Bowling[i]
		}
		bowlIndex[id] = len(card.Bowling)
		card.Bowling = append(card.Bowling, BowlingRow{PlayerID: id})
		return &card.Bowling[len(card.Bowling)-1]
	}

	for i := range deliveries {
		d := &deliveries[i]
		if d.Innings != innings {
			continue
		}

		// Both batters join the card when they first appear, even before
		// facing a ball.
		batRow(d.StrikerID)
		batRow(d.NonStrikerID)

		striker := batRow(d.StrikerID)
		if d.FacesBatter() {
			striker.BallsFaced++
			striker.Runs += d.BatterRuns()
			if d.RunsOffBat == 4 {
				striker.Fours++
			}
			if d.RunsOffBat == 6 {
				striker.Sixes++
			}
		}

		bowler := bowlRow(d.BowlerID)
		bowler.Runs += d.BowlerRuns()
		if d.IsWicket {
			out := batRow(d.DismissedPlayerID)
			out.Out = true
			out.HowOut = d.DismissalType
			if creditsBowler(d.DismissalType) {
				bowler.Wickets++
			}
			card.Wickets++
		}

		card.Total += d.TotalRuns()
		switch d.ExtraType {
		case ExtraWide:
			card.Extras.Wides += d.ExtraRuns
		case ExtraNoBall:
			card.Extras.NoBalls++
			card.Extras.Byes += max(0, d.ExtraRuns-1)
		case ExtraBye:
			card.Extras.Byes += d.ExtraRuns
		case ExtraLegBye:
			card.Extras.LegByes += d.ExtraRuns
		}

		tally, ok := overs[d.BowlerID]
		if !ok || tally.over != d.Over {
			tally = &overTally{over: d.Over}
			overs[d.BowlerID] = tally
		}
		// All runs conceded while this ball was bowled break the maiden,
		// including byes and leg byes the bowler is not charged for.
		tally.runs += d.TotalRuns()
		if d.countsForBowler() {
			tally.balls++
			bowlBalls[d.BowlerID]++
			legalBalls++
		}
		if tally.balls == BallsPerOver {
			if tally.runs == 0 {
				bowler.Maidens++
			}
			tally.balls, tally.runs = 0, 0
		}
	}

	card.Extras.Total = card.Extras.Wides + card.Extras.NoBalls + card.Extras.Byes + card.Extras.LegByes
	card.Overs = ballsToOvers(legalBalls)

	for i := range card.Batting {
		b := &card.Batting[i]
		if b.BallsFaced > 0 {
			b.StrikeRate = float64(b.Runs) * 100 / float64(b.BallsFaced)
		}
	}

	for i := range card.Bowling {
		b := &card.Bowling[i]
		balls := bowlBalls[b.PlayerID]
		b.Overs = ballsToOvers(balls)
		if balls > 0 {
			b.Economy = float64(b.Runs) * BallsPerOver / float64(balls)
		}
	}

	return card
}

// AggregateAll derives the cards for every innings present in the
// delivery list, in innings order.
func AggregateAll(deliveries []Delivery) []*Scorecard {
	var cards []*Scorecard
	for _, innings := range []int{1, 2} {
		found := false
		for i := range deliveries {
			if deliveries[i].Innings == innings {
				found = true
				break
			}
		}
		if found {
			cards = append(cards, Aggregate(deliveries, innings))
		}
	}
	return cards
}

func ballsToOvers(balls int) string {
	return fmt.Sprintf("%d.%d", balls/BallsPerOver, balls%BallsPerOver)
}
