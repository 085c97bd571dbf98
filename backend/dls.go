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

import (
	"math"
	"sync"
)

// The standard-edition Duckworth/Lewis resource model. The fraction of
// a full 50-over, 10-wicket innings still available with u overs left
// and w wickets down is
//
//	R(u,w) = 100 * Z(u,w) / Z(50,0)
//	Z(u,w) = Z0 * F(w) * (1 - exp(-b*u/F(w)))
//
// with the decay constant b fitted to the published tables.
const (
	dlsDecay     = 0.028
	dlsFullOvers = 50
)

// dlsWicketFactor scales the asymptotic scoring capacity by wickets
// lost. F(0)=1, strictly decreasing.
var dlsWicketFactor = [10]float64{
	1.0, 0.93, 0.85, 0.74, 0.62, 0.49, 0.38, 0.27, 0.18, 0.08,
}

// ResourcePct returns the percentage of batting resources remaining
// with oversLeft overs (possibly fractional: legal balls remaining / 6)
// and wicketsDown wickets lost.
func ResourcePct(oversLeft float64, wicketsDown int) float64 {
	if oversLeft <= 0 || wicketsDown >= 10 {
		return 0
	}
	if wicketsDown < 0 {
		wicketsDown = 0
	}
	if oversLeft > dlsFullOvers {
		oversLeft = dlsFullOvers
	}
	return 100 * dlsZ(oversLeft, wicketsDown) / dlsZ(dlsFullOvers, 0)
}

func dlsZ(overs float64, wickets int) float64 {
	f := dlsWicketFactor[wickets]
	return f * (1 - math.Exp(-dlsDecay*overs/f))
}

// DLSResult is a computed target for the team batting second.
type DLSResult struct {
	Target     int     `json:"target"`
	ParScore   int     `json:"parScore"` // Target - 1
	Team1Score int     `json:"team1Score"`
	Team1Pct   float64 `json:"team1ResourcePct"`
	Team2Pct   float64 `json:"team2ResourcePct"`
	G50        int     `json:"g50"`
}

type dlsCacheKey struct {
	matchID string
	g50     int
}

// DLSEngine computes rain-adjusted targets. Previews are cached per
// match and G50 until an overs reduction invalidates them.
type DLSEngine struct {
	mu    sync.Mutex
	cache map[dlsCacheKey]*DLSResult
}

func NewDLSEngine() *DLSEngine {
	return &DLSEngine{cache: make(map[dlsCacheKey]*DLSResult)}
}

// Preview computes the adjusted target for a match whose first innings
// is complete, using the innings limits currently on record. The result
// is cached; Invalidate drops it when the inputs change.
func (e *DLSEngine) Preview(m *Match, g50 int) (*DLSResult, error) {
	if g50 == 0 {
		g50 = m.G50
	}
	if g50 < MinG50 || g50 > MaxG50 {
		return nil, &ConfigError{Field: "g50", Reason: "out of range"}
	}
	if m.FirstInnings == nil && m.State.CurrentInnings == 1 && m.State.Phase == PhaseInProgress {
		return nil, &ConfigError{Field: "match", Reason: "first innings is still in progress"}
	}

	key := dlsCacheKey{matchID: m.ID, g50: g50}
	e.mu.Lock()
	if r, ok := e.cache[key]; ok {
		e.mu.Unlock()
		return r, nil
	}
	e.mu.Unlock()

	r, err := e.compute(m, g50)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.cache[key] = r
	e.mu.Unlock()
	return r, nil
}

func (e *DLSEngine) compute(m *Match, g50 int) (*DLSResult, error) {
	var team1Score, team1Overs int
	switch {
	case m.FirstInnings != nil:
		team1Score = m.FirstInnings.Runs
		team1Overs = m.FirstInnings.OversLimit
	case m.State.CurrentInnings == 1:
		// Innings over but the flip not confirmed yet.
		team1Score = m.State.Runs
		team1Overs = m.State.OversLimit
	default:
		return nil, &ConfigError{Field: "match", Reason: "no first innings on record"}
	}
	if team1Overs < 1 {
		return nil, &ConfigError{Field: "oversLimit", Reason: "first innings has no overs limit"}
	}

	team2Overs := m.OversLimit
	if m.SecondInningsOvers > 0 {
		team2Overs = m.SecondInningsOvers
	}
	if m.State.CurrentInnings == 2 {
		team2Overs = m.State.OversLimit
	}
	if team2Overs < 1 {
		return nil, &ConfigError{Field: "oversLimit", Reason: "second innings has no overs limit"}
	}

	// Full-resource percentages at the start of each innings. Both
	// innings are assumed uninterrupted at their declared limits; a
	// further reduction invalidates the cache and reprices.
	r1 := ResourcePct(float64(team1Overs), 0)
	r2 := ResourcePct(float64(team2Overs), 0)

	var target int
	if r2 <= r1 {
		target = int(math.Floor(float64(team1Score)*r2/r1)) + 1
	} else {
		target = team1Score + int(math.Floor(float64(g50)*(r2-r1)/100)) + 1
	}

	return &DLSResult{
		Target:     target,
		ParScore:   target - 1,
		Team1Score: team1Score,
		Team1Pct:   r1,
		Team2Pct:   r2,
		G50:        g50,
	}, nil
}

// ParNow returns the score the chasing side must be ahead of at this
// exact point for the match to be theirs if no further play is
// possible. Valid only during the second innings.
func (e *DLSEngine) ParNow(m *Match) (int, error) {
	if m.State.CurrentInnings != 2 || m.FirstInnings == nil {
		return 0, &ConfigError{Field: "match", Reason: "second innings is not in progress"}
	}
	st := m.State
	r1 := ResourcePct(float64(m.FirstInnings.OversLimit), 0)
	startPct := ResourcePct(float64(st.OversLimit), 0)
	ballsLeft := st.OversLimit*BallsPerOver - st.LegalBalls
	if ballsLeft < 0 {
		ballsLeft = 0
	}
	remainingPct := ResourcePct(float64(ballsLeft)/BallsPerOver, st.Wickets)
	usedPct := startPct - remainingPct
	if usedPct < 0 {
		usedPct = 0
	}
	par := int(math.Floor(float64(m.FirstInnings.Runs) * usedPct / r1))
	return par, nil
}

// Invalidate drops all cached previews for a match. Called whenever its
// overs limits change.
func (e *DLSEngine) Invalidate(matchID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key := range e.cache {
		if key.matchID == matchID {
			delete(e.cache, key)
		}
	}
}
