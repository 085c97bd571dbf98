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

// rotateStrike swaps the batters when the runs physically run on a
// delivery are odd. Wides rotate on the runs beyond the automatic one;
// byes and leg byes rotate on the extras run.
func rotateStrike(st *MatchState, d *Delivery) {
	if d.RunsActuallyRun()%2 == 1 {
		st.StrikerID, st.NonStrikerID = st.NonStrikerID, st.StrikerID
	}
}

// endOverRotation performs the end-of-over bookkeeping once the sixth
// legal ball has been counted: the batters cross unconditionally, the
// finishing bowler becomes ineligible for the next over, and scoring is
// gated until a new bowler is named.
func endOverRotation(st *MatchState) {
	st.StrikerID, st.NonStrikerID = st.NonStrikerID, st.StrikerID
	st.LastOverBowlerID = st.CurrentBowlerID
	st.CurrentBowlerID = ""
	st.NeedsNewOver = true
	st.MidOverChangeUsed = false
}

// CheckBowlerEligibility reports whether bowlerID may open the next
// over. A bowler cannot bowl two consecutive overs; after a mid-over
// change the replacement, who finished the over, is the ineligible one.
func CheckBowlerEligibility(st *MatchState, bowlerID string) error {
	if bowlerID == "" {
		return validationErrorf("a bowler is required")
	}
	if st.LastOverBowlerID != "" && bowlerID == st.LastOverBowlerID {
		return validationErrorf("bowler %s bowled the previous over", bowlerID)
	}
	return nil
}
