package backend

import "testing"

func TestRotateStrike(t *testing.T) {
	tests := []struct {
		name    string
		d       Delivery
		swapped bool
	}{
		{"dot", Delivery{}, false},
		{"single", Delivery{RunsOffBat: 1}, true},
		{"two", Delivery{RunsOffBat: 2}, false},
		{"three", Delivery{RunsOffBat: 3}, true},
		{"four", Delivery{RunsOffBat: 4}, false},
		{"plain wide", Delivery{ExtraType: ExtraWide, ExtraRuns: 1}, false},
		{"wide ran one", Delivery{ExtraType: ExtraWide, ExtraRuns: 2}, true},
		{"wide of five", Delivery{ExtraType: ExtraWide, ExtraRuns: 5}, false},
		{"single bye", Delivery{ExtraType: ExtraBye, ExtraRuns: 1}, true},
		{"no ball single off bat", Delivery{ExtraType: ExtraNoBall, ExtraRuns: 1, RunsOffBat: 1}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			st := MatchState{StrikerID: "a", NonStrikerID: "b"}
			rotateStrike(&st, &tc.d)
			swapped := st.StrikerID == "b"
			if swapped != tc.swapped {
				t.Errorf("swapped = %v, want %v", swapped, tc.swapped)
			}
		})
	}
}

func TestEndOverRotation(t *testing.T) {
	st := MatchState{
		StrikerID:         "a",
		NonStrikerID:      "b",
		CurrentBowlerID:   "x",
		MidOverChangeUsed: true,
	}
	endOverRotation(&st)

	if st.StrikerID != "b" || st.NonStrikerID != "a" {
		t.Error("batters should cross at the end of the over")
	}
	if st.LastOverBowlerID != "x" {
		t.Errorf("LastOverBowlerID = %q, want x", st.LastOverBowlerID)
	}
	if st.CurrentBowlerID != "" {
		t.Error("current bowler should be cleared")
	}
	if !st.NeedsNewOver {
		t.Error("a new over should be required")
	}
	if st.MidOverChangeUsed {
		t.Error("the mid-over change allowance resets each over")
	}
}

func TestCheckBowlerEligibility(t *testing.T) {
	st := MatchState{LastOverBowlerID: "x"}

	if err := CheckBowlerEligibility(&st, "x"); err == nil {
		t.Error("the previous over's bowler cannot bowl consecutive overs")
	}
	if err := CheckBowlerEligibility(&st, "y"); err != nil {
		t.Errorf("a different bowler should be eligible: %v", err)
	}
	if err := CheckBowlerEligibility(&st, ""); err == nil {
		t.Error("an empty bowler ID should be rejected")
	}

	// First over of an innings: nobody is barred.
	st.LastOverBowlerID = ""
	if err := CheckBowlerEligibility(&st, "x"); err != nil {
		t.Errorf("any bowler may open the innings: %v", err)
	}
}
