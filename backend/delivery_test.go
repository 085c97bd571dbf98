package backend

import "testing"

func TestDeliveryRunAccounting(t *testing.T) {
	tests := []struct {
		name       string
		d          Delivery
		total      int
		batter     int
		bowler     int
		run        int
		legal      bool
		facesBat   bool
	}{
		{
			name:  "dot ball",
			d:     Delivery{},
			total: 0, batter: 0, bowler: 0, run: 0, legal: true, facesBat: true,
		},
		{
			name:  "single",
			d:     Delivery{RunsOffBat: 1},
			total: 1, batter: 1, bowler: 1, run: 1, legal: true, facesBat: true,
		},
		{
			name:  "boundary four",
			d:     Delivery{RunsOffBat: 4},
			total: 4, batter: 4, bowler: 4, run: 4, legal: true, facesBat: true,
		},
		{
			name:  "plain wide",
			d:     Delivery{ExtraType: ExtraWide, ExtraRuns: 1},
			total: 1, batter: 0, bowler: 1, run: 0, legal: false, facesBat: false,
		},
		{
			name:  "wide ran two",
			d:     Delivery{ExtraType: ExtraWide, ExtraRuns: 3},
			total: 3, batter: 0, bowler: 3, run: 2, legal: false, facesBat: false,
		},
		{
			name:  "plain no ball",
			d:     Delivery{ExtraType: ExtraNoBall, ExtraRuns: 1},
			total: 1, batter: 0, bowler: 1, run: 0, legal: false, facesBat: true,
		},
		{
			name:  "no ball hit for four",
			d:     Delivery{ExtraType: ExtraNoBall, ExtraRuns: 1, RunsOffBat: 4},
			total: 5, batter: 4, bowler: 5, run: 4, legal: false, facesBat: true,
		},
		{
			name:  "two byes",
			d:     Delivery{ExtraType: ExtraBye, ExtraRuns: 2},
			total: 2, batter: 0, bowler: 0, run: 2, legal: true, facesBat: true,
		},
		{
			name:  "leg bye",
			d:     Delivery{ExtraType: ExtraLegBye, ExtraRuns: 1},
			total: 1, batter: 0, bowler: 0, run: 1, legal: true, facesBat: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.d.TotalRuns(); got != tc.total {
				t.Errorf("TotalRuns = %d, want %d", got, tc.total)
			}
			if got := tc.d.BatterRuns(); got != tc.batter {
				t.Errorf("BatterRuns = %d, want %d", got, tc.batter)
			}
			if got := tc.d.BowlerRuns(); got != tc.bowler {
				t.Errorf("BowlerRuns = %d, want %d", got, tc.bowler)
			}
			if got := tc.d.RunsActuallyRun(); got != tc.run {
				t.Errorf("RunsActuallyRun = %d, want %d", got, tc.run)
			}
			if got := tc.d.IsLegal(); got != tc.legal {
				t.Errorf("IsLegal = %v, want %v", got, tc.legal)
			}
			if got := tc.d.FacesBatter(); got != tc.facesBat {
				t.Errorf("FacesBatter = %v, want %v", got, tc.facesBat)
			}
		})
	}
}

func TestBallKeyOrdering(t *testing.T) {
	a := BallKey{Innings: 1, Over: 0, Ball: 0}
	b := BallKey{Innings: 1, Over: 0, Ball: 1}
	c := BallKey{Innings: 1, Over: 3, Ball: 0}
	d := BallKey{Innings: 2, Over: 0, Ball: 0}

	if !a.Less(b) || !b.Less(c) || !c.Less(d) {
		t.Error("keys should order by innings, over, ball")
	}
	if b.Less(a) || a.Less(a) {
		t.Error("Less should be a strict order")
	}
	if got := c.String(); got != "1/3.0" {
		t.Errorf("String = %q, want 1/3.0", got)
	}
}

func TestDismissalClassification(t *testing.T) {
	if !needsFielder(DismissalCaught) || !needsFielder(DismissalRunOut) || !needsFielder(DismissalStumped) {
		t.Error("caught, run out and stumped require a fielder")
	}
	if needsFielder(DismissalBowled) || needsFielder(DismissalLBW) {
		t.Error("bowled and lbw do not involve a fielder")
	}
	if !creditsBowler(DismissalBowled) || !creditsBowler(DismissalCaught) || !creditsBowler(DismissalStumped) {
		t.Error("bowled, caught and stumped are the bowler's wickets")
	}
	if creditsBowler(DismissalRunOut) || creditsBowler(DismissalRetired) {
		t.Error("run out and retired are not credited to the bowler")
	}
}
