package backend

import (
	"math"
	"testing"
)

// over builds six legal deliveries by one bowler with the given runs
// off the bat, without modeling strike rotation. Scorecard aggregation
// only reads the fields on each ball.
func over(innings, overNum int, bowler, striker, nonStriker string, runs [6]int) []Delivery {
	out := make([]Delivery, 6)
	for i := range out {
		out[i] = Delivery{
			Innings:      innings,
			Over:         overNum,
			BallInOver:   i,
			StrikerID:    striker,
			NonStrikerID: nonStriker,
			BowlerID:     bowler,
			RunsOffBat:   runs[i],
		}
	}
	return out
}

func TestAggregateBattingAndBowling(t *testing.T) {
	ds := over(1, 0, "b1", "s1", "s2", [6]int{0, 4, 1, 0, 6, 2})

	card := Aggregate(ds, 1)

	if card.Total != 13 {
		t.Errorf("total = %d, want 13", card.Total)
	}
	if card.Overs != "1.0" {
		t.Errorf("overs = %s, want 1.0", card.Overs)
	}
	if len(card.Batting) != 2 {
		t.Fatalf("batting rows = %d, want 2", len(card.Batting))
	}
	s1 := card.Batting[0]
	if s1.PlayerID != "s1" || s1.Runs != 13 || s1.BallsFaced != 6 || s1.Fours != 1 || s1.Sixes != 1 {
		t.Errorf("striker row = %+v", s1)
	}
	if sr := 13.0 * 100 / 6; math.Abs(s1.StrikeRate-sr) > 1e-9 {
		t.Errorf("strike rate = %f, want %f", s1.StrikeRate, sr)
	}
	// The non-striker appears with a blank line.
	s2 := card.Batting[1]
	if s2.PlayerID != "s2" || s2.BallsFaced != 0 || s2.Runs != 0 {
		t.Errorf("non-striker row = %+v", s2)
	}

	if len(card.Bowling) != 1 {
		t.Fatalf("bowling rows = %d, want 1", len(card.Bowling))
	}
	b := card.Bowling[0]
	if b.Runs != 13 || b.Overs != "1.0" || b.Maidens != 0 {
		t.Errorf("bowler row = %+v", b)
	}
	if math.Abs(b.Economy-13.0) > 1e-9 {
		t.Errorf("economy = %f, want 13", b.Economy)
	}
}

func TestAggregateMaidens(t *testing.T) {
	var ds []Delivery
	ds = append(ds, over(1, 0, "b1", "s1", "s2", [6]int{0, 0, 0, 0, 0, 0})...)
	ds = append(ds, over(1, 1, "b2", "s2", "s1", [6]int{1, 0, 0, 0, 0, 0})...)
	ds = append(ds, over(1, 2, "b1", "s1", "s2", [6]int{0, 0, 0, 0, 0, 0})...)

	card := Aggregate(ds, 1)
	for _, b := range card.Bowling {
		switch b.PlayerID {
		case "b1":
			if b.Maidens != 2 {
				t.Errorf("b1 maidens = %d, want 2", b.Maidens)
			}
		case "b2":
			if b.Maidens != 0 {
				t.Errorf("b2 maidens = %d, want 0", b.Maidens)
			}
		}
	}
}

func TestByesBreakMaidenWithoutChargingBowler(t *testing.T) {
	ds := over(1, 0, "b1", "s1", "s2", [6]int{0, 0, 0, 0, 0, 0})
	ds[3].ExtraType = ExtraBye
	ds[3].ExtraRuns = 2

	card := Aggregate(ds, 1)
	b := card.Bowling[0]
	if b.Runs != 0 {
		t.Errorf("bowler runs = %d, want 0 (byes are not charged)", b.Runs)
	}
	if b.Maidens != 0 {
		t.Error("byes conceded during the over break the maiden")
	}
	if card.Extras.Byes != 2 || card.Extras.Total != 2 {
		t.Errorf("extras = %+v", card.Extras)
	}
	if card.Total != 2 {
		t.Errorf("total = %d, want 2", card.Total)
	}
}

func TestSplitOverIsNoMaiden(t *testing.T) {
	// b1 bowls three balls of over 0, b2 finishes it. All dots: neither
	// gets the maiden. b1 then bowls all of over 2 clean.
	var ds []Delivery
	half := over(1, 0, "b1", "s1", "s2", [6]int{0, 0, 0, 0, 0, 0})
	for i := 3; i < 6; i++ {
		half[i].BowlerID = "b2"
	}
	ds = append(ds, half...)
	ds = append(ds, over(1, 2, "b1", "s1", "s2", [6]int{0, 0, 0, 0, 0, 0})...)

	card := Aggregate(ds, 1)
	for _, b := range card.Bowling {
		switch b.PlayerID {
		case "b1":
			if b.Maidens != 1 {
				t.Errorf("b1 maidens = %d, want 1 (only the full over)", b.Maidens)
			}
			if b.Overs != "1.3" {
				t.Errorf("b1 overs = %s, want 1.3", b.Overs)
			}
		case "b2":
			if b.Maidens != 0 {
				t.Errorf("b2 maidens = %d, want 0", b.Maidens)
			}
		}
	}
}

func TestAggregateExtrasAndWickets(t *testing.T) {
	ds := []Delivery{
		{Innings: 1, Over: 0, BallInOver: 0, StrikerID: "s1", NonStrikerID: "s2", BowlerID: "b1",
			ExtraType: ExtraWide, ExtraRuns: 3},
		{Innings: 1, Over: 0, BallInOver: 0, StrikerID: "s1", NonStrikerID: "s2", BowlerID: "b1",
			ExtraType: ExtraNoBall, ExtraRuns: 3, RunsOffBat: 0},
		{Innings: 1, Over: 0, BallInOver: 0, StrikerID: "s1", NonStrikerID: "s2", BowlerID: "b1",
			IsWicket: true, DismissalType: DismissalCaught, DismissedPlayerID: "s1", FielderID: "f1"},
		{Innings: 1, Over: 0, BallInOver: 1, StrikerID: "s3", NonStrikerID: "s2", BowlerID: "b1",
			IsWicket: true, DismissalType: DismissalRunOut, DismissedPlayerID: "s2", FielderID: "f1"},
	}

	card := Aggregate(ds, 1)

	if card.Extras.Wides != 3 {
		t.Errorf("wides = %d, want 3", card.Extras.Wides)
	}
	if card.Extras.NoBalls != 1 || card.Extras.Byes != 2 {
		t.Errorf("no balls = %d byes = %d, want 1 and 2", card.Extras.NoBalls, card.Extras.Byes)
	}
	if card.Wickets != 2 {
		t.Errorf("wickets = %d, want 2", card.Wickets)
	}

	b := card.Bowling[0]
	if b.Wickets != 1 {
		t.Errorf("bowler wickets = %d, want 1 (run outs are not the bowler's)", b.Wickets)
	}
	// Wide 3 + no-ball penalty 1; byes off the no ball are not charged.
	if b.Runs != 4 {
		t.Errorf("bowler runs = %d, want 4", b.Runs)
	}

	for _, row := range card.Batting {
		switch row.PlayerID {
		case "s1":
			if !row.Out || row.HowOut != DismissalCaught {
				t.Errorf("s1 row = %+v", row)
			}
			// The wide is not a ball faced; the no ball and the wicket
			// ball are.
			if row.BallsFaced != 2 {
				t.Errorf("s1 balls faced = %d, want 2", row.BallsFaced)
			}
		case "s2":
			if !row.Out || row.HowOut != DismissalRunOut {
				t.Errorf("s2 row = %+v", row)
			}
		}
	}
}

func TestAggregateAllSplitsInnings(t *testing.T) {
	var ds []Delivery
	ds = append(ds, over(1, 0, "b1", "s1", "s2", [6]int{1, 1, 1, 1, 1, 1})...)
	ds = append(ds, over(2, 0, "c1", "t1", "t2", [6]int{4, 4, 0, 0, 0, 0})...)

	cards := AggregateAll(ds)
	if len(cards) != 2 {
		t.Fatalf("cards = %d, want 2", len(cards))
	}
	if cards[0].Innings != 1 || cards[0].Total != 6 {
		t.Errorf("first card = %+v", cards[0])
	}
	if cards[1].Innings != 2 || cards[1].Total != 8 {
		t.Errorf("second card = %+v", cards[1])
	}

	// Only one innings present.
	cards = AggregateAll(ds[:6])
	if len(cards) != 1 || cards[0].Innings != 1 {
		t.Fatalf("cards for one innings = %d", len(cards))
	}
}
