package backend

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/google/uuid"
)

func TestResourcePct(t *testing.T) {
	if got := ResourcePct(50, 0); math.Abs(got-100) > 1e-9 {
		t.Errorf("R(50,0) = %f, want 100", got)
	}
	if got := ResourcePct(0, 0); got != 0 {
		t.Errorf("R(0,0) = %f, want 0", got)
	}
	if got := ResourcePct(30, 10); got != 0 {
		t.Errorf("R(30,10) = %f, want 0 (all out)", got)
	}

	// Spot checks against the published standard-edition table, within
	// half a point.
	table := []struct {
		overs float64
		want  float64
	}{
		{10, 32.1},
		{20, 56.6},
		{30, 75.1},
		{40, 89.3},
	}
	for _, tc := range table {
		got := ResourcePct(tc.overs, 0)
		if math.Abs(got-tc.want) > 0.5 {
			t.Errorf("R(%.0f,0) = %f, want ~%f", tc.overs, got, tc.want)
		}
	}

	// Strictly decreasing in wickets, at fixed overs.
	prev := ResourcePct(30, 0)
	for w := 1; w < 10; w++ {
		cur := ResourcePct(30, w)
		if cur >= prev {
			t.Fatalf("R(30,%d) = %f not below R(30,%d) = %f", w, cur, w-1, prev)
		}
		prev = cur
	}
}

func dlsMatch(team1Runs, team1Overs, team2Overs int) *Match {
	m := &Match{
		ID:         uuid.NewString(),
		OversLimit: team1Overs,
		G50:        DefaultG50,
		FirstInnings: &InningsSummary{
			TeamID:     "t1",
			Runs:       team1Runs,
			OversLimit: team1Overs,
		},
		State: MatchState{
			Phase:          PhaseInProgress,
			CurrentInnings: 2,
			OversLimit:     team2Overs,
		},
	}
	m.normalize()
	return m
}

func TestDLSPreviewUnreduced(t *testing.T) {
	e := NewDLSEngine()
	m := dlsMatch(250, 50, 50)

	r, err := e.Preview(m, 0)
	if err != nil {
		t.Fatal(err)
	}
	// Equal resources: the target is simply the score plus one.
	if r.Target != 251 {
		t.Errorf("target = %d, want 251", r.Target)
	}
	if r.ParScore != 250 {
		t.Errorf("par = %d, want 250", r.ParScore)
	}
}

func TestDLSPreviewReducedChase(t *testing.T) {
	e := NewDLSEngine()
	m := dlsMatch(250, 50, 30)

	r, err := e.Preview(m, 0)
	if err != nil {
		t.Fatal(err)
	}
	r2 := ResourcePct(30, 0)
	want := int(math.Floor(250*r2/100)) + 1
	if r.Target != want {
		t.Errorf("target = %d, want %d", r.Target, want)
	}
	if r.Target >= 251 {
		t.Error("a shortened chase must have a reduced target")
	}
}

func TestDLSPreviewTeam2Advantage(t *testing.T) {
	// Team 1's innings was cut short at 30 overs but team 2 gets 50: the
	// G50 surcharge applies.
	e := NewDLSEngine()
	m := dlsMatch(180, 30, 30)
	m.FirstInnings.OversLimit = 30
	m.State.OversLimit = 50

	r, err := e.Preview(m, 0)
	if err != nil {
		t.Fatal(err)
	}
	r1 := ResourcePct(30, 0)
	r2 := ResourcePct(50, 0)
	want := 180 + int(math.Floor(float64(DefaultG50)*(r2-r1)/100)) + 1
	if r.Target != want {
		t.Errorf("target = %d, want %d", r.Target, want)
	}
	if r.Target <= 181 {
		t.Error("extra resources must raise the target above score plus one")
	}
}

func TestDLSPreviewCacheAndInvalidate(t *testing.T) {
	e := NewDLSEngine()
	m := dlsMatch(250, 50, 30)

	first, err := e.Preview(m, 0)
	if err != nil {
		t.Fatal(err)
	}
	again, err := e.Preview(m, 0)
	if err != nil {
		t.Fatal(err)
	}
	if first != again {
		t.Error("an unchanged preview should come from the cache")
	}

	// A further reduction invalidates and reprices.
	m.State.OversLimit = 20
	e.Invalidate(m.ID)
	reduced, err := e.Preview(m, 0)
	if err != nil {
		t.Fatal(err)
	}
	if reduced.Target >= first.Target {
		t.Errorf("target after further reduction = %d, want below %d", reduced.Target, first.Target)
	}

	// A different G50 is a distinct cache entry.
	alt, err := e.Preview(m, 300)
	if err != nil {
		t.Fatal(err)
	}
	if alt == reduced {
		t.Error("distinct G50 values must not share a cache entry")
	}
}

func TestDLSPreviewErrors(t *testing.T) {
	e := NewDLSEngine()

	m := dlsMatch(250, 50, 50)
	if _, err := e.Preview(m, 50); !IsConfig(err) {
		t.Errorf("out-of-range G50: err = %v, want config error", err)
	}

	live := &Match{ID: uuid.NewString(), OversLimit: 50, State: MatchState{
		Phase:          PhaseInProgress,
		CurrentInnings: 1,
	}}
	live.normalize()
	if _, err := e.Preview(live, 0); !IsConfig(err) {
		t.Errorf("first innings in progress: err = %v, want config error", err)
	}
}

func TestDLSParNow(t *testing.T) {
	e := NewDLSEngine()
	m := dlsMatch(250, 50, 50)

	// Nothing used yet: par is zero.
	par, err := e.ParNow(m)
	if err != nil {
		t.Fatal(err)
	}
	if par != 0 {
		t.Errorf("par at the start = %d, want 0", par)
	}

	// Halfway through with two down: par strictly between 0 and the
	// first-innings score.
	m.State.LegalBalls = 25 * BallsPerOver
	m.State.Wickets = 2
	par, err = e.ParNow(m)
	if err != nil {
		t.Fatal(err)
	}
	if par <= 0 || par >= 250 {
		t.Errorf("par halfway = %d, want within (0, 250)", par)
	}

	// Losing wickets raises the resources used, and with them the par.
	m.State.Wickets = 6
	harder, err := e.ParNow(m)
	if err != nil {
		t.Fatal(err)
	}
	if harder <= par {
		t.Errorf("par with 6 down = %d, want above %d", harder, par)
	}

	m.State.CurrentInnings = 1
	if _, err := e.ParNow(m); !IsConfig(err) {
		t.Errorf("par in the first innings: err = %v, want config error", err)
	}
}

func TestBulkSaveInvalidatesPreviewCache(t *testing.T) {
	reg, ms := newTestRegistry(t)
	e := NewDLSEngine()
	m := dlsMatch(250, 50, 50)

	p1, err := e.Preview(m, 0)
	if err != nil {
		t.Fatalf("preview failed: %v", err)
	}
	if p2, _ := e.Preview(m, 0); p2 != p1 {
		t.Fatal("second preview should come from the cache")
	}

	// A bulk import replaces the whole log; any cached previews for the
	// match are priced against limits that may no longer hold.
	hub := newHub(m.ID, ms, reg, nil, e, nil)
	body, _ := json.Marshal(m)
	reply := make(chan HubResponse, 1)
	hub.handleHTTPSave(body, reply)
	if resp := <-reply; resp.Error != nil {
		t.Fatalf("save failed: %v", resp.Error)
	}

	p3, err := e.Preview(m, 0)
	if err != nil {
		t.Fatalf("preview after import failed: %v", err)
	}
	if p3 == p1 {
		t.Error("preview after import should be recomputed, not served from the cache")
	}
}
