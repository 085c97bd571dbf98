package backend

import (
	"testing"

	"github.com/c2FmZQ/storage"
	"github.com/google/uuid"
)

func newTestRegistry(t *testing.T) (*Registry, *MatchStore) {
	t.Helper()
	tmpDir := t.TempDir()
	s := storage.New(tmpDir, nil)
	ms := NewMatchStore(tmpDir, s)
	r := NewRegistry(ms)
	t.Cleanup(r.StopGC)
	return r, ms
}

func saveTestMatch(t *testing.T, ms *MatchStore, owner, home, away, date string, perms Permissions) string {
	t.Helper()
	m := &Match{
		ID:          uuid.NewString(),
		Status:      StatusLive,
		OwnerID:     owner,
		HomeName:    home,
		AwayName:    away,
		Date:        date,
		Permissions: perms,
	}
	m.normalize()
	if err := ms.SaveMatch(m); err != nil {
		t.Fatal(err)
	}
	return m.ID
}

func TestRegistryAccessLevels(t *testing.T) {
	r, ms := newTestRegistry(t)

	id := saveTestMatch(t, ms, "owner@example.com", "Home CC", "Away CC", "2026-06-14", Permissions{
		Public: "none",
		Users: map[string]string{
			"scorer@example.com": "write",
			"fan@example.com":    "read",
		},
	})
	m, err := ms.LoadMatch(id)
	if err != nil {
		t.Fatal(err)
	}
	r.UpdateMatch(m)

	tests := []struct {
		user string
		want AccessLevel
	}{
		{"owner@example.com", AccessAdmin},
		{"scorer@example.com", AccessWrite},
		{"fan@example.com", AccessRead},
		{"stranger@example.com", AccessNone},
		{"", AccessNone},
	}
	for _, tc := range tests {
		if got := r.GetAccessLevel(tc.user, id); got != tc.want {
			t.Errorf("GetAccessLevel(%q) = %d, want %d", tc.user, got, tc.want)
		}
	}
}

func TestRegistryPublicRead(t *testing.T) {
	r, ms := newTestRegistry(t)

	id := saveTestMatch(t, ms, "owner@example.com", "Home CC", "Away CC", "2026-06-14", Permissions{Public: "read"})
	m, _ := ms.LoadMatch(id)
	r.UpdateMatch(m)

	if got := r.GetAccessLevel("anyone@example.com", id); got != AccessRead {
		t.Errorf("public match: access = %d, want read", got)
	}
	listed := r.ListMatches("anyone@example.com", "", "", "")
	if len(listed) != 1 || listed[0] != id {
		t.Errorf("listed = %v, want the public match", listed)
	}
}

func TestRegistryRebuildFromDisk(t *testing.T) {
	tmpDir := t.TempDir()
	s := storage.New(tmpDir, nil)
	ms := NewMatchStore(tmpDir, s)

	id := saveTestMatch(t, ms, "owner@example.com", "Home CC", "Away CC", "2026-06-14", Permissions{})

	// A registry built afterwards indexes what is on disk.
	r := NewRegistry(ms)
	defer r.StopGC()

	if !r.MatchExists(id) {
		t.Fatal("the registry should index the saved match")
	}
	if got := r.GetAccessLevel("owner@example.com", id); got != AccessAdmin {
		t.Errorf("owner access = %d, want admin", got)
	}
	if r.CountOwnedMatches("owner@example.com") != 1 {
		t.Error("owned count should include the saved match")
	}
}

func TestRegistryDeleteMatch(t *testing.T) {
	r, ms := newTestRegistry(t)

	id := saveTestMatch(t, ms, "owner@example.com", "Home CC", "Away CC", "2026-06-14", Permissions{Public: "read"})
	m, _ := ms.LoadMatch(id)
	r.UpdateMatch(m)

	if err := ms.DeleteMatch(id); err != nil {
		t.Fatal(err)
	}
	r.DeleteMatch(id)

	if !r.IsMatchDeleted(id) {
		t.Error("the match should be tombstoned")
	}
	if got := r.GetAccessLevel("owner@example.com", id); got != AccessNone {
		t.Errorf("access after delete = %d, want none", got)
	}
	if listed := r.ListMatches("owner@example.com", "", "", ""); len(listed) != 0 {
		t.Errorf("listed after delete = %v, want none", listed)
	}
}

func TestRegistryListSortAndQuery(t *testing.T) {
	r, ms := newTestRegistry(t)

	owner := "owner@example.com"
	older := saveTestMatch(t, ms, owner, "Alpha CC", "Beta CC", "2026-05-01", Permissions{})
	newer := saveTestMatch(t, ms, owner, "Gamma CC", "Delta CC", "2026-06-01", Permissions{})
	for _, id := range []string{older, newer} {
		m, _ := ms.LoadMatch(id)
		r.UpdateMatch(m)
	}

	// Default: date, newest first.
	got := r.ListMatches(owner, "", "", "")
	if len(got) != 2 || got[0] != newer || got[1] != older {
		t.Errorf("default order = %v, want newest first", got)
	}

	got = r.ListMatches(owner, "date", "asc", "")
	if len(got) != 2 || got[0] != older {
		t.Errorf("ascending order = %v, want oldest first", got)
	}

	got = r.ListMatches(owner, "home", "asc", "")
	if len(got) != 2 || got[0] != older {
		t.Errorf("by home name = %v, want Alpha first", got)
	}

	// Free-text match on team names.
	got = r.ListMatches(owner, "", "", "gamma")
	if len(got) != 1 || got[0] != newer {
		t.Errorf("query = %v, want only the Gamma match", got)
	}
	got = r.ListMatches(owner, "", "", "nowhere")
	if len(got) != 0 {
		t.Errorf("query with no hits = %v, want none", got)
	}
}

func TestRegistryCounts(t *testing.T) {
	r, ms := newTestRegistry(t)

	owner := "owner@example.com"
	for i := 0; i < 3; i++ {
		id := saveTestMatch(t, ms, owner, "Home CC", "Away CC", "2026-06-14", Permissions{})
		m, _ := ms.LoadMatch(id)
		r.UpdateMatch(m)
	}
	other := saveTestMatch(t, ms, "other@example.com", "Home CC", "Away CC", "2026-06-14", Permissions{})
	m, _ := ms.LoadMatch(other)
	r.UpdateMatch(m)

	if got := r.CountOwnedMatches(owner); got != 3 {
		t.Errorf("owned = %d, want 3", got)
	}
	if got := r.CountTotalMatches(); got != 4 {
		t.Errorf("total = %d, want 4", got)
	}
}
