package backend

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/c2FmZQ/storage"
	"github.com/google/uuid"
)

func newTestStore(t *testing.T) (*MatchStore, string) {
	t.Helper()
	tmpDir := t.TempDir()
	s := storage.New(tmpDir, nil)
	return NewMatchStore(tmpDir, s), tmpDir
}

func TestMatchStore_SaveAndLoad(t *testing.T) {
	ms, _ := newTestStore(t)

	matchId := uuid.NewString()
	m := &Match{
		ID:       matchId,
		Status:   StatusLive,
		OwnerID:  "owner@example.com",
		HomeName: "Home CC",
		AwayName: "Away CC",
		Date:     "2026-06-14",
	}
	m.normalize()

	if err := ms.SaveMatch(m); err != nil {
		t.Fatalf("SaveMatch failed: %v", err)
	}

	loaded, err := ms.LoadMatch(matchId)
	if err != nil {
		t.Fatalf("LoadMatch failed: %v", err)
	}
	if loaded.ID != matchId || loaded.OwnerID != "owner@example.com" || loaded.HomeName != "Home CC" {
		t.Errorf("loaded = %+v", loaded)
	}

	if _, err := ms.LoadMatch(uuid.NewString()); !os.IsNotExist(err) {
		t.Errorf("missing match: err = %v, want not exist", err)
	}
}

func TestMatchStore_MetadataSidecar(t *testing.T) {
	ms, tmpDir := newTestStore(t)

	matchId := uuid.NewString()
	m := &Match{ID: matchId, Status: StatusLive, OwnerID: "owner@example.com", HomeName: "Home CC"}
	m.normalize()
	if err := ms.SaveMatch(m); err != nil {
		t.Fatal(err)
	}

	metaPath := filepath.Join(tmpDir, "matches", matchId+".meta.json")
	if _, err := os.Stat(metaPath); err != nil {
		t.Fatalf("metadata sidecar missing: %v", err)
	}

	var got int
	for meta, err := range ms.ListAllMatchMetadata() {
		if err != nil {
			t.Fatal(err)
		}
		got++
		if meta.ID != matchId || meta.OwnerID != "owner@example.com" || meta.HomeName != "Home CC" {
			t.Errorf("meta = %+v", meta)
		}
	}
	if got != 1 {
		t.Errorf("metadata entries = %d, want 1", got)
	}
}

func TestMatchStore_Flush(t *testing.T) {
	ms, tmpDir := newTestStore(t)

	matchId := uuid.NewString()
	m := &Match{ID: matchId, Status: StatusLive}
	m.normalize()

	if err := ms.SaveMatchInMemory(m, false); err != nil {
		t.Fatalf("SaveMatchInMemory failed: %v", err)
	}

	path := filepath.Join(tmpDir, "matches", matchId+".json")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file should not exist on disk before flush")
	}

	// In-memory copies are served from the cache.
	if _, err := ms.LoadMatch(matchId); err != nil {
		t.Fatalf("LoadMatch from cache failed: %v", err)
	}

	if err := ms.Flush(matchId); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("file should exist on disk after flush")
	}

	ms.dirtyMu.Lock()
	if ms.dirty[matchId] {
		t.Error("flush should clear the dirty flag")
	}
	ms.dirtyMu.Unlock()
}

func TestMatchStore_FlushAll(t *testing.T) {
	ms, tmpDir := newTestStore(t)

	ids := []string{uuid.NewString(), uuid.NewString()}
	for _, id := range ids {
		m := &Match{ID: id, Status: StatusLive}
		m.normalize()
		ms.SaveMatchInMemory(m, false)
	}

	if err := ms.FlushAll(); err != nil {
		t.Fatalf("FlushAll failed: %v", err)
	}
	for _, id := range ids {
		path := filepath.Join(tmpDir, "matches", id+".json")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			t.Errorf("match %s should exist on disk", id)
		}
	}
}

func TestMatchStore_DeleteLeavesTombstone(t *testing.T) {
	ms, _ := newTestStore(t)

	matchId := uuid.NewString()
	m := &Match{ID: matchId, Status: StatusLive, OwnerID: "owner@example.com"}
	m.normalize()
	if err := ms.SaveMatch(m); err != nil {
		t.Fatal(err)
	}

	if err := ms.DeleteMatch(matchId); err != nil {
		t.Fatalf("DeleteMatch failed: %v", err)
	}

	loaded, err := ms.LoadMatch(matchId)
	if err != nil {
		t.Fatalf("tombstone should still load: %v", err)
	}
	if loaded.Status != StatusDeleted || loaded.DeletedAt == 0 {
		t.Errorf("tombstone = %+v", loaded)
	}
	if loaded.OwnerID != "owner@example.com" {
		t.Error("the tombstone keeps the owner for access checks")
	}
	if len(loaded.EventLog) != 0 {
		t.Error("the tombstone must not retain the event log")
	}

	// Deleting a missing match is a no-op.
	if err := ms.DeleteMatch(uuid.NewString()); err != nil {
		t.Errorf("deleting a missing match: %v", err)
	}
}

func TestMatchStore_Purge(t *testing.T) {
	ms, tmpDir := newTestStore(t)

	matchId := uuid.NewString()
	m := &Match{ID: matchId, Status: StatusLive}
	m.normalize()
	if err := ms.SaveMatch(m); err != nil {
		t.Fatal(err)
	}

	if err := ms.PurgeMatch(matchId); err != nil {
		t.Fatalf("PurgeMatch failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "matches", matchId+".json")); !os.IsNotExist(err) {
		t.Error("the match file should be gone")
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "matches", matchId+".meta.json")); !os.IsNotExist(err) {
		t.Error("the metadata sidecar should be gone")
	}
	if _, err := ms.LoadMatch(matchId); !os.IsNotExist(err) {
		t.Errorf("purged match: err = %v, want not exist", err)
	}
}

func TestMatchStore_ListIncludesDirty(t *testing.T) {
	ms, _ := newTestStore(t)

	saved := &Match{ID: uuid.NewString(), Status: StatusLive}
	saved.normalize()
	ms.SaveMatch(saved)

	dirty := &Match{ID: uuid.NewString(), Status: StatusLive}
	dirty.normalize()
	ms.SaveMatchInMemory(dirty, false)

	seen := map[string]bool{}
	for meta, err := range ms.ListAllMatchMetadata() {
		if err != nil {
			t.Fatal(err)
		}
		seen[meta.ID] = true
	}
	if !seen[saved.ID] || !seen[dirty.ID] {
		t.Errorf("seen = %v, want both the saved and the unflushed match", seen)
	}
}
