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
	"encoding/json"
	"fmt"
	"iter"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/c2FmZQ/storage"
)

// Player represents one member of a team's XI.
type Player struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Permissions defines access control for a match.
type Permissions struct {
	Public string            `json:"public"` // "none", "read"
	Users  map[string]string `json:"users"`  // "email": "read"|"write"
}

// InningsSummary is the snapshot of a completed innings, kept for display
// after the live state is replaced at the innings break.
type InningsSummary struct {
	TeamID     string `json:"teamId"`
	Runs       int    `json:"runs"`
	Wickets    int    `json:"wickets"`
	LegalBalls int    `json:"legalBalls"`
	OversLimit int    `json:"oversLimit"`
}

// Match is the full match record as stored on disk. The EventLog is the
// authoritative append-only history; Deliveries and State are derived
// from it and re-derivable at any time via Rebuild.
type Match struct {
	ID            string      `json:"id"`
	SchemaVersion int         `json:"schemaVersion"`
	Date          string      `json:"date,omitempty"`
	Venue         string      `json:"venue,omitempty"`
	Event         string      `json:"event,omitempty"`
	Status        string      `json:"status"`
	OwnerID       string      `json:"ownerId"`
	Permissions   Permissions `json:"permissions,omitempty"`

	HomeTeamID string `json:"homeTeamId,omitempty"`
	AwayTeamID string `json:"awayTeamId,omitempty"`
	HomeName   string `json:"homeName,omitempty"`
	AwayName   string `json:"awayName,omitempty"`

	// XIs maps team ID to its playing eleven.
	XIs    map[string][]Player `json:"xis,omitempty"`
	XISize int                 `json:"xiSize,omitempty"`

	// OversLimit is the scheduled limit per innings. SecondInningsOvers,
	// when non-zero, overrides it for the second innings (rain reductions
	// declared during the first innings).
	OversLimit         int `json:"oversLimit,omitempty"`
	SecondInningsOvers int `json:"secondInningsOvers,omitempty"`

	// G50 is the DLS average-score constant configured for this match.
	G50 int `json:"g50,omitempty"`

	// DLSTarget, when non-zero, is an adjusted target applied by the DLS
	// engine. It overrides the default first-innings-score plus one.
	DLSTarget int `json:"dlsTarget,omitempty"`

	EventLog    []json.RawMessage `json:"eventLog,omitempty"`
	LastEventID string            `json:"lastEventId,omitempty"`

	FirstInnings *InningsSummary `json:"firstInnings,omitempty"`
	State        MatchState      `json:"state"`

	// DeletedAt is the timestamp (Unix Nano) when the match was deleted.
	DeletedAt int64 `json:"deletedAt,omitempty"`

	// Deliveries is the ball-by-ball log extracted from the EventLog.
	// Derived, never persisted independently.
	Deliveries []Delivery `json:"-"`

	rebuilding bool

	// metrics, when set, receives conflict counts from event application.
	// Not persisted; attached by whoever owns the live copy.
	metrics *Metrics
}

func (m *Match) normalize() {
	if m.SchemaVersion == 0 {
		m.SchemaVersion = CurrentSchemaVersion
	}
	if m.Permissions.Users == nil {
		m.Permissions.Users = make(map[string]string)
	}
	if m.EventLog == nil {
		m.EventLog = make([]json.RawMessage, 0)
	}
	if m.XIs == nil {
		m.XIs = make(map[string][]Player)
	}
	if m.XISize == 0 {
		m.XISize = DefaultXISize
	}
	if m.G50 == 0 {
		m.G50 = DefaultG50
	}
	m.hydrateDeliveries()
}

// hydrateDeliveries re-extracts the ball-by-ball log from the event log.
func (m *Match) hydrateDeliveries() {
	m.Deliveries = m.Deliveries[:0]
	for _, raw := range m.EventLog {
		var ev MatchEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			continue
		}
		if ev.Type != EvDelivery {
			continue
		}
		var d Delivery
		if err := json.Unmarshal(ev.Payload, &d); err != nil {
			log.Printf("Warning: match %s has undecodable delivery event %s: %v", m.ID, ev.ID, err)
			continue
		}
		m.Deliveries = append(m.Deliveries, d)
	}
}

// InningsDeliveries returns the deliveries of one innings, in order.
func (m *Match) InningsDeliveries(innings int) []Delivery {
	out := make([]Delivery, 0, len(m.Deliveries))
	for _, d := range m.Deliveries {
		if d.Innings == innings {
			out = append(out, d)
		}
	}
	return out
}

// LastDelivery returns the most recent delivery, or nil.
func (m *Match) LastDelivery() *Delivery {
	if len(m.Deliveries) == 0 {
		return nil
	}
	return &m.Deliveries[len(m.Deliveries)-1]
}

// HasDeliveryKey reports whether a delivery with the given identity key
// is present in the log.
func (m *Match) HasDeliveryKey(key BallKey) bool {
	for i := len(m.Deliveries) - 1; i >= 0; i-- {
		if m.Deliveries[i].Key() == key {
			return true
		}
	}
	return false
}

func (m *Match) xiSize() int {
	if m.XISize > 0 {
		return m.XISize
	}
	return DefaultXISize
}

func (m *Match) teamHasPlayer(teamID, playerID string) bool {
	for _, p := range m.XIs[teamID] {
		if p.ID == playerID {
			return true
		}
	}
	return false
}

// MatchStore manages match persistence to disk.
type MatchStore struct {
	DataDir string
	Debug   bool
	storage *storage.Storage
	mu      sync.Map // *sync.RWMutex per matchId, protects reads and writes
	cache   sync.Map // latest []byte (JSON) per matchId

	dirtyMu sync.Mutex
	dirty   map[string]bool
}

// NewMatchStore creates a new MatchStore.
func NewMatchStore(dataDir string, s *storage.Storage) *MatchStore {
	return &MatchStore{
		DataDir: dataDir,
		storage: s,
		dirty:   make(map[string]bool),
	}
}

func matchFilename(matchId string) string {
	return filepath.Join("matches", fmt.Sprintf("%s.json", url.PathEscape(matchId)))
}

func matchMetaFilename(matchId string) string {
	return filepath.Join("matches", fmt.Sprintf("%s.meta.json", url.PathEscape(matchId)))
}

// SaveMatch saves the match data atomically.
func (ms *MatchStore) SaveMatch(m *Match) error {
	matchId := m.ID
	mu, _ := ms.mu.LoadOrStore(matchId, &sync.RWMutex{})
	mutex := mu.(*sync.RWMutex)

	mutex.Lock()
	defer mutex.Unlock()

	if err := ms.storage.SaveDataFile(matchFilename(matchId), m); err != nil {
		return fmt.Errorf("storage.SaveDataFile: %w", err)
	}

	// Metadata sidecar, so listing does not need full event logs.
	meta := MatchMetadata{
		ID:          m.ID,
		OwnerID:     m.OwnerID,
		Permissions: m.Permissions,
		HomeName:    m.HomeName,
		AwayName:    m.AwayName,
		Date:        m.Date,
		Status:      m.Status,
		DeletedAt:   m.DeletedAt,
	}
	if err := ms.storage.SaveDataFile(matchMetaFilename(matchId), &meta); err != nil {
		log.Printf("Warning: Failed to save metadata sidecar for match %s: %v", matchId, err)
	}

	if jsonBytes, err := json.Marshal(m); err == nil {
		ms.cache.Store(matchId, jsonBytes)
	}

	ms.dirtyMu.Lock()
	delete(ms.dirty, matchId)
	ms.dirtyMu.Unlock()

	return nil
}

// SaveMatchInMemory updates the in-memory cache and marks the match dirty.
// If forceSync is true, it writes to disk immediately.
func (ms *MatchStore) SaveMatchInMemory(m *Match, forceSync bool) error {
	jsonBytes, err := json.Marshal(m)
	if err != nil {
		return err
	}
	ms.cache.Store(m.ID, jsonBytes)

	if forceSync {
		return ms.SaveMatch(m)
	}

	ms.dirtyMu.Lock()
	ms.dirty[m.ID] = true
	ms.dirtyMu.Unlock()

	return nil
}

// Flush persists a specific match to disk if it is dirty.
func (ms *MatchStore) Flush(matchId string) error {
	ms.dirtyMu.Lock()
	if !ms.dirty[matchId] {
		ms.dirtyMu.Unlock()
		return nil
	}
	ms.dirtyMu.Unlock()

	val, ok := ms.cache.Load(matchId)
	if !ok {
		ms.dirtyMu.Lock()
		delete(ms.dirty, matchId)
		ms.dirtyMu.Unlock()
		return fmt.Errorf("match %s marked dirty but not found in cache", matchId)
	}

	var m Match
	if err := json.Unmarshal(val.([]byte), &m); err != nil {
		return fmt.Errorf("failed to unmarshal match from cache for flush: %w", err)
	}

	// SaveMatch clears the dirty flag.
	return ms.SaveMatch(&m)
}

// FlushAll persists all dirty matches to disk.
func (ms *MatchStore) FlushAll() error {
	ms.dirtyMu.Lock()
	dirtyIds := make([]string, 0, len(ms.dirty))
	for id := range ms.dirty {
		dirtyIds = append(dirtyIds, id)
	}
	ms.dirtyMu.Unlock()

	for _, id := range dirtyIds {
		if err := ms.Flush(id); err != nil {
			return fmt.Errorf("failed to flush match %s: %w", id, err)
		}
	}
	return nil
}

// LoadMatch loads the match data by match ID.
func (ms *MatchStore) LoadMatch(matchId string) (*Match, error) {
	if val, ok := ms.cache.Load(matchId); ok {
		var m Match
		if err := json.Unmarshal(val.([]byte), &m); err == nil {
			if ms.Debug {
				log.Printf("[CACHE] Hit for match %s", matchId)
			}
			m.normalize()
			return &m, nil
		}
		ms.cache.Delete(matchId)
	}
	if ms.Debug {
		log.Printf("[CACHE] Miss for match %s", matchId)
	}

	mu, _ := ms.mu.LoadOrStore(matchId, &sync.RWMutex{})
	mutex := mu.(*sync.RWMutex)

	mutex.RLock()
	defer mutex.RUnlock()

	var m Match
	err := ms.storage.ReadDataFile(matchFilename(matchId), &m)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, os.ErrNotExist
		}
		return nil, fmt.Errorf("ReadDataFile: %w", err)
	}
	m.normalize()

	if jsonBytes, err := json.Marshal(&m); err == nil {
		ms.cache.Store(matchId, jsonBytes)
	}

	return &m, nil
}

// DeleteMatch deletes a match by overwriting it with a tombstone.
func (ms *MatchStore) DeleteMatch(matchId string) error {
	m, err := ms.LoadMatch(matchId)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	mu, _ := ms.mu.LoadOrStore(matchId, &sync.RWMutex{})
	mutex := mu.(*sync.RWMutex)

	mutex.Lock()
	defer mutex.Unlock()

	tombstone := &Match{
		ID:            matchId,
		SchemaVersion: CurrentSchemaVersion,
		Status:        StatusDeleted,
		OwnerID:       m.OwnerID,
		DeletedAt:     time.Now().UnixNano(),
	}

	if err := ms.storage.SaveDataFile(matchFilename(matchId), tombstone); err != nil {
		return fmt.Errorf("storage.SaveDataFile (tombstone): %w", err)
	}

	meta := MatchMetadata{
		ID:        matchId,
		OwnerID:   m.OwnerID,
		Status:    StatusDeleted,
		DeletedAt: tombstone.DeletedAt,
	}
	if err := ms.storage.SaveDataFile(matchMetaFilename(matchId), &meta); err != nil {
		log.Printf("Warning: Failed to save metadata tombstone for match %s: %v", matchId, err)
	}

	if jsonBytes, err := json.Marshal(tombstone); err == nil {
		ms.cache.Store(matchId, jsonBytes)
	}

	return nil
}

// PurgeMatch permanently deletes the match file.
func (ms *MatchStore) PurgeMatch(matchId string) error {
	mu, _ := ms.mu.LoadOrStore(matchId, &sync.RWMutex{})
	mutex := mu.(*sync.RWMutex)

	mutex.Lock()
	defer mutex.Unlock()

	ms.cache.Delete(matchId)

	fullPath := filepath.Join(ms.DataDir, matchFilename(matchId))
	fullMetaPath := filepath.Join(ms.DataDir, matchMetaFilename(matchId))

	if err := os.Remove(fullPath); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("could not purge match file: %w", err)
		}
	}
	if err := os.Remove(fullMetaPath); err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Warning: could not purge meta file for match %s: %v", matchId, err)
		}
	}
	return nil
}

// MatchMetadata contains only the fields needed for indexing and listing.
type MatchMetadata struct {
	ID          string      `json:"id"`
	OwnerID     string      `json:"ownerId"`
	Permissions Permissions `json:"permissions"`
	HomeName    string      `json:"homeName,omitempty"`
	AwayName    string      `json:"awayName,omitempty"`
	Date        string      `json:"date,omitempty"`
	Status      string      `json:"status"`
	DeletedAt   int64       `json:"deletedAt"`
}

// ListAllMatchMetadata returns metadata for all matches without loading
// full event logs.
func (ms *MatchStore) ListAllMatchMetadata() iter.Seq2[MatchMetadata, error] {
	return func(yield func(MatchMetadata, error) bool) {
		matchesDir := filepath.Join(ms.DataDir, "matches")
		files, err := os.ReadDir(matchesDir)
		if err != nil && !os.IsNotExist(err) {
			yield(MatchMetadata{}, fmt.Errorf("could not read matches directory: %w", err))
			return
		}

		hasMeta := make(map[string]bool)
		hasMatch := make(map[string]bool)

		for _, file := range files {
			if file.IsDir() {
				continue
			}
			name := file.Name()
			if strings.HasSuffix(name, ".meta.json") {
				if id, err := url.PathUnescape(strings.TrimSuffix(name, ".meta.json")); err == nil {
					hasMeta[id] = true
				}
			} else if strings.HasSuffix(name, ".json") {
				if id, err := url.PathUnescape(strings.TrimSuffix(name, ".json")); err == nil {
					hasMatch[id] = true
				}
			}
		}

		processed := make(map[string]bool)

		// Metadata sidecars first (fast path).
		for id := range hasMeta {
			processed[id] = true

			var meta MatchMetadata
			if err := ms.storage.ReadDataFile(matchMetaFilename(id), &meta); err != nil {
				log.Printf("Registry Warning: failed to load metadata for %s: %v. Falling back to main file.", id, err)
				hasMatch[id] = true
				processed[id] = false
				continue
			}

			if !yield(meta, nil) {
				return
			}
		}

		// Remaining match files (fallback path).
		for id := range hasMatch {
			if processed[id] {
				continue
			}
			processed[id] = true

			m, err := ms.LoadMatch(id)
			if err != nil {
				log.Printf("Registry Warning: failed to load match %s from disk: %v", id, err)
				continue
			}

			if !yield(metadataOf(m), nil) {
				return
			}
		}

		// Dirty cache last (matches created in memory but not yet flushed).
		ms.dirtyMu.Lock()
		dirtyIds := make([]string, 0, len(ms.dirty))
		for id := range ms.dirty {
			dirtyIds = append(dirtyIds, id)
		}
		ms.dirtyMu.Unlock()

		for _, id := range dirtyIds {
			if processed[id] {
				continue
			}

			m, err := ms.LoadMatch(id)
			if err != nil {
				log.Printf("Error: Failed to load dirty match %s: %v", id, err)
				continue
			}

			if !yield(metadataOf(m), nil) {
				return
			}
		}
	}
}

func metadataOf(m *Match) MatchMetadata {
	return MatchMetadata{
		ID:          m.ID,
		OwnerID:     m.OwnerID,
		Permissions: m.Permissions,
		HomeName:    m.HomeName,
		AwayName:    m.AwayName,
		Date:        m.Date,
		Status:      m.Status,
		DeletedAt:   m.DeletedAt,
	}
}
