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
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const tombstoneTTL = 30 * 24 * time.Hour
const gcInterval = 12 * time.Hour

// Registry maintains the index of matches for all users: who can see
// what, without scanning every file on every list request.
type Registry struct {
	matchStore *MatchStore

	mu sync.RWMutex

	// userAccess maps user ID to the matches they can access directly.
	// The empty user ID holds publicly readable matches.
	userAccess map[string]map[string]AccessLevel

	// Metadata cache for sorting/filtering (LRU).
	// Also acts as tombstone cache (Status="deleted").
	metadata *lru.Cache[string, MatchMetadata]

	matchCount int

	// GC
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewRegistry creates a new Registry and indexes the store's metadata
// sidecars.
func NewRegistry(ms *MatchStore) *Registry {
	cache, _ := lru.New[string, MatchMetadata](5000)

	r := &Registry{
		matchStore: ms,
		userAccess: make(map[string]map[string]AccessLevel),
		metadata:   cache,
		stopChan:   make(chan struct{}),
	}
	r.Rebuild()
	r.StartGC()
	return r
}

// StartGC starts the background tombstone garbage collector.
func (r *Registry) StartGC() {
	go func() {
		ticker := time.NewTicker(gcInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.PurgeOldTombstones()
			case <-r.stopChan:
				return
			}
		}
	}()
}

// StopGC stops the background tombstone garbage collector.
func (r *Registry) StopGC() {
	r.stopOnce.Do(func() {
		close(r.stopChan)
	})
}

// PurgeOldTombstones permanently deletes expired tombstones from disk.
func (r *Registry) PurgeOldTombstones() {
	log.Println("Registry: Garbage collection of expired tombstones started...")
	cutoff := time.Now().UnixNano() - tombstoneTTL.Nanoseconds()

	var purged int
	for m, err := range r.matchStore.ListAllMatchMetadata() {
		if err == nil && m.Status == StatusDeleted && m.DeletedAt > 0 && m.DeletedAt < cutoff {
			if err := r.matchStore.PurgeMatch(m.ID); err == nil {
				r.metadata.Remove(m.ID)
				purged++
			}
		}
	}

	if purged > 0 {
		log.Printf("Registry: GC complete. Purged %d matches.", purged)
	}
}

// Rebuild reconstructs the index by scanning the underlying store.
func (r *Registry) Rebuild() {
	log.Println("Registry: Rebuild started...")

	cutoff := time.Now().UnixNano() - tombstoneTTL.Nanoseconds()
	count := 0

	for m, err := range r.matchStore.ListAllMatchMetadata() {
		if err != nil {
			log.Printf("Registry: Error listing matches: %v", err)
			break
		}
		if m.Status == StatusDeleted && m.DeletedAt > 0 && m.DeletedAt < cutoff {
			r.matchStore.PurgeMatch(m.ID)
			continue
		}
		if r.index(m.ID, m) {
			count++
		}
	}

	r.mu.Lock()
	r.matchCount = count
	r.mu.Unlock()
	log.Printf("Registry: Rebuild complete. Indexed %d matches.", count)
}

// index records one match's metadata and its user access entries.
// Returns true if the match was indexed (i.e. not deleted).
func (r *Registry) index(matchId string, m MatchMetadata) bool {
	r.metadata.Add(matchId, m)

	r.mu.Lock()
	defer r.mu.Unlock()

	if m.Status == StatusDeleted {
		for _, access := range r.userAccess {
			delete(access, matchId)
		}
		return false
	}

	setLevel := func(userId string, level AccessLevel) {
		userId = normalizeEmail(userId)
		access, ok := r.userAccess[userId]
		if !ok {
			access = make(map[string]AccessLevel)
			r.userAccess[userId] = access
		}
		access[matchId] = level
	}

	// Stale entries from a previous permission set.
	for userId, access := range r.userAccess {
		if _, ok := access[matchId]; !ok {
			continue
		}
		if userId == normalizeEmail(m.OwnerID) {
			continue
		}
		if _, ok := m.Permissions.Users[userId]; ok {
			continue
		}
		if userId == "" && m.Permissions.Public != "" {
			continue
		}
		delete(access, matchId)
	}

	if m.OwnerID != "" {
		setLevel(m.OwnerID, AccessAdmin)
	}
	for u, role := range m.Permissions.Users {
		switch role {
		case "write":
			setLevel(u, AccessWrite)
		case "read":
			setLevel(u, AccessRead)
		}
	}
	if m.Permissions.Public == "read" {
		setLevel("", AccessRead)
	}
	return true
}

// UpdateMatch refreshes the index entry for a live match.
func (r *Registry) UpdateMatch(m *Match) {
	existed := false
	if old, ok := r.metadata.Peek(m.ID); ok && old.Status != StatusDeleted {
		existed = true
	}
	if r.index(m.ID, metadataOf(m)) && !existed {
		r.mu.Lock()
		r.matchCount++
		r.mu.Unlock()
	}
}

// DeleteMatch tombstones the index entry.
func (r *Registry) DeleteMatch(matchId string) {
	if m, ok := r.metadata.Peek(matchId); ok && m.Status == StatusDeleted {
		return
	}
	r.mu.Lock()
	r.matchCount--
	for _, access := range r.userAccess {
		delete(access, matchId)
	}
	r.mu.Unlock()
	r.metadata.Add(matchId, MatchMetadata{
		ID: matchId, Status: StatusDeleted, DeletedAt: time.Now().UnixNano(),
	})
}

func (r *Registry) getMeta(id string) (MatchMetadata, bool) {
	if m, ok := r.metadata.Get(id); ok {
		return m, true
	}
	m, err := r.matchStore.LoadMatch(id)
	if err != nil {
		return MatchMetadata{}, false
	}
	meta := metadataOf(m)
	r.metadata.Add(id, meta)
	return meta, true
}

// IsMatchDeleted reports whether a match has been tombstoned.
func (r *Registry) IsMatchDeleted(id string) bool {
	m, ok := r.getMeta(id)
	return ok && m.Status == StatusDeleted
}

// MatchExists reports whether a live (non-deleted) match exists.
func (r *Registry) MatchExists(id string) bool {
	m, ok := r.getMeta(id)
	return ok && m.Status != StatusDeleted
}

// GetAccessLevel returns the indexed access level for a user on a
// match, including public fallback.
func (r *Registry) GetAccessLevel(userId, matchId string) AccessLevel {
	if r.IsMatchDeleted(matchId) {
		return AccessNone
	}
	userId = normalizeEmail(userId)

	r.mu.RLock()
	defer r.mu.RUnlock()

	level := AccessNone
	if access, ok := r.userAccess[userId]; ok {
		level = access[matchId]
	}
	if level < AccessRead && userId != "" {
		if access, ok := r.userAccess[""]; ok {
			if l := access[matchId]; l > level {
				level = l
			}
		}
	}
	return level
}

// CountOwnedMatches returns how many live matches a user owns.
func (r *Registry) CountOwnedMatches(userId string) int {
	userId = normalizeEmail(userId)
	r.mu.RLock()
	ids := make([]string, 0, len(r.userAccess[userId]))
	for id, level := range r.userAccess[userId] {
		if level >= AccessAdmin {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()

	count := 0
	for _, id := range ids {
		if m, ok := r.getMeta(id); ok && m.Status != StatusDeleted && normalizeEmail(m.OwnerID) == userId {
			count++
		}
	}
	return count
}

// CountTotalMatches returns the number of live matches on record.
func (r *Registry) CountTotalMatches() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.matchCount
}

// ListMatches returns the IDs of matches visible to a user, filtered by
// a free-text query and sorted by the given field.
func (r *Registry) ListMatches(userId, sortBy, order, query string) []string {
	if sortBy == "" {
		sortBy = "date"
	}
	if order == "" {
		if sortBy == "date" {
			order = "desc"
		} else {
			order = "asc"
		}
	}
	query = strings.ToLower(strings.TrimSpace(query))

	userId = normalizeEmail(userId)
	r.mu.RLock()
	seen := make(map[string]bool)
	var candidates []string
	for id := range r.userAccess[userId] {
		if !seen[id] {
			seen[id] = true
			candidates = append(candidates, id)
		}
	}
	if userId != "" {
		for id := range r.userAccess[""] {
			if !seen[id] {
				seen[id] = true
				candidates = append(candidates, id)
			}
		}
	}
	r.mu.RUnlock()

	var ids []string
	for _, id := range candidates {
		meta, ok := r.getMeta(id)
		if !ok || meta.Status == StatusDeleted || !matchesQuery(meta, query) {
			continue
		}
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool {
		id1, id2 := ids[i], ids[j]
		m1, ok1 := r.getMeta(id1)
		m2, ok2 := r.getMeta(id2)
		less := id1 < id2
		if ok1 && ok2 {
			switch sortBy {
			case "date":
				if m1.Date != m2.Date {
					less = m1.Date < m2.Date
				}
			case "home":
				if m1.HomeName != m2.HomeName {
					less = m1.HomeName < m2.HomeName
				}
			case "away":
				if m1.AwayName != m2.AwayName {
					less = m1.AwayName < m2.AwayName
				}
			}
		}
		if order == "desc" {
			return !less
		}
		return less
	})
	return ids
}

func matchesQuery(m MatchMetadata, query string) bool {
	if query == "" {
		return true
	}
	for _, token := range strings.Fields(query) {
		match := containsLower(m.HomeName, token) ||
			containsLower(m.AwayName, token) ||
			containsLower(m.Date, token)
		if !match {
			return false
		}
	}
	return true
}

func containsLower(s, substrLower string) bool {
	return strings.Contains(strings.ToLower(s), substrLower)
}
