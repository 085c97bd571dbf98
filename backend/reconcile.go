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
	"context"
	"encoding/json"
	"log"
	"sync"
)

// QueueStatus is the lifecycle state of a queued submission.
type QueueStatus string

const (
	QueuePending  QueueStatus = "pending"
	QueueFlushing QueueStatus = "flushing"
	QueueAcked    QueueStatus = "acked"
	QueueFailed   QueueStatus = "failed"
)

// DefaultRetryBudget is how many submission attempts a queued event
// gets before it is marked failed and held for manual review.
const DefaultRetryBudget = 5

// QueueEntry is one event awaiting confirmation by the remote store.
type QueueEntry struct {
	EventID  string          `json:"eventId"`
	MatchID  string          `json:"matchId"`
	Raw      json.RawMessage `json:"raw"`
	Status   QueueStatus     `json:"status"`
	Attempts int             `json:"attempts"`
	LastErr  string          `json:"lastErr,omitempty"`
}

// Transport moves events to and from the remote store. Implementations
// must be safe for concurrent use.
type Transport interface {
	// SubmitEvent delivers one event. A nil error means the remote store
	// accepted (or had already accepted) the event.
	SubmitEvent(ctx context.Context, matchID string, raw json.RawMessage) error
	// FetchMatch retrieves the remote copy of a match.
	FetchMatch(ctx context.Context, matchID string) (*Match, error)
}

// Reconciler keeps per-match queues of events recorded while the remote
// store was unreachable and replays them in order once it returns.
type Reconciler struct {
	mu          sync.Mutex
	queues      map[string][]*QueueEntry
	transport   Transport
	retryBudget int
	metrics     *Metrics
}

func NewReconciler(transport Transport, metrics *Metrics) *Reconciler {
	return &Reconciler{
		queues:      make(map[string][]*QueueEntry),
		transport:   transport,
		retryBudget: DefaultRetryBudget,
		metrics:     metrics,
	}
}

// queuedDelivery decodes the delivery carried by a raw DELIVERY event.
func queuedDelivery(raw json.RawMessage) (Delivery, bool) {
	var ev MatchEvent
	if err := json.Unmarshal(raw, &ev); err != nil || ev.Type != EvDelivery {
		return Delivery{}, false
	}
	var d Delivery
	if err := json.Unmarshal(ev.Payload, &d); err != nil {
		return Delivery{}, false
	}
	return d, true
}

// Enqueue records an event for later submission. Duplicates, judged by
// event ID against both the queue and the match's own log, are dropped.
// A delivery whose ball key is already queued, or already present in the
// latest snapshot, is a resubmission: the queued payload is updated in
// place rather than appended as a second submission of the same ball.
func (r *Reconciler) Enqueue(m *Match, raw json.RawMessage) bool {
	var ev MatchEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range r.queues[m.ID] {
		if entry.EventID == ev.ID {
			if r.metrics != nil {
				r.metrics.DuplicatesCollapsed.Add(1)
			}
			return false
		}
	}
	if m.LastEventID == ev.ID {
		return false
	}

	if d, ok := queuedDelivery(raw); ok {
		key := d.Key()
		for _, entry := range r.queues[m.ID] {
			if entry.Status == QueueAcked || entry.Status == QueueFailed {
				continue
			}
			qd, ok := queuedDelivery(entry.Raw)
			if !ok || qd.Key() != key {
				continue
			}
			if qd == d {
				if r.metrics != nil {
					r.metrics.DuplicatesCollapsed.Add(1)
				}
				return false
			}
			entry.EventID = ev.ID
			entry.Raw = raw
			if r.metrics != nil {
				r.metrics.PayloadConflicts.Add(1)
			}
			return true
		}
		if m.HasDeliveryKey(key) {
			for i := len(m.Deliveries) - 1; i >= 0; i-- {
				if m.Deliveries[i].Key() == key && m.Deliveries[i] == d {
					if r.metrics != nil {
						r.metrics.DuplicatesCollapsed.Add(1)
					}
					return false
				}
			}
			// A divergent correction of a ball the snapshot already
			// holds: queue it so the remote store can run its own
			// last-write-wins.
		}
	}

	r.queues[m.ID] = append(r.queues[m.ID], &QueueEntry{
		EventID: ev.ID,
		MatchID: m.ID,
		Raw:     raw,
		Status:  QueuePending,
	})
	return true
}

// Flush replays a match's queue in order. It stops at the first entry
// the transport rejects, so later events are never confirmed ahead of
// earlier ones. Entries that exhaust their retry budget are marked
// failed and skipped on subsequent flushes.
func (r *Reconciler) Flush(ctx context.Context, matchID string) error {
	r.mu.Lock()
	queue := r.queues[matchID]
	r.mu.Unlock()

	for _, entry := range queue {
		if entry.Status == QueueAcked || entry.Status == QueueFailed {
			continue
		}
		r.setStatus(entry, QueueFlushing)

		err := r.transport.SubmitEvent(ctx, matchID, entry.Raw)
		if err == nil {
			r.setStatus(entry, QueueAcked)
			continue
		}

		r.mu.Lock()
		entry.Attempts++
		entry.LastErr = err.Error()
		if entry.Attempts >= r.retryBudget {
			entry.Status = QueueFailed
			if r.metrics != nil {
				r.metrics.QueueFailures.Add(1)
			}
			log.Printf("Reconcile: match %s event %s failed after %d attempts: %v", matchID, entry.EventID, entry.Attempts, err)
		} else {
			entry.Status = QueuePending
			if r.metrics != nil {
				r.metrics.QueueRetries.Add(1)
			}
		}
		r.mu.Unlock()
		return &TransportError{Op: "submit", Err: err}
	}

	// Drop confirmed entries from the front.
	r.mu.Lock()
	defer r.mu.Unlock()
	queue = r.queues[matchID]
	i := 0
	for i < len(queue) && queue[i].Status == QueueAcked {
		i++
	}
	if i > 0 {
		r.queues[matchID] = queue[i:]
	}
	if len(r.queues[matchID]) == 0 {
		delete(r.queues, matchID)
	}
	return nil
}

func (r *Reconciler) setStatus(entry *QueueEntry, s QueueStatus) {
	r.mu.Lock()
	entry.Status = s
	r.mu.Unlock()
}

// PendingCount reports how many entries still await confirmation.
func (r *Reconciler) PendingCount(matchID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, entry := range r.queues[matchID] {
		if entry.Status != QueueAcked {
			n++
		}
	}
	return n
}

// Queue returns a copy of the match's queue for inspection.
func (r *Reconciler) Queue(matchID string) []QueueEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]QueueEntry, 0, len(r.queues[matchID]))
	for _, entry := range r.queues[matchID] {
		out = append(out, *entry)
	}
	return out
}

// CanUndo reports whether the last delivery of a match may be undone:
// nothing queued for it, and no innings transition pending.
func (r *Reconciler) CanUndo(m *Match) bool {
	if r.PendingCount(m.ID) > 0 {
		return false
	}
	st := m.State
	if st.NeedsNewInnings || st.Phase == PhaseInningsBreak || st.Phase == PhaseAwaitingNextOpeners {
		return false
	}
	return true
}

// Resync fetches the remote copy of a match and re-applies any queued
// events the remote is missing. The returned match is the merged,
// authoritative copy.
func (r *Reconciler) Resync(ctx context.Context, m *Match) (*Match, error) {
	remote, err := r.transport.FetchMatch(ctx, m.ID)
	if err != nil {
		return nil, &TransportError{Op: "fetch", Err: err}
	}
	remote.normalize()

	r.mu.Lock()
	queue := r.queues[m.ID]
	r.mu.Unlock()
	for _, entry := range queue {
		if entry.Status == QueueFailed {
			continue
		}
		if _, err := remote.ApplyEvent(entry.Raw); err != nil {
			return nil, err
		}
	}
	return remote, nil
}
