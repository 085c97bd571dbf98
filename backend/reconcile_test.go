package backend

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
)

// fakeTransport scripts per-event failures and records submissions.
type fakeTransport struct {
	failFor   map[string]int // event ID -> remaining failures
	submitted []string
	remote    *Match
}

func (ft *fakeTransport) SubmitEvent(ctx context.Context, matchID string, raw json.RawMessage) error {
	var ev MatchEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return err
	}
	if n := ft.failFor[ev.ID]; n > 0 {
		ft.failFor[ev.ID] = n - 1
		return errors.New("connection reset")
	}
	ft.submitted = append(ft.submitted, ev.ID)
	return nil
}

func (ft *fakeTransport) FetchMatch(ctx context.Context, matchID string) (*Match, error) {
	if ft.remote == nil {
		return nil, errors.New("not found")
	}
	return ft.remote, nil
}

func eventID(raw json.RawMessage) string {
	var ev MatchEvent
	json.Unmarshal(raw, &ev)
	return ev.ID
}

func TestReconcilerFlushInOrder(t *testing.T) {
	f := startMatch(t, 20, 11)
	f.sendOpeners(t)

	ft := &fakeTransport{failFor: map[string]int{}}
	metrics := &Metrics{}
	r := NewReconciler(ft, metrics)

	e1 := f.ball(func(d *Delivery) { d.RunsOffBat = 1 })
	f.apply(t, e1)
	e2 := f.ball(func(d *Delivery) { d.RunsOffBat = 2 })
	f.apply(t, e2)
	e3 := f.ball(nil)
	f.apply(t, e3)

	// Enqueue before the match record has the events confirmed; here the
	// local match already applied them, so enqueue against a detached
	// record to simulate the offline client.
	queued := &Match{ID: f.m.ID}
	for _, raw := range []json.RawMessage{e1, e2, e3} {
		if !r.Enqueue(queued, raw) {
			t.Fatal("enqueue should accept a new event")
		}
	}
	if r.PendingCount(f.m.ID) != 3 {
		t.Fatalf("pending = %d, want 3", r.PendingCount(f.m.ID))
	}

	// The second event fails once: the flush confirms the first, stops,
	// and never submits the third ahead of the second.
	ft.failFor[eventID(e2)] = 1
	err := r.Flush(context.Background(), f.m.ID)
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want transport error", err)
	}
	if len(ft.submitted) != 1 || ft.submitted[0] != eventID(e1) {
		t.Fatalf("submitted = %v, want only the first event", ft.submitted)
	}
	if r.PendingCount(f.m.ID) != 2 {
		t.Errorf("pending after partial flush = %d, want 2", r.PendingCount(f.m.ID))
	}
	if metrics.QueueRetries.Load() != 1 {
		t.Errorf("retries = %d, want 1", metrics.QueueRetries.Load())
	}

	// Transport recovered: the rest drains in order.
	if err := r.Flush(context.Background(), f.m.ID); err != nil {
		t.Fatalf("second flush: %v", err)
	}
	want := []string{eventID(e1), eventID(e2), eventID(e3)}
	for i, id := range want {
		if ft.submitted[i] != id {
			t.Fatalf("submitted = %v, want %v", ft.submitted, want)
		}
	}
	if r.PendingCount(f.m.ID) != 0 {
		t.Errorf("pending after drain = %d, want 0", r.PendingCount(f.m.ID))
	}
	if len(r.Queue(f.m.ID)) != 0 {
		t.Error("confirmed entries should be trimmed")
	}
}

func TestReconcilerRetryBudget(t *testing.T) {
	f := startMatch(t, 20, 11)
	f.sendOpeners(t)

	ft := &fakeTransport{failFor: map[string]int{}}
	metrics := &Metrics{}
	r := NewReconciler(ft, metrics)

	raw := f.ball(nil)
	ft.failFor[eventID(raw)] = 100
	r.Enqueue(&Match{ID: f.m.ID}, raw)

	for i := 0; i < DefaultRetryBudget; i++ {
		if err := r.Flush(context.Background(), f.m.ID); err == nil {
			t.Fatalf("flush %d should fail", i)
		}
	}

	q := r.Queue(f.m.ID)
	if len(q) != 1 || q[0].Status != QueueFailed {
		t.Fatalf("queue = %+v, want one failed entry", q)
	}
	if q[0].Attempts != DefaultRetryBudget {
		t.Errorf("attempts = %d, want %d", q[0].Attempts, DefaultRetryBudget)
	}
	if metrics.QueueFailures.Load() != 1 {
		t.Errorf("failures = %d, want 1", metrics.QueueFailures.Load())
	}

	// A failed entry is held for review, not retried.
	if err := r.Flush(context.Background(), f.m.ID); err != nil {
		t.Fatalf("flush with only a failed entry: %v", err)
	}
	if got := ft.failFor[eventID(raw)]; got != 100-DefaultRetryBudget {
		t.Errorf("transport was called %d more times than the budget", 100-DefaultRetryBudget-got)
	}
}

func TestReconcilerEnqueueDedup(t *testing.T) {
	f := startMatch(t, 20, 11)
	f.sendOpeners(t)
	r := NewReconciler(&fakeTransport{}, nil)

	raw := f.ball(nil)
	queued := &Match{ID: f.m.ID}
	if !r.Enqueue(queued, raw) {
		t.Fatal("first enqueue should succeed")
	}
	if r.Enqueue(queued, raw) {
		t.Error("an already-queued event must be dropped")
	}

	// An event the match has already confirmed is not re-queued.
	f.apply(t, raw)
	other := f.ball(nil)
	f.apply(t, other)
	if r.Enqueue(f.m, other) {
		t.Error("the match's own last event must not be queued")
	}
}

func TestReconcilerCanUndo(t *testing.T) {
	f := startMatch(t, 20, 11)
	f.sendOpeners(t)
	r := NewReconciler(&fakeTransport{}, nil)

	f.score(t, 1)
	if !r.CanUndo(f.m) {
		t.Error("an idle match with an empty queue should allow undo")
	}

	raw := f.ball(nil)
	r.Enqueue(&Match{ID: f.m.ID}, raw)
	if r.CanUndo(f.m) {
		t.Error("pending submissions must block undo")
	}
}

func TestReconcilerResync(t *testing.T) {
	f := startMatch(t, 20, 11)
	f.sendOpeners(t)
	f.score(t, 1)

	// The remote copy is the match as of one ball ago.
	data, _ := json.Marshal(f.m)
	var remote Match
	json.Unmarshal(data, &remote)
	remote.normalize()

	ft := &fakeTransport{remote: &remote}
	r := NewReconciler(ft, nil)

	// Two local balls the remote never saw.
	e1 := f.ball(func(d *Delivery) { d.RunsOffBat = 4 })
	f.apply(t, e1)
	e2 := f.ball(nil)
	f.apply(t, e2)
	r.Enqueue(&Match{ID: f.m.ID}, e1)
	r.Enqueue(&Match{ID: f.m.ID}, e2)

	merged, err := r.Resync(context.Background(), f.m)
	if err != nil {
		t.Fatalf("resync failed: %v", err)
	}
	if merged.State != f.m.State {
		t.Errorf("merged state differs:\n got %+v\nwant %+v", merged.State, f.m.State)
	}
	if len(merged.EventLog) != len(f.m.EventLog) {
		t.Errorf("merged log = %d events, want %d", len(merged.EventLog), len(f.m.EventLog))
	}
}

func TestReconcilerResubmissionUpdatesQueuedBall(t *testing.T) {
	f := startMatch(t, 20, 11)
	f.sendOpeners(t)
	metrics := &Metrics{}
	r := NewReconciler(&fakeTransport{}, metrics)

	queued := &Match{ID: f.m.ID}
	orig := f.ball(func(d *Delivery) { d.RunsOffBat = 1 })
	if !r.Enqueue(queued, orig) {
		t.Fatal("first enqueue was dropped")
	}

	// The scorer corrects the same ball before it was flushed: a fresh
	// event ID, the same ball key, a different payload. The queued entry
	// is updated in place, not appended as a second submission.
	var ev MatchEvent
	json.Unmarshal(orig, &ev)
	var d Delivery
	json.Unmarshal(ev.Payload, &d)
	d.RunsOffBat = 4
	payload, _ := json.Marshal(d)
	ev.ID = uuid.NewString()
	ev.Payload = payload
	corrected, _ := json.Marshal(ev)

	if !r.Enqueue(queued, corrected) {
		t.Fatal("correction was dropped")
	}
	q := r.Queue(f.m.ID)
	if len(q) != 1 {
		t.Fatalf("queue has %d entries for the same ball, want 1", len(q))
	}
	if q[0].EventID != eventID(corrected) {
		t.Errorf("queued event = %s, want the corrected %s", q[0].EventID, eventID(corrected))
	}
	if qd, ok := queuedDelivery(q[0].Raw); !ok || qd.RunsOffBat != 4 {
		t.Errorf("queued runs = %d, want the corrected 4", qd.RunsOffBat)
	}
	if got := metrics.PayloadConflicts.Load(); got != 1 {
		t.Errorf("payload conflicts = %d, want 1", got)
	}

	// The same payload again under yet another event ID is a plain
	// duplicate and must not grow the queue.
	ev.ID = uuid.NewString()
	identical, _ := json.Marshal(ev)
	if r.Enqueue(queued, identical) {
		t.Error("identical resubmission was queued")
	}
	if len(r.Queue(f.m.ID)) != 1 {
		t.Errorf("queue = %d entries after duplicate, want 1", len(r.Queue(f.m.ID)))
	}
}

func TestReconcilerSnapshotBallDedup(t *testing.T) {
	f := startMatch(t, 20, 11)
	f.sendOpeners(t)
	r := NewReconciler(&fakeTransport{}, nil)

	raw := f.ball(func(d *Delivery) { d.RunsOffBat = 1 })
	f.apply(t, raw)

	// The ball is already in the local snapshot. An identical payload
	// arriving under a new event ID has nothing left to forward.
	var ev MatchEvent
	json.Unmarshal(raw, &ev)
	ev.ID = uuid.NewString()
	retry, _ := json.Marshal(ev)
	if r.Enqueue(f.m, retry) {
		t.Error("ball already in the snapshot was re-queued")
	}
	if len(r.Queue(f.m.ID)) != 0 {
		t.Errorf("queue = %d entries, want 0", len(r.Queue(f.m.ID)))
	}

	// A divergent correction of that ball still goes upstream, once.
	var d Delivery
	json.Unmarshal(ev.Payload, &d)
	d.RunsOffBat = 4
	payload, _ := json.Marshal(d)
	ev.ID = uuid.NewString()
	ev.Payload = payload
	corrected, _ := json.Marshal(ev)
	if !r.Enqueue(f.m, corrected) {
		t.Fatal("correction of a synced ball was dropped")
	}
	if len(r.Queue(f.m.ID)) != 1 {
		t.Errorf("queue = %d entries, want 1", len(r.Queue(f.m.ID)))
	}
}
