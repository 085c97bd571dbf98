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
	"log"
	"time"
)

// MatchEvent is the common envelope of an event-log entry.
type MatchEvent struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	Timestamp     int64           `json:"timestamp"` // Unix ms
	SchemaVersion int             `json:"schemaVersion,omitempty"`
}

// Phase is the top-level state of a match.
type Phase string

const (
	PhaseAwaitingOpeners     Phase = "awaitingOpeners"
	PhaseInProgress          Phase = "inProgress"
	PhaseInningsBreak        Phase = "inningsBreak"
	PhaseAwaitingNextOpeners Phase = "awaitingNextOpeners"
	PhaseCompleted           Phase = "completed"
)

// inningsFlipSuppression is how long locally-derived innings-end fallbacks
// are ignored after a confirmed innings change, so a stale recomputation
// cannot re-raise the gate the flip just resolved.
const inningsFlipSuppression = 10 * time.Second

// MatchState is the authoritative live snapshot of a match. It is mutated
// only through ApplyEvent and is re-derivable by replaying the event log.
type MatchState struct {
	Phase          Phase `json:"phase"`
	CurrentInnings int   `json:"currentInnings"`

	BattingTeamID string `json:"battingTeamId,omitempty"`
	BowlingTeamID string `json:"bowlingTeamId,omitempty"`

	StrikerID        string `json:"strikerId,omitempty"`
	NonStrikerID     string `json:"nonStrikerId,omitempty"`
	CurrentBowlerID  string `json:"currentBowlerId,omitempty"`
	LastOverBowlerID string `json:"lastOverBowlerId,omitempty"`

	BallsThisOver     int  `json:"ballsThisOver"`
	MidOverChangeUsed bool `json:"midOverChangeUsed,omitempty"`

	NeedsNewOver    bool `json:"needsNewOver,omitempty"`
	NeedsNewBatter  bool `json:"needsNewBatter,omitempty"`
	NeedsNewInnings bool `json:"needsNewInnings,omitempty"`

	OversLimit int `json:"oversLimit,omitempty"`
	Target     int `json:"target,omitempty"` // 0: no target set

	Runs       int `json:"runs"`
	Wickets    int `json:"wickets"`
	LegalBalls int `json:"legalBalls"`

	// InningsChangedAt is the timestamp (Unix ms) of the last confirmed
	// innings flip, used for the fallback suppression window.
	InningsChangedAt int64 `json:"inningsChangedAt,omitempty"`
}

// Position returns the identity key of the next expected legal ball.
func (st *MatchState) Position() BallKey {
	return BallKey{
		Innings: st.CurrentInnings,
		Over:    st.LegalBalls / BallsPerOver,
		Ball:    st.BallsThisOver,
	}
}

// BlockedGate returns the name of the unresolved gate blocking scoring,
// or "" if scoring is open.
func (st *MatchState) BlockedGate() string {
	switch {
	case st.NeedsNewInnings:
		return "newInnings"
	case st.NeedsNewOver:
		return "newOver"
	case st.NeedsNewBatter:
		return "newBatter"
	}
	return ""
}

// OversDisplay formats the innings progress as "overs.balls".
func (st *MatchState) OversDisplay() string {
	return fmt.Sprintf("%d.%d", st.LegalBalls/BallsPerOver, st.LegalBalls%BallsPerOver)
}

// --- Event payloads ---

type MatchStartPayload struct {
	ID             string              `json:"id"`
	OwnerID        string              `json:"ownerId,omitempty"`
	Date           string              `json:"date,omitempty"`
	Venue          string              `json:"venue,omitempty"`
	Event          string              `json:"event,omitempty"`
	HomeTeamID     string              `json:"homeTeamId"`
	AwayTeamID     string              `json:"awayTeamId"`
	HomeName       string              `json:"homeName"`
	AwayName       string              `json:"awayName"`
	BattingFirstID string              `json:"battingFirstId"`
	OversLimit     int                 `json:"oversLimit"`
	XISize         int                 `json:"xiSize,omitempty"`
	G50            int                 `json:"g50,omitempty"`
	XIs            map[string][]Player `json:"xis"`
	Permissions    *Permissions        `json:"permissions,omitempty"`
}

type OpenersPayload struct {
	StrikerID       string `json:"strikerId"`
	NonStrikerID    string `json:"nonStrikerId"`
	OpeningBowlerID string `json:"openingBowlerId,omitempty"`
}

type NewOverPayload struct {
	BowlerID string `json:"bowlerId"`
}

type MidOverChangePayload struct {
	ReplacementID string `json:"replacementId"`
	Reason        string `json:"reason"`
}

type NewBatterPayload struct {
	BatterID string `json:"batterId"`
}

type NewInningsPayload struct {
	StrikerID       string `json:"strikerId"`
	NonStrikerID    string `json:"nonStrikerId"`
	OpeningBowlerID string `json:"openingBowlerId,omitempty"`
}

type EndInningsPayload struct {
	Innings int    `json:"innings"`
	Reason  string `json:"reason,omitempty"`
}

type ReduceOversPayload struct {
	Scope    string `json:"scope"` // "match" or "innings"
	Innings  int    `json:"innings,omitempty"`
	NewLimit int    `json:"newLimit"`
}

type ApplyTargetPayload struct {
	Target int `json:"target"`
	G50    int `json:"g50,omitempty"`
}

type FinalizePayload struct {
	Result string `json:"result,omitempty"`
}

// deliveryOutcome classifies what applying a DELIVERY event did.
type deliveryOutcome int

const (
	deliveryApplied deliveryOutcome = iota
	deliveryDuplicate
	deliveryReplaced
	deliveryStale
)

// ApplyEvent applies one event-log entry to the match. It assumes
// structural validation (ValidateEvent) has already been performed.
// Returns true if the event changed the match, false if it was a
// duplicate or a collapsed resubmission. State is never partially
// mutated: every transition is computed on a scratch copy and committed
// only on success.
func (m *Match) ApplyEvent(raw json.RawMessage) (bool, error) {
	var ev MatchEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return false, fmt.Errorf("failed to unmarshal event for apply: %w", err)
	}

	// Idempotency check: scan backwards through the event log for this
	// event ID. Bounded to keep the scan O(K) under transient retries.
	if !m.rebuilding {
		const maxScan = 100
		for i, count := len(m.EventLog)-1, 0; i >= 0 && count < maxScan; i, count = i-1, count+1 {
			var existing MatchEvent
			if err := json.Unmarshal(m.EventLog[i], &existing); err == nil && existing.ID == ev.ID {
				return false, nil
			}
		}
	}

	if ev.Type == EvDelivery {
		var d Delivery
		if err := json.Unmarshal(ev.Payload, &d); err != nil {
			return false, validationErrorf("undecodable delivery payload: %v", err)
		}
		outcome, err := m.applyDelivery(&ev, &d, raw)
		if err != nil {
			return false, err
		}
		switch outcome {
		case deliveryDuplicate, deliveryStale:
			return false, nil
		case deliveryReplaced:
			if err := m.Rebuild(); err != nil {
				return false, err
			}
			m.LastEventID = ev.ID
			return true, nil
		default:
			m.EventLog = append(m.EventLog, raw)
			m.Deliveries = append(m.Deliveries, d)
			m.LastEventID = ev.ID
			return true, nil
		}
	}

	var changed bool
	var err error
	switch ev.Type {
	case EvMatchStart:
		changed, err = m.applyMatchStart(&ev)
	case EvOpeners:
		changed, err = m.applyOpeners(&ev)
	case EvNewOver:
		changed, err = m.applyNewOver(&ev)
	case EvMidOverChange:
		changed, err = m.applyMidOverChange(&ev)
	case EvNewBatter:
		changed, err = m.applyNewBatter(&ev)
	case EvNewInnings:
		changed, err = m.applyNewInnings(&ev)
	case EvEndInnings:
		changed, err = m.applyEndInnings(&ev)
	case EvReduceOvers:
		changed, err = m.applyReduceOvers(&ev)
	case EvApplyTarget:
		changed, err = m.applyApplyTarget(&ev)
	case EvMatchFinalize:
		changed, err = m.applyFinalize(&ev)
	default:
		return false, validationErrorf("unknown event type: %s", ev.Type)
	}
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}
	m.EventLog = append(m.EventLog, raw)
	m.LastEventID = ev.ID
	return true, nil
}

// ApplyEvents applies multiple events in order.
func (m *Match) ApplyEvents(events []json.RawMessage) (bool, error) {
	anyChanged := false
	for _, raw := range events {
		changed, err := m.ApplyEvent(raw)
		if err != nil {
			return anyChanged, err
		}
		if changed {
			anyChanged = true
		}
	}
	return anyChanged, nil
}

// Rebuild re-derives the live state, the delivery list, and the
// first-innings snapshot by replaying the event log from scratch.
func (m *Match) Rebuild() error {
	entries := m.EventLog
	m.EventLog = make([]json.RawMessage, 0, len(entries))
	m.Deliveries = m.Deliveries[:0]
	m.State = MatchState{}
	m.FirstInnings = nil
	m.LastEventID = ""
	m.rebuilding = true
	defer func() { m.rebuilding = false }()

	for i, raw := range entries {
		if _, err := m.ApplyEvent(raw); err != nil {
			return fmt.Errorf("replay failed at event %d: %w", i, err)
		}
	}
	return nil
}

func (m *Match) applyMatchStart(ev *MatchEvent) (bool, error) {
	if m.State.Phase != "" || len(m.EventLog) > 0 {
		return false, validationErrorf("match %s already started", m.ID)
	}
	var p MatchStartPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return false, validationErrorf("undecodable match start payload: %v", err)
	}
	if p.BattingFirstID != p.HomeTeamID && p.BattingFirstID != p.AwayTeamID {
		return false, validationErrorf("battingFirstId %q is not one of the two teams", p.BattingFirstID)
	}

	m.SchemaVersion = ev.SchemaVersion
	if m.SchemaVersion == 0 {
		m.SchemaVersion = CurrentSchemaVersion
	}
	m.ID = p.ID
	if p.OwnerID != "" {
		m.OwnerID = p.OwnerID
	}
	m.Date = p.Date
	m.Venue = p.Venue
	m.Event = p.Event
	m.HomeTeamID = p.HomeTeamID
	m.AwayTeamID = p.AwayTeamID
	m.HomeName = p.HomeName
	m.AwayName = p.AwayName
	m.XIs = p.XIs
	m.XISize = p.XISize
	if m.XISize == 0 {
		m.XISize = DefaultXISize
	}
	m.OversLimit = p.OversLimit
	m.G50 = p.G50
	if m.G50 == 0 {
		m.G50 = DefaultG50
	}
	if p.Permissions != nil {
		m.Permissions = *p.Permissions
	}
	m.Status = StatusLive

	bowling := p.HomeTeamID
	if p.BattingFirstID == p.HomeTeamID {
		bowling = p.AwayTeamID
	}
	m.State = MatchState{
		Phase:          PhaseAwaitingOpeners,
		CurrentInnings: 1,
		BattingTeamID:  p.BattingFirstID,
		BowlingTeamID:  bowling,
		OversLimit:     p.OversLimit,
	}
	return true, nil
}

func (m *Match) applyOpeners(ev *MatchEvent) (bool, error) {
	if m.State.Phase != PhaseAwaitingOpeners {
		return false, validationErrorf("openers can only be selected before the first ball (phase %s)", m.State.Phase)
	}
	var p OpenersPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return false, validationErrorf("undecodable openers payload: %v", err)
	}
	st := m.State
	if err := m.setOpeners(&st, p.StrikerID, p.NonStrikerID, p.OpeningBowlerID); err != nil {
		return false, err
	}
	st.Phase = PhaseInProgress
	m.State = st
	return true, nil
}

// setOpeners validates and installs the openers (and optional opening
// bowler) for the batting side of st.
func (m *Match) setOpeners(st *MatchState, strikerID, nonStrikerID, bowlerID string) error {
	if strikerID == "" || nonStrikerID == "" {
		return validationErrorf("both openers are required")
	}
	if strikerID == nonStrikerID {
		return validationErrorf("openers must be two distinct players")
	}
	if !m.teamHasPlayer(st.BattingTeamID, strikerID) {
		return validationErrorf("striker %s is not in the batting XI", strikerID)
	}
	if !m.teamHasPlayer(st.BattingTeamID, nonStrikerID) {
		return validationErrorf("non-striker %s is not in the batting XI", nonStrikerID)
	}
	st.StrikerID = strikerID
	st.NonStrikerID = nonStrikerID
	if bowlerID != "" {
		if !m.teamHasPlayer(st.BowlingTeamID, bowlerID) {
			return validationErrorf("opening bowler %s is not in the bowling XI", bowlerID)
		}
		st.CurrentBowlerID = bowlerID
		st.NeedsNewOver = false
	} else {
		st.CurrentBowlerID = ""
		st.NeedsNewOver = true
	}
	st.BallsThisOver = 0
	st.MidOverChangeUsed = false
	return nil
}

func (m *Match) applyDelivery(ev *MatchEvent, d *Delivery, raw json.RawMessage) (deliveryOutcome, error) {
	st := m.State

	switch st.Phase {
	case PhaseInProgress:
		// scoring open, subject to gates below
	case PhaseAwaitingOpeners:
		return 0, &GateBlockedError{Gate: "openers"}
	case PhaseInningsBreak, PhaseAwaitingNextOpeners:
		return 0, &GateBlockedError{Gate: "newInnings"}
	case PhaseCompleted:
		return 0, validationErrorf("match is over")
	default:
		return 0, validationErrorf("match has not started")
	}
	if gate := st.BlockedGate(); gate != "" {
		return 0, &GateBlockedError{Gate: gate}
	}

	key := d.Key()
	pos := st.Position()

	if key == pos {
		// The open slot. Any earlier deliveries with this key are
		// wides/no-balls that left the slot open; an identical payload is
		// a retried submission of one of them.
		if m.rebuilding {
			// log is already resolved, fall through to apply
		} else {
			for i := len(m.Deliveries) - 1; i >= 0; i-- {
				if m.Deliveries[i].Key() != key {
					break
				}
				if m.Deliveries[i] == *d {
					return deliveryDuplicate, nil
				}
			}
		}
	} else if key.Less(pos) {
		// An already-consumed slot: a resubmission or a stale retry.
		idx := -1
		for i := len(m.Deliveries) - 1; i >= 0; i-- {
			if m.Deliveries[i].Key() == key {
				if m.Deliveries[i] == *d {
					return deliveryDuplicate, nil
				}
				idx = i
				break
			}
		}
		if idx < 0 {
			return 0, validationErrorf("delivery %s arrived out of order (expected %s)", key, pos)
		}
		if m.metrics != nil {
			m.metrics.PayloadConflicts.Add(1)
		}
		if idx == len(m.Deliveries)-1 {
			// Divergent payload for the most recent ball: last write wins.
			if err := m.replaceDeliveryEvent(key, raw); err != nil {
				return 0, err
			}
			log.Printf("Conflict: match %s ball %s payload replaced (last-write-wins)", m.ID, key)
			return deliveryReplaced, nil
		}
		// Divergent payload for an earlier ball. Applying it would roll
		// back state already derived from later balls; ignore it.
		log.Printf("Conflict: match %s ignoring divergent payload for past ball %s", m.ID, key)
		return deliveryStale, nil
	} else {
		return 0, validationErrorf("delivery %s is ahead of the next ball %s", key, pos)
	}

	if err := ValidateDelivery(d, &st, m); err != nil {
		return 0, err
	}

	m.applyDeliveryToState(&st, d, ev.Timestamp)
	m.State = st
	if st.Phase == PhaseCompleted {
		m.Status = StatusFinal
	}
	return deliveryApplied, nil
}

// replaceDeliveryEvent swaps the logged event for the given ball key with
// the new raw event. The caller is responsible for rebuilding state.
func (m *Match) replaceDeliveryEvent(key BallKey, raw json.RawMessage) error {
	for i := len(m.EventLog) - 1; i >= 0; i-- {
		var ev MatchEvent
		if err := json.Unmarshal(m.EventLog[i], &ev); err != nil || ev.Type != EvDelivery {
			continue
		}
		var d Delivery
		if err := json.Unmarshal(ev.Payload, &d); err != nil {
			continue
		}
		if d.Key() == key {
			m.EventLog[i] = raw
			return nil
		}
	}
	return &ConflictError{Key: key, Reason: "no logged event to replace"}
}

// applyDeliveryToState mutates st with the effects of one accepted
// delivery: runs, ball counts, strike rotation, wicket bookkeeping, and
// gate transitions.
func (m *Match) applyDeliveryToState(st *MatchState, d *Delivery, eventTime int64) {
	st.Runs += d.TotalRuns()
	legal := d.IsLegal()
	if legal {
		st.LegalBalls++
		st.BallsThisOver++
	}

	if d.IsWicket {
		st.Wickets++
	}

	rotateStrike(st, d)

	if legal && st.BallsThisOver == BallsPerOver {
		endOverRotation(st)
	}

	if d.IsWicket {
		// Vacate the dismissed batter's end; NEW_BATTER fills it.
		switch d.DismissedPlayerID {
		case st.StrikerID:
			st.StrikerID = ""
		case st.NonStrikerID:
			st.NonStrikerID = ""
		}
		st.NeedsNewBatter = true
	}

	m.deriveInningsEnd(st, eventTime)
}

// deriveInningsEnd applies the locally-derived innings/match end
// conditions (all out, overs exhausted, target chased). Suppressed for a
// short window after a confirmed innings flip so a stale recomputation
// cannot re-raise the gate.
func (m *Match) deriveInningsEnd(st *MatchState, eventTime int64) {
	if st.Phase != PhaseInProgress {
		return
	}
	if eventTime > 0 && st.InningsChangedAt > 0 &&
		eventTime-st.InningsChangedAt < inningsFlipSuppression.Milliseconds() {
		return
	}

	allOut := st.Wickets >= m.xiSize()-1
	oversDone := st.OversLimit > 0 && st.LegalBalls >= st.OversLimit*BallsPerOver
	chased := st.CurrentInnings == 2 && st.Target > 0 && st.Runs >= st.Target

	if st.CurrentInnings == 1 {
		if allOut || oversDone {
			log.Printf("Match %s: first innings closed at %s, %d/%d", m.ID, st.OversDisplay(), st.Runs, st.Wickets)
			st.Phase = PhaseInningsBreak
			st.NeedsNewInnings = true
			st.NeedsNewOver = false
			st.NeedsNewBatter = false
		}
		return
	}
	if allOut || oversDone || chased {
		log.Printf("Match %s: completed at %s, %d/%d chasing %d", m.ID, st.OversDisplay(), st.Runs, st.Wickets, st.Target)
		st.Phase = PhaseCompleted
		st.NeedsNewInnings = false
		st.NeedsNewOver = false
		st.NeedsNewBatter = false
	}
}

func (m *Match) applyNewOver(ev *MatchEvent) (bool, error) {
	st := m.State
	if st.Phase != PhaseInProgress {
		return false, validationErrorf("cannot start an over in phase %s", st.Phase)
	}
	if !st.NeedsNewOver {
		return false, validationErrorf("no new over is required")
	}
	if st.NeedsNewBatter {
		return false, &GateBlockedError{Gate: "newBatter"}
	}
	var p NewOverPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return false, validationErrorf("undecodable new over payload: %v", err)
	}
	if err := CheckBowlerEligibility(&st, p.BowlerID); err != nil {
		return false, err
	}
	if !m.teamHasPlayer(st.BowlingTeamID, p.BowlerID) {
		return false, validationErrorf("bowler %s is not in the bowling XI", p.BowlerID)
	}

	st.CurrentBowlerID = p.BowlerID
	st.BallsThisOver = 0
	st.MidOverChangeUsed = false
	st.NeedsNewOver = false
	m.State = st
	return true, nil
}

func (m *Match) applyMidOverChange(ev *MatchEvent) (bool, error) {
	st := m.State
	if st.Phase != PhaseInProgress || st.NeedsNewOver {
		return false, validationErrorf("no over is in progress")
	}
	if st.MidOverChangeUsed {
		return false, validationErrorf("bowler already changed once this over")
	}
	var p MidOverChangePayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return false, validationErrorf("undecodable mid-over change payload: %v", err)
	}
	if p.ReplacementID == st.CurrentBowlerID {
		return false, validationErrorf("replacement is already bowling")
	}
	if p.ReplacementID == st.LastOverBowlerID {
		return false, validationErrorf("bowler %s bowled the previous over and cannot finish this one", p.ReplacementID)
	}
	if !m.teamHasPlayer(st.BowlingTeamID, p.ReplacementID) {
		return false, validationErrorf("replacement %s is not in the bowling XI", p.ReplacementID)
	}

	// The replacement, not the original bowler, becomes ineligible for
	// the following over: endOverRotation records CurrentBowlerID.
	st.CurrentBowlerID = p.ReplacementID
	st.MidOverChangeUsed = true
	m.State = st
	return true, nil
}

func (m *Match) applyNewBatter(ev *MatchEvent) (bool, error) {
	st := m.State
	if !st.NeedsNewBatter {
		return false, validationErrorf("no new batter is required")
	}
	var p NewBatterPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return false, validationErrorf("undecodable new batter payload: %v", err)
	}
	if !m.teamHasPlayer(st.BattingTeamID, p.BatterID) {
		return false, validationErrorf("batter %s is not in the batting XI", p.BatterID)
	}
	if p.BatterID == st.StrikerID || p.BatterID == st.NonStrikerID {
		return false, validationErrorf("batter %s is already at the crease", p.BatterID)
	}
	for _, d := range m.Deliveries {
		if d.Innings == st.CurrentInnings && d.IsWicket && d.DismissedPlayerID == p.BatterID {
			return false, validationErrorf("batter %s is already out", p.BatterID)
		}
	}

	switch {
	case st.StrikerID == "":
		st.StrikerID = p.BatterID
	case st.NonStrikerID == "":
		st.NonStrikerID = p.BatterID
	default:
		return false, validationErrorf("both ends are occupied")
	}
	st.NeedsNewBatter = false
	m.State = st
	return true, nil
}

func (m *Match) applyNewInnings(ev *MatchEvent) (bool, error) {
	st := m.State
	if st.Phase != PhaseInningsBreak && st.Phase != PhaseAwaitingNextOpeners {
		return false, validationErrorf("cannot start the next innings in phase %s", st.Phase)
	}
	if st.CurrentInnings != 1 {
		return false, validationErrorf("no further innings after innings %d", st.CurrentInnings)
	}
	var p NewInningsPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return false, validationErrorf("undecodable new innings payload: %v", err)
	}

	// Snapshot the completed innings for display before the state is
	// replaced.
	m.FirstInnings = &InningsSummary{
		TeamID:     st.BattingTeamID,
		Runs:       st.Runs,
		Wickets:    st.Wickets,
		LegalBalls: st.LegalBalls,
		OversLimit: st.OversLimit,
	}

	limit := m.OversLimit
	if m.SecondInningsOvers > 0 {
		limit = m.SecondInningsOvers
	}
	target := m.DLSTarget
	if target == 0 {
		target = m.FirstInnings.Runs + 1
	}

	next := MatchState{
		Phase:            PhaseInProgress,
		CurrentInnings:   2,
		BattingTeamID:    st.BowlingTeamID,
		BowlingTeamID:    st.BattingTeamID,
		OversLimit:       limit,
		Target:           target,
		InningsChangedAt: ev.Timestamp,
	}
	if err := m.setOpeners(&next, p.StrikerID, p.NonStrikerID, p.OpeningBowlerID); err != nil {
		return false, err
	}
	m.State = next
	return true, nil
}

func (m *Match) applyEndInnings(ev *MatchEvent) (bool, error) {
	st := m.State
	var p EndInningsPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return false, validationErrorf("undecodable end innings payload: %v", err)
	}
	if p.Innings != st.CurrentInnings {
		return false, validationErrorf("innings %d is not in progress", p.Innings)
	}

	if st.CurrentInnings == 1 {
		switch st.Phase {
		case PhaseInProgress, PhaseInningsBreak:
		case PhaseAwaitingNextOpeners:
			return false, nil
		default:
			return false, validationErrorf("cannot end innings in phase %s", st.Phase)
		}
		st.Phase = PhaseAwaitingNextOpeners
		st.NeedsNewInnings = true
		st.NeedsNewOver = false
		st.NeedsNewBatter = false
		m.State = st
		return true, nil
	}

	if st.Phase == PhaseCompleted {
		return false, nil
	}
	st.Phase = PhaseCompleted
	st.NeedsNewInnings = false
	st.NeedsNewOver = false
	st.NeedsNewBatter = false
	m.State = st
	m.Status = StatusFinal
	return true, nil
}

func (m *Match) applyReduceOvers(ev *MatchEvent) (bool, error) {
	var p ReduceOversPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return false, validationErrorf("undecodable reduce overs payload: %v", err)
	}
	if p.NewLimit < 1 || p.NewLimit > MaxOversLimit {
		return false, &ConfigError{Field: "newLimit", Reason: fmt.Sprintf("must be between 1 and %d", MaxOversLimit)}
	}

	st := m.State
	switch p.Scope {
	case ReduceScopeMatch:
		if st.CurrentInnings == 1 && st.Phase == PhaseInProgress && st.LegalBalls > p.NewLimit*BallsPerOver {
			return false, &ConfigError{Field: "newLimit", Reason: "more overs have already been bowled"}
		}
		m.OversLimit = p.NewLimit
		m.SecondInningsOvers = p.NewLimit
		if st.Phase == PhaseInProgress {
			st.OversLimit = p.NewLimit
		}
	case ReduceScopeInnings:
		switch {
		case p.Innings == st.CurrentInnings && st.Phase == PhaseInProgress:
			if st.LegalBalls > p.NewLimit*BallsPerOver {
				return false, &ConfigError{Field: "newLimit", Reason: "more overs have already been bowled"}
			}
			st.OversLimit = p.NewLimit
		case p.Innings == 2 && st.CurrentInnings == 1:
			m.SecondInningsOvers = p.NewLimit
		default:
			return false, &ConfigError{Field: "innings", Reason: fmt.Sprintf("innings %d cannot be reduced", p.Innings)}
		}
	default:
		return false, &ConfigError{Field: "scope", Reason: "must be \"match\" or \"innings\""}
	}

	m.deriveInningsEnd(&st, ev.Timestamp)
	m.State = st
	if st.Phase == PhaseCompleted {
		m.Status = StatusFinal
	}
	return true, nil
}

func (m *Match) applyApplyTarget(ev *MatchEvent) (bool, error) {
	var p ApplyTargetPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return false, validationErrorf("undecodable apply target payload: %v", err)
	}
	if p.Target < 1 {
		return false, &ConfigError{Field: "target", Reason: "must be positive"}
	}
	if p.G50 != 0 && (p.G50 < MinG50 || p.G50 > MaxG50) {
		return false, &ConfigError{Field: "g50", Reason: fmt.Sprintf("must be between %d and %d", MinG50, MaxG50)}
	}

	// Re-applying the same target is a no-op.
	if m.DLSTarget == p.Target && (m.State.CurrentInnings != 2 || m.State.Target == p.Target) {
		return false, nil
	}

	m.DLSTarget = p.Target
	if p.G50 != 0 {
		m.G50 = p.G50
	}
	if m.State.CurrentInnings == 2 {
		st := m.State
		st.Target = p.Target
		m.deriveInningsEnd(&st, ev.Timestamp)
		m.State = st
		if st.Phase == PhaseCompleted {
			m.Status = StatusFinal
		}
	}
	return true, nil
}

func (m *Match) applyFinalize(ev *MatchEvent) (bool, error) {
	if m.Status == StatusFinal && m.State.Phase == PhaseCompleted {
		return false, nil
	}
	st := m.State
	st.Phase = PhaseCompleted
	st.NeedsNewInnings = false
	st.NeedsNewOver = false
	st.NeedsNewBatter = false
	m.State = st
	m.Status = StatusFinal
	return true, nil
}

// UndoLastDelivery removes the most recent delivery from the event log
// and re-derives the state. It is a compensating action: the caller must
// ensure no queued submissions are in flight for this match.
func (m *Match) UndoLastDelivery() error {
	if m.State.NeedsNewInnings || m.State.Phase == PhaseInningsBreak || m.State.Phase == PhaseAwaitingNextOpeners {
		return &GateBlockedError{Gate: "newInnings"}
	}
	if len(m.EventLog) == 0 {
		return validationErrorf("nothing to undo")
	}
	var last MatchEvent
	if err := json.Unmarshal(m.EventLog[len(m.EventLog)-1], &last); err != nil {
		return fmt.Errorf("failed to unmarshal last event: %w", err)
	}
	if last.Type != EvDelivery {
		return validationErrorf("last event is %s, not a delivery", last.Type)
	}
	m.EventLog = m.EventLog[:len(m.EventLog)-1]
	return m.Rebuild()
}
