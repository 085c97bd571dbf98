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
	"net/mail"
	"regexp"
)

// uuidRegex is a regex for standard UUIDs (8-4-4-4-12 hex digits)
var uuidRegex = regexp.MustCompile(`^[a-fA-F0-9]{8}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{12}$`)

// isValidUUID checks if the string is a valid UUID.
func isValidUUID(id string) bool {
	return uuidRegex.MatchString(id)
}

// isValidEmail checks if the string is a valid email address.
func isValidEmail(email string) bool {
	_, err := mail.ParseAddress(email)
	return err == nil
}

// ValidateMatchData validates an entire match document including the
// event log. Used when a full match is uploaded via /api/save.
func ValidateMatchData(data []byte) error {
	var match struct {
		ID       string            `json:"id"`
		EventLog []json.RawMessage `json:"eventLog"`
	}
	if err := json.Unmarshal(data, &match); err != nil {
		return fmt.Errorf("invalid match JSON: %w", err)
	}

	if !isValidUUID(match.ID) {
		return fmt.Errorf("invalid match ID format: %s", match.ID)
	}

	for i, raw := range match.EventLog {
		if err := ValidateEvent(raw); err != nil {
			return fmt.Errorf("invalid event at index %d: %w", i, err)
		}
	}

	return nil
}

// ValidateEvent performs structural validation of a single event from
// raw JSON. Semantic checks against live state happen in ApplyEvent.
func ValidateEvent(raw json.RawMessage) error {
	var ev MatchEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return fmt.Errorf("malformed event JSON")
	}

	if !isValidUUID(ev.ID) {
		return fmt.Errorf("invalid event ID: %s", ev.ID)
	}
	if ev.Type == "" {
		return fmt.Errorf("missing event type")
	}

	return validateEventPayload(ev.Type, ev.Payload)
}

// ValidateEvents validates a list of events.
func ValidateEvents(events []json.RawMessage) error {
	for i, raw := range events {
		if err := ValidateEvent(raw); err != nil {
			return fmt.Errorf("invalid event at index %d: %w", i, err)
		}
	}
	return nil
}

// validateEventPayload validates the payload based on the event type.
func validateEventPayload(eventType string, payload json.RawMessage) error {
	switch eventType {
	case EvMatchStart:
		return validateMatchStart(payload)
	case EvOpeners, EvNewInnings:
		return validateOpeners(payload)
	case EvDelivery:
		return validateDeliveryPayload(payload)
	case EvNewOver:
		return validateNewOver(payload)
	case EvMidOverChange:
		return validateMidOverChange(payload)
	case EvNewBatter:
		return validateNewBatter(payload)
	case EvEndInnings:
		return validateEndInnings(payload)
	case EvReduceOvers:
		return validateReduceOvers(payload)
	case EvApplyTarget:
		return validateApplyTarget(payload)
	case EvMatchFinalize:
		return nil // Basic pass-through
	default:
		return fmt.Errorf("unknown event type: %s", eventType)
	}
}

// validateStringLen checks if the string length is within the limit.
func validateStringLen(s string, max int, name string) error {
	if len(s) > max {
		return fmt.Errorf("%s too long (max %d chars)", name, max)
	}
	return nil
}

// --- Specific Payload Validators ---

func validateMatchStart(payload json.RawMessage) error {
	var p MatchStartPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	if !isValidUUID(p.ID) {
		return fmt.Errorf("invalid match ID in payload")
	}
	if p.HomeName == "" || p.AwayName == "" {
		return fmt.Errorf("missing team names")
	}
	if err := validateStringLen(p.HomeName, 50, "home team"); err != nil {
		return err
	}
	if err := validateStringLen(p.AwayName, 50, "away team"); err != nil {
		return err
	}
	if err := validateStringLen(p.Event, 100, "event"); err != nil {
		return err
	}
	if err := validateStringLen(p.Venue, 100, "venue"); err != nil {
		return err
	}
	if p.HomeTeamID == "" || p.AwayTeamID == "" || p.HomeTeamID == p.AwayTeamID {
		return fmt.Errorf("two distinct team IDs are required")
	}
	if p.BattingFirstID == "" {
		return fmt.Errorf("missing battingFirstId")
	}
	if p.OversLimit < 1 || p.OversLimit > MaxOversLimit {
		return fmt.Errorf("invalid overs limit: %d", p.OversLimit)
	}
	if p.XISize != 0 && (p.XISize < 2 || p.XISize > DefaultXISize) {
		return fmt.Errorf("invalid XI size: %d", p.XISize)
	}
	if p.G50 != 0 && (p.G50 < MinG50 || p.G50 > MaxG50) {
		return fmt.Errorf("invalid G50: %d", p.G50)
	}
	for teamID, xi := range p.XIs {
		if teamID != p.HomeTeamID && teamID != p.AwayTeamID {
			return fmt.Errorf("XI for unknown team %s", teamID)
		}
		for _, pl := range xi {
			if !isValidUUID(pl.ID) {
				return fmt.Errorf("invalid player ID in XI")
			}
			if err := validateStringLen(pl.Name, 50, "player name"); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateOpeners(payload json.RawMessage) error {
	var p OpenersPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	if !isValidUUID(p.StrikerID) || !isValidUUID(p.NonStrikerID) {
		return fmt.Errorf("invalid opener ID")
	}
	if p.OpeningBowlerID != "" && !isValidUUID(p.OpeningBowlerID) {
		return fmt.Errorf("invalid opening bowler ID")
	}
	return nil
}

func validateDeliveryPayload(payload json.RawMessage) error {
	var d Delivery
	if err := json.Unmarshal(payload, &d); err != nil {
		return err
	}
	if d.Innings != 1 && d.Innings != 2 {
		return fmt.Errorf("invalid innings: %d", d.Innings)
	}
	if d.Over < 0 || d.Over >= MaxOversLimit {
		return fmt.Errorf("invalid over: %d", d.Over)
	}
	if d.BallInOver < 0 || d.BallInOver >= BallsPerOver {
		return fmt.Errorf("invalid ball in over: %d", d.BallInOver)
	}
	if !isValidUUID(d.StrikerID) || !isValidUUID(d.NonStrikerID) || !isValidUUID(d.BowlerID) {
		return fmt.Errorf("invalid player ID on delivery")
	}
	if d.RunsOffBat < 0 || d.RunsOffBat > 6 {
		return fmt.Errorf("invalid runs off bat: %d", d.RunsOffBat)
	}
	if !validExtra(d.ExtraType) {
		return fmt.Errorf("invalid extra type: %s", d.ExtraType)
	}
	switch d.ExtraType {
	case ExtraNone:
		if d.ExtraRuns != 0 {
			return fmt.Errorf("extra runs on a delivery without extras")
		}
	case ExtraWide:
		if d.RunsOffBat != 0 {
			return fmt.Errorf("runs off bat on a wide")
		}
		if d.ExtraRuns < 1 {
			return fmt.Errorf("a wide carries at least one run")
		}
	case ExtraNoBall:
		if d.ExtraRuns < 1 {
			return fmt.Errorf("a no ball carries at least one run")
		}
	case ExtraBye, ExtraLegBye:
		if d.RunsOffBat != 0 {
			return fmt.Errorf("runs off bat on a %s", d.ExtraType)
		}
		if d.ExtraRuns < 1 {
			return fmt.Errorf("a %s carries at least one run", d.ExtraType)
		}
	}
	if d.ExtraRuns < 0 || d.ExtraRuns > 7 {
		return fmt.Errorf("invalid extra runs: %d", d.ExtraRuns)
	}
	if d.IsWicket {
		if !validDismissal(d.DismissalType) {
			return fmt.Errorf("invalid dismissal type: %s", d.DismissalType)
		}
		if !isValidUUID(d.DismissedPlayerID) {
			return fmt.Errorf("invalid dismissed player ID")
		}
		if needsFielder(d.DismissalType) {
			if !isValidUUID(d.FielderID) {
				return fmt.Errorf("dismissal %s requires a fielder", d.DismissalType)
			}
		} else if d.FielderID != "" {
			return fmt.Errorf("dismissal %s does not involve a fielder", d.DismissalType)
		}
	} else if d.DismissalType != "" || d.DismissedPlayerID != "" || d.FielderID != "" {
		return fmt.Errorf("dismissal fields set without a wicket")
	}
	return nil
}

func validateNewOver(payload json.RawMessage) error {
	var p NewOverPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	if !isValidUUID(p.BowlerID) {
		return fmt.Errorf("invalid bowler ID")
	}
	return nil
}

func validateMidOverChange(payload json.RawMessage) error {
	var p MidOverChangePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	if !isValidUUID(p.ReplacementID) {
		return fmt.Errorf("invalid replacement bowler ID")
	}
	if p.Reason == "" {
		return fmt.Errorf("missing reason")
	}
	if err := validateStringLen(p.Reason, 100, "reason"); err != nil {
		return err
	}
	return nil
}

func validateNewBatter(payload json.RawMessage) error {
	var p NewBatterPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	if !isValidUUID(p.BatterID) {
		return fmt.Errorf("invalid batter ID")
	}
	return nil
}

func validateEndInnings(payload json.RawMessage) error {
	var p EndInningsPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	if p.Innings != 1 && p.Innings != 2 {
		return fmt.Errorf("invalid innings: %d", p.Innings)
	}
	if err := validateStringLen(p.Reason, 100, "reason"); err != nil {
		return err
	}
	return nil
}

func validateReduceOvers(payload json.RawMessage) error {
	var p ReduceOversPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	if p.Scope != ReduceScopeMatch && p.Scope != ReduceScopeInnings {
		return fmt.Errorf("invalid scope: %s", p.Scope)
	}
	if p.Scope == ReduceScopeInnings && p.Innings != 1 && p.Innings != 2 {
		return fmt.Errorf("invalid innings: %d", p.Innings)
	}
	if p.NewLimit < 1 || p.NewLimit > MaxOversLimit {
		return fmt.Errorf("invalid new limit: %d", p.NewLimit)
	}
	return nil
}

func validateApplyTarget(payload json.RawMessage) error {
	var p ApplyTargetPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	if p.Target < 1 {
		return fmt.Errorf("invalid target: %d", p.Target)
	}
	if p.G50 != 0 && (p.G50 < MinG50 || p.G50 > MaxG50) {
		return fmt.Errorf("invalid G50: %d", p.G50)
	}
	return nil
}

// ValidateDelivery checks a structurally valid delivery against the
// live state it is about to be applied to.
func ValidateDelivery(d *Delivery, st *MatchState, m *Match) error {
	if d.Innings != st.CurrentInnings {
		return validationErrorf("delivery is for innings %d, current is %d", d.Innings, st.CurrentInnings)
	}
	if d.StrikerID != st.StrikerID || d.NonStrikerID != st.NonStrikerID {
		return validationErrorf("delivery batters do not match the crease (striker %s, non-striker %s)",
			st.StrikerID, st.NonStrikerID)
	}
	if st.CurrentBowlerID == "" {
		return &GateBlockedError{Gate: "newOver"}
	}
	if d.BowlerID != st.CurrentBowlerID {
		return validationErrorf("delivery bowler %s is not the current bowler %s", d.BowlerID, st.CurrentBowlerID)
	}
	if d.IsWicket {
		if d.DismissedPlayerID != st.StrikerID && d.DismissedPlayerID != st.NonStrikerID {
			return validationErrorf("dismissed player %s is not at the crease", d.DismissedPlayerID)
		}
		if d.DismissedPlayerID == st.NonStrikerID && d.DismissalType != DismissalRunOut && d.DismissalType != DismissalRetired {
			return validationErrorf("the non-striker can only be run out or retired")
		}
		if d.FielderID != "" && !m.teamHasPlayer(st.BowlingTeamID, d.FielderID) {
			return validationErrorf("fielder %s is not in the fielding XI", d.FielderID)
		}
	}
	return nil
}
