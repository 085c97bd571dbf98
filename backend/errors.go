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
	"errors"
	"fmt"
)

// ErrConflict marks a duplicate delivery key whose payload diverged from
// the stored record, or a history fork during a bulk save.
var ErrConflict = errors.New("conflict detected")

// ErrForbidden is returned when the caller lacks the access level an
// operation requires.
var ErrForbidden = errors.New("forbidden")

// ValidationError reports a malformed or rule-violating delivery or event.
// These are never queued for retry; they indicate a logic error upstream.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// GateBlockedError reports that the state machine requires an out-of-band
// action (new over, new batter, new innings) before scoring can continue.
type GateBlockedError struct {
	Gate string
}

func (e *GateBlockedError) Error() string {
	return "blocked: " + e.Gate + " must be resolved first"
}

// ConflictError reports a duplicate ball key with a divergent payload.
// It unwraps to ErrConflict.
type ConflictError struct {
	Key    BallKey
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on ball %s: %s", e.Key, e.Reason)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// TransportError reports a network or backend failure. These are transient
// and recovered via the offline queue.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return "transport: " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ConfigError reports an invalid DLS constant or overs limit. Rejected
// before any state is mutated.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return "config: " + e.Field + ": " + e.Reason
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsGateBlocked reports whether err is a GateBlockedError.
func IsGateBlocked(err error) bool {
	var ge *GateBlockedError
	return errors.As(err, &ge)
}

// IsConfig reports whether err is a ConfigError.
func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
