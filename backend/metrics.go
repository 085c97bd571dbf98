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
	"sync/atomic"
)

// Metrics counts notable scoring and reconciliation events. All fields
// are safe for concurrent use.
type Metrics struct {
	DeliveriesApplied   atomic.Int64
	DuplicatesCollapsed atomic.Int64
	PayloadConflicts    atomic.Int64
	GateRejections      atomic.Int64
	ValidationFailures  atomic.Int64
	QueueRetries        atomic.Int64
	QueueFailures       atomic.Int64
	WSMessagesSent      atomic.Int64
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"deliveriesApplied":   m.DeliveriesApplied.Load(),
		"duplicatesCollapsed": m.DuplicatesCollapsed.Load(),
		"payloadConflicts":    m.PayloadConflicts.Load(),
		"gateRejections":      m.GateRejections.Load(),
		"validationFailures":  m.ValidationFailures.Load(),
		"queueRetries":        m.QueueRetries.Load(),
		"queueFailures":       m.QueueFailures.Load(),
		"wsMessagesSent":      m.WSMessagesSent.Load(),
	}
}

// ToJSON renders the counters for the metrics endpoint.
func (m *Metrics) ToJSON() ([]byte, error) {
	return json.MarshalIndent(m.Snapshot(), "", "  ")
}

// CountError bumps the counter matching the error's category.
func (m *Metrics) CountError(err error) {
	switch {
	case err == nil:
	case IsGateBlocked(err):
		m.GateRejections.Add(1)
	case IsValidation(err):
		m.ValidationFailures.Add(1)
	}
}
