// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldPeerID    = "peer_id"
	FieldSessionID = "session_id"
	FieldOperation = "operation"
	FieldChannel   = "channel"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldMachine   = "machine"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Transport fields
	FieldStatus   = "status"
	FieldUnitSize = "unit_size"
)
