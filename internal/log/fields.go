// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	FieldJobID     = "job_id"
	FieldSourceID  = "source_id"
	FieldComponent = "component"
)
