package domain

import (
	"time"

	"github.com/google/uuid"
)

// StatusChangeReason explains why a status was recomputed. The set is open:
// callers may pass values not listed here.
type StatusChangeReason string

const (
	ReasonScheduledUpdate  StatusChangeReason = "SCHEDULED_UPDATE"
	ReasonReturnEvent      StatusChangeReason = "RETURN_EVENT"
	ReasonManualUpdate     StatusChangeReason = "MANUAL_UPDATE"
	ReasonExtension        StatusChangeReason = "EXTENSION"
	ReasonLateFeeApplied   StatusChangeReason = "LATE_FEE_APPLIED"
	ReasonDamageAssessment StatusChangeReason = "DAMAGE_ASSESSMENT"
)

// StatusLogEntry is one immutable row of the rental status audit log.
// LineID is nil for header-level changes; OldStatus is nil only for the
// first status ever recorded for the entity.
type StatusLogEntry struct {
	ID              uuid.UUID          `json:"id"`
	TransactionID   uuid.UUID          `json:"transaction_id"`
	LineID          *uuid.UUID         `json:"line_id,omitempty"`
	LifecycleID     *uuid.UUID         `json:"lifecycle_id,omitempty"`
	OldStatus       *string            `json:"old_status"`
	NewStatus       string             `json:"new_status"`
	Reason          StatusChangeReason `json:"reason"`
	Trigger         string             `json:"trigger"`
	ChangedBy       *string            `json:"changed_by,omitempty"`
	ChangedAt       time.Time          `json:"changed_at"`
	Notes           *string            `json:"notes,omitempty"`
	Metadata        map[string]any     `json:"metadata,omitempty"`
	SystemGenerated bool               `json:"system_generated"`
	BatchID         *string            `json:"batch_id,omitempty"`
}

// IsHeaderEntry reports whether the entry records a transaction-level change.
func (e StatusLogEntry) IsHeaderEntry() bool {
	return e.LineID == nil
}

// Clone returns a copy that shares no pointers or maps with e.
func (e StatusLogEntry) Clone() StatusLogEntry {
	c := e
	c.LineID = clonePtr(e.LineID)
	c.LifecycleID = clonePtr(e.LifecycleID)
	c.OldStatus = clonePtr(e.OldStatus)
	c.ChangedBy = clonePtr(e.ChangedBy)
	c.Notes = clonePtr(e.Notes)
	c.BatchID = clonePtr(e.BatchID)
	if e.Metadata != nil {
		c.Metadata = cloneValue(e.Metadata).(map[string]any)
	}
	return c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = cloneValue(val)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = cloneValue(val)
		}
		return s
	default:
		return v
	}
}
