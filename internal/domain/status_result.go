package domain

import (
	"time"

	"github.com/google/uuid"
)

// LineStatusChange is the before/after status of one line in a recompute.
type LineStatusChange struct {
	LineID     uuid.UUID         `json:"line_id"`
	LineNumber int               `json:"line_number"`
	OldStatus  *RentalLineStatus `json:"old_status"`
	NewStatus  RentalLineStatus  `json:"new_status"`
	Changed    bool              `json:"changed"`
}

// UpdateResult describes the outcome of recomputing one transaction.
type UpdateResult struct {
	TransactionID   uuid.UUID           `json:"transaction_id"`
	AsOf            time.Time           `json:"as_of"`
	Changed         bool                `json:"changed"`
	HeaderChanged   bool                `json:"header_changed"`
	OldHeaderStatus *RentalHeaderStatus `json:"old_header_status"`
	NewHeaderStatus RentalHeaderStatus  `json:"new_header_status"`
	Lines           []LineStatusChange  `json:"lines"`
}

// ChangedLines returns only the lines whose status moved.
func (r *UpdateResult) ChangedLines() []LineStatusChange {
	var out []LineStatusChange
	for _, l := range r.Lines {
		if l.Changed {
			out = append(out, l)
		}
	}
	return out
}

// BatchFailure records one transaction the batch could not recompute.
type BatchFailure struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Kind          string    `json:"kind"`
	Error         string    `json:"error"`
}

// BatchResult aggregates a batch recompute run.
type BatchResult struct {
	BatchID    string         `json:"batch_id"`
	AsOf       time.Time      `json:"as_of"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Examined   int            `json:"examined"`
	Changed    int            `json:"changed"`
	Unchanged  int            `json:"unchanged"`
	Failed     int            `json:"failed"`
	Failures   []BatchFailure `json:"failures,omitempty"`
	Cancelled  bool           `json:"cancelled"`
}

// Duration is the wall time the batch took.
func (r *BatchResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// StatusPreview is the dry-run output: changes a recompute would make.
type StatusPreview struct {
	AsOf     time.Time      `json:"as_of"`
	Examined int            `json:"examined"`
	Changes  []UpdateResult `json:"changes"`
	Invalid  []BatchFailure `json:"invalid,omitempty"`
}

// OverdueRental is one late rental in an overdue summary.
type OverdueRental struct {
	TransactionID     uuid.UUID          `json:"transaction_id"`
	TransactionNumber string             `json:"transaction_number"`
	Status            RentalHeaderStatus `json:"status"`
	DaysOverdue       int                `json:"days_overdue"`
	OutstandingLines  int                `json:"outstanding_lines"`
}

// OverdueSummary counts open rentals by computed status and lists the late ones.
// Rentals whose stored data fails validation are listed in Invalid and not counted.
type OverdueSummary struct {
	AsOf     time.Time                  `json:"as_of"`
	Total    int                        `json:"total"`
	ByStatus map[RentalHeaderStatus]int `json:"by_status"`
	Overdue  []OverdueRental            `json:"overdue"`
	Invalid  []BatchFailure             `json:"invalid,omitempty"`
}
