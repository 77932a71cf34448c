package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RentalLineStatus is the derived status of a single rental line.
type RentalLineStatus string

const (
	LineStatusActive            RentalLineStatus = "ACTIVE"
	LineStatusLate              RentalLineStatus = "LATE"
	LineStatusPartialReturn     RentalLineStatus = "PARTIAL_RETURN"
	LineStatusLatePartialReturn RentalLineStatus = "LATE_PARTIAL_RETURN"
	LineStatusReturned          RentalLineStatus = "RETURNED"
)

// ParseRentalLineStatus converts a stored value into a RentalLineStatus.
func ParseRentalLineStatus(s string) (RentalLineStatus, error) {
	switch st := RentalLineStatus(s); st {
	case LineStatusActive, LineStatusLate, LineStatusPartialReturn, LineStatusLatePartialReturn, LineStatusReturned:
		return st, nil
	default:
		return "", fmt.Errorf("%w: unknown rental line status %q", ErrInvalidArgument, s)
	}
}

// IsTerminal reports whether no recompute can move the line out of this status.
func (s RentalLineStatus) IsTerminal() bool {
	return s == LineStatusReturned
}

// RentalHeaderStatus is the derived status of a whole rental transaction.
type RentalHeaderStatus string

const (
	HeaderStatusActive            RentalHeaderStatus = "ACTIVE"
	HeaderStatusLate              RentalHeaderStatus = "LATE"
	HeaderStatusExtended          RentalHeaderStatus = "EXTENDED"
	HeaderStatusPartialReturn     RentalHeaderStatus = "PARTIAL_RETURN"
	HeaderStatusLatePartialReturn RentalHeaderStatus = "LATE_PARTIAL_RETURN"
	HeaderStatusCompleted         RentalHeaderStatus = "COMPLETED"
)

// ParseRentalHeaderStatus converts a stored value into a RentalHeaderStatus.
func ParseRentalHeaderStatus(s string) (RentalHeaderStatus, error) {
	switch st := RentalHeaderStatus(s); st {
	case HeaderStatusActive, HeaderStatusLate, HeaderStatusExtended, HeaderStatusPartialReturn,
		HeaderStatusLatePartialReturn, HeaderStatusCompleted:
		return st, nil
	default:
		return "", fmt.Errorf("%w: unknown rental header status %q", ErrInvalidArgument, s)
	}
}

// IsTerminal reports whether the rental is closed.
func (s RentalHeaderStatus) IsTerminal() bool {
	return s == HeaderStatusCompleted
}

// RentalLineSnapshot is the calculator input read from a transaction line.
type RentalLineSnapshot struct {
	RentalStartDate  time.Time
	RentalEndDate    time.Time
	OrderedQuantity  decimal.Decimal
	ReturnedQuantity decimal.Decimal
}

// Validate rejects snapshots that violate the quantity and date invariants.
func (s RentalLineSnapshot) Validate() error {
	if s.RentalEndDate.IsZero() {
		return fmt.Errorf("%w: rental end date is required", ErrInvalidArgument)
	}
	if !s.RentalStartDate.IsZero() && s.RentalEndDate.Before(s.RentalStartDate) {
		return fmt.Errorf("%w: rental end date %s is before start date %s",
			ErrInvalidArgument, s.RentalEndDate.Format(DateLayout), s.RentalStartDate.Format(DateLayout))
	}
	if !s.OrderedQuantity.IsPositive() {
		return fmt.Errorf("%w: ordered quantity must be positive, got %s", ErrInvalidArgument, s.OrderedQuantity)
	}
	if s.ReturnedQuantity.IsNegative() {
		return fmt.Errorf("%w: returned quantity must not be negative, got %s", ErrInvalidArgument, s.ReturnedQuantity)
	}
	if s.ReturnedQuantity.GreaterThan(s.OrderedQuantity) {
		return fmt.Errorf("%w: returned quantity %s exceeds ordered quantity %s",
			ErrInvalidArgument, s.ReturnedQuantity, s.OrderedQuantity)
	}
	return nil
}

// DateLayout is the wire and log format for calendar dates.
const DateLayout = "2006-01-02"

// TransactionLine is the rental slice of a transaction line record. The record
// itself is owned by the transaction subsystem; this engine only writes
// CurrentRentalStatus.
type TransactionLine struct {
	ID                  uuid.UUID         `json:"id"`
	TransactionID       uuid.UUID         `json:"transaction_id"`
	LineNumber          int               `json:"line_number"`
	RentalStartDate     time.Time         `json:"rental_start_date"`
	RentalEndDate       time.Time         `json:"rental_end_date"`
	Quantity            decimal.Decimal   `json:"quantity"`
	ReturnedQuantity    decimal.Decimal   `json:"returned_quantity"`
	CurrentRentalStatus *RentalLineStatus `json:"current_rental_status,omitempty"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// Snapshot returns the calculator view of the line.
func (l TransactionLine) Snapshot() RentalLineSnapshot {
	return RentalLineSnapshot{
		RentalStartDate:  l.RentalStartDate,
		RentalEndDate:    l.RentalEndDate,
		OrderedQuantity:  l.Quantity,
		ReturnedQuantity: l.ReturnedQuantity,
	}
}

// FullyReturned reports whether every ordered unit has come back.
func (l TransactionLine) FullyReturned() bool {
	return l.Quantity.IsPositive() && l.ReturnedQuantity.Equal(l.Quantity)
}

// RentalTransaction is a rental transaction header together with its rental lines.
type RentalTransaction struct {
	ID                  uuid.UUID           `json:"id"`
	TransactionNumber   string              `json:"transaction_number"`
	CurrentRentalStatus *RentalHeaderStatus `json:"current_rental_status,omitempty"`
	IsExtended          bool                `json:"is_extended"`
	LifecycleID         *uuid.UUID          `json:"lifecycle_id,omitempty"`
	Lines               []TransactionLine   `json:"lines"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

// Snapshots returns the calculator input for every line, in line order.
func (t *RentalTransaction) Snapshots() []RentalLineSnapshot {
	out := make([]RentalLineSnapshot, 0, len(t.Lines))
	for _, l := range t.Lines {
		out = append(out, l.Snapshot())
	}
	return out
}

// Validate checks the transaction before it is handed to the calculator.
func (t *RentalTransaction) Validate() error {
	if len(t.Lines) == 0 {
		return fmt.Errorf("%w: rental %s has no rental lines", ErrInvalidArgument, t.ID)
	}
	for _, l := range t.Lines {
		if err := l.Snapshot().Validate(); err != nil {
			return fmt.Errorf("line %d (%s): %w", l.LineNumber, l.ID, err)
		}
	}
	return nil
}

// Clone returns a deep copy so callers can mutate lines without aliasing.
func (t *RentalTransaction) Clone() *RentalTransaction {
	if t == nil {
		return nil
	}
	c := *t
	if t.CurrentRentalStatus != nil {
		st := *t.CurrentRentalStatus
		c.CurrentRentalStatus = &st
	}
	if t.LifecycleID != nil {
		id := *t.LifecycleID
		c.LifecycleID = &id
	}
	c.Lines = make([]TransactionLine, len(t.Lines))
	for i, l := range t.Lines {
		if l.CurrentRentalStatus != nil {
			st := *l.CurrentRentalStatus
			l.CurrentRentalStatus = &st
		}
		c.Lines[i] = l
	}
	return &c
}
