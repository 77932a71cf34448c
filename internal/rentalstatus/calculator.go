// Package rentalstatus derives rental line and header statuses from rental
// dates and returned quantities. Everything here is pure: the caller supplies
// the as-of date, nothing is read from the clock or the database.
package rentalstatus

import (
	"time"

	"rental-manager-backend/internal/domain"
)

// DateOf truncates t to its calendar date in t's own location, expressed as
// midnight UTC so dates from different sources compare directly.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// IsLate reports whether asOf is strictly after the end date. The end date
// itself is still a valid return day.
func IsLate(endDate, asOf time.Time) bool {
	return DateOf(asOf).After(DateOf(endDate))
}

// DaysOverdue returns how many whole days asOf is past endDate, or 0.
func DaysOverdue(endDate, asOf time.Time) int {
	if !IsLate(endDate, asOf) {
		return 0
	}
	return int(DateOf(asOf).Sub(DateOf(endDate)).Hours() / 24)
}

// ComputeLineStatus applies the line rules in priority order; the first
// matching rule wins.
func ComputeLineStatus(line domain.RentalLineSnapshot, asOf time.Time) domain.RentalLineStatus {
	// Zero-quantity lines never reach here through the updater.
	if line.OrderedQuantity.IsZero() {
		return domain.LineStatusActive
	}

	returned := line.ReturnedQuantity.IsPositive()
	late := IsLate(line.RentalEndDate, asOf)

	switch {
	case line.ReturnedQuantity.Equal(line.OrderedQuantity):
		return domain.LineStatusReturned
	case returned && late:
		return domain.LineStatusLatePartialReturn
	case late:
		return domain.LineStatusLate
	case returned:
		return domain.LineStatusPartialReturn
	default:
		return domain.LineStatusActive
	}
}

// ComputeHeaderStatus aggregates the line statuses, most severe first.
// A rental with no lines is reported ACTIVE.
func ComputeHeaderStatus(lines []domain.RentalLineSnapshot, asOf time.Time, isExtended bool) domain.RentalHeaderStatus {
	if len(lines) == 0 {
		return domain.HeaderStatusActive
	}

	var (
		allReturned      = true
		anyLate          bool
		anyLatePartial   bool
		anyPartial       bool
		anyReturnedUnits bool
	)
	for _, l := range lines {
		if l.ReturnedQuantity.IsPositive() {
			anyReturnedUnits = true
		}
		switch ComputeLineStatus(l, asOf) {
		case domain.LineStatusReturned:
		case domain.LineStatusLatePartialReturn:
			allReturned = false
			anyLatePartial = true
		case domain.LineStatusLate:
			allReturned = false
			anyLate = true
		case domain.LineStatusPartialReturn:
			allReturned = false
			anyPartial = true
		case domain.LineStatusActive:
			allReturned = false
		default:
			panic("rentalstatus: unhandled line status")
		}
	}

	switch {
	case allReturned:
		return domain.HeaderStatusCompleted
	case anyLatePartial || (anyLate && anyReturnedUnits):
		return domain.HeaderStatusLatePartialReturn
	case anyLate:
		return domain.HeaderStatusLate
	case anyPartial || anyReturnedUnits:
		return domain.HeaderStatusPartialReturn
	case isExtended:
		return domain.HeaderStatusExtended
	default:
		return domain.HeaderStatusActive
	}
}
