package rentalstatus

import (
	"time"

	"rental-manager-backend/internal/domain"
)

// Evaluate computes the statuses a transaction should carry as of asOf and
// compares them with what is stored. The transaction is not modified; the
// result is what a recompute would persist.
func Evaluate(rental *domain.RentalTransaction, asOf time.Time) *domain.UpdateResult {
	res := &domain.UpdateResult{
		TransactionID:   rental.ID,
		AsOf:            DateOf(asOf),
		OldHeaderStatus: rental.CurrentRentalStatus,
		Lines:           make([]domain.LineStatusChange, 0, len(rental.Lines)),
	}

	for _, l := range rental.Lines {
		next := ComputeLineStatus(l.Snapshot(), asOf)
		changed := l.CurrentRentalStatus == nil || *l.CurrentRentalStatus != next
		res.Lines = append(res.Lines, domain.LineStatusChange{
			LineID:     l.ID,
			LineNumber: l.LineNumber,
			OldStatus:  l.CurrentRentalStatus,
			NewStatus:  next,
			Changed:    changed,
		})
		if changed {
			res.Changed = true
		}
	}

	res.NewHeaderStatus = ComputeHeaderStatus(rental.Snapshots(), asOf, rental.IsExtended)
	if rental.CurrentRentalStatus == nil || *rental.CurrentRentalStatus != res.NewHeaderStatus {
		res.HeaderChanged = true
		res.Changed = true
	}
	return res
}

// MaxDaysOverdue is the largest DaysOverdue across lines still out.
func MaxDaysOverdue(rental *domain.RentalTransaction, asOf time.Time) int {
	max := 0
	for _, l := range rental.Lines {
		if l.FullyReturned() {
			continue
		}
		if d := DaysOverdue(l.RentalEndDate, asOf); d > max {
			max = d
		}
	}
	return max
}
