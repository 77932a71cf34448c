// Package memory is an in-process implementation of the rental status
// repositories, used by tests and by the server's local development mode.
// Writes made inside InTx are staged and applied only on success, and
// LockRental refuses a rental already held by another open transaction, which
// mirrors the NOWAIT row locks of the postgres store.
package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"rental-manager-backend/internal/domain"
	"rental-manager-backend/internal/repository"
)

// Fault lets tests inject a failure into a named operation.
type Fault func(op string, transactionID uuid.UUID) error

type logRow struct {
	seq   int64
	entry domain.StatusLogEntry
}

type Store struct {
	mu        sync.Mutex
	rentals   map[uuid.UUID]*domain.RentalTransaction
	lineOwner map[uuid.UUID]uuid.UUID
	locked    map[uuid.UUID]bool
	logs      []logRow
	seq       int64
	fault     Fault
	now       func() time.Time
}

var (
	_ repository.RentalStatusStore   = (*Store)(nil)
	_ repository.StatusLogRepository = (*Store)(nil)
	_ repository.StatusLogRetention  = (*Store)(nil)
)

func NewStore() *Store {
	return &Store{
		rentals:   make(map[uuid.UUID]*domain.RentalTransaction),
		lineOwner: make(map[uuid.UUID]uuid.UUID),
		locked:    make(map[uuid.UUID]bool),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetFault installs f; nil clears it.
func (s *Store) SetFault(f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = f
}

// SetClock overrides the time used to stamp log entries without ChangedAt.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// PutRental inserts or replaces a rental, as the transaction subsystem would.
func (s *Store) PutRental(r *domain.RentalTransaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := r.Clone()
	s.rentals[c.ID] = c
	for _, l := range c.Lines {
		s.lineOwner[l.ID] = c.ID
	}
}

// RecordReturn adds qty to a line's returned quantity, standing in for the
// returns subsystem committing a return.
func (s *Store) RecordReturn(lineID uuid.UUID, qty decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	txnID, ok := s.lineOwner[lineID]
	if !ok {
		return domain.NotFoundError("transaction line %s", lineID)
	}
	r := s.rentals[txnID]
	for i := range r.Lines {
		if r.Lines[i].ID == lineID {
			next := r.Lines[i].ReturnedQuantity.Add(qty)
			if next.GreaterThan(r.Lines[i].Quantity) {
				return domain.InvalidArgumentError("return of %s exceeds outstanding quantity on line %s", qty, lineID)
			}
			r.Lines[i].ReturnedQuantity = next
			r.Lines[i].UpdatedAt = s.now()
		}
	}
	return nil
}

func (s *Store) injected(op string, txnID uuid.UUID) error {
	s.mu.Lock()
	f := s.fault
	s.mu.Unlock()
	if f == nil {
		return nil
	}
	return f(op, txnID)
}

func (s *Store) InTx(ctx context.Context, fn func(tx repository.RentalStatusTx) error) error {
	if err := ctx.Err(); err != nil {
		return domain.StorageError("begin transaction", err)
	}
	t := &memTx{
		store:   s,
		held:    make(map[uuid.UUID]bool),
		lines:   make(map[uuid.UUID]domain.RentalLineStatus),
		headers: make(map[uuid.UUID]domain.RentalHeaderStatus),
		extends: make(map[uuid.UUID]time.Time),
	}
	defer t.release()

	if err := fn(t); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t.apply()
	return nil
}

func (s *Store) GetRental(ctx context.Context, id uuid.UUID) (*domain.RentalTransaction, error) {
	if err := s.injected("GetRental", id); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rentals[id]
	if !ok {
		return nil, domain.NotFoundError("rental transaction %s", id)
	}
	return r.Clone(), nil
}

func (s *Store) openIDs(after uuid.UUID, limit int) []uuid.UUID {
	var ids []uuid.UUID
	for id, r := range s.rentals {
		if r.CurrentRentalStatus != nil && r.CurrentRentalStatus.IsTerminal() {
			continue
		}
		if bytes.Compare(id[:], after[:]) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids
}

func (s *Store) ListRecomputeCandidates(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	if err := s.injected("ListRecomputeCandidates", uuid.Nil); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openIDs(after, limit), nil
}

func (s *Store) ListOpenRentals(ctx context.Context, after uuid.UUID, limit int) ([]domain.RentalTransaction, error) {
	if err := s.injected("ListOpenRentals", uuid.Nil); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.RentalTransaction
	for _, id := range s.openIDs(after, limit) {
		out = append(out, *s.rentals[id].Clone())
	}
	return out, nil
}

func (s *Store) Append(ctx context.Context, e *domain.StatusLogEntry) error {
	if err := s.injected("Append", e.TransactionID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(e)
	return nil
}

func (s *Store) appendLocked(e *domain.StatusLogEntry) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.ChangedAt.IsZero() {
		e.ChangedAt = s.now()
	}
	s.seq++
	s.logs = append(s.logs, logRow{seq: s.seq, entry: e.Clone()})
}

func (s *Store) History(ctx context.Context, transactionID uuid.UUID, lineID *uuid.UUID, order repository.SortOrder) ([]domain.StatusLogEntry, error) {
	if err := s.injected("History", transactionID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	var rows []logRow
	for _, row := range s.logs {
		if row.entry.TransactionID != transactionID {
			continue
		}
		if lineID != nil && (row.entry.LineID == nil || *row.entry.LineID != *lineID) {
			continue
		}
		rows = append(rows, row)
	}
	s.mu.Unlock()

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.entry.ChangedAt.Equal(b.entry.ChangedAt) {
			if order == repository.SortDescending {
				return a.entry.ChangedAt.After(b.entry.ChangedAt)
			}
			return a.entry.ChangedAt.Before(b.entry.ChangedAt)
		}
		if order == repository.SortDescending {
			return a.seq > b.seq
		}
		return a.seq < b.seq
	})

	out := make([]domain.StatusLogEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.entry.Clone())
	}
	return out, nil
}

func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.logs[:0]
	var purged int64
	for _, row := range s.logs {
		if row.entry.ChangedAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, row)
	}
	s.logs = kept
	return purged, nil
}

type memTx struct {
	store   *Store
	held    map[uuid.UUID]bool
	lines   map[uuid.UUID]domain.RentalLineStatus
	headers map[uuid.UUID]domain.RentalHeaderStatus
	extends map[uuid.UUID]time.Time
	logs    []*domain.StatusLogEntry
}

func (t *memTx) LockRental(ctx context.Context, id uuid.UUID) (*domain.RentalTransaction, error) {
	if err := t.store.injected("LockRental", id); err != nil {
		return nil, err
	}
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rentals[id]
	if !ok {
		return nil, domain.NotFoundError("rental transaction %s", id)
	}
	if s.locked[id] && !t.held[id] {
		return nil, domain.ConflictError("lock rental "+id.String(), nil)
	}
	s.locked[id] = true
	t.held[id] = true
	return r.Clone(), nil
}

func (t *memTx) UpdateLineStatus(ctx context.Context, lineID uuid.UUID, status domain.RentalLineStatus) error {
	t.store.mu.Lock()
	txnID, ok := t.store.lineOwner[lineID]
	t.store.mu.Unlock()
	if !ok {
		return domain.NotFoundError("transaction line %s", lineID)
	}
	if err := t.store.injected("UpdateLineStatus", txnID); err != nil {
		return err
	}
	t.lines[lineID] = status
	return nil
}

func (t *memTx) UpdateHeaderStatus(ctx context.Context, id uuid.UUID, status domain.RentalHeaderStatus) error {
	if err := t.store.injected("UpdateHeaderStatus", id); err != nil {
		return err
	}
	t.store.mu.Lock()
	_, ok := t.store.rentals[id]
	t.store.mu.Unlock()
	if !ok {
		return domain.NotFoundError("rental transaction %s", id)
	}
	t.headers[id] = status
	return nil
}

func (t *memTx) ExtendRental(ctx context.Context, id uuid.UUID, newEndDate time.Time) error {
	if err := t.store.injected("ExtendRental", id); err != nil {
		return err
	}
	t.store.mu.Lock()
	_, ok := t.store.rentals[id]
	t.store.mu.Unlock()
	if !ok {
		return domain.NotFoundError("rental transaction %s", id)
	}
	t.extends[id] = newEndDate
	return nil
}

func (t *memTx) AppendStatusLog(ctx context.Context, e *domain.StatusLogEntry) error {
	if err := t.store.injected("AppendStatusLog", e.TransactionID); err != nil {
		return err
	}
	c := e.Clone()
	t.logs = append(t.logs, &c)
	return nil
}

func (t *memTx) release() {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for id := range t.held {
		delete(t.store.locked, id)
	}
}

// apply runs with store.mu held.
func (t *memTx) apply() {
	s := t.store
	now := s.now()
	for id, end := range t.extends {
		r := s.rentals[id]
		r.IsExtended = true
		r.UpdatedAt = now
		for i := range r.Lines {
			if !r.Lines[i].FullyReturned() {
				r.Lines[i].RentalEndDate = end
				r.Lines[i].UpdatedAt = now
			}
		}
	}
	for lineID, st := range t.lines {
		r := s.rentals[s.lineOwner[lineID]]
		for i := range r.Lines {
			if r.Lines[i].ID == lineID {
				st := st
				r.Lines[i].CurrentRentalStatus = &st
				r.Lines[i].UpdatedAt = now
			}
		}
	}
	for id, st := range t.headers {
		st := st
		s.rentals[id].CurrentRentalStatus = &st
		s.rentals[id].UpdatedAt = now
	}
	for _, e := range t.logs {
		s.appendLocked(e)
	}
}
