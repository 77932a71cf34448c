package service

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"rental-manager-backend/internal/domain"
	"rental-manager-backend/internal/repository"
	"rental-manager-backend/internal/repository/memory"
)

func day(s string) time.Time {
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type lineSpec struct {
	end      string
	ordered  int64
	returned int64
	status   *domain.RentalLineStatus
}

func putRental(store *memory.Store, header *domain.RentalHeaderStatus, specs ...lineSpec) *domain.RentalTransaction {
	id := uuid.New()
	r := &domain.RentalTransaction{
		ID:                  id,
		TransactionNumber:   "RNT-" + id.String()[:8],
		CurrentRentalStatus: header,
	}
	for i, sp := range specs {
		r.Lines = append(r.Lines, domain.TransactionLine{
			ID:                  uuid.New(),
			TransactionID:       id,
			LineNumber:          i + 1,
			RentalStartDate:     day("2024-07-18"),
			RentalEndDate:       day(sp.end),
			Quantity:            decimal.NewFromInt(sp.ordered),
			ReturnedQuantity:    decimal.NewFromInt(sp.returned),
			CurrentRentalStatus: sp.status,
		})
	}
	store.PutRental(r)
	return r
}

func lineStatus(s domain.RentalLineStatus) *domain.RentalLineStatus       { return &s }
func headerStatus(s domain.RentalHeaderStatus) *domain.RentalHeaderStatus { return &s }
func strPtr(s string) *string                                             { return &s }

func newTestService(store *memory.Store, opts RentalStatusOptions) *rentalStatusService {
	if opts.Now == nil {
		clk := &testClock{t: time.Date(2024, 7, 23, 1, 0, 0, 0, time.UTC)}
		opts.Now = clk.Now
	}
	if opts.RetryInitialInterval == 0 {
		opts.RetryInitialInterval = time.Millisecond
	}
	return NewRentalStatusService(store, store, opts).(*rentalStatusService)
}

func sortedIDs(rentals []*domain.RentalTransaction) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(rentals))
	for _, r := range rentals {
		ids = append(ids, r.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })
	return ids
}

func TestRecomputeTransaction_FirstComputation(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(store, RentalStatusOptions{})
	ctx := context.Background()
	r := putRental(store, nil, lineSpec{end: "2024-07-22", ordered: 10})

	res, err := svc.RecomputeTransaction(ctx, r.ID, day("2024-07-20"), domain.ReasonManualUpdate, "manual", nil)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.True(t, res.HeaderChanged)
	assert.Nil(t, res.OldHeaderStatus)
	assert.Equal(t, domain.HeaderStatusActive, res.NewHeaderStatus)
	require.Len(t, res.Lines, 1)
	assert.Equal(t, domain.LineStatusActive, res.Lines[0].NewStatus)

	history, err := svc.History(ctx, r.ID, nil, repository.SortAscending)
	require.NoError(t, err)
	require.Len(t, history, 2)

	lineEntry, headerEntry := history[0], history[1]
	assert.Equal(t, r.Lines[0].ID, *lineEntry.LineID)
	assert.Nil(t, lineEntry.OldStatus)
	assert.Equal(t, "ACTIVE", lineEntry.NewStatus)
	assert.Equal(t, domain.ReasonManualUpdate, lineEntry.Reason)
	assert.Equal(t, "manual", lineEntry.Trigger)
	assert.True(t, lineEntry.SystemGenerated)
	assert.Nil(t, lineEntry.ChangedBy)
	assert.Equal(t, "10", lineEntry.Metadata["ordered_quantity"])
	assert.Equal(t, "0", lineEntry.Metadata["returned_quantity"])

	assert.True(t, headerEntry.IsHeaderEntry())
	assert.Equal(t, 1, headerEntry.Metadata["line_count"])
	assert.Equal(t, 0, headerEntry.Metadata["returned_line_count"])
}

func TestRecomputeTransaction_Idempotent(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(store, RentalStatusOptions{})
	ctx := context.Background()
	r := putRental(store, nil, lineSpec{end: "2024-07-22", ordered: 10, returned: 4})

	first, err := svc.RecomputeTransaction(ctx, r.ID, day("2024-07-23"), domain.ReasonManualUpdate, "manual", nil)
	require.NoError(t, err)
	require.True(t, first.Changed)
	before, err := svc.History(ctx, r.ID, nil, repository.SortAscending)
	require.NoError(t, err)

	second, err := svc.RecomputeTransaction(ctx, r.ID, day("2024-07-23"), domain.ReasonManualUpdate, "manual", nil)
	require.NoError(t, err)
	assert.False(t, second.Changed)
	assert.False(t, second.HeaderChanged)
	assert.Empty(t, second.ChangedLines())
	assert.Equal(t, domain.HeaderStatusLatePartialReturn, second.NewHeaderStatus)

	after, err := svc.History(ctx, r.ID, nil, repository.SortAscending)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRecomputeTransaction_BecomesLate(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(store, RentalStatusOptions{})
	ctx := context.Background()
	r := putRental(store, headerStatus(domain.HeaderStatusActive),
		lineSpec{end: "2024-07-22", ordered: 10, status: lineStatus(domain.LineStatusActive)})

	res, err := svc.RecomputeTransaction(ctx, r.ID, day("2024-07-22"), domain.ReasonScheduledUpdate, "b-0", nil)
	require.NoError(t, err)
	assert.False(t, res.Changed, "end date itself is not late")

	res, err = svc.RecomputeTransaction(ctx, r.ID, day("2024-07-23"), domain.ReasonScheduledUpdate, "b-1", nil)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, domain.HeaderStatusActive, *res.OldHeaderStatus)
	assert.Equal(t, domain.HeaderStatusLate, res.NewHeaderStatus)

	lineHistory, err := svc.History(ctx, r.ID, &r.Lines[0].ID, repository.SortAscending)
	require.NoError(t, err)
	require.Len(t, lineHistory, 1)
	assert.Equal(t, "ACTIVE", *lineHistory[0].OldStatus)
	assert.Equal(t, "LATE", lineHistory[0].NewStatus)
	assert.Equal(t, 1, lineHistory[0].Metadata["days_overdue"])

	stored, err := store.GetRental(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.HeaderStatusLate, *stored.CurrentRentalStatus)
	assert.Equal(t, domain.LineStatusLate, *stored.Lines[0].CurrentRentalStatus)
}

func TestRecomputeOnReturn_FullReturnAfterEndDate(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(store, RentalStatusOptions{})
	ctx := context.Background()
	r := putRental(store, headerStatus(domain.HeaderStatusLate),
		lineSpec{end: "2024-07-22", ordered: 10, status: lineStatus(domain.LineStatusLate)})
	lineID := r.Lines[0].ID

	require.NoError(t, store.RecordReturn(lineID, decimal.NewFromInt(10)))

	actor := strPtr("clerk-7")
	res, err := svc.RecomputeOnReturn(ctx, r.ID, day("2024-07-25"), actor)
	require.NoError(t, err)
	assert.Equal(t, domain.HeaderStatusCompleted, res.NewHeaderStatus)

	lineHistory, err := svc.History(ctx, r.ID, &lineID, repository.SortAscending)
	require.NoError(t, err)
	require.Len(t, lineHistory, 1)
	e := lineHistory[0]
	assert.Equal(t, domain.ReasonReturnEvent, e.Reason)
	assert.Equal(t, TriggerReturnEvent, e.Trigger)
	assert.Equal(t, "LATE", *e.OldStatus)
	assert.Equal(t, "RETURNED", e.NewStatus)
	assert.Equal(t, "clerk-7", *e.ChangedBy)
	assert.False(t, e.SystemGenerated)
	assert.Equal(t, 0, e.Metadata["days_overdue"])
}

func TestRecomputeTransaction_HeaderAggregation(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(store, RentalStatusOptions{})
	ctx := context.Background()

	tests := []struct {
		name     string
		extended bool
		lines    []lineSpec
		asOf     string
		want     domain.RentalHeaderStatus
	}{
		{"returned and late", false, []lineSpec{{end: "2024-07-22", ordered: 5, returned: 5}, {end: "2024-07-22", ordered: 3}}, "2024-07-23", domain.HeaderStatusLatePartialReturn},
		{"returned and active", false, []lineSpec{{end: "2024-07-22", ordered: 5, returned: 5}, {end: "2024-07-22", ordered: 3}}, "2024-07-20", domain.HeaderStatusPartialReturn},
		{"extended", true, []lineSpec{{end: "2024-07-22", ordered: 5}, {end: "2024-07-22", ordered: 3}}, "2024-07-20", domain.HeaderStatusExtended},
		{"all returned", false, []lineSpec{{end: "2024-07-22", ordered: 5, returned: 5}, {end: "2024-07-22", ordered: 3, returned: 3}}, "2024-08-20", domain.HeaderStatusCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := putRental(store, nil, tt.lines...)
			if tt.extended {
				r.IsExtended = true
				store.PutRental(r)
			}
			res, err := svc.RecomputeTransaction(ctx, r.ID, day(tt.asOf), domain.ReasonManualUpdate, "t", nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.NewHeaderStatus)
		})
	}
}

func TestRecomputeTransaction_HistoryIsAppendOnly(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(store, RentalStatusOptions{})
	ctx := context.Background()
	r := putRental(store, nil, lineSpec{end: "2024-07-22", ordered: 10})
	lineID := r.Lines[0].ID

	steps := []struct {
		returned int64
		asOf     string
		want     domain.RentalHeaderStatus
	}{
		{0, "2024-07-20", domain.HeaderStatusActive},
		{4, "2024-07-21", domain.HeaderStatusPartialReturn},
		{0, "2024-07-23", domain.HeaderStatusLatePartialReturn},
		{6, "2024-07-30", domain.HeaderStatusCompleted},
	}

	var first domain.StatusLogEntry
	for i, st := range steps {
		if st.returned > 0 {
			require.NoError(t, store.RecordReturn(lineID, decimal.NewFromInt(st.returned)))
		}
		res, err := svc.RecomputeTransaction(ctx, r.ID, day(st.asOf), domain.ReasonManualUpdate, "step", nil)
		require.NoError(t, err)
		require.True(t, res.HeaderChanged)
		assert.Equal(t, st.want, res.NewHeaderStatus)

		history, err := svc.History(ctx, r.ID, nil, repository.SortAscending)
		require.NoError(t, err)
		if i == 0 {
			first = history[0]
		}
		assert.Equal(t, first, history[0])
	}

	history, err := svc.History(ctx, r.ID, nil, repository.SortAscending)
	require.NoError(t, err)
	var headers []domain.StatusLogEntry
	for _, e := range history {
		if e.IsHeaderEntry() {
			headers = append(headers, e)
		}
	}
	require.Len(t, headers, len(steps))
	for i := range steps {
		assert.Equal(t, string(steps[i].want), headers[i].NewStatus)
		if i > 0 {
			assert.Equal(t, headers[i-1].NewStatus, *headers[i].OldStatus)
			assert.True(t, headers[i].ChangedAt.After(headers[i-1].ChangedAt))
		}
	}

	desc, err := svc.History(ctx, r.ID, nil, repository.SortDescending)
	require.NoError(t, err)
	require.Len(t, desc, len(history))
	assert.Equal(t, history[len(history)-1], desc[0])
}

func TestRecomputeTransaction_Errors(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(store, RentalStatusOptions{})
	ctx := context.Background()

	t.Run("Not found", func(t *testing.T) {
		_, err := svc.RecomputeTransaction(ctx, uuid.New(), day("2024-07-20"), domain.ReasonManualUpdate, "t", nil)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Zero as-of", func(t *testing.T) {
		r := putRental(store, nil, lineSpec{end: "2024-07-22", ordered: 1})
		_, err := svc.RecomputeTransaction(ctx, r.ID, time.Time{}, domain.ReasonManualUpdate, "t", nil)
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})

	t.Run("Returned exceeds ordered", func(t *testing.T) {
		r := putRental(store, nil, lineSpec{end: "2024-07-22", ordered: 2, returned: 3})
		_, err := svc.RecomputeTransaction(ctx, r.ID, day("2024-07-20"), domain.ReasonManualUpdate, "t", nil)
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)

		history, err := svc.History(ctx, r.ID, nil, repository.SortAscending)
		require.NoError(t, err)
		assert.Empty(t, history)
	})

	t.Run("No rental lines", func(t *testing.T) {
		r := putRental(store, nil)
		_, err := svc.RecomputeTransaction(ctx, r.ID, day("2024-07-20"), domain.ReasonManualUpdate, "t", nil)
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})

	t.Run("Conflict surfaces on a single recompute", func(t *testing.T) {
		r := putRental(store, nil, lineSpec{end: "2024-07-22", ordered: 1})
		store.SetFault(func(op string, id uuid.UUID) error {
			if op == "LockRental" && id == r.ID {
				return domain.ConflictError("lock rental", nil)
			}
			return nil
		})
		defer store.SetFault(nil)

		_, err := svc.RecomputeTransaction(ctx, r.ID, day("2024-07-20"), domain.ReasonManualUpdate, "t", nil)
		assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)
	})

	t.Run("Storage failure rolls back line updates", func(t *testing.T) {
		r := putRental(store, nil, lineSpec{end: "2024-07-22", ordered: 1}, lineSpec{end: "2024-07-22", ordered: 1})
		store.SetFault(func(op string, id uuid.UUID) error {
			if op == "UpdateHeaderStatus" && id == r.ID {
				return domain.StorageError("update header status", errors.New("connection reset"))
			}
			return nil
		})
		defer store.SetFault(nil)

		_, err := svc.RecomputeTransaction(ctx, r.ID, day("2024-07-20"), domain.ReasonManualUpdate, "t", nil)
		assert.ErrorIs(t, err, domain.ErrStorage)

		stored, err := store.GetRental(ctx, r.ID)
		require.NoError(t, err)
		for _, l := range stored.Lines {
			assert.Nil(t, l.CurrentRentalStatus)
		}
	})
}

func TestBatchRecomputeOverdue_IsolatesFailures(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(store, RentalStatusOptions{Workers: 2, PageSize: 2})
	ctx := context.Background()

	var rentals []*domain.RentalTransaction
	for i := 0; i < 5; i++ {
		rentals = append(rentals, putRental(store, headerStatus(domain.HeaderStatusActive),
			lineSpec{end: "2024-07-22", ordered: 2, status: lineStatus(domain.LineStatusActive)}))
	}
	ids := sortedIDs(rentals)
	broken := ids[2]
	store.SetFault(func(op string, id uuid.UUID) error {
		if op == "AppendStatusLog" && id == broken {
			return domain.StorageError("append status log", errors.New("disk full"))
		}
		return nil
	})

	result, err := svc.BatchRecomputeOverdue(ctx, day("2024-07-23"), "batch-1")
	require.NoError(t, err)
	assert.Equal(t, "batch-1", result.BatchID)
	assert.Equal(t, 5, result.Examined)
	assert.Equal(t, 4, result.Changed)
	assert.Equal(t, 0, result.Unchanged)
	assert.Equal(t, 1, result.Failed)
	assert.False(t, result.Cancelled)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, broken, result.Failures[0].TransactionID)
	assert.Equal(t, "storage", result.Failures[0].Kind)

	for _, id := range ids {
		stored, err := store.GetRental(ctx, id)
		require.NoError(t, err)
		history, err := store.History(ctx, id, nil, repository.SortAscending)
		require.NoError(t, err)
		if id == broken {
			assert.Equal(t, domain.HeaderStatusActive, *stored.CurrentRentalStatus)
			assert.Empty(t, history)
			continue
		}
		assert.Equal(t, domain.HeaderStatusLate, *stored.CurrentRentalStatus)
		require.Len(t, history, 2)
		for _, e := range history {
			assert.Equal(t, domain.ReasonScheduledUpdate, e.Reason)
			assert.Equal(t, "batch-1", e.Trigger)
			assert.Equal(t, "batch-1", *e.BatchID)
			assert.True(t, e.SystemGenerated)
		}
	}
}

func TestBatchRecomputeOverdue_SkipsCompletedAndCountsUnchanged(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(store, RentalStatusOptions{})
	ctx := context.Background()

	putRental(store, headerStatus(domain.HeaderStatusCompleted),
		lineSpec{end: "2024-07-20", ordered: 1, returned: 1, status: lineStatus(domain.LineStatusReturned)})
	putRental(store, headerStatus(domain.HeaderStatusActive),
		lineSpec{end: "2024-08-01", ordered: 1, status: lineStatus(domain.LineStatusActive)})
	late := putRental(store, nil, lineSpec{end: "2024-07-20", ordered: 1})

	result, err := svc.BatchRecomputeOverdue(ctx, day("2024-07-23"), "")
	require.NoError(t, err)
	assert.NotEmpty(t, result.BatchID)
	assert.Equal(t, 2, result.Examined)
	assert.Equal(t, 1, result.Changed)
	assert.Equal(t, 1, result.Unchanged)
	assert.Equal(t, 0, result.Failed)

	got, err := store.GetRental(ctx, late.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CurrentRentalStatus)
	assert.Equal(t, domain.HeaderStatusLate, *got.CurrentRentalStatus)
	assert.False(t, result.FinishedAt.Before(result.StartedAt))
}

func TestBatchRecomputeOverdue_RetriesConflicts(t *testing.T) {
	ctx := context.Background()

	newStore := func(conflicts int) (*memory.Store, *domain.RentalTransaction) {
		store := memory.NewStore()
		r := putRental(store, nil, lineSpec{end: "2024-07-22", ordered: 1})
		var mu sync.Mutex
		remaining := conflicts
		store.SetFault(func(op string, id uuid.UUID) error {
			mu.Lock()
			defer mu.Unlock()
			if op == "LockRental" && remaining > 0 {
				remaining--
				return domain.ConflictError("lock rental", nil)
			}
			return nil
		})
		return store, r
	}

	t.Run("Succeeds within the retry budget", func(t *testing.T) {
		store, _ := newStore(2)
		svc := newTestService(store, RentalStatusOptions{MaxConflictRetries: 3})

		result, err := svc.BatchRecomputeOverdue(ctx, day("2024-07-23"), "b")
		require.NoError(t, err)
		assert.Equal(t, 1, result.Changed)
		assert.Equal(t, 0, result.Failed)
	})

	t.Run("Exhausted retries are an item failure", func(t *testing.T) {
		store, r := newStore(10)
		svc := newTestService(store, RentalStatusOptions{MaxConflictRetries: 1})

		result, err := svc.BatchRecomputeOverdue(ctx, day("2024-07-23"), "b")
		require.NoError(t, err)
		assert.Equal(t, 1, result.Failed)
		require.Len(t, result.Failures, 1)
		assert.Equal(t, r.ID, result.Failures[0].TransactionID)
		assert.Equal(t, "concurrency_conflict", result.Failures[0].Kind)
	})
}

func TestBatchRecomputeOverdue_Cancellation(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(store, RentalStatusOptions{Workers: 1})

	for i := 0; i < 5; i++ {
		putRental(store, nil, lineSpec{end: "2024-07-22", ordered: 1})
	}

	t.Run("Cancelled before start", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		result, err := svc.BatchRecomputeOverdue(ctx, day("2024-07-23"), "b-cancelled")
		require.NoError(t, err)
		assert.True(t, result.Cancelled)
		assert.Equal(t, 0, result.Examined)
	})

	t.Run("In-flight item finishes", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		var once sync.Once
		store.SetFault(func(op string, id uuid.UUID) error {
			if op == "LockRental" {
				once.Do(cancel)
			}
			return nil
		})
		defer store.SetFault(nil)

		result, err := svc.BatchRecomputeOverdue(ctx, day("2024-07-23"), "b-stop")
		require.NoError(t, err)
		assert.True(t, result.Cancelled)
		assert.GreaterOrEqual(t, result.Examined, 1)
		assert.Less(t, result.Examined, 5)
		assert.Equal(t, 0, result.Failed)
		assert.Equal(t, result.Examined, result.Changed)
	})
}

func TestBatchRecomputeOverdue_ListFailure(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(store, RentalStatusOptions{})
	putRental(store, nil, lineSpec{end: "2024-07-22", ordered: 1})
	store.SetFault(func(op string, id uuid.UUID) error {
		if op == "ListRecomputeCandidates" {
			return domain.StorageError("list recompute candidates", errors.New("connection refused"))
		}
		return nil
	})

	result, err := svc.BatchRecomputeOverdue(context.Background(), day("2024-07-23"), "b")
	assert.ErrorIs(t, err, domain.ErrStorage)
	require.NotNil(t, result)
	assert.Equal(t, 0, result.Examined)
}

func TestExtendRental(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(store, RentalStatusOptions{})
	ctx := context.Background()
	actor := strPtr("manager-1")

	t.Run("Moves outstanding lines and marks extended", func(t *testing.T) {
		r := putRental(store, headerStatus(domain.HeaderStatusLate),
			lineSpec{end: "2024-07-22", ordered: 2, status: lineStatus(domain.LineStatusLate)},
			lineSpec{end: "2024-07-20", ordered: 1, returned: 1, status: lineStatus(domain.LineStatusReturned)})

		res, err := svc.ExtendRental(ctx, r.ID, day("2024-08-01"), actor)
		require.NoError(t, err)
		assert.Equal(t, domain.HeaderStatusPartialReturn, res.NewHeaderStatus)
		assert.Equal(t, domain.LineStatusActive, res.Lines[0].NewStatus)
		assert.False(t, res.Lines[1].Changed)

		stored, err := store.GetRental(ctx, r.ID)
		require.NoError(t, err)
		assert.True(t, stored.IsExtended)
		assert.True(t, day("2024-08-01").Equal(stored.Lines[0].RentalEndDate))
		assert.True(t, day("2024-07-20").Equal(stored.Lines[1].RentalEndDate))

		history, err := svc.History(ctx, r.ID, nil, repository.SortAscending)
		require.NoError(t, err)
		require.Len(t, history, 2)
		for _, e := range history {
			assert.Equal(t, domain.ReasonExtension, e.Reason)
			assert.Equal(t, "manager-1", *e.ChangedBy)
		}
	})

	t.Run("Extended header when nothing is returned", func(t *testing.T) {
		r := putRental(store, headerStatus(domain.HeaderStatusLate),
			lineSpec{end: "2024-07-22", ordered: 2, status: lineStatus(domain.LineStatusLate)})

		res, err := svc.ExtendRental(ctx, r.ID, day("2024-08-01"), actor)
		require.NoError(t, err)
		assert.Equal(t, domain.HeaderStatusExtended, res.NewHeaderStatus)
	})

	t.Run("New end must be later", func(t *testing.T) {
		r := putRental(store, nil, lineSpec{end: "2024-07-22", ordered: 2})

		_, err := svc.ExtendRental(ctx, r.ID, day("2024-07-22"), actor)
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)

		stored, err := store.GetRental(ctx, r.ID)
		require.NoError(t, err)
		assert.False(t, stored.IsExtended)
	})

	t.Run("Nothing outstanding", func(t *testing.T) {
		r := putRental(store, nil, lineSpec{end: "2024-07-22", ordered: 2, returned: 2})
		_, err := svc.ExtendRental(ctx, r.ID, day("2024-08-01"), actor)
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})

	t.Run("Zero date", func(t *testing.T) {
		rec := tracetest.NewSpanRecorder()
		tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
		defer func() { _ = tp.Shutdown(ctx) }()
		traced := newTestService(store, RentalStatusOptions{})
		traced.tracer = tp.Tracer("test")

		_, err := traced.ExtendRental(ctx, uuid.New(), time.Time{}, actor)
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)

		spans := rec.Ended()
		require.Len(t, spans, 1)
		assert.Equal(t, "rentalstatus.extend_rental", spans[0].Name())
		assert.Equal(t, codes.Error, spans[0].Status().Code)
		assert.NotEmpty(t, spans[0].Events())
	})
}

func TestPreviewChanges(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(store, RentalStatusOptions{PageSize: 1})
	ctx := context.Background()

	late := putRental(store, headerStatus(domain.HeaderStatusActive),
		lineSpec{end: "2024-07-22", ordered: 1, status: lineStatus(domain.LineStatusActive)})
	putRental(store, headerStatus(domain.HeaderStatusActive),
		lineSpec{end: "2024-08-22", ordered: 1, status: lineStatus(domain.LineStatusActive)})
	bad := putRental(store, nil, lineSpec{end: "2024-07-22", ordered: 1, returned: 2})

	preview, err := svc.PreviewChanges(ctx, day("2024-07-23"))
	require.NoError(t, err)
	assert.Equal(t, 3, preview.Examined)
	require.Len(t, preview.Changes, 1)
	assert.Equal(t, late.ID, preview.Changes[0].TransactionID)
	assert.Equal(t, domain.HeaderStatusLate, preview.Changes[0].NewHeaderStatus)
	require.Len(t, preview.Invalid, 1)
	assert.Equal(t, bad.ID, preview.Invalid[0].TransactionID)
	assert.Equal(t, "invalid_argument", preview.Invalid[0].Kind)

	stored, err := store.GetRental(ctx, late.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.HeaderStatusActive, *stored.CurrentRentalStatus)
	history, err := store.History(ctx, late.ID, nil, repository.SortAscending)
	require.NoError(t, err)
	assert.Empty(t, history)

	_, err = svc.PreviewChanges(ctx, time.Time{})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestOverdueSummary(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(store, RentalStatusOptions{})
	ctx := context.Background()

	late := putRental(store, nil,
		lineSpec{end: "2024-07-20", ordered: 2},
		lineSpec{end: "2024-07-22", ordered: 1})
	partial := putRental(store, nil,
		lineSpec{end: "2024-07-18", ordered: 2, returned: 1})
	putRental(store, nil, lineSpec{end: "2024-08-01", ordered: 1})
	bad := putRental(store, nil, lineSpec{end: "2024-07-20", ordered: 1, returned: 3})

	summary, err := svc.OverdueSummary(ctx, day("2024-07-25"))
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Total)
	require.Len(t, summary.Invalid, 1)
	assert.Equal(t, bad.ID, summary.Invalid[0].TransactionID)
	assert.Equal(t, "invalid_argument", summary.Invalid[0].Kind)
	assert.Equal(t, 1, summary.ByStatus[domain.HeaderStatusLate])
	assert.Equal(t, 1, summary.ByStatus[domain.HeaderStatusLatePartialReturn])
	assert.Equal(t, 1, summary.ByStatus[domain.HeaderStatusActive])
	require.Len(t, summary.Overdue, 2)

	byID := map[uuid.UUID]domain.OverdueRental{}
	for _, o := range summary.Overdue {
		byID[o.TransactionID] = o
	}
	assert.Equal(t, 5, byID[late.ID].DaysOverdue)
	assert.Equal(t, 2, byID[late.ID].OutstandingLines)
	assert.Equal(t, 7, byID[partial.ID].DaysOverdue)
	assert.Equal(t, domain.HeaderStatusLatePartialReturn, byID[partial.ID].Status)
}

func TestHistory_Validation(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(store, RentalStatusOptions{})
	ctx := context.Background()

	_, err := svc.History(ctx, uuid.New(), nil, repository.SortAscending)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	r := putRental(store, nil, lineSpec{end: "2024-07-22", ordered: 1})
	_, err = svc.History(ctx, r.ID, nil, repository.SortOrder("sideways"))
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	entries, err := svc.History(ctx, r.ID, nil, "")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestToday_UsesConfiguredLocation(t *testing.T) {
	store := memory.NewStore()
	tokyo := time.FixedZone("JST", 9*60*60)
	svc := newTestService(store, RentalStatusOptions{
		Location: tokyo,
		Now:      func() time.Time { return time.Date(2024, 7, 22, 20, 0, 0, 0, time.UTC) },
	})
	assert.Equal(t, day("2024-07-23"), svc.Today())
}
