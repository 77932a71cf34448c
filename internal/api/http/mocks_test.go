package http

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"rental-manager-backend/internal/domain"
	"rental-manager-backend/internal/repository"
)

// MockRentalStatusService
type MockRentalStatusService struct {
	mock.Mock
}

func (m *MockRentalStatusService) RecomputeTransaction(ctx context.Context, id uuid.UUID, asOf time.Time, reason domain.StatusChangeReason, trigger string, actor *string) (*domain.UpdateResult, error) {
	args := m.Called(ctx, id, asOf, reason, trigger, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.UpdateResult), args.Error(1)
}

func (m *MockRentalStatusService) RecomputeOnReturn(ctx context.Context, id uuid.UUID, asOf time.Time, actor *string) (*domain.UpdateResult, error) {
	args := m.Called(ctx, id, asOf, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.UpdateResult), args.Error(1)
}

func (m *MockRentalStatusService) BatchRecomputeOverdue(ctx context.Context, asOf time.Time, batchID string) (*domain.BatchResult, error) {
	args := m.Called(ctx, asOf, batchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.BatchResult), args.Error(1)
}

func (m *MockRentalStatusService) ExtendRental(ctx context.Context, id uuid.UUID, newEndDate time.Time, actor *string) (*domain.UpdateResult, error) {
	args := m.Called(ctx, id, newEndDate, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.UpdateResult), args.Error(1)
}

func (m *MockRentalStatusService) History(ctx context.Context, id uuid.UUID, lineID *uuid.UUID, order repository.SortOrder) ([]domain.StatusLogEntry, error) {
	args := m.Called(ctx, id, lineID, order)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.StatusLogEntry), args.Error(1)
}

func (m *MockRentalStatusService) PreviewChanges(ctx context.Context, asOf time.Time) (*domain.StatusPreview, error) {
	args := m.Called(ctx, asOf)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.StatusPreview), args.Error(1)
}

func (m *MockRentalStatusService) OverdueSummary(ctx context.Context, asOf time.Time) (*domain.OverdueSummary, error) {
	args := m.Called(ctx, asOf)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.OverdueSummary), args.Error(1)
}

func (m *MockRentalStatusService) Today() time.Time {
	args := m.Called()
	return args.Get(0).(time.Time)
}

// MockBatchRunner
type MockBatchRunner struct {
	mock.Mock
}

func (m *MockBatchRunner) RunRentalStatusRecompute(ctx context.Context, asOf time.Time) (*domain.BatchResult, error) {
	args := m.Called(ctx, asOf)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.BatchResult), args.Error(1)
}
