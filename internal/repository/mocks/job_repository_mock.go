package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"tale-server/internal/models"
	"tale-server/internal/repository"
)

// MockJobRepository is a mock type for the JobRepository type
type MockJobRepository struct {
	mock.Mock
}

func (_m *MockJobRepository) Create(ctx context.Context, job *models.Job) error {
	ret := _m.Called(ctx, job)
	return ret.Error(0)
}

func (_m *MockJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	ret := _m.Called(ctx, id)

	var r0 *models.Job
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.Job)
	}
	return r0, ret.Error(1)
}

func (_m *MockJobRepository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	ret := _m.Called(ctx, id)
	return ret.Error(0)
}

func (_m *MockJobRepository) MarkCompleted(ctx context.Context, id uuid.UUID, result models.JobResult) error {
	ret := _m.Called(ctx, id, result)
	return ret.Error(0)
}

func (_m *MockJobRepository) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	ret := _m.Called(ctx, id, errMsg)
	return ret.Error(0)
}

// NewMockJobRepository creates a new instance of MockJobRepository.
// The first argument is typically a *testing.T value.
func NewMockJobRepository(t interface {
	mock.TestingT
	Helper()
}) *MockJobRepository {
	m := &MockJobRepository{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ repository.JobRepository = (*MockJobRepository)(nil)
