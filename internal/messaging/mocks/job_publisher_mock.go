package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"tale-server/internal/messaging"
)

// MockJobPublisher is a mock type for the JobPublisher type
type MockJobPublisher struct {
	mock.Mock
}

func (_m *MockJobPublisher) PublishGenerationJob(ctx context.Context, payload messaging.GenerationJobPayload) error {
	ret := _m.Called(ctx, payload)
	return ret.Error(0)
}

// NewMockJobPublisher creates a new instance of MockJobPublisher.
// The first argument is typically a *testing.T value.
func NewMockJobPublisher(t interface {
	mock.TestingT
	Helper()
}) *MockJobPublisher {
	m := &MockJobPublisher{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ messaging.JobPublisher = (*MockJobPublisher)(nil)
