package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"tale-server/internal/models"
	"tale-server/internal/repository"
)

// MockStoryPartRepository is a mock type for the StoryPartRepository type
type MockStoryPartRepository struct {
	mock.Mock
}

func (_m *MockStoryPartRepository) Create(ctx context.Context, part *models.StoryPart) error {
	ret := _m.Called(ctx, part)
	return ret.Error(0)
}

func (_m *MockStoryPartRepository) GetLastPart(ctx context.Context, storyID uuid.UUID) (*models.StoryPart, error) {
	ret := _m.Called(ctx, storyID)

	var r0 *models.StoryPart
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.StoryPart)
	}
	return r0, ret.Error(1)
}

func (_m *MockStoryPartRepository) ListByStory(ctx context.Context, storyID uuid.UUID) ([]*models.StoryPart, error) {
	ret := _m.Called(ctx, storyID)

	var r0 []*models.StoryPart
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]*models.StoryPart)
	}
	return r0, ret.Error(1)
}

func (_m *MockStoryPartRepository) AttachResolution(ctx context.Context, partID uuid.UUID, storyID uuid.UUID, expectedPartNumber int, choiceIndex *int, choiceText *string, customInput *string) error {
	ret := _m.Called(ctx, partID, storyID, expectedPartNumber, choiceIndex, choiceText, customInput)
	return ret.Error(0)
}

// NewMockStoryPartRepository creates a new instance of MockStoryPartRepository.
// The first argument is typically a *testing.T value.
func NewMockStoryPartRepository(t interface {
	mock.TestingT
	Helper()
}) *MockStoryPartRepository {
	m := &MockStoryPartRepository{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ repository.StoryPartRepository = (*MockStoryPartRepository)(nil)
