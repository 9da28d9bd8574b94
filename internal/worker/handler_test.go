package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tale-server/internal/config"
	"tale-server/internal/models"
	repoMocks "tale-server/internal/repository/mocks"
	"tale-server/internal/service"
	serviceMocks "tale-server/internal/service/mocks"
	"tale-server/internal/worker"
)

const (
	startAIResponse = `{
		"content": "Ser Aldric rode into the dark forest, his torch flickering in the cold wind.",
		"options": ["Enter the cave", "Turn back", "Light a torch"],
		"narrative_context": {
			"characters": [{"name": "Aldric", "role": "knight", "status": "determined"}],
			"current_location": "Dark forest",
			"key_items": [],
			"open_plot_points": ["The missing princess"]
		},
		"vocabulary_highlight": {"flickering": "shining unsteadily"}
	}`

	continueAIResponse = `{
		"content": "The door creaked open, revealing a staircase descending into darkness.",
		"options": ["Go down", "Call out", "Close the door"],
		"narrative_context": {
			"characters": [{"name": "Aldric", "role": "knight", "status": "wary"}],
			"current_location": "Hidden staircase",
			"key_items": ["rusty key"],
			"open_plot_points": ["The missing princess"]
		}
	}`
)

func testConfig() *config.WorkerConfig {
	return &config.WorkerConfig{
		AIModel:          "test-model",
		AITimeout:        5 * time.Second,
		AIMaxAttempts:    1,
		AIBaseRetryDelay: 10 * time.Millisecond,
	}
}

type handlerMocks struct {
	ai      *serviceMocks.MockAIClient
	jobs    *repoMocks.MockJobRepository
	stories *repoMocks.MockStoryRepository
	parts   *repoMocks.MockStoryPartRepository
	users   *repoMocks.MockUserRepository
}

func newHandler(t *testing.T, cfg *config.WorkerConfig) (*worker.JobHandler, *handlerMocks) {
	m := &handlerMocks{
		ai:      serviceMocks.NewMockAIClient(t),
		jobs:    repoMocks.NewMockJobRepository(t),
		stories: repoMocks.NewMockStoryRepository(t),
		parts:   repoMocks.NewMockStoryPartRepository(t),
		users:   repoMocks.NewMockUserRepository(t),
	}
	h := worker.NewJobHandler(cfg, m.ai, m.jobs, m.stories, m.parts, m.users, nil)
	return h, m
}

func makeStartJob(t *testing.T, userID uuid.UUID) *models.Job {
	params, err := json.Marshal(models.StartStoryParams{
		Genre:      "fantasy",
		Language:   "English",
		Level:      2,
		LevelLabel: "A2",
	})
	require.NoError(t, err)
	return &models.Job{
		ID:        uuid.New(),
		UserID:    userID,
		Kind:      models.JobKindStartStory,
		Params:    params,
		Status:    models.JobStatusPending,
		CreatedAt: time.Now(),
	}
}

func makeContinueJob(t *testing.T, userID, storyID uuid.UUID, p models.ContinueStoryParams) *models.Job {
	p.StoryID = storyID
	params, err := json.Marshal(p)
	require.NoError(t, err)
	return &models.Job{
		ID:        uuid.New(),
		UserID:    userID,
		Kind:      models.JobKindContinueStory,
		Params:    params,
		Status:    models.JobStatusPending,
		CreatedAt: time.Now(),
	}
}

func makeStory(userID uuid.UUID) *models.Story {
	return &models.Story{
		ID:        uuid.New(),
		UserID:    userID,
		Title:     "A fantasy story",
		Genre:     "fantasy",
		Language:  "English",
		UserLevel: "A2",
		NarrativeContext: &models.NarrativeContext{
			Characters:      []models.NarrativeCharacter{{Name: "Aldric", Role: "knight", Status: "determined"}},
			CurrentLocation: "Dark forest",
			OpenPlotPoints:  []string{"The missing princess"},
		},
	}
}

func makeParts(storyID uuid.UUID, n int, lastOptions []string) []*models.StoryPart {
	parts := make([]*models.StoryPart, 0, n)
	for i := 1; i <= n; i++ {
		part := &models.StoryPart{
			ID:         uuid.New(),
			StoryID:    storyID,
			PartNumber: i,
			Content:    fmt.Sprintf("Part %d of the story.", i),
		}
		if i == n {
			part.SuggestedChoices = lastOptions
		}
		parts = append(parts, part)
	}
	return parts
}

func TestJobHandler_Process_StartStory(t *testing.T) {
	t.Run("successful start creates story and first part", func(t *testing.T) {
		h, m := newHandler(t, testConfig())
		job := makeStartJob(t, uuid.New())

		m.jobs.On("GetByID", mock.Anything, job.ID).Return(job, nil).Once()
		m.jobs.On("MarkProcessing", mock.Anything, job.ID).Return(nil).Once()
		m.users.On("GetNativeLanguage", mock.Anything, job.UserID).Return("Russian", nil).Once()
		m.ai.On("GenerateText", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(startAIResponse, service.UsageInfo{}, nil).Once()

		var createdStory *models.Story
		m.stories.On("Create", mock.Anything, mock.AnythingOfType("*models.Story")).
			Return(nil).Once().Run(func(args mock.Arguments) {
			createdStory = args.Get(1).(*models.Story)
		})
		m.parts.On("Create", mock.Anything, mock.AnythingOfType("*models.StoryPart")).
			Return(nil).Once().Run(func(args mock.Arguments) {
			part := args.Get(1).(*models.StoryPart)
			assert.Equal(t, 1, part.PartNumber)
			assert.False(t, part.IsUserInput)
			assert.Len(t, part.SuggestedChoices, 3)
			assert.Contains(t, part.Content, "Ser Aldric")
		})
		m.jobs.On("MarkCompleted", mock.Anything, job.ID, mock.AnythingOfType("models.JobResult")).
			Return(nil).Once().Run(func(args mock.Arguments) {
			result := args.Get(2).(models.JobResult)
			assert.Equal(t, createdStory.ID, result.StoryID)
		})

		err := h.Process(context.Background(), job.ID)
		require.NoError(t, err)

		require.NotNil(t, createdStory)
		assert.Equal(t, "fantasy", createdStory.Genre)
		assert.Equal(t, "A2", createdStory.UserLevel)
		require.NotNil(t, createdStory.NarrativeContext)
		assert.Equal(t, "Dark forest", createdStory.NarrativeContext.CurrentLocation)
	})

	t.Run("duplicate delivery is skipped", func(t *testing.T) {
		h, m := newHandler(t, testConfig())
		job := makeStartJob(t, uuid.New())
		job.Status = models.JobStatusProcessing

		m.jobs.On("GetByID", mock.Anything, job.ID).Return(job, nil).Once()
		m.jobs.On("MarkProcessing", mock.Anything, job.ID).Return(models.ErrJobNotPending).Once()

		err := h.Process(context.Background(), job.ID)
		require.NoError(t, err)
		m.ai.AssertNotCalled(t, "GenerateText", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("missing job is dropped without error", func(t *testing.T) {
		h, m := newHandler(t, testConfig())
		jobID := uuid.New()

		m.jobs.On("GetByID", mock.Anything, jobID).Return(nil, models.ErrNotFound).Once()

		err := h.Process(context.Background(), jobID)
		require.NoError(t, err)
		m.jobs.AssertNotCalled(t, "MarkProcessing", mock.Anything, mock.Anything)
	})

	t.Run("AI failure marks job failed", func(t *testing.T) {
		h, m := newHandler(t, testConfig())
		job := makeStartJob(t, uuid.New())

		m.jobs.On("GetByID", mock.Anything, job.ID).Return(job, nil).Once()
		m.jobs.On("MarkProcessing", mock.Anything, job.ID).Return(nil).Once()
		m.users.On("GetNativeLanguage", mock.Anything, job.UserID).Return("", nil).Once()
		m.ai.On("GenerateText", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return("", service.UsageInfo{}, errors.New("provider unreachable")).Once()
		m.jobs.On("MarkFailed", mock.Anything, job.ID, mock.AnythingOfType("string")).
			Return(nil).Once().Run(func(args mock.Arguments) {
			assert.Contains(t, args.String(2), "provider unreachable")
		})

		err := h.Process(context.Background(), job.ID)
		require.NoError(t, err)
		m.stories.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		m.parts.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("unparseable AI response still completes with raw content", func(t *testing.T) {
		h, m := newHandler(t, testConfig())
		job := makeStartJob(t, uuid.New())
		rawText := "Once upon a time, not a JSON at all."

		m.jobs.On("GetByID", mock.Anything, job.ID).Return(job, nil).Once()
		m.jobs.On("MarkProcessing", mock.Anything, job.ID).Return(nil).Once()
		m.users.On("GetNativeLanguage", mock.Anything, job.UserID).Return("", nil).Once()
		m.ai.On("GenerateText", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(rawText, service.UsageInfo{}, nil).Once()
		m.stories.On("Create", mock.Anything, mock.AnythingOfType("*models.Story")).Return(nil).Once()
		m.parts.On("Create", mock.Anything, mock.AnythingOfType("*models.StoryPart")).
			Return(nil).Once().Run(func(args mock.Arguments) {
			part := args.Get(1).(*models.StoryPart)
			assert.Equal(t, rawText, part.Content)
			assert.Empty(t, part.SuggestedChoices)
		})
		m.jobs.On("MarkCompleted", mock.Anything, job.ID, mock.AnythingOfType("models.JobResult")).Return(nil).Once()

		err := h.Process(context.Background(), job.ID)
		require.NoError(t, err)
	})

	t.Run("store error after generation marks job failed", func(t *testing.T) {
		h, m := newHandler(t, testConfig())
		job := makeStartJob(t, uuid.New())

		m.jobs.On("GetByID", mock.Anything, job.ID).Return(job, nil).Once()
		m.jobs.On("MarkProcessing", mock.Anything, job.ID).Return(nil).Once()
		m.users.On("GetNativeLanguage", mock.Anything, job.UserID).Return("", nil).Once()
		m.ai.On("GenerateText", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(startAIResponse, service.UsageInfo{}, nil).Once()
		m.stories.On("Create", mock.Anything, mock.AnythingOfType("*models.Story")).
			Return(errors.New("insert failed")).Once()
		m.jobs.On("MarkFailed", mock.Anything, job.ID, mock.AnythingOfType("string")).Return(nil).Once()

		err := h.Process(context.Background(), job.ID)
		require.NoError(t, err)
	})
}

func TestJobHandler_Process_ContinueStory(t *testing.T) {
	options := []string{"Open the door", "Flee", "Call for help"}

	t.Run("ai choice resolves text from prior part options", func(t *testing.T) {
		h, m := newHandler(t, testConfig())
		userID := uuid.New()
		story := makeStory(userID)
		parts := makeParts(story.ID, 3, options)
		lastPart := parts[2]

		idx := 0
		job := makeContinueJob(t, userID, story.ID, models.ContinueStoryParams{
			Type:                models.TurnTypeAI,
			SelectedChoiceIndex: &idx,
		})

		m.jobs.On("GetByID", mock.Anything, job.ID).Return(job, nil).Once()
		m.jobs.On("MarkProcessing", mock.Anything, job.ID).Return(nil).Once()
		m.stories.On("GetByID", mock.Anything, story.ID).Return(story, nil).Once()
		m.parts.On("GetLastPart", mock.Anything, story.ID).Return(lastPart, nil).Once()

		// Текст выбора восстановлен из options части, а не от клиента
		m.parts.On("AttachResolution", mock.Anything, lastPart.ID, story.ID, 3,
			mock.AnythingOfType("*int"), mock.AnythingOfType("*string"), (*string)(nil)).
			Return(nil).Once().Run(func(args mock.Arguments) {
			assert.Equal(t, 0, *args.Get(4).(*int))
			assert.Equal(t, "Open the door", *args.Get(5).(*string))
		})
		m.parts.On("ListByStory", mock.Anything, story.ID).Return(parts, nil).Once()
		m.users.On("GetNativeLanguage", mock.Anything, userID).Return("", nil).Once()
		m.ai.On("GenerateText", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(continueAIResponse, service.UsageInfo{}, nil).Once()
		m.parts.On("Create", mock.Anything, mock.AnythingOfType("*models.StoryPart")).
			Return(nil).Once().Run(func(args mock.Arguments) {
			part := args.Get(1).(*models.StoryPart)
			assert.Equal(t, 4, part.PartNumber)
			assert.Nil(t, part.UserCustomInput)
		})
		m.stories.On("UpdateAfterTurn", mock.Anything, story.ID,
			mock.AnythingOfType("string"), mock.AnythingOfType("*models.NarrativeContext")).
			Return(nil).Once().Run(func(args mock.Arguments) {
			fullStory := args.Get(2).(string)
			assert.Contains(t, fullStory, "The door creaked open")
			nc := args.Get(3).(*models.NarrativeContext)
			assert.Equal(t, "Hidden staircase", nc.CurrentLocation)
		})
		m.jobs.On("MarkCompleted", mock.Anything, job.ID, models.JobResult{StoryID: story.ID}).Return(nil).Once()

		err := h.Process(context.Background(), job.ID)
		require.NoError(t, err)
	})

	t.Run("custom direction keeps correction from provider", func(t *testing.T) {
		h, m := newHandler(t, testConfig())
		userID := uuid.New()
		story := makeStory(userID)
		parts := makeParts(story.ID, 1, options)
		direction := "I opene the door"

		job := makeContinueJob(t, userID, story.ID, models.ContinueStoryParams{
			Type:          models.TurnTypeCustom,
			UserDirection: &direction,
		})

		aiResponse := `{
			"content": "You push the heavy door and it opens with a groan.",
			"options": ["Step inside", "Wait"],
			"correction": "Small note: 'opene' should be 'open'."
		}`

		m.jobs.On("GetByID", mock.Anything, job.ID).Return(job, nil).Once()
		m.jobs.On("MarkProcessing", mock.Anything, job.ID).Return(nil).Once()
		m.stories.On("GetByID", mock.Anything, story.ID).Return(story, nil).Once()
		m.parts.On("GetLastPart", mock.Anything, story.ID).Return(parts[0], nil).Once()
		m.parts.On("AttachResolution", mock.Anything, parts[0].ID, story.ID, 1,
			(*int)(nil), (*string)(nil), mock.AnythingOfType("*string")).
			Return(nil).Once().Run(func(args mock.Arguments) {
			assert.Equal(t, direction, *args.Get(6).(*string))
		})
		m.parts.On("ListByStory", mock.Anything, story.ID).Return(parts, nil).Once()
		m.users.On("GetNativeLanguage", mock.Anything, userID).Return("Russian", nil).Once()
		m.ai.On("GenerateText", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(aiResponse, service.UsageInfo{}, nil).Once()
		m.parts.On("Create", mock.Anything, mock.AnythingOfType("*models.StoryPart")).
			Return(nil).Once().Run(func(args mock.Arguments) {
			part := args.Get(1).(*models.StoryPart)
			assert.Equal(t, 2, part.PartNumber)
			require.NotNil(t, part.Correction)
			assert.Contains(t, *part.Correction, "opene")
			require.NotNil(t, part.UserCustomInput)
			assert.Equal(t, direction, *part.UserCustomInput)
		})
		m.stories.On("UpdateAfterTurn", mock.Anything, story.ID, mock.Anything, mock.Anything).Return(nil).Once()
		m.jobs.On("MarkCompleted", mock.Anything, job.ID, models.JobResult{StoryID: story.ID}).Return(nil).Once()

		err := h.Process(context.Background(), job.ID)
		require.NoError(t, err)
	})

	t.Run("empty options from provider keep story continuable", func(t *testing.T) {
		h, m := newHandler(t, testConfig())
		userID := uuid.New()
		story := makeStory(userID)
		parts := makeParts(story.ID, 1, options)
		direction := "Look around"

		job := makeContinueJob(t, userID, story.ID, models.ContinueStoryParams{
			Type:          models.TurnTypeCustom,
			UserDirection: &direction,
		})

		m.jobs.On("GetByID", mock.Anything, job.ID).Return(job, nil).Once()
		m.jobs.On("MarkProcessing", mock.Anything, job.ID).Return(nil).Once()
		m.stories.On("GetByID", mock.Anything, story.ID).Return(story, nil).Once()
		m.parts.On("GetLastPart", mock.Anything, story.ID).Return(parts[0], nil).Once()
		m.parts.On("AttachResolution", mock.Anything, parts[0].ID, story.ID, 1,
			(*int)(nil), (*string)(nil), mock.AnythingOfType("*string")).Return(nil).Once()
		m.parts.On("ListByStory", mock.Anything, story.ID).Return(parts, nil).Once()
		m.users.On("GetNativeLanguage", mock.Anything, userID).Return("", nil).Once()
		m.ai.On("GenerateText", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(`{"content": "Nothing but shadows.", "options": []}`, service.UsageInfo{}, nil).Once()
		m.parts.On("Create", mock.Anything, mock.AnythingOfType("*models.StoryPart")).
			Return(nil).Once().Run(func(args mock.Arguments) {
			part := args.Get(1).(*models.StoryPart)
			assert.NotNil(t, part.SuggestedChoices)
			assert.Empty(t, part.SuggestedChoices)
		})
		m.stories.On("UpdateAfterTurn", mock.Anything, story.ID, mock.Anything, mock.Anything).Return(nil).Once()
		m.jobs.On("MarkCompleted", mock.Anything, job.ID, models.JobResult{StoryID: story.ID}).Return(nil).Once()

		err := h.Process(context.Background(), job.ID)
		require.NoError(t, err)
	})

	t.Run("choice index out of range fails job", func(t *testing.T) {
		h, m := newHandler(t, testConfig())
		userID := uuid.New()
		story := makeStory(userID)
		parts := makeParts(story.ID, 2, options)

		idx := 7
		job := makeContinueJob(t, userID, story.ID, models.ContinueStoryParams{
			Type:                models.TurnTypeAI,
			SelectedChoiceIndex: &idx,
		})

		m.jobs.On("GetByID", mock.Anything, job.ID).Return(job, nil).Once()
		m.jobs.On("MarkProcessing", mock.Anything, job.ID).Return(nil).Once()
		m.stories.On("GetByID", mock.Anything, story.ID).Return(story, nil).Once()
		m.parts.On("GetLastPart", mock.Anything, story.ID).Return(parts[1], nil).Once()
		m.jobs.On("MarkFailed", mock.Anything, job.ID, mock.AnythingOfType("string")).Return(nil).Once()

		err := h.Process(context.Background(), job.ID)
		require.NoError(t, err)
		m.parts.AssertNotCalled(t, "AttachResolution",
			mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		m.ai.AssertNotCalled(t, "GenerateText", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("concurrent turn conflict fails job", func(t *testing.T) {
		h, m := newHandler(t, testConfig())
		userID := uuid.New()
		story := makeStory(userID)
		parts := makeParts(story.ID, 2, options)

		idx := 1
		job := makeContinueJob(t, userID, story.ID, models.ContinueStoryParams{
			Type:                models.TurnTypeAI,
			SelectedChoiceIndex: &idx,
		})

		m.jobs.On("GetByID", mock.Anything, job.ID).Return(job, nil).Once()
		m.jobs.On("MarkProcessing", mock.Anything, job.ID).Return(nil).Once()
		m.stories.On("GetByID", mock.Anything, story.ID).Return(story, nil).Once()
		m.parts.On("GetLastPart", mock.Anything, story.ID).Return(parts[1], nil).Once()
		m.parts.On("AttachResolution", mock.Anything, parts[1].ID, story.ID, 2,
			mock.AnythingOfType("*int"), mock.AnythingOfType("*string"), (*string)(nil)).
			Return(models.ErrPartConflict).Once()
		m.jobs.On("MarkFailed", mock.Anything, job.ID, mock.AnythingOfType("string")).Return(nil).Once()

		err := h.Process(context.Background(), job.ID)
		require.NoError(t, err)
		m.ai.AssertNotCalled(t, "GenerateText", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("missing story fails job", func(t *testing.T) {
		h, m := newHandler(t, testConfig())
		userID := uuid.New()
		storyID := uuid.New()
		direction := "Keep going"

		job := makeContinueJob(t, userID, storyID, models.ContinueStoryParams{
			Type:          models.TurnTypeCustom,
			UserDirection: &direction,
		})

		m.jobs.On("GetByID", mock.Anything, job.ID).Return(job, nil).Once()
		m.jobs.On("MarkProcessing", mock.Anything, job.ID).Return(nil).Once()
		m.stories.On("GetByID", mock.Anything, storyID).Return(nil, models.ErrNotFound).Once()
		m.jobs.On("MarkFailed", mock.Anything, job.ID, mock.AnythingOfType("string")).Return(nil).Once()

		err := h.Process(context.Background(), job.ID)
		require.NoError(t, err)
	})
}

func TestJobHandler_Process_RetriesAI(t *testing.T) {
	cfg := testConfig()
	cfg.AIMaxAttempts = 3

	h, m := newHandler(t, cfg)
	job := makeStartJob(t, uuid.New())

	m.jobs.On("GetByID", mock.Anything, job.ID).Return(job, nil).Once()
	m.jobs.On("MarkProcessing", mock.Anything, job.ID).Return(nil).Once()
	m.users.On("GetNativeLanguage", mock.Anything, job.UserID).Return("", nil).Once()

	// Две неудачи, затем успех
	m.ai.On("GenerateText", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", service.UsageInfo{}, errors.New("timeout")).Twice()
	m.ai.On("GenerateText", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(startAIResponse, service.UsageInfo{}, nil).Once()

	m.stories.On("Create", mock.Anything, mock.AnythingOfType("*models.Story")).Return(nil).Once()
	m.parts.On("Create", mock.Anything, mock.AnythingOfType("*models.StoryPart")).Return(nil).Once()
	m.jobs.On("MarkCompleted", mock.Anything, job.ID, mock.AnythingOfType("models.JobResult")).Return(nil).Once()

	err := h.Process(context.Background(), job.ID)
	require.NoError(t, err)
	m.ai.AssertNumberOfCalls(t, "GenerateText", 3)
}
