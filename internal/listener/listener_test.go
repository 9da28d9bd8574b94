package listener_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tale-server/internal/listener"
	"tale-server/internal/models"
)

// fakeQuerier отдает заранее подготовленную последовательность ответов,
// последний ответ повторяется на всех последующих запросах.
type fakeQuerier struct {
	mu        sync.Mutex
	responses []queryResponse
	calls     int
}

type queryResponse struct {
	view models.JobStatusView
	err  error
}

func (q *fakeQuerier) JobStatus(_ context.Context, _ uuid.UUID) (models.JobStatusView, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	idx := q.calls - 1
	if idx >= len(q.responses) {
		idx = len(q.responses) - 1
	}
	r := q.responses[idx]
	return r.view, r.err
}

func (q *fakeQuerier) callCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls
}

// fakeSubscriber выдает управляемый тестом канал push-обновлений.
type fakeSubscriber struct {
	updates        chan models.JobStatusView
	subscribeErr   error
	unsubscribed   atomic.Bool
	unsubscribeone sync.Once
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{updates: make(chan models.JobStatusView, 4)}
}

func (s *fakeSubscriber) Subscribe(_ context.Context, _ uuid.UUID) (<-chan models.JobStatusView, func(), error) {
	if s.subscribeErr != nil {
		return nil, nil, s.subscribeErr
	}
	return s.updates, func() {
		s.unsubscribeone.Do(func() {
			s.unsubscribed.Store(true)
			close(s.updates)
		})
	}, nil
}

func pendingView(jobID uuid.UUID) models.JobStatusView {
	return models.JobStatusView{ID: jobID, Status: models.JobStatusPending}
}

func completedView(jobID uuid.UUID, storyID uuid.UUID) models.JobStatusView {
	return models.JobStatusView{
		ID:     jobID,
		Status: models.JobStatusCompleted,
		Result: &models.JobResult{StoryID: storyID},
	}
}

func failedView(jobID uuid.UUID, msg string) models.JobStatusView {
	return models.JobStatusView{ID: jobID, Status: models.JobStatusFailed, Error: &msg}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("условие не выполнилось за отведённое время")
}

func TestJobListener_SettlesOnceAcrossChannels(t *testing.T) {
	jobID := uuid.New()
	storyID := uuid.New()

	querier := &fakeQuerier{responses: []queryResponse{
		{view: pendingView(jobID)},
		{view: completedView(jobID, storyID)},
	}}
	subscriber := newFakeSubscriber()

	var successCount atomic.Int32
	var gotStory uuid.UUID
	var mu sync.Mutex

	jl := listener.Listen(context.Background(), jobID, querier, subscriber, listener.Callbacks{
		OnSuccess: func(result models.JobResult) {
			successCount.Add(1)
			mu.Lock()
			gotStory = result.StoryID
			mu.Unlock()
		},
		OnFailure: func(string) { t.Error("OnFailure не должен вызываться") },
	}, listener.Options{PollInterval: 20 * time.Millisecond}, nil)
	defer jl.Close()

	// Финальный статус приходит и по push, и по поллингу
	subscriber.updates <- completedView(jobID, storyID)

	waitFor(t, jl.Settled)
	// Даем второму каналу время продублировать наблюдение
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, int32(1), successCount.Load())
	mu.Lock()
	assert.Equal(t, storyID, gotStory)
	mu.Unlock()
}

func TestJobListener_FailureDeliversErrorMessage(t *testing.T) {
	jobID := uuid.New()
	querier := &fakeQuerier{responses: []queryResponse{
		{view: failedView(jobID, "AI API не ответил после 3 попыток")},
	}}

	var gotErr string
	var mu sync.Mutex

	jl := listener.Listen(context.Background(), jobID, querier, nil, listener.Callbacks{
		OnSuccess: func(models.JobResult) { t.Error("OnSuccess не должен вызываться") },
		OnFailure: func(msg string) {
			mu.Lock()
			gotErr = msg
			mu.Unlock()
		},
	}, listener.Options{PollInterval: 20 * time.Millisecond}, nil)
	defer jl.Close()

	waitFor(t, jl.Settled)
	mu.Lock()
	assert.Contains(t, gotErr, "не ответил")
	mu.Unlock()
}

func TestJobListener_AlreadyTerminalSettlesImmediately(t *testing.T) {
	jobID := uuid.New()
	storyID := uuid.New()
	querier := &fakeQuerier{responses: []queryResponse{
		{view: completedView(jobID, storyID)},
	}}

	settled := make(chan models.JobResult, 1)
	jl := listener.Listen(context.Background(), jobID, querier, nil, listener.Callbacks{
		OnSuccess: func(result models.JobResult) { settled <- result },
	}, listener.Options{PollInterval: time.Hour}, nil)
	defer jl.Close()

	// Начальный запрос должен сработать без ожидания первого тика
	select {
	case result := <-settled:
		assert.Equal(t, storyID, result.StoryID)
	case <-time.After(time.Second):
		t.Fatal("начальный запрос не обнаружил завершённую задачу")
	}
}

func TestJobListener_TransientQueryErrorsAreRetried(t *testing.T) {
	jobID := uuid.New()
	storyID := uuid.New()
	querier := &fakeQuerier{responses: []queryResponse{
		{err: errors.New("connection refused")},
		{err: errors.New("connection refused")},
		{view: completedView(jobID, storyID)},
	}}

	var successCount atomic.Int32
	jl := listener.Listen(context.Background(), jobID, querier, nil, listener.Callbacks{
		OnSuccess: func(models.JobResult) { successCount.Add(1) },
		OnFailure: func(string) { t.Error("транзиентная ошибка запроса не должна становиться отказом задачи") },
	}, listener.Options{PollInterval: 20 * time.Millisecond}, nil)
	defer jl.Close()

	waitFor(t, jl.Settled)
	assert.Equal(t, int32(1), successCount.Load())
	assert.GreaterOrEqual(t, querier.callCount(), 3)
}

func TestJobListener_StallFiresOnceAndWaitContinues(t *testing.T) {
	jobID := uuid.New()
	storyID := uuid.New()
	querier := &fakeQuerier{responses: []queryResponse{
		{view: pendingView(jobID)},
	}}

	var stallCount atomic.Int32
	var successCount atomic.Int32

	jl := listener.Listen(context.Background(), jobID, querier, nil, listener.Callbacks{
		OnSuccess: func(models.JobResult) { successCount.Add(1) },
		OnStall:   func() { stallCount.Add(1) },
	}, listener.Options{
		PollInterval: 20 * time.Millisecond,
		StallAfter:   50 * time.Millisecond,
	}, nil)
	defer jl.Close()

	waitFor(t, jl.Stalled)
	assert.False(t, jl.Settled(), "stall не должен останавливать ожидание")

	// После stall задача всё же завершается штатно
	querier.mu.Lock()
	querier.responses = []queryResponse{{view: completedView(jobID, storyID)}}
	querier.calls = 0
	querier.mu.Unlock()

	waitFor(t, jl.Settled)
	assert.Equal(t, int32(1), stallCount.Load())
	assert.Equal(t, int32(1), successCount.Load())
}

func TestJobListener_NoStallAfterSettled(t *testing.T) {
	jobID := uuid.New()
	querier := &fakeQuerier{responses: []queryResponse{
		{view: completedView(jobID, uuid.New())},
	}}

	var stallCount atomic.Int32
	jl := listener.Listen(context.Background(), jobID, querier, nil, listener.Callbacks{
		OnSuccess: func(models.JobResult) {},
		OnStall:   func() { stallCount.Add(1) },
	}, listener.Options{
		PollInterval: 20 * time.Millisecond,
		StallAfter:   40 * time.Millisecond,
	}, nil)
	defer jl.Close()

	waitFor(t, jl.Settled)
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(0), stallCount.Load())
}

func TestJobListener_SubscribeErrorFallsBackToPolling(t *testing.T) {
	jobID := uuid.New()
	storyID := uuid.New()
	querier := &fakeQuerier{responses: []queryResponse{
		{view: completedView(jobID, storyID)},
	}}
	subscriber := newFakeSubscriber()
	subscriber.subscribeErr = errors.New("redis: connection pool exhausted")

	var successCount atomic.Int32
	jl := listener.Listen(context.Background(), jobID, querier, subscriber, listener.Callbacks{
		OnSuccess: func(models.JobResult) { successCount.Add(1) },
	}, listener.Options{PollInterval: 20 * time.Millisecond}, nil)
	defer jl.Close()

	waitFor(t, jl.Settled)
	assert.Equal(t, int32(1), successCount.Load())
}

func TestJobListener_CloseReleasesResources(t *testing.T) {
	jobID := uuid.New()
	querier := &fakeQuerier{responses: []queryResponse{
		{view: pendingView(jobID)},
	}}
	subscriber := newFakeSubscriber()

	jl := listener.Listen(context.Background(), jobID, querier, subscriber, listener.Callbacks{
		OnSuccess: func(models.JobResult) { t.Error("колбэк после Close недопустим") },
	}, listener.Options{PollInterval: 10 * time.Millisecond}, nil)

	waitFor(t, func() bool { return querier.callCount() >= 1 })
	jl.Close()
	// Повторный Close — no-op
	jl.Close()

	require.True(t, subscriber.unsubscribed.Load())
	assert.False(t, jl.Settled())

	calls := querier.callCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, querier.callCount(), "поллинг должен остановиться после Close")
}
