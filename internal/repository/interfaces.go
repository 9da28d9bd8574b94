package repository

import (
	"context"

	"github.com/google/uuid"

	"tale-server/internal/models"
)

// JobRepository определяет интерфейс для работы с хранилищем задач.
// Используем интерфейс для возможности мокирования в тестах.
type JobRepository interface {
	Create(ctx context.Context, job *models.Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	// MarkProcessing переводит задачу pending -> processing через
	// compare-and-swap. Возвращает models.ErrJobNotPending, если задача
	// уже взята в работу или завершена (повторная доставка триггера).
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	MarkCompleted(ctx context.Context, id uuid.UUID, result models.JobResult) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error
}

// StoryRepository определяет интерфейс для работы с историями.
type StoryRepository interface {
	Create(ctx context.Context, story *models.Story) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Story, error)
	// UpdateAfterTurn заменяет производное состояние истории после успешного
	// хода: пересобранный полный текст и новую память повествования целиком.
	UpdateAfterTurn(ctx context.Context, id uuid.UUID, fullStory string, nc *models.NarrativeContext) error
}

// StoryPartRepository определяет интерфейс для работы с частями историй.
type StoryPartRepository interface {
	Create(ctx context.Context, part *models.StoryPart) error
	GetLastPart(ctx context.Context, storyID uuid.UUID) (*models.StoryPart, error)
	ListByStory(ctx context.Context, storyID uuid.UUID) ([]*models.StoryPart, error)
	// AttachResolution записывает на часть выбор, вызвавший следующий ход.
	// expectedPartNumber — optimistic-concurrency проверка: запись проходит
	// только пока часть остаётся последней в истории; иначе
	// models.ErrPartConflict.
	AttachResolution(ctx context.Context, partID uuid.UUID, storyID uuid.UUID, expectedPartNumber int, choiceIndex *int, choiceText *string, customInput *string) error
}

// UserRepository — минимальный доступ к профилю пользователя, нужный воркеру
// (родной язык для определений словаря).
type UserRepository interface {
	GetNativeLanguage(ctx context.Context, userID uuid.UUID) (string, error)
}
