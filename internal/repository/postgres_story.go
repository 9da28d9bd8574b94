package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"tale-server/internal/models"
)

type pgStoryRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPgStoryRepository создает новый экземпляр репозитория историй.
func NewPgStoryRepository(db *pgxpool.Pool, logger *zap.Logger) StoryRepository {
	return &pgStoryRepository{
		db:     db,
		logger: logger.Named("StoryRepo"),
	}
}

func (r *pgStoryRepository) Create(ctx context.Context, story *models.Story) error {
	query := `
        INSERT INTO stories (id, user_id, title, genre, language, goal, lesson, user_level,
                             full_story, narrative_context, is_completed, is_published, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
    `
	_, err := r.db.Exec(ctx, query,
		story.ID, story.UserID, story.Title, story.Genre, story.Language,
		story.Goal, story.Lesson, story.UserLevel, story.FullStory,
		story.NarrativeContext, story.IsCompleted, story.IsPublished,
		story.CreatedAt, story.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Ошибка создания Story", zap.String("story_id", story.ID.String()), zap.Error(err))
		return fmt.Errorf("ошибка создания истории в БД: %w", err)
	}
	r.logger.Info("Story создана", zap.String("story_id", story.ID.String()), zap.String("genre", story.Genre))
	return nil
}

func (r *pgStoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Story, error) {
	query := `
        SELECT id, user_id, title, genre, language, goal, lesson, user_level,
               full_story, narrative_context, is_completed, is_published, created_at, updated_at
        FROM stories
        WHERE id = $1
    `
	var story models.Story
	err := pgxscan.Get(ctx, r.db, &story, query, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		r.logger.Error("Ошибка получения Story", zap.String("story_id", id.String()), zap.Error(err))
		return nil, fmt.Errorf("ошибка получения истории из БД: %w", err)
	}
	return &story, nil
}

func (r *pgStoryRepository) UpdateAfterTurn(ctx context.Context, id uuid.UUID, fullStory string, nc *models.NarrativeContext) error {
	query := `
        UPDATE stories
        SET full_story = $2, narrative_context = $3, updated_at = $4
        WHERE id = $1
    `
	tag, err := r.db.Exec(ctx, query, id, fullStory, nc, time.Now().UTC())
	if err != nil {
		r.logger.Error("Ошибка обновления Story после хода", zap.String("story_id", id.String()), zap.Error(err))
		return fmt.Errorf("ошибка обновления истории в БД: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
