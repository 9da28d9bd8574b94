package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"tale-server/internal/models"
)

const partColumns = `id, story_id, part_number, content, suggested_choices,
               selected_choice_index, selected_choice, user_custom_input,
               correction, vocabulary_highlight, is_user_input, created_at`

type pgStoryPartRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPgStoryPartRepository создает новый экземпляр репозитория частей историй.
func NewPgStoryPartRepository(db *pgxpool.Pool, logger *zap.Logger) StoryPartRepository {
	return &pgStoryPartRepository{
		db:     db,
		logger: logger.Named("StoryPartRepo"),
	}
}

func (r *pgStoryPartRepository) Create(ctx context.Context, part *models.StoryPart) error {
	query := `
        INSERT INTO story_parts (id, story_id, part_number, content, suggested_choices,
                                 selected_choice_index, selected_choice, user_custom_input,
                                 correction, vocabulary_highlight, is_user_input, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
    `
	choices := part.SuggestedChoices
	if choices == nil {
		choices = []string{}
	}
	_, err := r.db.Exec(ctx, query,
		part.ID, part.StoryID, part.PartNumber, part.Content, choices,
		part.SelectedChoiceIndex, part.SelectedChoice, part.UserCustomInput,
		part.Correction, part.VocabularyHighlight, part.IsUserInput, part.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation (story_id, part_number)
			r.logger.Warn("Конфликт номера части: параллельный ход для той же истории",
				zap.String("story_id", part.StoryID.String()), zap.Int("part_number", part.PartNumber))
			return models.ErrPartConflict
		}
		r.logger.Error("Ошибка создания StoryPart", zap.String("story_id", part.StoryID.String()), zap.Error(err))
		return fmt.Errorf("ошибка создания части истории в БД: %w", err)
	}
	r.logger.Info("StoryPart создана",
		zap.String("story_id", part.StoryID.String()), zap.Int("part_number", part.PartNumber))
	return nil
}

func (r *pgStoryPartRepository) GetLastPart(ctx context.Context, storyID uuid.UUID) (*models.StoryPart, error) {
	query := `
        SELECT ` + partColumns + `
        FROM story_parts
        WHERE story_id = $1
        ORDER BY part_number DESC
        LIMIT 1
    `
	var part models.StoryPart
	err := pgxscan.Get(ctx, r.db, &part, query, storyID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrStoryHasNoParts
		}
		return nil, fmt.Errorf("ошибка получения последней части истории %s: %w", storyID, err)
	}
	return &part, nil
}

func (r *pgStoryPartRepository) ListByStory(ctx context.Context, storyID uuid.UUID) ([]*models.StoryPart, error) {
	query := `
        SELECT ` + partColumns + `
        FROM story_parts
        WHERE story_id = $1
        ORDER BY part_number ASC
    `
	var parts []*models.StoryPart
	err := pgxscan.Select(ctx, r.db, &parts, query, storyID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения частей истории %s: %w", storyID, err)
	}
	return parts, nil
}

func (r *pgStoryPartRepository) AttachResolution(ctx context.Context, partID uuid.UUID, storyID uuid.UUID, expectedPartNumber int, choiceIndex *int, choiceText *string, customInput *string) error {
	// Запись проходит только пока часть остаётся последней в истории —
	// защита от двойной отправки хода для одной истории.
	query := `
        UPDATE story_parts
        SET selected_choice_index = $4, selected_choice = $5, user_custom_input = $6
        WHERE id = $1
          AND NOT EXISTS (
              SELECT 1 FROM story_parts sp
              WHERE sp.story_id = $2 AND sp.part_number > $3
          )
    `
	tag, err := r.db.Exec(ctx, query, partID, storyID, expectedPartNumber, choiceIndex, choiceText, customInput)
	if err != nil {
		return fmt.Errorf("ошибка записи выбора на часть %s: %w", partID, err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.Warn("Часть больше не последняя, выбор не записан",
			zap.String("part_id", partID.String()), zap.Int("expected_part_number", expectedPartNumber))
		return models.ErrPartConflict
	}
	return nil
}
