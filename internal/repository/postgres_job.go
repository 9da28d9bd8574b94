package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"tale-server/internal/models"
)

const (
	createJobQuery = `
        INSERT INTO jobs (id, user_id, kind, params, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `
	getJobByIDQuery = `
        SELECT id, user_id, kind, params, status, result, error, created_at
        FROM jobs
        WHERE id = $1
    `
	// CAS: переход выполняется только из pending. Повторная доставка
	// триггера для уже взятой задачи не затирает её состояние.
	markJobProcessingQuery = `
        UPDATE jobs SET status = 'processing'
        WHERE id = $1 AND status = 'pending'
    `
	markJobCompletedQuery = `
        UPDATE jobs SET status = 'completed', result = $2, error = NULL
        WHERE id = $1 AND status = 'processing'
    `
	markJobFailedQuery = `
        UPDATE jobs SET status = 'failed', error = $2, result = NULL
        WHERE id = $1 AND status IN ('pending', 'processing')
    `
)

type pgJobRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPgJobRepository создает новый экземпляр репозитория задач.
func NewPgJobRepository(db *pgxpool.Pool, logger *zap.Logger) JobRepository {
	return &pgJobRepository{
		db:     db,
		logger: logger.Named("JobRepo"),
	}
}

func (r *pgJobRepository) Create(ctx context.Context, job *models.Job) error {
	_, err := r.db.Exec(ctx, createJobQuery,
		job.ID, job.UserID, job.Kind, job.Params, job.Status, job.CreatedAt)
	if err != nil {
		r.logger.Error("Ошибка создания Job", zap.String("job_id", job.ID.String()), zap.Error(err))
		return fmt.Errorf("ошибка создания задачи в БД: %w", err)
	}
	r.logger.Info("Job создан", zap.String("job_id", job.ID.String()), zap.String("kind", string(job.Kind)))
	return nil
}

func (r *pgJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var job models.Job
	err := pgxscan.Get(ctx, r.db, &job, getJobByIDQuery, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		r.logger.Error("Ошибка получения Job", zap.String("job_id", id.String()), zap.Error(err))
		return nil, fmt.Errorf("ошибка получения задачи из БД: %w", err)
	}
	return &job, nil
}

func (r *pgJobRepository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, markJobProcessingQuery, id)
	if err != nil {
		return fmt.Errorf("ошибка перевода задачи %s в processing: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.Warn("Задача не в статусе pending, пропуск", zap.String("job_id", id.String()))
		return models.ErrJobNotPending
	}
	return nil
}

func (r *pgJobRepository) MarkCompleted(ctx context.Context, id uuid.UUID, result models.JobResult) error {
	tag, err := r.db.Exec(ctx, markJobCompletedQuery, id, result)
	if err != nil {
		return fmt.Errorf("ошибка завершения задачи %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		// Статусы строго монотонны: финальная запись возможна только из processing.
		return fmt.Errorf("задача %s не в статусе processing: %w", id, models.ErrJobNotPending)
	}
	r.logger.Info("Job завершен", zap.String("job_id", id.String()), zap.String("story_id", result.StoryID.String()))
	return nil
}

func (r *pgJobRepository) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	tag, err := r.db.Exec(ctx, markJobFailedQuery, id, errMsg)
	if err != nil {
		return fmt.Errorf("ошибка записи ошибки задачи %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("задача %s уже в финальном статусе: %w", id, models.ErrJobNotPending)
	}
	r.logger.Warn("Job помечен как failed", zap.String("job_id", id.String()), zap.String("error", errMsg))
	return nil
}
