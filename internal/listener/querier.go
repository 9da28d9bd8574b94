package listener

import (
	"context"

	"github.com/google/uuid"

	"tale-server/internal/models"
	"tale-server/internal/repository"
)

// repositoryStatusQuerier реализует StatusQuerier поверх репозитория задач.
type repositoryStatusQuerier struct {
	jobs repository.JobRepository
}

// NewRepositoryStatusQuerier создает StatusQuerier, читающий статус
// напрямую из хранилища задач.
func NewRepositoryStatusQuerier(jobs repository.JobRepository) StatusQuerier {
	return &repositoryStatusQuerier{jobs: jobs}
}

func (q *repositoryStatusQuerier) JobStatus(ctx context.Context, jobID uuid.UUID) (models.JobStatusView, error) {
	job, err := q.jobs.GetByID(ctx, jobID)
	if err != nil {
		return models.JobStatusView{}, err
	}
	return job.StatusView(), nil
}
