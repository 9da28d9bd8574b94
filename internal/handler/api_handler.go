package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"tale-server/internal/messaging"
	"tale-server/internal/models"
	"tale-server/internal/repository"
)

// APIHandler обслуживает REST-эндпоинты задач и историй.
type APIHandler struct {
	jobs      repository.JobRepository
	stories   repository.StoryRepository
	parts     repository.StoryPartRepository
	publisher messaging.JobPublisher
	logger    *zap.Logger
}

// NewAPIHandler создает обработчик REST API.
func NewAPIHandler(
	jobs repository.JobRepository,
	stories repository.StoryRepository,
	parts repository.StoryPartRepository,
	publisher messaging.JobPublisher,
	logger *zap.Logger,
) *APIHandler {
	return &APIHandler{
		jobs:      jobs,
		stories:   stories,
		parts:     parts,
		publisher: publisher,
		logger:    logger.Named("APIHandler"),
	}
}

// RegisterRoutes регистрирует маршруты API.
func (h *APIHandler) RegisterRoutes(router *gin.Engine) {
	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/jobs", h.createJob)
		apiGroup.GET("/jobs/:id", h.getJobStatus)
		apiGroup.GET("/stories/:id", h.getStory)
		apiGroup.GET("/stories/:id/parts", h.getStoryParts)
	}
}

// createJob принимает задачу генерации: валидирует параметры по типу,
// создает строку задачи со статусом pending и публикует триггер воркеру.
func (h *APIHandler) createJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errResp := models.ErrorResponse{Code: models.ErrCodeBadRequest, Message: "Invalid request data: " + err.Error()}
		c.AbortWithStatusJSON(http.StatusBadRequest, errResp)
		return
	}

	job := &models.Job{
		ID:        uuid.New(),
		UserID:    req.UserID,
		Kind:      req.Type,
		Params:    req.Params,
		Status:    models.JobStatusPending,
		CreatedAt: time.Now().UTC(),
	}

	if err := validateJobParams(job); err != nil {
		errResp := models.ErrorResponse{Code: models.ErrCodeBadRequest, Message: err.Error()}
		c.AbortWithStatusJSON(http.StatusBadRequest, errResp)
		return
	}

	ctx := c.Request.Context()
	if err := h.jobs.Create(ctx, job); err != nil {
		h.logger.Error("Ошибка создания задачи", zap.Error(err))
		errResp := models.ErrorResponse{Code: models.ErrCodeInternal, Message: "Failed to create job"}
		c.AbortWithStatusJSON(http.StatusInternalServerError, errResp)
		return
	}

	if err := h.publisher.PublishGenerationJob(ctx, messaging.GenerationJobPayload{JobID: job.ID}); err != nil {
		// Без триггера задача не будет обработана: фиксируем отказ сразу,
		// чтобы слушатель не ждал вечно
		h.logger.Error("Ошибка публикации триггера задачи", zap.String("jobID", job.ID.String()), zap.Error(err))
		if failErr := h.jobs.MarkFailed(ctx, job.ID, "failed to enqueue generation job"); failErr != nil {
			h.logger.Error("Не удалось перевести непоставленную задачу в failed",
				zap.String("jobID", job.ID.String()), zap.Error(failErr))
		}
		errResp := models.ErrorResponse{Code: models.ErrCodeInternal, Message: "Failed to enqueue job"}
		c.AbortWithStatusJSON(http.StatusInternalServerError, errResp)
		return
	}

	c.JSON(http.StatusAccepted, createJobResponse{ID: job.ID, Status: job.Status})
}

// getJobStatus возвращает клиентскую проекцию статуса задачи.
func (h *APIHandler) getJobStatus(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	job, err := h.jobs.GetByID(c.Request.Context(), id)
	if err != nil {
		h.respondStoreError(c, err, "job")
		return
	}
	c.JSON(http.StatusOK, job.StatusView())
}

// getStory возвращает историю целиком.
func (h *APIHandler) getStory(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	story, err := h.stories.GetByID(c.Request.Context(), id)
	if err != nil {
		h.respondStoreError(c, err, "story")
		return
	}
	c.JSON(http.StatusOK, story)
}

// getStoryParts возвращает упорядоченные части истории.
func (h *APIHandler) getStoryParts(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if _, err := h.stories.GetByID(ctx, id); err != nil {
		h.respondStoreError(c, err, "story")
		return
	}
	parts, err := h.parts.ListByStory(ctx, id)
	if err != nil {
		h.respondStoreError(c, err, "story parts")
		return
	}
	c.JSON(http.StatusOK, storyPartsResponse{StoryID: id, Parts: parts})
}

// parseID извлекает и валидирует :id из пути.
func (h *APIHandler) parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		errResp := models.ErrorResponse{Code: models.ErrCodeBadRequest, Message: "Invalid id: must be a UUID"}
		c.AbortWithStatusJSON(http.StatusBadRequest, errResp)
		return uuid.Nil, false
	}
	return id, true
}

// respondStoreError транслирует ошибку хранилища в HTTP-ответ.
func (h *APIHandler) respondStoreError(c *gin.Context, err error, entity string) {
	if errors.Is(err, models.ErrNotFound) {
		errResp := models.ErrorResponse{Code: models.ErrCodeNotFound, Message: entity + " not found"}
		c.AbortWithStatusJSON(http.StatusNotFound, errResp)
		return
	}
	h.logger.Error("Ошибка чтения из хранилища", zap.String("entity", entity), zap.Error(err))
	errResp := models.ErrorResponse{Code: models.ErrCodeInternal, Message: "Internal server error"}
	c.AbortWithStatusJSON(http.StatusInternalServerError, errResp)
}

// validateJobParams декодирует и валидирует параметры задачи по её типу.
func validateJobParams(job *models.Job) error {
	switch job.Kind {
	case models.JobKindStartStory:
		params, err := job.StartParams()
		if err != nil {
			return err
		}
		return params.Validate()
	case models.JobKindContinueStory:
		params, err := job.ContinueParams()
		if err != nil {
			return err
		}
		return params.Validate()
	default:
		return errors.New("unknown job type '" + string(job.Kind) + "'")
	}
}
