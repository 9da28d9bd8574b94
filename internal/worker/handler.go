package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"tale-server/internal/config"
	"tale-server/internal/models"
	"tale-server/internal/repository"
	"tale-server/internal/service"
)

// Notifier доставляет обновление статуса задачи в push-канал слушателей.
type Notifier interface {
	NotifyJobUpdate(ctx context.Context, view models.JobStatusView) error
}

// JobHandler обрабатывает одну задачу генерации за вызов.
// Владеет машиной состояний задачи: все пути обработки заканчиваются
// переводом задачи в completed или failed, ошибка никогда не уходит
// дальше брокера необработанной.
type JobHandler struct {
	cfg      *config.WorkerConfig
	aiClient service.AIClient
	jobs     repository.JobRepository
	stories  repository.StoryRepository
	parts    repository.StoryPartRepository
	users    repository.UserRepository
	notifier Notifier
}

// NewJobHandler создает новый экземпляр обработчика задач генерации.
func NewJobHandler(
	cfg *config.WorkerConfig,
	aiClient service.AIClient,
	jobs repository.JobRepository,
	stories repository.StoryRepository,
	parts repository.StoryPartRepository,
	users repository.UserRepository,
	notifier Notifier,
) *JobHandler {
	return &JobHandler{
		cfg:      cfg,
		aiClient: aiClient,
		jobs:     jobs,
		stories:  stories,
		parts:    parts,
		users:    users,
		notifier: notifier,
	}
}

// Process обрабатывает одну задачу по её id.
// Возвращаемая ошибка означает, что задачу НЕ удалось перевести в финальный
// статус (например, недоступна БД) — такое сообщение уходит брокеру на
// повторную доставку. Ошибки самой генерации финальным статусом задачи
// и возвращаются как nil.
func (h *JobHandler) Process(ctx context.Context, jobID uuid.UUID) error {
	metricsIncrementJobReceived()
	startTime := time.Now()
	log.Printf("[JobID: %s] Получена задача генерации", jobID)

	job, err := h.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Триггер без строки задачи: переигрывать нечего
			log.Printf("[JobID: %s] Задача не найдена в БД, доставка пропущена", jobID)
			metricsIncrementJobFailed("job_not_found")
			return nil
		}
		return fmt.Errorf("ошибка чтения задачи %s: %w", jobID, err)
	}

	// CAS pending -> processing: повторная доставка того же триггера
	// не должна запускать вторую генерацию
	if err := h.jobs.MarkProcessing(ctx, jobID); err != nil {
		if errors.Is(err, models.ErrJobNotPending) {
			log.Printf("[JobID: %s] Задача уже не pending (status=%s), доставка пропущена", jobID, job.Status)
			metricsIncrementJobSkipped()
			return nil
		}
		return fmt.Errorf("ошибка перевода задачи %s в processing: %w", jobID, err)
	}

	var result models.JobResult
	var procErr error
	var failReason string

	switch job.Kind {
	case models.JobKindStartStory:
		result, failReason, procErr = h.processStart(ctx, job)
	case models.JobKindContinueStory:
		result, failReason, procErr = h.processContinue(ctx, job)
	default:
		failReason = "unknown_kind"
		procErr = fmt.Errorf("неизвестный тип задачи '%s'", job.Kind)
	}

	duration := time.Since(startTime)

	if procErr != nil {
		log.Printf("[JobID: %s] Ошибка обработки (%s) за %v: %v", jobID, failReason, duration, procErr)
		metricsIncrementJobFailed(failReason)
		metricsRecordJobDuration(string(job.Kind), "failed", duration)
		if err := h.jobs.MarkFailed(ctx, jobID, procErr.Error()); err != nil {
			return fmt.Errorf("ошибка перевода задачи %s в failed: %w", jobID, err)
		}
		h.notify(ctx, jobID)
		return nil
	}

	if err := h.jobs.MarkCompleted(ctx, jobID, result); err != nil {
		return fmt.Errorf("ошибка перевода задачи %s в completed: %w", jobID, err)
	}
	metricsIncrementJobSucceeded()
	metricsRecordJobDuration(string(job.Kind), "completed", duration)
	h.notify(ctx, jobID)
	log.Printf("[JobID: %s] Задача выполнена за %v. StoryID=%s", jobID, duration, result.StoryID)
	return nil
}

// processStart создает новую историю и её первую часть.
func (h *JobHandler) processStart(ctx context.Context, job *models.Job) (models.JobResult, string, error) {
	params, err := job.StartParams()
	if err != nil {
		return models.JobResult{}, "params_invalid", err
	}
	if err := params.Validate(); err != nil {
		return models.JobResult{}, "params_invalid", err
	}

	nativeLanguage := h.nativeLanguage(ctx, job.UserID)

	systemPrompt := service.BuildStartSystemPrompt(params, nativeLanguage)
	userPrompt := service.BuildStartUserPrompt(params)

	rawText, err := h.generateWithRetry(ctx, job.ID, systemPrompt, userPrompt)
	if err != nil {
		return models.JobResult{}, "ai_error", err
	}

	resp := service.ParseStoryResponse(rawText)

	language := params.Language
	if language == "" {
		language = "English"
	}
	level := models.LevelByValue(params.Level)
	if params.LevelLabel != "" {
		if l, ok := models.LevelByLabel(params.LevelLabel); ok {
			level = l
		}
	}

	now := time.Now().UTC()
	story := &models.Story{
		ID:               uuid.New(),
		UserID:           job.UserID,
		Title:            deriveTitle(params),
		Genre:            params.Genre,
		Language:         language,
		Goal:             params.Goal,
		Lesson:           params.Lesson,
		UserLevel:        level.Label,
		FullStory:        resp.Content,
		NarrativeContext: resp.NarrativeContext,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := h.stories.Create(ctx, story); err != nil {
		return models.JobResult{}, "store_error", err
	}

	part := &models.StoryPart{
		ID:                  uuid.New(),
		StoryID:             story.ID,
		PartNumber:          1,
		Content:             resp.Content,
		SuggestedChoices:    resp.Options,
		VocabularyHighlight: resp.VocabularyHighlight,
		IsUserInput:         false,
		CreatedAt:           now,
	}
	if err := h.parts.Create(ctx, part); err != nil {
		return models.JobResult{}, "store_error", err
	}

	return models.JobResult{StoryID: story.ID}, "", nil
}

// processContinue выполняет один ход продолжения истории.
// Разрешение выбора записывается на предыдущую часть ДО генерации: крах
// после генерации, но до этой записи, оставил бы ход без зафиксированного
// триггера.
func (h *JobHandler) processContinue(ctx context.Context, job *models.Job) (models.JobResult, string, error) {
	params, err := job.ContinueParams()
	if err != nil {
		return models.JobResult{}, "params_invalid", err
	}
	if err := params.Validate(); err != nil {
		return models.JobResult{}, "params_invalid", err
	}

	story, err := h.stories.GetByID(ctx, params.StoryID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.JobResult{}, "story_not_found", fmt.Errorf("история %s не найдена", params.StoryID)
		}
		return models.JobResult{}, "store_error", err
	}

	lastPart, err := h.parts.GetLastPart(ctx, story.ID)
	if err != nil {
		if errors.Is(err, models.ErrStoryHasNoParts) {
			return models.JobResult{}, "story_has_no_parts", fmt.Errorf("история %s не имеет частей, продолжение невозможно", story.ID)
		}
		return models.JobResult{}, "store_error", err
	}

	// Шаг 1: записываем на предыдущую часть, чем вызван этот ход.
	// Текст выбранного варианта восстанавливается из options самой части,
	// а не берётся от клиента: устаревший клиент не должен портить историю
	// текстом, не совпадающим с индексом.
	isCustom := params.Type == models.TurnTypeCustom
	var direction string
	var choiceIndex *int
	var choiceText *string
	var customInput *string

	if isCustom {
		direction = *params.UserDirection
		customInput = params.UserDirection
	} else {
		idx := *params.SelectedChoiceIndex
		if idx < 0 || idx >= len(lastPart.SuggestedChoices) {
			return models.JobResult{}, "params_invalid", fmt.Errorf(
				"%w: selected_choice_index=%d вне диапазона options (len=%d)",
				models.ErrValidation, idx, len(lastPart.SuggestedChoices))
		}
		text := lastPart.SuggestedChoices[idx]
		direction = text
		choiceIndex = &idx
		choiceText = &text
	}

	err = h.parts.AttachResolution(ctx, lastPart.ID, story.ID, lastPart.PartNumber, choiceIndex, choiceText, customInput)
	if err != nil {
		if errors.Is(err, models.ErrPartConflict) {
			return models.JobResult{}, "part_conflict", fmt.Errorf(
				"часть %d истории %s уже не последняя: конкурентный ход", lastPart.PartNumber, story.ID)
		}
		return models.JobResult{}, "store_error", err
	}

	// Шаг 2: ограниченный контекст. Авторитетная память — та, что лежит на
	// строке истории; клиентская копия из параметров — только запасное зерно.
	memory := story.NarrativeContext
	if (memory == nil || memory.IsEmpty()) && params.NarrativeContext != nil {
		memory = params.NarrativeContext
	}

	allParts, err := h.parts.ListByStory(ctx, story.ID)
	if err != nil {
		return models.JobResult{}, "store_error", err
	}
	storyCtx := service.ComposeContext(allParts, memory)
	if storyCtx.Truncated {
		log.Printf("[JobID: %s] Контекст истории %s обрезан до %d символов", job.ID, story.ID, service.TailTextLimit)
	}

	nativeLanguage := h.nativeLanguage(ctx, job.UserID)

	// Шаги 3-4: генерация и разбор
	systemPrompt := service.BuildContinueSystemPrompt(story, direction, isCustom, nativeLanguage)
	userPrompt := service.BuildContinueUserPrompt(storyCtx, direction, isCustom)

	rawText, err := h.generateWithRetry(ctx, job.ID, systemPrompt, userPrompt)
	if err != nil {
		return models.JobResult{}, "ai_error", err
	}
	resp := service.ParseStoryResponse(rawText)

	// Шаг 5: новая часть со следующим порядковым номером
	newPart := &models.StoryPart{
		ID:                  uuid.New(),
		StoryID:             story.ID,
		PartNumber:          lastPart.PartNumber + 1,
		Content:             resp.Content,
		SuggestedChoices:    resp.Options,
		UserCustomInput:     customInput,
		Correction:          resp.Correction,
		VocabularyHighlight: resp.VocabularyHighlight,
		IsUserInput:         false,
		CreatedAt:           time.Now().UTC(),
	}
	if err := h.parts.Create(ctx, newPart); err != nil {
		if errors.Is(err, models.ErrPartConflict) {
			return models.JobResult{}, "part_conflict", fmt.Errorf(
				"часть %d истории %s уже существует: конкурентный ход", newPart.PartNumber, story.ID)
		}
		return models.JobResult{}, "store_error", err
	}

	// Шаг 6: полный текст — производное состояние, пересобираем из
	// упорядоченных частей вместо независимого наращивания
	fullStory := rebuildFullStory(append(allParts, newPart))
	newMemory := story.NarrativeContext
	if resp.NarrativeContext != nil {
		newMemory = resp.NarrativeContext
	}
	if err := h.stories.UpdateAfterTurn(ctx, story.ID, fullStory, newMemory); err != nil {
		return models.JobResult{}, "store_error", err
	}

	return models.JobResult{StoryID: story.ID}, "", nil
}

// generateWithRetry вызывает AI провайдера с ограниченным числом попыток
// и экспоненциальной задержкой с джиттером между ними.
func (h *JobHandler) generateWithRetry(ctx context.Context, jobID uuid.UUID, systemPrompt, userPrompt string) (string, error) {
	baseDelay := h.cfg.AIBaseRetryDelay
	var lastErr error

	for attempt := 1; attempt <= h.cfg.AIMaxAttempts; attempt++ {
		log.Printf("[JobID: %s] Вызов AI API (Попытка %d/%d)...", jobID, attempt, h.cfg.AIMaxAttempts)
		callCtx, cancel := context.WithTimeout(ctx, h.cfg.AITimeout)
		rawText, usage, err := h.aiClient.GenerateText(callCtx, systemPrompt, userPrompt,
			service.GenerationParams{Temperature: float64Ptr(0.8)})
		cancel()

		if err == nil {
			log.Printf("[JobID: %s] AI ответил (Попытка %d). Tokens: P=%d, C=%d. Cost: %.6f USD",
				jobID, attempt, usage.PromptTokens, usage.CompletionTokens, usage.EstimatedCostUSD)
			return rawText, nil
		}

		lastErr = err
		log.Printf("[JobID: %s] Ошибка вызова AI API (Попытка %d/%d): %v", jobID, attempt, h.cfg.AIMaxAttempts, err)

		if attempt == h.cfg.AIMaxAttempts {
			break
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		delay := float64(baseDelay) * math.Pow(2, float64(attempt-1))
		jitter := delay * 0.1
		delay += jitter * (rand.Float64()*2 - 1)
		waitDuration := time.Duration(delay)
		if waitDuration < baseDelay {
			waitDuration = baseDelay
		}
		log.Printf("[JobID: %s] Ожидание %v перед следующей попыткой...", jobID, waitDuration)
		select {
		case <-time.After(waitDuration):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	return "", fmt.Errorf("AI API не ответил после %d попыток: %w", h.cfg.AIMaxAttempts, lastErr)
}

// notify публикует актуальный статус задачи в push-канал. Ошибка доставки
// не влияет на результат обработки: слушатель доберёт статус поллингом.
func (h *JobHandler) notify(ctx context.Context, jobID uuid.UUID) {
	if h.notifier == nil {
		return
	}
	job, err := h.jobs.GetByID(ctx, jobID)
	if err != nil {
		log.Printf("[JobID: %s] Не удалось прочитать задачу для уведомления: %v", jobID, err)
		return
	}
	if err := h.notifier.NotifyJobUpdate(ctx, job.StatusView()); err != nil {
		log.Printf("[JobID: %s] Ошибка отправки push-уведомления: %v", jobID, err)
	}
}

// nativeLanguage возвращает родной язык владельца задачи для подсказок
// словаря; при любой ошибке — пустая строка, подсказка просто опускается.
func (h *JobHandler) nativeLanguage(ctx context.Context, userID uuid.UUID) string {
	lang, err := h.users.GetNativeLanguage(ctx, userID)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			log.Printf("[UserID: %s] Не удалось получить родной язык пользователя: %v", userID, err)
		}
		return ""
	}
	return lang
}

// rebuildFullStory пересобирает полный текст истории из упорядоченных частей.
func rebuildFullStory(parts []*models.StoryPart) string {
	contents := make([]string, 0, len(parts))
	for _, p := range parts {
		contents = append(contents, p.Content)
	}
	return strings.Join(contents, "\n\n")
}

// deriveTitle формирует заголовок новой истории из её параметров.
func deriveTitle(params *models.StartStoryParams) string {
	premise := strings.TrimSpace(params.Premise)
	if premise != "" {
		runes := []rune(premise)
		if len(runes) > 60 {
			return string(runes[:57]) + "..."
		}
		return premise
	}
	return fmt.Sprintf("A %s story", params.Genre)
}

// float64Ptr возвращает указатель на float64
func float64Ptr(f float64) *float64 {
	return &f
}
