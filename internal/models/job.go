package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobKind определяет тип фоновой задачи генерации.
type JobKind string

const (
	JobKindStartStory    JobKind = "generate_start"
	JobKindContinueStory JobKind = "continue_story"
)

// JobStatus описывает состояние задачи в её жизненном цикле.
// Переходы строго односторонние: pending -> processing -> {completed | failed}.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal возвращает true, если статус финальный и больше не изменится.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransitionTo проверяет допустимость перехода статуса.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusProcessing
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

// JobResult — результат успешно завершённой задачи.
type JobResult struct {
	StoryID uuid.UUID `json:"story_id"`
}

// Job представляет единицу отложенной работы генерации.
// Params хранится как JSON и декодируется по Kind (tagged union).
type Job struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	UserID    uuid.UUID       `json:"user_id" db:"user_id"`
	Kind      JobKind         `json:"type" db:"kind"`
	Params    json.RawMessage `json:"params" db:"params"`
	Status    JobStatus       `json:"status" db:"status"`
	Result    *JobResult      `json:"result,omitempty" db:"result"`
	Error     *string         `json:"error,omitempty" db:"error"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// StartStoryParams — параметры задачи JobKindStartStory.
type StartStoryParams struct {
	Genre      string `json:"genre"`
	Language   string `json:"language"`
	Goal       string `json:"goal,omitempty"`
	Lesson     string `json:"lesson,omitempty"`
	Premise    string `json:"premise,omitempty"`
	Level      int    `json:"level"`
	LevelLabel string `json:"level_label"`
}

// TurnType описывает, чем был вызван ход продолжения истории.
type TurnType string

const (
	// TurnTypeAI — игрок выбрал один из предложенных вариантов.
	TurnTypeAI TurnType = "ai"
	// TurnTypeCustom — игрок ввёл собственное направление текстом.
	TurnTypeCustom TurnType = "custom"
)

// ContinueStoryParams — параметры задачи JobKindContinueStory.
// SelectedChoiceIndex и UserDirection взаимоисключающие: индекс для type=ai,
// свободный текст для type=custom. Текст выбранного варианта воркер
// восстанавливает по индексу из предыдущей части, а не доверяет клиенту.
type ContinueStoryParams struct {
	StoryID             uuid.UUID         `json:"story_id"`
	Type                TurnType          `json:"type"`
	SelectedChoiceIndex *int              `json:"selected_choice_index,omitempty"`
	UserDirection       *string           `json:"user_direction,omitempty"`
	ContextSummary      string            `json:"context_summary,omitempty"`
	NarrativeContext    *NarrativeContext `json:"narrative_context,omitempty"`
}

// StartParams декодирует Params как StartStoryParams.
func (j *Job) StartParams() (*StartStoryParams, error) {
	if j.Kind != JobKindStartStory {
		return nil, fmt.Errorf("job %s: ожидался kind=%s, получен %s", j.ID, JobKindStartStory, j.Kind)
	}
	var p StartStoryParams
	if err := json.Unmarshal(j.Params, &p); err != nil {
		return nil, fmt.Errorf("job %s: ошибка декодирования параметров: %w", j.ID, err)
	}
	return &p, nil
}

// ContinueParams декодирует Params как ContinueStoryParams.
func (j *Job) ContinueParams() (*ContinueStoryParams, error) {
	if j.Kind != JobKindContinueStory {
		return nil, fmt.Errorf("job %s: ожидался kind=%s, получен %s", j.ID, JobKindContinueStory, j.Kind)
	}
	var p ContinueStoryParams
	if err := json.Unmarshal(j.Params, &p); err != nil {
		return nil, fmt.Errorf("job %s: ошибка декодирования параметров: %w", j.ID, err)
	}
	return &p, nil
}

// Validate проверяет обязательные поля параметров до постановки задачи.
func (p *StartStoryParams) Validate() error {
	if p.Genre == "" {
		return fmt.Errorf("%w: genre обязателен", ErrValidation)
	}
	if p.Level < 0 || p.Level > 6 {
		return fmt.Errorf("%w: level должен быть в диапазоне 1-6", ErrValidation)
	}
	return nil
}

// Validate проверяет согласованность параметров продолжения.
func (p *ContinueStoryParams) Validate() error {
	if p.StoryID == uuid.Nil {
		return fmt.Errorf("%w: story_id обязателен", ErrValidation)
	}
	switch p.Type {
	case TurnTypeAI:
		if p.SelectedChoiceIndex == nil {
			return fmt.Errorf("%w: selected_choice_index обязателен для type=ai", ErrValidation)
		}
	case TurnTypeCustom:
		if p.UserDirection == nil || *p.UserDirection == "" {
			return fmt.Errorf("%w: user_direction обязателен для type=custom", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: неизвестный тип хода '%s'", ErrValidation, p.Type)
	}
	return nil
}

// JobStatusView — контракт статуса задачи, видимый клиенту (Job Listener).
type JobStatusView struct {
	ID     uuid.UUID  `json:"id"`
	Status JobStatus  `json:"status"`
	Result *JobResult `json:"result"`
	Error  *string    `json:"error"`
}

// StatusView возвращает клиентскую проекцию задачи.
func (j *Job) StatusView() JobStatusView {
	return JobStatusView{ID: j.ID, Status: j.Status, Result: j.Result, Error: j.Error}
}
