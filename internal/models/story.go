package models

import (
	"time"

	"github.com/google/uuid"
)

// Story — верхнеуровневый контейнер повествования.
// FullStory — производное состояние: пересобирается из упорядоченных частей
// после каждого хода, а не наращивается независимо.
type Story struct {
	ID               uuid.UUID         `json:"id" db:"id"`
	UserID           uuid.UUID         `json:"user_id" db:"user_id"`
	Title            string            `json:"title" db:"title"`
	Genre            string            `json:"genre" db:"genre"`
	Language         string            `json:"language" db:"language"`
	Goal             string            `json:"goal,omitempty" db:"goal"`
	Lesson           string            `json:"lesson,omitempty" db:"lesson"`
	UserLevel        string            `json:"user_level" db:"user_level"`
	FullStory        string            `json:"full_story" db:"full_story"`
	NarrativeContext *NarrativeContext `json:"narrative_context,omitempty" db:"narrative_context"`
	IsCompleted      bool              `json:"is_completed" db:"is_completed"`
	IsPublished      bool              `json:"is_published" db:"is_published"`
	CreatedAt        time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at" db:"updated_at"`
}

// StoryPart — один ход повествования, append-only, упорядочен по PartNumber.
// SelectedChoiceIndex и UserCustomInput фиксируют, чем был вызван СЛЕДУЮЩИЙ
// ход; записываются ровно один раз перед генерацией продолжения и после
// этого неизменяемы.
type StoryPart struct {
	ID                  uuid.UUID         `json:"id" db:"id"`
	StoryID             uuid.UUID         `json:"story_id" db:"story_id"`
	PartNumber          int               `json:"part_number" db:"part_number"`
	Content             string            `json:"content" db:"content"`
	SuggestedChoices    []string          `json:"suggested_choices" db:"suggested_choices"`
	SelectedChoiceIndex *int              `json:"selected_choice_index,omitempty" db:"selected_choice_index"`
	SelectedChoice      *string           `json:"selected_choice,omitempty" db:"selected_choice"`
	UserCustomInput     *string           `json:"user_custom_input,omitempty" db:"user_custom_input"`
	Correction          *string           `json:"correction,omitempty" db:"correction"`
	VocabularyHighlight map[string]string `json:"vocabulary_highlight,omitempty" db:"vocabulary_highlight"`
	IsUserInput         bool              `json:"is_user_input" db:"is_user_input"`
	CreatedAt           time.Time         `json:"created_at" db:"created_at"`
}
