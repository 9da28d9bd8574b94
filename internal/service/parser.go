package service

import (
	"encoding/json"
	"log"
	"strings"

	"tale-server/internal/models"
)

// maxSuggestedChoices — максимум предлагаемых направлений следующего хода.
const maxSuggestedChoices = 3

// StoryResponse — структурированный ответ AI провайдера на один ход.
type StoryResponse struct {
	Content             string                   `json:"content"`
	Options             []string                 `json:"options"`
	NarrativeContext    *models.NarrativeContext `json:"narrative_context,omitempty"`
	Correction          *string                  `json:"correction,omitempty"`
	VocabularyHighlight map[string]string        `json:"vocabulary_highlight,omitempty"`
}

// ParseStoryResponse разбирает сырой текст ответа AI в StoryResponse.
// Никогда не возвращает ошибку: если текст не парсится как ожидаемая
// структура, весь сырой ответ становится content с пустыми options —
// рабочая генерация не выбрасывается из-за косметического несоответствия
// схеме.
func ParseStoryResponse(rawText string) *StoryResponse {
	cleaned := stripMarkdownFences(rawText)

	var parsed StoryResponse
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil || parsed.Content == "" {
		if err != nil {
			log.Printf("[parser] Ответ AI не является валидным JSON (длина %d): %v. Используем сырой текст как content.", len(rawText), err)
		} else {
			log.Printf("[parser] JSON ответа AI без поля content. Используем сырой текст как content.")
		}
		return &StoryResponse{
			Content: strings.TrimSpace(rawText),
			Options: []string{},
		}
	}

	if parsed.Options == nil {
		parsed.Options = []string{}
	}
	if len(parsed.Options) > maxSuggestedChoices {
		parsed.Options = parsed.Options[:maxSuggestedChoices]
	}
	// Пустая строка коррекции эквивалентна её отсутствию
	if parsed.Correction != nil && strings.TrimSpace(*parsed.Correction) == "" {
		parsed.Correction = nil
	}

	return &parsed
}

// stripMarkdownFences убирает обрамление ```json ... ``` вокруг ответа.
// Модели регулярно оборачивают JSON в markdown, несмотря на инструкции.
func stripMarkdownFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
