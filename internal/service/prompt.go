package service

import (
	"encoding/json"
	"fmt"
	"strings"

	"tale-server/internal/models"
)

// Промпты написаны на английском: это инструкции модели, а не пользовательский
// текст. Формат ответа — STRICT JSON по схеме StoryResponse.

// responseSchemaBlock описывает модели требуемый формат ответа.
func responseSchemaBlock(nativeLanguage string) string {
	nativeLangInfo := ""
	if nativeLanguage != "" {
		nativeLangInfo = fmt.Sprintf(" (Definitions in %s)", nativeLanguage)
	}
	return fmt.Sprintf(`1. OUTPUT FORMAT: STRICT JSON. Do not write markdown.
   Format: {
     "content": "Story text...",
     "options": ["Choice 1", "Choice 2", "Choice 3"],
     "narrative_context": {
        "characters": [{ "name": "...", "role": "...", "status": "..." }],
        "current_location": "...",
        "key_items": [],
        "open_plot_points": []
     },
     "correction": "String (optional correction if user input has errors, else null)",
     "vocabulary_highlight": { "word": "definition" } (Object with 1-3 notable words from YOUR GENERATED CONTENT and their brief definitions%s)
   }`, nativeLangInfo)
}

// levelBlock переводит уровень CEFR в требования к тексту.
func levelBlock(level models.LevelSpec, ruleNo int) string {
	return fmt.Sprintf(`%d. Write specifically between %d and %d words.
%d. Structure: %s.
%d. Complexity (%s, %s): %s`,
		ruleNo, level.MinWords, level.MaxWords,
		ruleNo+1, level.Paragraphs,
		ruleNo+2, level.Label, level.Name, level.StyleGuide)
}

// BuildStartSystemPrompt строит системный промпт для начала новой истории.
func BuildStartSystemPrompt(params *models.StartStoryParams, nativeLanguage string) string {
	language := params.Language
	if language == "" {
		language = "English"
	}
	level := resolveLevel(params.Level, params.LevelLabel)

	var sb strings.Builder
	fmt.Fprintf(&sb, "You are a professional storyteller writing a %s story in %s.\nRULES:\n", params.Genre, language)
	sb.WriteString(responseSchemaBlock(nativeLanguage))
	sb.WriteString("\n")
	sb.WriteString(levelBlock(level, 2))
	sb.WriteString("\n5. Content: START the story immediately with action or dialogue.")
	fmt.Fprintf(&sb, "\n6. Language: Write ONLY in %s.", language)
	sb.WriteString("\n7. Options: Provide 3 short, intriguing plot directions for what happens NEXT (max 10 words each) in the Target Language.")
	if params.Goal != "" {
		fmt.Fprintf(&sb, "\n8. Goal: The characters should aim for: '%s'", params.Goal)
	}
	if params.Lesson != "" {
		fmt.Fprintf(&sb, "\n9. Theme: Incorporate the theme: '%s'", params.Lesson)
	}
	return sb.String()
}

// BuildStartUserPrompt строит пользовательский промпт для начала истории.
func BuildStartUserPrompt(params *models.StartStoryParams) string {
	level := resolveLevel(params.Level, params.LevelLabel)
	prompt := fmt.Sprintf("Write the beginning of my %s story. Ensure it is at least %d words long.", params.Genre, level.MinWords)
	if params.Premise != "" {
		prompt += fmt.Sprintf(" Premise: %s", params.Premise)
	}
	return prompt
}

// BuildContinueSystemPrompt строит системный промпт продолжения истории.
// Для свободного текстового ввода (isCustom) добавляется блок анализа
// ошибок: модель обязана вернуть correction при грамматических ошибках.
func BuildContinueSystemPrompt(story *models.Story, direction string, isCustom bool, nativeLanguage string) string {
	level := resolveLevelLabel(story.UserLevel)

	var sb strings.Builder
	sb.WriteString("You are a professional storyteller and language tutor.\nRULES:\n")
	sb.WriteString(responseSchemaBlock(nativeLanguage))
	sb.WriteString("\n2. MEMORY: Use the provided 'narrative_context' to maintain continuity.")
	sb.WriteString("\n   - If a character's status changes (e.g., becomes angry), UPDATE it in the returned JSON.")
	sb.WriteString("\n   - If the location changes, UPDATE 'current_location'.")
	sb.WriteString("\n")
	sb.WriteString(levelBlock(level, 3))
	sb.WriteString("\n6. Content: Continue the plot logically.")
	fmt.Fprintf(&sb, "\n7. Language: Write ONLY in %s.", story.Language)
	sb.WriteString("\n8. Options: Provide 3 short, intriguing plot directions for what happens NEXT (max 10 words each) in the Target Language.")
	if isCustom {
		fmt.Fprintf(&sb, `
9. USER INPUT ANALYSIS:
   - The user wrote: "%s"
   - Use this input to drive the story action.
   - Analyze their input for grammar/spelling errors.
   - If there are errors, provide a polite, helpful correction in the 'correction' field.
   - If no errors, 'correction' should be null.`, direction)
	}
	return sb.String()
}

// BuildContinueUserPrompt строит пользовательский промпт продолжения:
// текущая память повествования плюс ограниченный хвост текста.
func BuildContinueUserPrompt(storyCtx *StoryContext, direction string, isCustom bool) string {
	memoryJSON := "{}"
	if !storyCtx.Memory.IsEmpty() {
		if data, err := json.Marshal(storyCtx.Memory); err == nil {
			memoryJSON = string(data)
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "CURRENT NARRATIVE CONTEXT: %s\n", memoryJSON)
	fmt.Fprintf(&sb, "STORY SO FAR: %s\n\n", storyCtx.Summary())
	sb.WriteString("Continue the story now.")
	if direction != "" {
		if isCustom {
			fmt.Fprintf(&sb, " Specifically following this direction: %s", direction)
		} else {
			fmt.Fprintf(&sb, " The reader chose: %s", direction)
		}
	}
	return sb.String()
}

// resolveLevel находит LevelSpec по числовому значению с приоритетом метки.
func resolveLevel(value int, label string) models.LevelSpec {
	if label != "" {
		if l, ok := models.LevelByLabel(label); ok {
			return l
		}
	}
	return models.LevelByValue(value)
}

func resolveLevelLabel(label string) models.LevelSpec {
	if l, ok := models.LevelByLabel(label); ok {
		return l
	}
	return models.LevelByValue(0)
}
