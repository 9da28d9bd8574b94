package service

import (
	"strings"

	"tale-server/internal/models"
)

// TailTextLimit — бюджет символов на хвост полного текста истории,
// передаваемый провайдеру как краткосрочный контекст. Ограничивает стоимость
// и латентность промпта независимо от длины истории.
const TailTextLimit = 20000

// truncationMarker помечает обрезанное начало хвоста в промпте.
const truncationMarker = "..."

// StoryContext — ограниченный по размеру контекст для одного хода:
// компактная память повествования плюс хвост сырого текста.
type StoryContext struct {
	// Memory передаётся провайдеру целиком, без усечения: объект
	// намеренно мал и являет собой долгосрочную память истории.
	Memory *models.NarrativeContext
	// TailText — суффикс конкатенации всех частей, не длиннее TailTextLimit.
	TailText string
	// Truncated — true, если начало истории не вошло в бюджет.
	Truncated bool
}

// ComposeContext собирает ограниченный контекст из упорядоченных частей
// истории и актуальной памяти повествования.
func ComposeContext(parts []*models.StoryPart, memory *models.NarrativeContext) *StoryContext {
	contents := make([]string, 0, len(parts))
	for _, p := range parts {
		contents = append(contents, p.Content)
	}
	full := strings.Join(contents, "\n\n")

	tail, truncated := boundedTail(full, TailTextLimit)
	return &StoryContext{
		Memory:    memory,
		TailText:  tail,
		Truncated: truncated,
	}
}

// Summary возвращает хвост текста для промпта, с маркером обрезки в начале,
// если история не поместилась целиком.
func (c *StoryContext) Summary() string {
	if c.TailText == "" {
		return "Start of story."
	}
	if c.Truncated {
		return truncationMarker + c.TailText
	}
	return c.TailText
}

// boundedTail возвращает суффикс строки длиной не более limit символов.
func boundedTail(s string, limit int) (string, bool) {
	runes := []rune(s)
	if len(runes) <= limit {
		return s, false
	}
	return string(runes[len(runes)-limit:]), true
}
