package models

// LevelSpec описывает требования к тексту для одного уровня CEFR:
// диапазон слов, количество абзацев и стилистические указания для промпта.
type LevelSpec struct {
	Value       int
	Label       string
	Name        string
	MinWords    int
	MaxWords    int
	Paragraphs  string
	StyleGuide  string
	Description string
}

// DifficultyLevels — таблица уровней сложности A1..C2.
// Диапазоны слов растут с уровнем: элементарный уровень получает короткий
// текст простыми предложениями, продвинутый — длинный литературный.
var DifficultyLevels = []LevelSpec{
	{
		Value: 1, Label: "A1", Name: "Beginner",
		MinWords: 100, MaxWords: 150, Paragraphs: "1-2 short paragraphs",
		StyleGuide:  "Use simple words and short sentences. Present tense where possible. Repeat key vocabulary.",
		Description: "Simple words, short sentences.",
	},
	{
		Value: 2, Label: "A2", Name: "Elementary",
		MinWords: 150, MaxWords: 200, Paragraphs: "2 paragraphs",
		StyleGuide:  "Everyday topics and basic descriptions. Common connectors (and, but, because).",
		Description: "Everyday topics, basic descriptions.",
	},
	{
		Value: 3, Label: "B1", Name: "Intermediate",
		MinWords: 200, MaxWords: 250, Paragraphs: "2 paragraphs",
		StyleGuide:  "Conversational, connected text. Mix of tenses, some idiomatic phrases.",
		Description: "Conversational, connected text.",
	},
	{
		Value: 4, Label: "B2", Name: "Upper Intermediate",
		MinWords: 250, MaxWords: 300, Paragraphs: "2-3 paragraphs",
		StyleGuide:  "Detailed text touching abstract topics. Varied sentence structure.",
		Description: "Detailed text, abstract topics.",
	},
	{
		Value: 5, Label: "C1", Name: "Advanced",
		MinWords: 300, MaxWords: 350, Paragraphs: "3 paragraphs",
		StyleGuide:  "Complex, well-structured, fluent prose. Nuanced vocabulary and subordinate clauses.",
		Description: "Complex, structured, fluent.",
	},
	{
		Value: 6, Label: "C2", Name: "Mastery",
		MinWords: 350, MaxWords: 400, Paragraphs: "3-4 paragraphs",
		StyleGuide:  "Sophisticated, nuanced, literary language. Rich imagery and precise word choice.",
		Description: "Sophisticated, nuanced, literary.",
	},
}

// LevelByValue возвращает уровень по числовому значению 1-6.
// Для неизвестного значения возвращается B1 как середина шкалы.
func LevelByValue(value int) LevelSpec {
	for _, l := range DifficultyLevels {
		if l.Value == value {
			return l
		}
	}
	return DifficultyLevels[2]
}

// LevelByLabel возвращает уровень по метке CEFR ("A1".."C2").
func LevelByLabel(label string) (LevelSpec, bool) {
	for _, l := range DifficultyLevels {
		if l.Label == label {
			return l, true
		}
	}
	return LevelSpec{}, false
}
