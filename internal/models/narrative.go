package models

// NarrativeCharacter — персонаж в памяти повествования.
type NarrativeCharacter struct {
	Name   string `json:"name"`
	Role   string `json:"role,omitempty"`
	Status string `json:"status,omitempty"`
}

// NarrativeContext — компактная семантическая память истории, передаваемая
// между ходами. Заменяется целиком на каждом успешном ходе: объединение
// старого и нового состояния — ответственность AI провайдера, не вызывающего
// кода.
type NarrativeContext struct {
	Characters      []NarrativeCharacter `json:"characters,omitempty"`
	CurrentLocation string               `json:"current_location,omitempty"`
	KeyItems        []string             `json:"key_items,omitempty"`
	OpenPlotPoints  []string             `json:"open_plot_points,omitempty"`
}

// IsEmpty возвращает true, если память не содержит ни одного факта.
func (nc *NarrativeContext) IsEmpty() bool {
	if nc == nil {
		return true
	}
	return len(nc.Characters) == 0 && nc.CurrentLocation == "" &&
		len(nc.KeyItems) == 0 && len(nc.OpenPlotPoints) == 0
}
