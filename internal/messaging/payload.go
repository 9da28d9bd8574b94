package messaging

import "github.com/google/uuid"

// GenerationJobPayload — триггер обработки задачи. Несёт только id:
// авторитетные параметры задачи воркер читает из БД, а не из сообщения,
// поэтому повторная доставка безопасна.
type GenerationJobPayload struct {
	JobID uuid.UUID `json:"job_id"`
}
