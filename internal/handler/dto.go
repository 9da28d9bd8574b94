package handler

import (
	"encoding/json"

	"github.com/google/uuid"

	"tale-server/internal/models"
)

// createJobRequest — тело POST /api/jobs. Params декодируются по Type
// (tagged union), их схема валидируется до записи задачи.
type createJobRequest struct {
	UserID uuid.UUID       `json:"user_id" binding:"required"`
	Type   models.JobKind  `json:"type" binding:"required"`
	Params json.RawMessage `json:"params" binding:"required"`
}

// createJobResponse — ответ на успешную постановку задачи.
type createJobResponse struct {
	ID     uuid.UUID        `json:"id"`
	Status models.JobStatus `json:"status"`
}

// storyPartsResponse — ответ GET /api/stories/:id/parts.
type storyPartsResponse struct {
	StoryID uuid.UUID           `json:"story_id"`
	Parts   []*models.StoryPart `json:"parts"`
}
