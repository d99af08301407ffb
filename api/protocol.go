package api

import "prism-events/domain"

const (
	defaultMaxEventBytes = 64 * 1024 // 64 KiB

	HeaderIdempotencyKey = "Idempotency-Key"
)

// POST /api/events response body
type postEventsResponse struct {
	RequestID string `json:"requestId"`
	Received  int    `json:"received"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// GET /api/events response body
type eventsResponse struct {
	Events []domain.Event `json:"events"`
	Count  int            `json:"count"`
}

// GET /api/tasks response body
type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}
