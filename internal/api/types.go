package api

import "github.com/rickgao/queuelink/internal/model"

// QueueResponse from GET /queue
type QueueResponse struct {
	Queue      []model.QueueEntry `json:"queue"`
	TotalCount int                `json:"total_count"`
}

// HealthResponse from GET /health
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}
