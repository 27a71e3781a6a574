package models

import "encoding/json"

// QueueOp is the operation a sync queue entry retries.
type QueueOp string

const (
	QueueUpload   QueueOp = "upload"
	QueueDownload QueueOp = "download"
	QueueDelete   QueueOp = "delete"
)

// QueueStatus is the lifecycle state of a queue entry.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueInProgress QueueStatus = "in_progress"
	QueueFailed     QueueStatus = "failed"
	QueueCompleted  QueueStatus = "completed"
)

// SyncQueueEntry is a deferred remote operation with retry state.
type SyncQueueEntry struct {
	ID          string          `json:"id"`
	Operation   QueueOp         `json:"operation"`
	Payload     json.RawMessage `json:"payload"`
	RetryCount  int             `json:"retryCount"`
	MaxRetries  int             `json:"maxRetries"`
	NextRetryAt int64           `json:"nextRetryAt"`
	Status      QueueStatus     `json:"status"`
	LastError   string          `json:"lastError,omitempty"`
	CreatedAt   int64           `json:"createdAt"`
	UpdatedAt   int64           `json:"updatedAt"`
}
