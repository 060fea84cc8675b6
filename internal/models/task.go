package models

import "time"

// TaskStatus represents the state of a catalog or object task
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	// TaskStatusInvalid marks listings removed by the marketplace
	TaskStatusInvalid TaskStatus = "invalid"
)

// CatalogTask is a unit of catalog-parse work for one articulum.
// CheckpointPage records pagination progress so an interrupted parse
// resumes where it left off instead of from page one.
type CatalogTask struct {
	ID             int64      `json:"id"`
	ArticulumID    int64      `json:"articulum_id"`
	Articulum      string     `json:"articulum"` // Joined from articulums on acquire
	Status         TaskStatus `json:"status"`
	CheckpointPage int        `json:"checkpoint_page"`
	WorkerID       string     `json:"worker_id,omitempty"`
	HeartbeatAt    *time.Time `json:"heartbeat_at,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ObjectTask is a unit of detail-parse work for one listing of an articulum.
type ObjectTask struct {
	ID           int64      `json:"id"`
	ArticulumID  int64      `json:"articulum_id"`
	Articulum    string     `json:"articulum"` // Joined from articulums on acquire
	AvitoItemID  string     `json:"avito_item_id"`
	Status       TaskStatus `json:"status"`
	WorkerID     string     `json:"worker_id,omitempty"`
	HeartbeatAt  *time.Time `json:"heartbeat_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
