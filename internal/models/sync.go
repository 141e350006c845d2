package models

import (
	"time"

	"github.com/google/uuid"
)

// SyncCheckpoint is the single process-wide mail cursor. Absence of the row
// means the next ingestion run performs a full historical backfill.
type SyncCheckpoint struct {
	ID            uint   `gorm:"primaryKey"`
	LastHistoryID string
	UpdatedAt     time.Time
}

// Ingestion run modes and statuses.
const (
	RunModeBackfill    = "backfill"
	RunModeIncremental = "incremental"

	RunCompleted = "completed"
	RunFailed    = "failed"
)

// SyncRunLog records one ingestion run for operational visibility.
type SyncRunLog struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Mode         string
	MessagesSeen int
	Persisted    int
	Skipped      int
	Status       string `gorm:"index"`
	Error        string
	StartedAt    time.Time
	CompletedAt  time.Time
}
