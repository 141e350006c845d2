package repository

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"society-ledger-backend/internal/models"
)

// checkpointRow pins the single SyncCheckpoint record.
const checkpointRow = 1

type SyncRepository struct {
	db *gorm.DB
}

func NewSyncRepository(db *gorm.DB) *SyncRepository {
	return &SyncRepository{db: db}
}

func (r *SyncRepository) DB() *gorm.DB {
	return r.db
}

// Checkpoint returns the stored mail cursor, or nil when none exists yet
// (which triggers backfill mode).
func (r *SyncRepository) Checkpoint() (*models.SyncCheckpoint, error) {
	var cp models.SyncCheckpoint
	err := r.db.First(&cp, "id = ?", checkpointRow).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// SaveCheckpoint persists the cursor, creating the row on first use.
func (r *SyncRepository) SaveCheckpoint(cursor string) error {
	cp := models.SyncCheckpoint{
		ID:            checkpointRow,
		LastHistoryID: cursor,
		UpdatedAt:     time.Now(),
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_history_id", "updated_at"}),
	}).Create(&cp).Error
}

// RecordRun appends a run log entry.
func (r *SyncRepository) RecordRun(run *models.SyncRunLog) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	return r.db.Create(run).Error
}
