package repository

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"society-ledger-backend/internal/models"
)

// LedgerRepository is the read side of the dues state consulted while
// planning an apportionment. Ledger writes happen only inside
// BankTransactionRepository.SaveAllocations, in the same transaction as the
// rows they back.
type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) DB() *gorm.DB {
	return r.db
}

// SinkingPaid reports whether the unit's sinking-fund due is settled.
// A unit with no entry yet is unpaid.
func (r *LedgerRepository) SinkingPaid(unitID string) (bool, error) {
	var entry models.SinkingFundEntry
	err := r.db.First(&entry, "unit_id = ?", unitID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return entry.Paid, nil
}

// MaintenancePaid returns the maintenance amount already applied to the unit
// in the given period.
func (r *LedgerRepository) MaintenancePaid(unitID, period string) (decimal.Decimal, error) {
	var row models.MaintenanceLedger
	err := r.db.First(&row, "unit_id = ? AND period = ?", unitID, period).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return row.PaidAmount, nil
}

// InterestByPeriod lists interest records for a period label.
func (r *LedgerRepository) InterestByPeriod(period string) ([]models.InterestRecord, error) {
	var recs []models.InterestRecord
	err := r.db.Where("period_label = ?", period).Order("created_at ASC").Find(&recs).Error
	return recs, err
}

// write helpers shared with the transactional allocation save

func markSinkingPaid(tx *gorm.DB, unitID string) error {
	entry := models.SinkingFundEntry{
		ID:            uuid.New(),
		UnitID:        unitID,
		Paid:          true,
		PendingAmount: decimal.Zero,
		UpdatedAt:     time.Now(),
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "unit_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"paid", "pending_amount", "updated_at"}),
	}).Create(&entry).Error
}

func addMaintenancePaid(tx *gorm.DB, unitID, period string, amount decimal.Decimal) error {
	var row models.MaintenanceLedger
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&row, "unit_id = ? AND period = ?", unitID, period).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row = models.MaintenanceLedger{
			ID:         uuid.New(),
			UnitID:     unitID,
			Period:     period,
			PaidAmount: amount,
			UpdatedAt:  time.Now(),
		}
		return tx.Create(&row).Error
	}
	if err != nil {
		return err
	}
	row.PaidAmount = row.PaidAmount.Add(amount)
	row.UpdatedAt = time.Now()
	return tx.Save(&row).Error
}

func addInterest(tx *gorm.DB, rec *models.InterestRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	return tx.Create(rec).Error
}
