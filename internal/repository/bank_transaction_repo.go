package repository

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"society-ledger-backend/internal/models"
	"society-ledger-backend/internal/services/apportion"
)

type BankTransactionRepository struct {
	db *gorm.DB
}

func NewBankTransactionRepository(db *gorm.DB) *BankTransactionRepository {
	return &BankTransactionRepository{db: db}
}

// Expose DB if needed
func (r *BankTransactionRepository) DB() *gorm.DB {
	return r.db
}

// ExistsByMessageID reports whether any row for the source message has been
// persisted already. Used to make re-ingestion a no-op.
func (r *BankTransactionRepository) ExistsByMessageID(messageID string) (bool, error) {
	var count int64
	err := r.db.Model(&models.BankTransaction{}).
		Where("message_id = ?", messageID).
		Count(&count).Error
	return count > 0, err
}

// Upsert inserts the row unless its (message_id, unit_id) pair already
// exists, in which case the existing row wins.
func (r *BankTransactionRepository) Upsert(tx *models.BankTransaction) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}, {Name: "unit_id"}},
		DoNothing: true,
	}).Create(tx).Error
}

// SaveAllocations persists the fan-out rows of one credit and the ledger
// effects they carry in a single transaction. All-or-nothing: if any write
// fails, no ledger state changes, so reprocessing the message after a failed
// run cannot double-apply dues or leave orphaned ledger entries.
func (r *BankTransactionRepository) SaveAllocations(rows []models.BankTransaction, allocs []apportion.Allocation) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		for i := range rows {
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "message_id"}, {Name: "unit_id"}},
				DoNothing: true,
			}).Create(&rows[i]).Error; err != nil {
				return err
			}
		}
		for _, a := range allocs {
			if a.SinkingSettled {
				if err := markSinkingPaid(tx, a.Unit.UnitID); err != nil {
					return err
				}
			}
			if a.Maintenance.IsPositive() {
				if err := addMaintenancePaid(tx, a.Unit.UnitID, a.Period, a.Maintenance); err != nil {
					return err
				}
			}
			if a.Interest.IsPositive() {
				rec := &models.InterestRecord{
					ID:                  uuid.New(),
					UnitID:              a.Unit.UnitID,
					OwnerName:           a.Owner,
					Amount:              a.Interest,
					PeriodLabel:         a.Period,
					SourceTransactionID: a.TransactionID,
				}
				if err := addInterest(tx, rec); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// ListByMonth returns transactions inside the given month. Zero month/year
// means no date filter.
func (r *BankTransactionRepository) ListByMonth(month time.Month, year int) ([]models.BankTransaction, error) {
	var txs []models.BankTransaction
	query := r.db.Order("transaction_date ASC")
	if year != 0 && month != 0 {
		start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
		query = query.Where("transaction_date >= ? AND transaction_date < ?", start, start.AddDate(0, 1, 0))
	}
	err := query.Find(&txs).Error
	return txs, err
}

// ListUnmapped returns credit rows that could not be attributed to a unit,
// for manual admin reconciliation.
func (r *BankTransactionRepository) ListUnmapped() ([]models.BankTransaction, error) {
	var txs []models.BankTransaction
	err := r.db.
		Where("unit_id = ? AND direction = ?", "", models.DirectionCredit).
		Order("transaction_date DESC").
		Find(&txs).Error
	return txs, err
}
