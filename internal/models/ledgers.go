package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SinkingFundEntry tracks the one-time sinking-fund contribution per unit.
type SinkingFundEntry struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey"`
	UnitID        string          `gorm:"uniqueIndex"`
	Paid          bool            `gorm:"index"`
	PendingAmount decimal.Decimal `gorm:"type:decimal(14,2)"`
	UpdatedAt     time.Time
}

// MaintenanceLedger accumulates maintenance paid per unit per billing period,
// so a second payment in the same month only covers what is still outstanding.
type MaintenanceLedger struct {
	ID         uuid.UUID       `gorm:"type:uuid;primaryKey"`
	UnitID     string          `gorm:"uniqueIndex:idx_unit_period"`
	Period     string          `gorm:"uniqueIndex:idx_unit_period"`
	PaidAmount decimal.Decimal `gorm:"type:decimal(14,2)"`
	UpdatedAt  time.Time
}

// InterestRecord is an append-only record of the amount left over after a
// unit's sinking-fund and maintenance dues are satisfied by a payment.
type InterestRecord struct {
	ID                  uuid.UUID       `gorm:"type:uuid;primaryKey"`
	UnitID              string          `gorm:"index"`
	OwnerName           string
	Amount              decimal.Decimal `gorm:"type:decimal(14,2)"`
	PeriodLabel         string          `gorm:"index"`
	SourceTransactionID uuid.UUID
	CreatedAt           time.Time
}
