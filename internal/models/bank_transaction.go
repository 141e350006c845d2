package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Direction values for BankTransaction.
const (
	DirectionCredit = "credit"
	DirectionDebit  = "debit"
)

// BankTransaction is one persisted ledger row. A single source email fans out
// into one row per allocated unit; the (message_id, unit_id) pair is unique so
// re-ingesting the same email is a no-op. Unallocated rows keep UnitID empty.
type BankTransaction struct {
	ID                uuid.UUID       `gorm:"type:uuid;primaryKey"`
	MessageID         string          `gorm:"uniqueIndex:idx_message_unit"`
	UnitID            string          `gorm:"uniqueIndex:idx_message_unit"`
	TransactionDate   time.Time       `gorm:"column:transaction_date;index"`
	Amount            decimal.Decimal `gorm:"type:decimal(14,2)"`
	Direction         string          `gorm:"index"`
	PayerName         string
	ResolvedOwnerName string
	Relationship      string
	VPA               string
	ReferenceNumber   string
	MatchStrategy     string
	ConfidenceScore   float64
	Narration         string `gorm:"size:512"`
	AllocationDetails datatypes.JSON
	CreatedAt         time.Time
}
