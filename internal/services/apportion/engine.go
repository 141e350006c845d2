package apportion

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"society-ledger-backend/internal/config"
	"society-ledger-backend/internal/models"
)

// Ledger is the dues state the engine reads while planning. The engine never
// writes: planned ledger effects travel on the Allocation and are committed
// together with the transaction rows, so a failed persist leaves no trace.
type Ledger interface {
	SinkingPaid(unitID string) (bool, error)
	MaintenancePaid(unitID, period string) (decimal.Decimal, error)
}

// Allocation is the engine's output for one unit: how much of the payment
// landed on it, how that slice breaks down into the three buckets, and the
// ledger effects to apply when the rows are persisted.
type Allocation struct {
	TransactionID uuid.UUID
	Unit          models.UnitMapping
	Owner         string
	Period        string
	Amount        decimal.Decimal
	Sinking       decimal.Decimal
	Maintenance   decimal.Decimal
	Interest      decimal.Decimal

	// SinkingSettled marks the unit's sinking fund paid on commit; set only
	// when the slice covers the due exactly.
	SinkingSettled bool
}

// Engine splits a credited amount across the payer's units and applies each
// slice to sinking fund, then maintenance, then interest.
type Engine struct {
	ledger Ledger
	rates  config.DuesRates
	log    zerolog.Logger
}

func NewEngine(ledger Ledger, rates config.DuesRates, log zerolog.Logger) *Engine {
	return &Engine{ledger: ledger, rates: rates, log: log}
}

// OwnedUnits returns the active units billable to owner, excluding units
// whose type has no established maintenance rate, ordered by unit id.
func OwnedUnits(owner string, mappings []models.UnitMapping, rates config.DuesRates) []models.UnitMapping {
	var owned []models.UnitMapping
	for _, m := range mappings {
		if m.Status != models.MappingActive {
			continue
		}
		if _, ok := rates.Maintenance[m.UnitType]; !ok {
			continue
		}
		for _, alias := range m.OwnerNames {
			if strings.EqualFold(alias, owner) {
				owned = append(owned, m)
				break
			}
		}
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i].UnitID < owned[j].UnitID })
	return owned
}

// Apportion splits amount equally across units and runs the dues waterfall
// per slice. The split is equal regardless of each unit's outstanding dues;
// remainder paise go to the first unit so the slices sum back exactly.
// occurredAt determines the billing period label (e.g. "Dec-2025").
func (e *Engine) Apportion(owner string, amount decimal.Decimal, occurredAt time.Time, units []models.UnitMapping) ([]Allocation, error) {
	if len(units) == 0 {
		return nil, nil
	}

	period := PeriodLabel(occurredAt)
	shares := splitEqually(amount, len(units))

	allocs := make([]Allocation, 0, len(units))
	for i, unit := range units {
		alloc, err := e.allocate(owner, unit, shares[i], period)
		if err != nil {
			return nil, err
		}
		allocs = append(allocs, alloc)
	}
	return allocs, nil
}

func (e *Engine) allocate(owner string, unit models.UnitMapping, share decimal.Decimal, period string) (Allocation, error) {
	alloc := Allocation{
		TransactionID: uuid.New(),
		Unit:          unit,
		Owner:         owner,
		Period:        period,
		Amount:        share,
		Sinking:       decimal.Zero,
		Maintenance:   decimal.Zero,
		Interest:      decimal.Zero,
	}
	remaining := share

	paid, err := e.ledger.SinkingPaid(unit.UnitID)
	if err != nil {
		return alloc, fmt.Errorf("sinking status for %s: %w", unit.UnitID, err)
	}
	if !paid {
		due := e.sinkingDue(unit.UnitType)
		take := decimal.Min(remaining, due)
		if take.IsPositive() {
			alloc.Sinking = take
			remaining = remaining.Sub(take)
			alloc.SinkingSettled = take.Equal(due)
		}
	}

	alreadyPaid, err := e.ledger.MaintenancePaid(unit.UnitID, period)
	if err != nil {
		return alloc, fmt.Errorf("maintenance ledger for %s: %w", unit.UnitID, err)
	}
	due := e.rates.Maintenance[unit.UnitType].Sub(alreadyPaid)
	if due.IsNegative() {
		due = decimal.Zero
	}
	take := decimal.Min(remaining, due)
	if take.IsPositive() {
		alloc.Maintenance = take
		remaining = remaining.Sub(take)
	}

	if remaining.IsPositive() {
		alloc.Interest = remaining
		e.log.Debug().
			Str("unit", unit.UnitID).
			Str("amount", remaining.String()).
			Str("period", period).
			Msg("surplus recorded as interest")
	}

	return alloc, nil
}

func (e *Engine) sinkingDue(unitType string) decimal.Decimal {
	if unitType == models.UnitTypeShop {
		return e.rates.SinkingShop
	}
	return e.rates.SinkingDefault
}

// PeriodLabel formats a billing period as "Jan-2026".
func PeriodLabel(t time.Time) string {
	return t.Format("Jan-2006")
}

// splitEqually divides amount into n shares at paise precision; the first
// share absorbs the remainder so the shares always sum to amount exactly.
func splitEqually(amount decimal.Decimal, n int) []decimal.Decimal {
	share := amount.Div(decimal.NewFromInt(int64(n))).RoundDown(2)
	shares := make([]decimal.Decimal, n)
	rest := amount
	for i := 1; i < n; i++ {
		shares[i] = share
		rest = rest.Sub(share)
	}
	shares[0] = rest
	return shares
}
