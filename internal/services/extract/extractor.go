package extract

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"society-ledger-backend/internal/models"
)

// Candidate is the structured form of a transaction-alert email. It is
// ephemeral: the orchestrator consumes it immediately and never stores it.
type Candidate struct {
	Amount           decimal.Decimal
	Direction        string
	OccurredAt       time.Time
	CounterpartyName string
	VPA              string
	ReferenceNumber  string
	SourceMessageID  string
}

// rule describes one bank's alert-email format. Adding support for a new
// bank means adding a row here, not new control flow.
type rule struct {
	name      string
	amount    *regexp.Regexp
	credit    *regexp.Regexp
	debit     *regexp.Regexp
	date      *regexp.Regexp
	vpa       *regexp.Regexp
	reference *regexp.Regexp
}

var rules = []rule{
	{
		name:      "upi-alert",
		amount:    regexp.MustCompile(`(?i)Rs\.?\s*([0-9][0-9,]*(?:\.[0-9]{1,2})?)`),
		credit:    regexp.MustCompile(`(?i)\bcredited\b`),
		debit:     regexp.MustCompile(`(?i)\bdebited\b`),
		date:      regexp.MustCompile(`(?i)\bon\s+(\d{2}-\d{2}-\d{2})\b`),
		vpa:       regexp.MustCompile(`(?i)\bVPA\s+([A-Za-z0-9._-]+@[A-Za-z]+)`),
		reference: regexp.MustCompile(`(?i)reference\s+(?:number|no\.?)\s*(?:is\s*)?(\d{6,})`),
	},
	{
		name:      "netbanking-alert",
		amount:    regexp.MustCompile(`(?i)INR\s*([0-9][0-9,]*(?:\.[0-9]{1,2})?)`),
		credit:    regexp.MustCompile(`(?i)\bcredited\b`),
		debit:     regexp.MustCompile(`(?i)\bdebited\b`),
		date:      regexp.MustCompile(`(?i)\bon\s+(\d{2}-\d{2}-\d{2})\b`),
		vpa:       regexp.MustCompile(`(?i)\bVPA\s+([A-Za-z0-9._-]+@[A-Za-z]+)`),
		reference: regexp.MustCompile(`(?i)ref(?:erence)?\s*(?:number|no\.?)?\s*[:is]*\s*(\d{6,})`),
	},
}

// capsRun matches consecutive uppercase letters and spaces, the usual way a
// payee name is printed in bank alerts.
var capsRun = regexp.MustCompile(`[A-Z][A-Z ]{3,}[A-Z]`)

var alphaOnly = regexp.MustCompile(`^[A-Za-z]+$`)

const dateLayout = "02-01-06"

// Extract parses a raw alert-email body into a Candidate. It is a pure
// function over the text; malformed or non-transaction input yields nil,
// never an error. The only time dependency is the documented fallback of
// OccurredAt to now when the text carries no date.
func Extract(text string, now time.Time) *Candidate {
	for _, r := range rules {
		c := r.apply(text, now)
		if c != nil {
			return c
		}
	}
	return nil
}

func (r rule) apply(text string, now time.Time) *Candidate {
	m := r.amount.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	raw := strings.ReplaceAll(m[1], ",", "")
	amount, err := decimal.NewFromString(raw)
	if err != nil || !amount.IsPositive() {
		return nil
	}

	isCredit := r.credit.MatchString(text)
	isDebit := r.debit.MatchString(text)
	if isCredit == isDebit {
		// neither or both: direction is ambiguous
		return nil
	}
	direction := models.DirectionCredit
	if isDebit {
		direction = models.DirectionDebit
	}

	c := &Candidate{
		Amount:     amount.Round(2),
		Direction:  direction,
		OccurredAt: now,
	}

	if dm := r.date.FindStringSubmatch(text); dm != nil {
		if t, err := time.Parse(dateLayout, dm[1]); err == nil {
			c.OccurredAt = t
		}
	}
	if vm := r.vpa.FindStringSubmatch(text); vm != nil {
		c.VPA = strings.ToLower(vm[1])
	}
	if rm := r.reference.FindStringSubmatch(text); rm != nil {
		c.ReferenceNumber = rm[1]
	}
	c.CounterpartyName = counterpartyName(text, c.VPA)
	return c
}

// counterpartyName prefers the VPA local-part when it reads like a name,
// then falls back to the longest printed-in-caps run, which is how most
// alert formats carry the payee name.
func counterpartyName(text, vpa string) string {
	if vpa != "" {
		local := vpa[:strings.Index(vpa, "@")]
		if len(local) >= 5 && alphaOnly.MatchString(local) {
			return strings.ToUpper(local)
		}
	}

	best := ""
	for _, run := range capsRun.FindAllString(text, -1) {
		run = strings.TrimSpace(run)
		if len(run) >= 5 && len(run) > len(best) {
			best = run
		}
	}
	return best
}
