package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"society-ledger-backend/internal/models"
)

// DuesRates holds the fixed per-unit-type dues. Unit types missing from the
// Maintenance table have no established rate and are excluded from splitting.
type DuesRates struct {
	SinkingShop    decimal.Decimal
	SinkingDefault decimal.Decimal
	Maintenance    map[string]decimal.Decimal
}

// Config is the runtime configuration, read from env with defaults.
type Config struct {
	Port              string
	SyncInterval      time.Duration
	BackfillStart     string // yyyy/mm/dd, used in the mail search query
	BackfillPageDelay time.Duration
	MailQuery         string
	GmailCredentials  string
	GmailToken        string
	Rates             DuesRates
}

// Load builds the Config from environment variables.
func Load() Config {
	cfg := Config{
		Port:              getenv("PORT", "8080"),
		BackfillStart:     getenv("BACKFILL_START_DATE", "2023/01/01"),
		BackfillPageDelay: 500 * time.Millisecond,
		MailQuery:         getenv("BANK_MAIL_QUERY", "from:alerts@bank subject:transaction"),
		GmailCredentials:  getenv("GMAIL_CREDENTIALS_FILE", "credentials.json"),
		GmailToken:        getenv("GMAIL_TOKEN_FILE", "token.json"),
		Rates: DuesRates{
			SinkingShop:    decimalEnv("SINKING_DUE_SHOP", "1500"),
			SinkingDefault: decimalEnv("SINKING_DUE_DEFAULT", "2500"),
			Maintenance: map[string]decimal.Decimal{
				models.UnitTypeShop:      decimalEnv("MAINTENANCE_DUE_SHOP", "1500"),
				models.UnitTypeOffice:    decimalEnv("MAINTENANCE_DUE_OFFICE", "2000"),
				models.UnitTypeApartment: decimalEnv("MAINTENANCE_DUE_APARTMENT", "1000"),
				models.UnitTypeFlat:      decimalEnv("MAINTENANCE_DUE_FLAT", "1000"),
			},
		},
	}

	interval, err := time.ParseDuration(getenv("SYNC_INTERVAL", "5m"))
	if err != nil {
		log.Println("invalid SYNC_INTERVAL, falling back to 5m:", err)
		interval = 5 * time.Minute
	}
	cfg.SyncInterval = interval
	return cfg
}

// InitDB opens the Postgres connection from env settings.
func InitDB() *gorm.DB {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = fmt.Sprintf(
			"host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
			getenv("DB_HOST", "localhost"),
			getenv("DB_USER", "postgres"),
			getenv("DB_PASSWORD", "postgres"),
			getenv("DB_NAME", "society"),
			getenv("DB_PORT", "5432"),
		)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database: ", err)
	}
	return db
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func decimalEnv(key, fallback string) decimal.Decimal {
	raw := getenv(key, fallback)
	d, err := decimal.NewFromString(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using %s", key, raw, fallback)
		d, _ = decimal.NewFromString(fallback)
	}
	return d
}
