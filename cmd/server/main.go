package main

import (
	"context"
	"log"
	"time"

	"society-ledger-backend/internal/config"
	handler "society-ledger-backend/internal/handlers"
	"society-ledger-backend/internal/logger"
	"society-ledger-backend/internal/mailsource"
	"society-ledger-backend/internal/models"
	"society-ledger-backend/internal/repository"
	"society-ledger-backend/internal/routes"
	"society-ledger-backend/internal/scheduler"
	"society-ledger-backend/internal/services/apportion"
	"society-ledger-backend/internal/services/ingest"
	"society-ledger-backend/internal/services/resolve"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on system env")
	}

	cfg := config.Load()
	zlog := logger.New()

	db := config.InitDB()

	db.AutoMigrate(
		&models.BankTransaction{},
		&models.UnitMapping{},
		&models.SinkingFundEntry{},
		&models.MaintenanceLedger{},
		&models.InterestRecord{},
		&models.SyncCheckpoint{},
		&models.SyncRunLog{},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source, err := mailsource.NewGmailSource(ctx, cfg.GmailCredentials, cfg.GmailToken)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to initialize gmail source")
	}

	txRepo := repository.NewBankTransactionRepository(db)
	mappingRepo := repository.NewUnitMappingRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	syncRepo := repository.NewSyncRepository(db)

	resolver := resolve.NewResolver(mappingRepo, zlog)
	engine := apportion.NewEngine(ledgerRepo, cfg.Rates, zlog)
	orchestrator := ingest.NewOrchestrator(source, txRepo, syncRepo, mappingRepo, resolver, engine, cfg, zlog)

	go scheduler.New(cfg.SyncInterval, orchestrator, zlog).Start(ctx)

	bankHandler := handler.NewBankHandler(orchestrator, txRepo, ledgerRepo)
	unitHandler := handler.NewUnitHandler(resolver, mappingRepo)

	r := gin.Default()
	// CORS config
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	routes.RegisterRoutes(r, bankHandler, unitHandler)

	r.Run(":" + cfg.Port)
}
