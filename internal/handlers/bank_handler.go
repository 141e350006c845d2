package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"society-ledger-backend/internal/repository"
	"society-ledger-backend/internal/services/ingest"
)

type BankHandler struct {
	orchestrator *ingest.Orchestrator
	txRepo       *repository.BankTransactionRepository
	ledgerRepo   *repository.LedgerRepository
}

func NewBankHandler(orchestrator *ingest.Orchestrator, txRepo *repository.BankTransactionRepository, ledgerRepo *repository.LedgerRepository) *BankHandler {
	return &BankHandler{orchestrator: orchestrator, txRepo: txRepo, ledgerRepo: ledgerRepo}
}

// SyncNow triggers an on-demand ingestion run inline.
func (h *BankHandler) SyncNow(c *gin.Context) {
	err := h.orchestrator.Run(c.Request.Context())
	if errors.Is(err, ingest.ErrSyncInProgress) {
		c.JSON(http.StatusConflict, gin.H{"ok": false, "message": "a sync is already in progress"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "message": "sync completed"})
}

// List returns transactions, optionally filtered to a month.
func (h *BankHandler) List(c *gin.Context) {
	var (
		month time.Month
		year  int
	)
	if m := c.Query("month"); m != "" {
		v, err := strconv.Atoi(m)
		if err != nil || v < 1 || v > 12 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid month"})
			return
		}
		month = time.Month(v)
	}
	if y := c.Query("year"); y != "" {
		v, err := strconv.Atoi(y)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid year"})
			return
		}
		year = v
	}
	if (month == 0) != (year == 0) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "month and year must be given together"})
		return
	}

	txs, err := h.txRepo.ListByMonth(month, year)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": txs, "count": len(txs)})
}

// Interest lists the surplus recorded for a billing period, e.g. "Dec-2025".
func (h *BankHandler) Interest(c *gin.Context) {
	period := c.Query("period")
	if period == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "period is required, e.g. Dec-2025"})
		return
	}
	recs, err := h.ledgerRepo.InterestByPeriod(period)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": recs, "count": len(recs)})
}

// Unmapped lists credit transactions with no attributed unit, for manual
// admin reconciliation.
func (h *BankHandler) Unmapped(c *gin.Context) {
	txs, err := h.txRepo.ListUnmapped()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": txs, "count": len(txs)})
}
