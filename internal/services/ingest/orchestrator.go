package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"society-ledger-backend/internal/config"
	"society-ledger-backend/internal/mailsource"
	"society-ledger-backend/internal/models"
	"society-ledger-backend/internal/services/apportion"
	"society-ledger-backend/internal/services/extract"
	"society-ledger-backend/internal/services/resolve"
)

// ErrSyncInProgress is returned when a run is triggered while another run
// holds the guard. Triggers are dropped, not queued.
var ErrSyncInProgress = errors.New("sync already in progress")

const narrationLimit = 512

// TransactionStore persists ledger rows keyed by (message_id, unit_id).
// SaveAllocations must apply the rows and their ledger effects atomically,
// so a failed persist leaves nothing behind for the retry to double-count.
type TransactionStore interface {
	ExistsByMessageID(messageID string) (bool, error)
	Upsert(tx *models.BankTransaction) error
	SaveAllocations(rows []models.BankTransaction, allocs []apportion.Allocation) error
}

// SyncStore holds the mail cursor and the run log.
type SyncStore interface {
	Checkpoint() (*models.SyncCheckpoint, error)
	SaveCheckpoint(cursor string) error
	RecordRun(run *models.SyncRunLog) error
}

// Orchestrator drives one ingestion run end to end: fetch, extract, resolve,
// apportion, persist, then advance the checkpoint. The guard is an injected
// atomic flag, so only one run is active per process; a multi-instance
// deployment needs a database-backed lease instead.
type Orchestrator struct {
	source   mailsource.Source
	txs      TransactionStore
	sync     SyncStore
	mappings resolve.MappingSource
	resolver *resolve.Resolver
	engine   *apportion.Engine
	rates    config.DuesRates

	mailQuery     string
	backfillStart string
	pageDelay     time.Duration

	log    zerolog.Logger
	active atomic.Bool
	now    func() time.Time
}

func NewOrchestrator(
	source mailsource.Source,
	txs TransactionStore,
	syncStore SyncStore,
	mappings resolve.MappingSource,
	resolver *resolve.Resolver,
	engine *apportion.Engine,
	cfg config.Config,
	log zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		source:        source,
		txs:           txs,
		sync:          syncStore,
		mappings:      mappings,
		resolver:      resolver,
		engine:        engine,
		rates:         cfg.Rates,
		mailQuery:     cfg.MailQuery,
		backfillStart: cfg.BackfillStart,
		pageDelay:     cfg.BackfillPageDelay,
		log:           log,
		now:           time.Now,
	}
}

// Active reports whether a run currently holds the guard.
func (o *Orchestrator) Active() bool {
	return o.active.Load()
}

// Run executes one ingestion run. If another run is active it returns
// ErrSyncInProgress immediately. Adapter failures abort the run without
// advancing the checkpoint; per-message failures are skipped.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.active.CompareAndSwap(false, true) {
		return ErrSyncInProgress
	}
	defer o.active.Store(false)

	run := &models.SyncRunLog{
		ID:        uuid.New(),
		StartedAt: o.now(),
	}

	err := o.run(ctx, run)

	run.CompletedAt = o.now()
	if err != nil {
		run.Status = models.RunFailed
		run.Error = err.Error()
	} else {
		run.Status = models.RunCompleted
	}
	if logErr := o.sync.RecordRun(run); logErr != nil {
		o.log.Warn().Err(logErr).Msg("failed to record sync run")
	}
	return err
}

func (o *Orchestrator) run(ctx context.Context, run *models.SyncRunLog) error {
	cp, err := o.sync.Checkpoint()
	if err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	}

	var nextCursor string
	if cp == nil {
		run.Mode = models.RunModeBackfill
		o.log.Info().Str("since", o.backfillStart).Msg("no checkpoint, starting full backfill")
		nextCursor, err = o.backfill(ctx, run)
	} else {
		run.Mode = models.RunModeIncremental
		nextCursor, err = o.incremental(ctx, cp.LastHistoryID, run)
	}
	if err != nil {
		return err
	}

	if err := o.sync.SaveCheckpoint(nextCursor); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	o.log.Info().
		Str("mode", run.Mode).
		Int("seen", run.MessagesSeen).
		Int("persisted", run.Persisted).
		Int("skipped", run.Skipped).
		Msg("sync run completed")
	return nil
}

func (o *Orchestrator) backfill(ctx context.Context, run *models.SyncRunLog) (string, error) {
	query := fmt.Sprintf("%s after:%s", o.mailQuery, o.backfillStart)
	pageCursor := ""
	for {
		ids, next, err := o.source.ListMessageIDsInRange(ctx, query, pageCursor)
		if err != nil {
			return "", fmt.Errorf("backfill page: %w", err)
		}
		if err := o.processBatch(ctx, ids, run); err != nil {
			return "", err
		}
		if next == "" {
			break
		}
		pageCursor = next

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(o.pageDelay):
		}
	}
	return o.source.CurrentCursor(ctx)
}

func (o *Orchestrator) incremental(ctx context.Context, cursor string, run *models.SyncRunLog) (string, error) {
	ids, next, err := o.source.ListNewMessageIDs(ctx, cursor)
	if err != nil {
		return "", fmt.Errorf("list new messages: %w", err)
	}
	if err := o.processBatch(ctx, ids, run); err != nil {
		return "", err
	}
	return next, nil
}

func (o *Orchestrator) processBatch(ctx context.Context, ids []string, run *models.SyncRunLog) error {
	for _, id := range ids {
		run.MessagesSeen++
		persisted, err := o.processMessage(ctx, id)
		if err != nil {
			return err
		}
		if persisted == 0 {
			run.Skipped++
		}
		run.Persisted += persisted
	}
	return nil
}

// processMessage runs one message through the pipeline. A fetch failure is
// adapter-level and returned as fatal; everything downstream is caught,
// logged, and skipped.
func (o *Orchestrator) processMessage(ctx context.Context, id string) (int, error) {
	exists, err := o.txs.ExistsByMessageID(id)
	if err != nil {
		o.log.Error().Err(err).Str("message", id).Msg("dedup lookup failed, skipping")
		return 0, nil
	}
	if exists {
		return 0, nil
	}

	body, _, err := o.source.FetchMessageBody(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("fetch message %s: %w", id, err)
	}

	cand := extract.Extract(body, o.now())
	if cand == nil {
		o.log.Trace().Str("message", id).Msg("not a transaction alert")
		return 0, nil
	}
	cand.SourceMessageID = id

	match, err := o.resolver.Resolve(cand.CounterpartyName, cand.VPA)
	if err != nil {
		// unresolved, not fatal: keep the money trail with no unit
		o.log.Warn().Err(err).Str("message", id).Msg("resolver error, persisting unattributed")
	}

	rows, allocs := o.buildRows(cand, match, truncate(body, narrationLimit))
	if len(allocs) > 0 {
		if err := o.txs.SaveAllocations(rows, allocs); err != nil {
			o.log.Error().Err(err).Str("message", id).Msg("allocation save failed, skipping message")
			return 0, nil
		}
		return len(rows), nil
	}

	persisted := 0
	for i := range rows {
		if err := o.txs.Upsert(&rows[i]); err != nil {
			o.log.Error().Err(err).
				Str("message", id).
				Str("unit", rows[i].UnitID).
				Msg("upsert failed, skipping row")
			continue
		}
		persisted++
	}
	return persisted, nil
}

// buildRows turns one candidate into its persisted rows: a single row for
// debits and unresolved credits, or one row per owned unit for credits that
// went through apportionment. Apportioned rows come with the planned ledger
// effects, which must be committed together with the rows.
func (o *Orchestrator) buildRows(cand *extract.Candidate, match resolve.Match, narration string) ([]models.BankTransaction, []apportion.Allocation) {
	base := models.BankTransaction{
		ID:              uuid.New(),
		MessageID:       cand.SourceMessageID,
		TransactionDate: cand.OccurredAt,
		Amount:          cand.Amount,
		Direction:       cand.Direction,
		PayerName:       cand.CounterpartyName,
		VPA:             cand.VPA,
		ReferenceNumber: cand.ReferenceNumber,
		MatchStrategy:   match.Strategy,
		ConfidenceScore: match.Confidence,
		Narration:       narration,
		CreatedAt:       o.now(),
	}

	var owner string
	if match.Mapping != nil {
		if len(match.Mapping.OwnerNames) > 0 {
			owner = match.Mapping.OwnerNames[0]
		}
		base.ResolvedOwnerName = owner
		base.Relationship = match.Mapping.Relationship
	}

	if cand.Direction == models.DirectionDebit {
		if match.Mapping != nil {
			base.UnitID = match.Mapping.UnitID
		}
		return []models.BankTransaction{base}, nil
	}

	if match.Mapping == nil {
		return []models.BankTransaction{base}, nil
	}

	all, err := o.mappings.ActiveMappings()
	if err != nil {
		o.log.Warn().Err(err).Msg("owned-units lookup failed, persisting unattributed")
		return []models.BankTransaction{base}, nil
	}
	owned := apportion.OwnedUnits(owner, all, o.rates)
	if len(owned) == 0 {
		return []models.BankTransaction{base}, nil
	}

	allocs, err := o.engine.Apportion(owner, cand.Amount, cand.OccurredAt, owned)
	if err != nil {
		o.log.Error().Err(err).Str("message", cand.SourceMessageID).Msg("apportionment failed, persisting unattributed")
		return []models.BankTransaction{base}, nil
	}

	rows := make([]models.BankTransaction, 0, len(allocs))
	for _, alloc := range allocs {
		row := base
		row.ID = alloc.TransactionID
		row.UnitID = alloc.Unit.UnitID
		row.Amount = alloc.Amount
		row.AllocationDetails = allocationDetails(alloc, match, len(allocs))
		rows = append(rows, row)
	}
	return rows, allocs
}

func allocationDetails(alloc apportion.Allocation, match resolve.Match, splitCount int) datatypes.JSON {
	details := map[string]interface{}{
		"sinking":     alloc.Sinking.String(),
		"maintenance": alloc.Maintenance.String(),
		"interest":    alloc.Interest.String(),
		"share":       alloc.Amount.String(),
		"strategy":    match.Strategy,
		"confidence":  match.Confidence,
		"split_count": splitCount,
	}
	out, _ := json.Marshal(details)
	return datatypes.JSON(out)
}

// truncate trims s to at most n bytes without splitting a multi-byte rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
