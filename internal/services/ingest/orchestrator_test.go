package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"society-ledger-backend/internal/config"
	"society-ledger-backend/internal/models"
	"society-ledger-backend/internal/services/apportion"
	"society-ledger-backend/internal/services/resolve"
)

const creditAlert = "Rs.3500.00 has been credited to account XXXX1234 by VPA kailash@okaxis " +
	"KAILASH MANGARAM DHANWANI on 03-12-25. Reference number is 530746181005."

// --- fakes ---

type fakeSource struct {
	bodies      map[string]string
	newIDs      []string
	nextCursor  string
	pages       [][]string
	currentCur  string
	listErr     error
	fetchErr    error
	listStarted chan struct{}
	listRelease chan struct{}
}

func (f *fakeSource) ListNewMessageIDs(ctx context.Context, since string) ([]string, string, error) {
	if f.listStarted != nil {
		close(f.listStarted)
		f.listStarted = nil
	}
	if f.listRelease != nil {
		<-f.listRelease
	}
	if f.listErr != nil {
		return nil, "", f.listErr
	}
	return f.newIDs, f.nextCursor, nil
}

func (f *fakeSource) ListMessageIDsInRange(ctx context.Context, query, pageCursor string) ([]string, string, error) {
	if f.listErr != nil {
		return nil, "", f.listErr
	}
	page := 0
	if pageCursor != "" {
		fmt.Sscanf(pageCursor, "page-%d", &page)
	}
	if page >= len(f.pages) {
		return nil, "", nil
	}
	next := ""
	if page+1 < len(f.pages) {
		next = fmt.Sprintf("page-%d", page+1)
	}
	return f.pages[page], next, nil
}

func (f *fakeSource) FetchMessageBody(ctx context.Context, id string) (string, map[string]string, error) {
	if f.fetchErr != nil {
		return "", nil, f.fetchErr
	}
	return f.bodies[id], nil, nil
}

func (f *fakeSource) CurrentCursor(ctx context.Context) (string, error) {
	return f.currentCur, nil
}

type fakeTxStore struct {
	rows      map[string][]models.BankTransaction // by message id
	ledger    *fakeLedger
	upsertErr error
	saveErr   error
	saveCalls int
}

func newFakeTxStore() *fakeTxStore {
	return &fakeTxStore{rows: map[string][]models.BankTransaction{}}
}

func (f *fakeTxStore) ExistsByMessageID(messageID string) (bool, error) {
	return len(f.rows[messageID]) > 0, nil
}

func (f *fakeTxStore) Upsert(tx *models.BankTransaction) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	for _, existing := range f.rows[tx.MessageID] {
		if existing.UnitID == tx.UnitID {
			return nil // conflict: existing row wins
		}
	}
	f.rows[tx.MessageID] = append(f.rows[tx.MessageID], *tx)
	return nil
}

// SaveAllocations mirrors the real store: rows and ledger effects land
// together or not at all.
func (f *fakeTxStore) SaveAllocations(rows []models.BankTransaction, allocs []apportion.Allocation) error {
	f.saveCalls++
	if f.saveErr != nil {
		return f.saveErr
	}
	for i := range rows {
		if err := f.Upsert(&rows[i]); err != nil {
			return err
		}
	}
	if f.ledger != nil {
		f.ledger.commit(allocs)
	}
	return nil
}

type fakeSyncStore struct {
	checkpoint *models.SyncCheckpoint
	saved      []string
	runs       []models.SyncRunLog
}

func (f *fakeSyncStore) Checkpoint() (*models.SyncCheckpoint, error) {
	return f.checkpoint, nil
}

func (f *fakeSyncStore) SaveCheckpoint(cursor string) error {
	f.saved = append(f.saved, cursor)
	f.checkpoint = &models.SyncCheckpoint{ID: 1, LastHistoryID: cursor}
	return nil
}

func (f *fakeSyncStore) RecordRun(run *models.SyncRunLog) error {
	f.runs = append(f.runs, *run)
	return nil
}

type fakeMappings struct {
	mappings []models.UnitMapping
}

func (f *fakeMappings) ActiveMappings() ([]models.UnitMapping, error) {
	return f.mappings, nil
}

type fakeLedger struct {
	sinkingPaid     map[string]bool
	maintenancePaid map[string]decimal.Decimal
	interest        []decimal.Decimal
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{sinkingPaid: map[string]bool{}, maintenancePaid: map[string]decimal.Decimal{}}
}

func (f *fakeLedger) SinkingPaid(unitID string) (bool, error) { return f.sinkingPaid[unitID], nil }
func (f *fakeLedger) MaintenancePaid(unitID, period string) (decimal.Decimal, error) {
	if v, ok := f.maintenancePaid[unitID+"|"+period]; ok {
		return v, nil
	}
	return decimal.Zero, nil
}

func (f *fakeLedger) commit(allocs []apportion.Allocation) {
	for _, a := range allocs {
		if a.SinkingSettled {
			f.sinkingPaid[a.Unit.UnitID] = true
		}
		if a.Maintenance.IsPositive() {
			key := a.Unit.UnitID + "|" + a.Period
			f.maintenancePaid[key] = f.maintenancePaid[key].Add(a.Maintenance)
		}
		if a.Interest.IsPositive() {
			f.interest = append(f.interest, a.Interest)
		}
	}
}

// --- helpers ---

func testConfig() config.Config {
	return config.Config{
		MailQuery:         "from:alerts@bank",
		BackfillStart:     "2023/01/01",
		BackfillPageDelay: time.Millisecond,
		Rates: config.DuesRates{
			SinkingShop:    decimal.NewFromInt(1500),
			SinkingDefault: decimal.NewFromInt(2500),
			Maintenance: map[string]decimal.Decimal{
				models.UnitTypeShop:   decimal.NewFromInt(1500),
				models.UnitTypeOffice: decimal.NewFromInt(2000),
			},
		},
	}
}

func kailashMapping() models.UnitMapping {
	return models.UnitMapping{
		UnitID:     "shop-7",
		UnitType:   models.UnitTypeShop,
		OwnerNames: []string{"KAILASH MANGARAM DHANWANI"},
		VPAAliases: []string{"kailash@okaxis"},
		Status:     models.MappingActive,
	}
}

func newTestOrchestrator(source *fakeSource, txs *fakeTxStore, syncStore *fakeSyncStore, mappings ...models.UnitMapping) *Orchestrator {
	src := &fakeMappings{mappings: mappings}
	resolver := resolve.NewResolver(src, zerolog.Nop())
	ledger := newFakeLedger()
	txs.ledger = ledger
	engine := apportion.NewEngine(ledger, testConfig().Rates, zerolog.Nop())
	return NewOrchestrator(source, txs, syncStore, src, resolver, engine, testConfig(), zerolog.Nop())
}

// --- tests ---

func TestRun_IncrementalPersistsAndAdvancesCursor(t *testing.T) {
	source := &fakeSource{
		newIDs:     []string{"msg-1"},
		nextCursor: "cursor-2",
		bodies:     map[string]string{"msg-1": creditAlert},
	}
	txs := newFakeTxStore()
	syncStore := &fakeSyncStore{checkpoint: &models.SyncCheckpoint{ID: 1, LastHistoryID: "cursor-1"}}

	o := newTestOrchestrator(source, txs, syncStore, kailashMapping())
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	rows := txs.rows["msg-1"]
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	row := rows[0]
	if row.UnitID != "shop-7" {
		t.Errorf("unit = %q, want shop-7", row.UnitID)
	}
	if row.MatchStrategy != resolve.StrategyVPAExact {
		t.Errorf("strategy = %q, want vpa-exact", row.MatchStrategy)
	}
	if !row.Amount.Equal(decimal.NewFromInt(3500)) {
		t.Errorf("amount = %s, want 3500", row.Amount)
	}
	if len(row.AllocationDetails) == 0 {
		t.Error("allocation details missing")
	}

	if len(syncStore.saved) != 1 || syncStore.saved[0] != "cursor-2" {
		t.Errorf("saved cursors = %v, want [cursor-2]", syncStore.saved)
	}
	if len(syncStore.runs) != 1 || syncStore.runs[0].Status != models.RunCompleted {
		t.Errorf("runs = %+v, want one completed", syncStore.runs)
	}
	if syncStore.runs[0].Mode != models.RunModeIncremental {
		t.Errorf("mode = %q, want incremental", syncStore.runs[0].Mode)
	}
}

func TestRun_BackfillWhenNoCheckpoint(t *testing.T) {
	source := &fakeSource{
		pages:      [][]string{{"msg-1"}, {"msg-2"}},
		currentCur: "hist-99",
		bodies: map[string]string{
			"msg-1": creditAlert,
			"msg-2": "monthly newsletter, nothing to see",
		},
	}
	txs := newFakeTxStore()
	syncStore := &fakeSyncStore{}

	o := newTestOrchestrator(source, txs, syncStore, kailashMapping())
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if len(txs.rows["msg-1"]) != 1 {
		t.Errorf("msg-1 rows = %d, want 1", len(txs.rows["msg-1"]))
	}
	if len(txs.rows["msg-2"]) != 0 {
		t.Errorf("msg-2 (non-transaction) persisted: %+v", txs.rows["msg-2"])
	}
	if len(syncStore.saved) != 1 || syncStore.saved[0] != "hist-99" {
		t.Errorf("saved cursors = %v, want [hist-99]", syncStore.saved)
	}
	run := syncStore.runs[0]
	if run.Mode != models.RunModeBackfill || run.MessagesSeen != 2 || run.Skipped != 1 {
		t.Errorf("run = %+v, want backfill seen=2 skipped=1", run)
	}
}

func TestRun_ReingestIsNoOp(t *testing.T) {
	source := &fakeSource{
		newIDs:     []string{"msg-1"},
		nextCursor: "cursor-2",
		bodies:     map[string]string{"msg-1": creditAlert},
	}
	txs := newFakeTxStore()
	syncStore := &fakeSyncStore{checkpoint: &models.SyncCheckpoint{ID: 1, LastHistoryID: "cursor-1"}}

	o := newTestOrchestrator(source, txs, syncStore, kailashMapping())
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("first Run error: %v", err)
	}
	source.nextCursor = "cursor-3"
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("second Run error: %v", err)
	}

	if len(txs.rows["msg-1"]) != 1 {
		t.Errorf("got %d rows after re-ingest, want 1", len(txs.rows["msg-1"]))
	}
	if syncStore.runs[1].Skipped != 1 {
		t.Errorf("second run skipped = %d, want 1", syncStore.runs[1].Skipped)
	}
}

func TestRun_AdapterFailureHoldsCheckpoint(t *testing.T) {
	source := &fakeSource{listErr: errors.New("auth expired")}
	txs := newFakeTxStore()
	syncStore := &fakeSyncStore{checkpoint: &models.SyncCheckpoint{ID: 1, LastHistoryID: "cursor-1"}}

	o := newTestOrchestrator(source, txs, syncStore, kailashMapping())
	if err := o.Run(context.Background()); err == nil {
		t.Fatal("expected adapter failure to surface")
	}

	if len(syncStore.saved) != 0 {
		t.Errorf("checkpoint advanced on failure: %v", syncStore.saved)
	}
	if len(syncStore.runs) != 1 || syncStore.runs[0].Status != models.RunFailed {
		t.Errorf("runs = %+v, want one failed", syncStore.runs)
	}
}

func TestRun_UnresolvedCreditPersistedUnattributed(t *testing.T) {
	body := "Rs.900.00 has been credited to account XXXX1234 by STRANGER PERSON NAME on 03-12-25"
	source := &fakeSource{
		newIDs:     []string{"msg-1"},
		nextCursor: "cursor-2",
		bodies:     map[string]string{"msg-1": body},
	}
	txs := newFakeTxStore()
	syncStore := &fakeSyncStore{checkpoint: &models.SyncCheckpoint{ID: 1, LastHistoryID: "cursor-1"}}

	o := newTestOrchestrator(source, txs, syncStore, kailashMapping())
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	rows := txs.rows["msg-1"]
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0].UnitID != "" {
		t.Errorf("unit = %q, want unattributed", rows[0].UnitID)
	}
	if rows[0].MatchStrategy != resolve.StrategyNoMatch {
		t.Errorf("strategy = %q, want no-match", rows[0].MatchStrategy)
	}
}

func TestRun_MultiUnitFanOut(t *testing.T) {
	second := kailashMapping()
	second.UnitID = "shop-8"
	second.VPAAliases = nil

	source := &fakeSource{
		newIDs:     []string{"msg-1"},
		nextCursor: "cursor-2",
		bodies:     map[string]string{"msg-1": creditAlert},
	}
	txs := newFakeTxStore()
	syncStore := &fakeSyncStore{checkpoint: &models.SyncCheckpoint{ID: 1, LastHistoryID: "cursor-1"}}

	o := newTestOrchestrator(source, txs, syncStore, kailashMapping(), second)
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	rows := txs.rows["msg-1"]
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2 (one per owned unit)", len(rows))
	}
	total := decimal.Zero
	units := map[string]bool{}
	for _, r := range rows {
		total = total.Add(r.Amount)
		units[r.UnitID] = true
	}
	if !total.Equal(decimal.NewFromInt(3500)) {
		t.Errorf("fan-out total = %s, want 3500", total)
	}
	if !units["shop-7"] || !units["shop-8"] {
		t.Errorf("units = %v, want shop-7 and shop-8", units)
	}
}

func TestRun_GuardDropsOverlappingTrigger(t *testing.T) {
	source := &fakeSource{
		newIDs:      nil,
		nextCursor:  "cursor-2",
		bodies:      map[string]string{},
		listStarted: make(chan struct{}),
		listRelease: make(chan struct{}),
	}
	started := source.listStarted
	release := source.listRelease

	txs := newFakeTxStore()
	syncStore := &fakeSyncStore{checkpoint: &models.SyncCheckpoint{ID: 1, LastHistoryID: "cursor-1"}}
	o := newTestOrchestrator(source, txs, syncStore, kailashMapping())

	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background()) }()

	<-started
	if !o.Active() {
		t.Error("Active() = false during a run")
	}
	if err := o.Run(context.Background()); !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("overlapping Run error = %v, want ErrSyncInProgress", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first Run error: %v", err)
	}
	if o.Active() {
		t.Error("Active() = true after run finished")
	}
}

func TestRun_DebitPersistedAsSingleRow(t *testing.T) {
	body := "Rs.110.00 has been debited from account XXXX1234 to VPA gpay123@ybl " +
		"KAILASH MANGARAM DHANWANI on 01-11-25. Reference number is 530746181005."
	source := &fakeSource{
		newIDs:     []string{"msg-1"},
		nextCursor: "cursor-2",
		bodies:     map[string]string{"msg-1": body},
	}
	txs := newFakeTxStore()
	syncStore := &fakeSyncStore{checkpoint: &models.SyncCheckpoint{ID: 1, LastHistoryID: "cursor-1"}}

	o := newTestOrchestrator(source, txs, syncStore, kailashMapping())
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	rows := txs.rows["msg-1"]
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0].Direction != models.DirectionDebit {
		t.Errorf("direction = %q, want debit", rows[0].Direction)
	}
	if rows[0].UnitID != "shop-7" {
		t.Errorf("unit = %q, want shop-7 (resolved, not apportioned)", rows[0].UnitID)
	}
	if len(rows[0].AllocationDetails) != 0 {
		t.Errorf("debit carries allocation details: %s", rows[0].AllocationDetails)
	}
}

func TestRun_FailedAllocationSaveAppliesLedgerEffectsOnce(t *testing.T) {
	source := &fakeSource{
		newIDs:     []string{"msg-1"},
		nextCursor: "cursor-2",
		bodies:     map[string]string{"msg-1": creditAlert},
	}
	txs := newFakeTxStore()
	syncStore := &fakeSyncStore{checkpoint: &models.SyncCheckpoint{ID: 1, LastHistoryID: "cursor-1"}}
	o := newTestOrchestrator(source, txs, syncStore, kailashMapping())

	// first run: persist fails, so no rows and no ledger effects may remain
	txs.saveErr = errors.New("deadlock detected")
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("first Run error: %v", err)
	}
	if len(txs.rows["msg-1"]) != 0 {
		t.Fatalf("rows persisted despite failed save: %+v", txs.rows["msg-1"])
	}
	if txs.ledger.sinkingPaid["shop-7"] {
		t.Error("sinking marked paid by a failed save")
	}
	if len(txs.ledger.interest) != 0 {
		t.Errorf("interest recorded by a failed save: %v", txs.ledger.interest)
	}

	// retry run: the message is still unseen and commits exactly once
	txs.saveErr = nil
	source.nextCursor = "cursor-3"
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("second Run error: %v", err)
	}
	if len(txs.rows["msg-1"]) != 1 {
		t.Fatalf("got %d rows after retry, want 1", len(txs.rows["msg-1"]))
	}
	if !txs.ledger.sinkingPaid["shop-7"] {
		t.Error("sinking not settled after successful retry")
	}
	if got := txs.ledger.maintenancePaid["shop-7|Dec-2025"]; !got.Equal(decimal.NewFromInt(1500)) {
		t.Errorf("maintenance paid = %s, want 1500 applied exactly once", got)
	}
	if len(txs.ledger.interest) != 1 || !txs.ledger.interest[0].Equal(decimal.NewFromInt(500)) {
		t.Errorf("interest = %v, want a single 500 record", txs.ledger.interest)
	}

	// third run: the persisted row gates reprocessing, nothing doubles
	source.nextCursor = "cursor-4"
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("third Run error: %v", err)
	}
	if got := txs.ledger.maintenancePaid["shop-7|Dec-2025"]; !got.Equal(decimal.NewFromInt(1500)) {
		t.Errorf("maintenance paid after re-ingest = %s, want 1500", got)
	}
	if len(txs.ledger.interest) != 1 {
		t.Errorf("interest records after re-ingest = %d, want 1", len(txs.ledger.interest))
	}
}

func TestTruncate_KeepsRunesWhole(t *testing.T) {
	s := "paid ₹99" // the rupee sign spans bytes 5..7
	got := truncate(s, 7)
	if got != "paid " {
		t.Errorf("truncate = %q, want %q", got, "paid ")
	}
	if !utf8.ValidString(got) {
		t.Errorf("truncate produced invalid UTF-8: %q", got)
	}
	if truncate(s, len(s)) != s {
		t.Error("truncate altered a string already within the limit")
	}
	if got := truncate(s, 8); got != "paid ₹" {
		t.Errorf("truncate at rune boundary = %q, want %q", got, "paid ₹")
	}
}
