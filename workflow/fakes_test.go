package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/finance_backend/ledger"
	"bitbucket.org/mmdatafocus/finance_backend/models"
	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// NOTE: These tests are intentionally DB-free. The fakes below mirror the
// storage semantics the gorm implementations provide (row uniqueness, lazy
// balance creation, append-only entries) so the workflow logic can be tested
// without MySQL. Full DB integration tests are gated behind
// INTEGRATION_TESTS=1 in the ledger package.

type fakeRunner struct{}

func (fakeRunner) InTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type ownerKey struct {
	ownerId   int
	ownerType models.OwnerType
	scopeId   int
}

// fakeLedger keeps balances and entries in memory with the same invariants
// the real store enforces: positive amounts, one entry per mutation, unique
// (balance, external ref, entry type).
type fakeLedger struct {
	mu        sync.Mutex
	clock     *fakeClock
	balances  map[int]*models.AccountBalance
	byOwner   map[ownerKey]int
	entries   []models.LedgerEntry
	nextBalId int
	nextEntId int
}

func newFakeLedger(clock *fakeClock) *fakeLedger {
	return &fakeLedger{
		clock:     clock,
		balances:  map[int]*models.AccountBalance{},
		byOwner:   map[ownerKey]int{},
		nextBalId: 1,
		nextEntId: 1,
	}
}

func (l *fakeLedger) Post(ctx context.Context, tx *gorm.DB, in ledger.PostInput) (*models.AccountBalance, *models.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !in.Amount.IsPositive() {
		return nil, nil, models.NewValidationError("amount", "must be positive")
	}
	isDebit := false
	if in.EntryType == models.EntryTypeAdjustment {
		if in.IsDebit == nil {
			return nil, nil, models.NewValidationError("isDebit", "adjustment entries must state a direction")
		}
		isDebit = *in.IsDebit
	} else {
		var err error
		isDebit, err = in.EntryType.DefaultDirection()
		if err != nil {
			return nil, nil, err
		}
	}

	if in.ExternalTransactionRef != nil {
		for _, e := range l.entries {
			if e.ExternalTransactionRef != nil &&
				*e.ExternalTransactionRef == *in.ExternalTransactionRef &&
				e.EntryType == in.EntryType {
				if b, ok := l.balances[e.BalanceId]; ok &&
					b.OwnerId == in.OwnerId && b.OwnerType == in.OwnerType && b.ScopeId == in.ScopeId {
					return nil, nil, models.ErrDuplicateTransaction
				}
			}
		}
	}

	key := ownerKey{in.OwnerId, in.OwnerType, in.ScopeId}
	balanceId, ok := l.byOwner[key]
	if !ok {
		balanceId = l.nextBalId
		l.nextBalId++
		l.byOwner[key] = balanceId
		l.balances[balanceId] = &models.AccountBalance{
			ID:        balanceId,
			OwnerId:   in.OwnerId,
			OwnerType: in.OwnerType,
			ScopeId:   in.ScopeId,
		}
	}
	balance := l.balances[balanceId]

	amount := in.Amount.Decimal()
	before := balance.CurrentBalance
	var after decimal.Decimal
	if isDebit {
		after = before.Sub(amount)
		balance.TotalDebits = balance.TotalDebits.Add(amount)
	} else {
		after = before.Add(amount)
		balance.TotalCredits = balance.TotalCredits.Add(amount)
	}
	balance.CurrentBalance = after
	now := l.clock.Now()
	balance.LastTransactionAt = &now

	entry := models.LedgerEntry{
		ID:                     l.nextEntId,
		BalanceId:              balanceId,
		ExternalTransactionRef: in.ExternalTransactionRef,
		EntryType:              in.EntryType,
		IsDebit:                &isDebit,
		Amount:                 amount,
		BalanceBefore:          before,
		BalanceAfter:           after,
		ActorId:                in.ActorId,
		Description:            in.Description,
		CreatedAt:              now,
	}
	l.nextEntId++
	l.entries = append(l.entries, entry)

	balCopy := *balance
	return &balCopy, &entry, nil
}

func (l *fakeLedger) LockBalance(ctx context.Context, tx *gorm.DB, balanceId int) (*models.AccountBalance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	balance, ok := l.balances[balanceId]
	if !ok {
		return nil, models.ErrAccountNotFound
	}
	balCopy := *balance
	return &balCopy, nil
}

func (l *fakeLedger) GetBalance(ctx context.Context, balanceId int) (*models.AccountBalance, error) {
	return l.LockBalance(ctx, nil, balanceId)
}

func (l *fakeLedger) EntriesInWindow(ctx context.Context, from, to time.Time) ([]models.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.LedgerEntry
	for _, e := range l.entries {
		if !e.CreatedAt.Before(from) && e.CreatedAt.Before(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *fakeLedger) BalanceAsOf(ctx context.Context, balanceId int, t time.Time) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	last := decimal.Zero
	for _, e := range l.entries {
		if e.BalanceId == balanceId && e.CreatedAt.Before(t) {
			last = e.BalanceAfter
		}
	}
	return last, nil
}

func (l *fakeLedger) entriesFor(balanceId int) []models.LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.LedgerEntry
	for _, e := range l.entries {
		if e.BalanceId == balanceId {
			out = append(out, e)
		}
	}
	return out
}

// tamper overwrites a stored balance out-of-band, the way a bug or a missed
// posting would.
func (l *fakeLedger) tamper(balanceId int, current decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[balanceId].CurrentBalance = current
}

type fakeDistStore struct {
	mu      sync.Mutex
	records map[string]*models.DistributionRecord
	nextId  int
}

func newFakeDistStore() *fakeDistStore {
	return &fakeDistStore{records: map[string]*models.DistributionRecord{}, nextId: 1}
}

func (s *fakeDistStore) CreateDistribution(ctx context.Context, tx *gorm.DB, record *models.DistributionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[record.TransactionRef]; exists {
		return &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}
	}
	record.ID = s.nextId
	s.nextId++
	s.records[record.TransactionRef] = record
	return nil
}

func (s *fakeDistStore) LinkDistributionEntries(ctx context.Context, tx *gorm.DB, record *models.DistributionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.ID == record.ID {
			r.PayeeBalanceId = record.PayeeBalanceId
			r.PlatformBalanceId = record.PlatformBalanceId
			r.PayeeEntryId = record.PayeeEntryId
			r.PlatformEntryId = record.PlatformEntryId
			return nil
		}
	}
	return errors.New("distribution record not found")
}

type fakeRates struct {
	rate decimal.Decimal
}

func (r fakeRates) Resolve(ctx context.Context, scopeId int) decimal.Decimal { return r.rate }

type enqueued struct {
	Topic     string
	EventType string
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []enqueued
}

func (n *fakeNotifier) Enqueue(ctx context.Context, tx *gorm.DB, topic string, eventType string, referenceId int, referenceType string, payload interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, enqueued{Topic: topic, EventType: eventType})
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

type fakeAudit struct {
	mu      sync.Mutex
	actions []string
	failOn  string
}

func (a *fakeAudit) Record(tx *gorm.DB, actionType string, referenceId int, referenceType string, before interface{}, after interface{}, description string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failOn != "" && a.failOn == actionType {
		return errors.New("audit sink unavailable")
	}
	a.actions = append(a.actions, actionType)
	return nil
}

func (a *fakeAudit) countOf(actionType string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, act := range a.actions {
		if act == actionType {
			n++
		}
	}
	return n
}

type fakeNumbers struct {
	mu sync.Mutex
	n  int
}

func (f *fakeNumbers) NextCorrectionNumber(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return fmt.Sprintf("ADJ-%06d", f.n), nil
}

type fakeCorrectionStore struct {
	mu          sync.Mutex
	corrections []*models.BalanceCorrection
	nextId      int
}

func newFakeCorrectionStore() *fakeCorrectionStore {
	return &fakeCorrectionStore{nextId: 1}
}

func (s *fakeCorrectionStore) CreateCorrection(ctx context.Context, tx *gorm.DB, correction *models.BalanceCorrection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	correction.ID = s.nextId
	s.nextId++
	s.corrections = append(s.corrections, correction)
	return nil
}

// fakeRecoRepo keeps reconciliation records and alerts in memory.
type fakeRecoRepo struct {
	mu           sync.Mutex
	records      map[string]*models.ReconciliationRecord
	alerts       []*models.DiscrepancyAlert
	nextRecordId int
	nextAlertId  int
}

func newFakeRecoRepo() *fakeRecoRepo {
	return &fakeRecoRepo{
		records:      map[string]*models.ReconciliationRecord{},
		nextRecordId: 1,
		nextAlertId:  1,
	}
}

func (r *fakeRecoRepo) GetRecordByDate(ctx context.Context, tx *gorm.DB, date time.Time) (*models.ReconciliationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[date.Format("2006-01-02")]
	if !ok {
		return nil, nil
	}
	cp := *record
	return &cp, nil
}

func (r *fakeRecoRepo) CreateRecord(ctx context.Context, tx *gorm.DB, record *models.ReconciliationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record.ID = r.nextRecordId
	r.nextRecordId++
	cp := *record
	r.records[record.ReconciliationDate.Format("2006-01-02")] = &cp
	return nil
}

func (r *fakeRecoRepo) UpdateRecord(ctx context.Context, tx *gorm.DB, record *models.ReconciliationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *record
	r.records[record.ReconciliationDate.Format("2006-01-02")] = &cp
	return nil
}

func (r *fakeRecoRepo) AlertsForRecord(ctx context.Context, tx *gorm.DB, recordId int) ([]models.DiscrepancyAlert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.DiscrepancyAlert
	for _, a := range r.alerts {
		if a.ReconciliationRecordId == recordId {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *fakeRecoRepo) CreateAlert(ctx context.Context, tx *gorm.DB, alert *models.DiscrepancyAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	alert.ID = r.nextAlertId
	r.nextAlertId++
	cp := *alert
	r.alerts = append(r.alerts, &cp)
	return nil
}

func (r *fakeRecoRepo) RefreshAlert(ctx context.Context, tx *gorm.DB, alert *models.DiscrepancyAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.alerts {
		if a.ID == alert.ID {
			a.ExpectedAmount = alert.ExpectedAmount
			a.ActualAmount = alert.ActualAmount
			a.DifferenceAmount = alert.DifferenceAmount
			a.Severity = alert.Severity
			a.CorrelationId = alert.CorrelationId
			return nil
		}
	}
	return errors.New("alert not found")
}

func (r *fakeRecoRepo) GetAlertForUpdate(ctx context.Context, tx *gorm.DB, alertId int) (*models.DiscrepancyAlert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.alerts {
		if a.ID == alertId {
			cp := *a
			return &cp, nil
		}
	}
	return nil, models.NewValidationError("alertId", "discrepancy alert not found")
}

func (r *fakeRecoRepo) SaveAlertResolution(ctx context.Context, tx *gorm.DB, alert *models.DiscrepancyAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.alerts {
		if a.ID == alert.ID {
			a.Status = alert.Status
			a.ResolvedBy = alert.ResolvedBy
			a.ResolvedAt = alert.ResolvedAt
			a.ResolutionNotes = alert.ResolutionNotes
			return nil
		}
	}
	return errors.New("alert not found")
}

func (r *fakeRecoRepo) openAlertCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.alerts {
		if a.Status == models.AlertStatusOpen {
			n++
		}
	}
	return n
}

type fakeHealthReader struct {
	balances []models.AccountBalance
	alerts   []models.DiscrepancyAlert
	volumes  []models.DailyVolume
}

func (r fakeHealthReader) ListActiveBalances(ctx context.Context) ([]models.AccountBalance, error) {
	return r.balances, nil
}

func (r fakeHealthReader) ListOpenAlerts(ctx context.Context) ([]models.DiscrepancyAlert, error) {
	return r.alerts, nil
}

func (r fakeHealthReader) ListDailyVolumes(ctx context.Context, from, to time.Time) ([]models.DailyVolume, error) {
	return r.volumes, nil
}
