package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/finance_backend/ledger"
	"bitbucket.org/mmdatafocus/finance_backend/models"
	"bitbucket.org/mmdatafocus/finance_backend/money"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

type engineFixture struct {
	engine *ReconciliationEngine
	ledger *fakeLedger
	repo   *fakeRecoRepo
	notify *fakeNotifier
	audit  *fakeAudit
	clock  *fakeClock
	day    time.Time
}

func newEngineFixture() *engineFixture {
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: day.Add(9 * time.Hour)}
	fl := newFakeLedger(clock)
	repo := newFakeRecoRepo()
	notify := &fakeNotifier{}
	audit := &fakeAudit{}
	return &engineFixture{
		engine: &ReconciliationEngine{
			Runner:    fakeRunner{},
			Ledger:    fl,
			Repo:      repo,
			Notify:    notify,
			Audit:     audit,
			Logger:    quietLogger(),
			Settings:  testSettings(),
			Clock:     clock,
			Tolerance: money.DefaultTolerance,
			Validate:  validator.New(),
		},
		ledger: fl,
		repo:   repo,
		notify: notify,
		audit:  audit,
		clock:  clock,
		day:    day,
	}
}

func (fx *engineFixture) credit(ownerId int, ownerType models.OwnerType, scopeId int, amount string) *models.AccountBalance {
	balance, _, err := fx.ledger.Post(context.Background(), nil, ledger.PostInput{
		OwnerId:   ownerId,
		OwnerType: ownerType,
		ScopeId:   scopeId,
		Amount:    money.MustParse(amount),
		EntryType: models.EntryTypeCredit,
		ActorId:   1,
	})
	if err != nil {
		panic(err)
	}
	return balance
}

func TestReconcile_CleanDayIsReconciled(t *testing.T) {
	fx := newEngineFixture()
	fx.credit(7, models.OwnerTypePayee, 7, "950.00")
	fx.credit(1, models.OwnerTypePlatformAdmin, 0, "50.00")

	record, err := fx.engine.Reconcile(context.Background(), fx.day)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if record.Status != models.ReconciliationStatusReconciled {
		t.Errorf("status = %s, want RECONCILED", record.Status)
	}
	if record.EntriesReplayed != 2 || record.AccountsChecked != 2 || record.DiscrepancyCount != 0 {
		t.Errorf("replayed=%d checked=%d discrepancies=%d, want 2/2/0",
			record.EntriesReplayed, record.AccountsChecked, record.DiscrepancyCount)
	}
	if fx.repo.openAlertCount() != 0 {
		t.Errorf("clean day produced %d open alerts", fx.repo.openAlertCount())
	}
	if fx.notify.count() != 0 {
		t.Errorf("clean day enqueued %d alert notifications", fx.notify.count())
	}
}

func TestReconcile_StoredDriftRaisesMediumAlert(t *testing.T) {
	fx := newEngineFixture()
	balance := fx.credit(7, models.OwnerTypePayee, 7, "900.00")
	// Simulate a missed debit: the replay expects 900.00 but the stored
	// balance says 950.00.
	fx.ledger.tamper(balance.ID, decimal.NewFromFloat(950))

	record, err := fx.engine.Reconcile(context.Background(), fx.day)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if record.Status != models.ReconciliationStatusDiscrepancyFound {
		t.Fatalf("status = %s, want DISCREPANCY_FOUND", record.Status)
	}
	if record.DiscrepancyCount != 1 {
		t.Fatalf("discrepancy count = %d, want 1", record.DiscrepancyCount)
	}

	alerts, _ := fx.repo.AlertsForRecord(context.Background(), nil, record.ID)
	if len(alerts) != 1 {
		t.Fatalf("got %d alerts, want 1", len(alerts))
	}
	alert := alerts[0]
	if alert.Severity != models.AlertSeverityMedium {
		t.Errorf("severity = %s, want MEDIUM (difference 50.00 < 1000)", alert.Severity)
	}
	if got := alert.DifferenceAmount.StringFixed(2); got != "50.00" {
		t.Errorf("difference = %s, want 50.00", got)
	}
	if alert.Status != models.AlertStatusOpen {
		t.Errorf("alert status = %s, want OPEN", alert.Status)
	}
	if fx.notify.count() != 1 {
		t.Errorf("enqueued %d alert notifications, want 1", fx.notify.count())
	}
}

func TestReconcile_LargeDriftIsHighSeverity(t *testing.T) {
	fx := newEngineFixture()
	balance := fx.credit(7, models.OwnerTypePayee, 7, "100.00")
	fx.ledger.tamper(balance.ID, decimal.NewFromInt(1600))

	record, err := fx.engine.Reconcile(context.Background(), fx.day)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	alerts, _ := fx.repo.AlertsForRecord(context.Background(), nil, record.ID)
	if len(alerts) != 1 || alerts[0].Severity != models.AlertSeverityHigh {
		t.Fatalf("want one HIGH alert for difference 1500.00, got %+v", alerts)
	}
}

func TestReconcile_RerunIsIdempotent(t *testing.T) {
	fx := newEngineFixture()
	balance := fx.credit(7, models.OwnerTypePayee, 7, "900.00")
	fx.ledger.tamper(balance.ID, decimal.NewFromFloat(950))

	first, err := fx.engine.Reconcile(context.Background(), fx.day)
	if err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	second, err := fx.engine.Reconcile(context.Background(), fx.day)
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("re-run created a new record (%d -> %d), want same day row", first.ID, second.ID)
	}
	if !second.ExpectedBalances.Equal(first.ExpectedBalances) {
		t.Errorf("expected sets differ across re-runs")
	}
	if !second.ActualBalances.Equal(first.ActualBalances) {
		t.Errorf("actual sets differ across re-runs")
	}
	if second.RunCount != 2 {
		t.Errorf("run count = %d, want 2", second.RunCount)
	}
	// The same account's alert is refreshed, never duplicated.
	alerts, _ := fx.repo.AlertsForRecord(context.Background(), nil, second.ID)
	if len(alerts) != 1 {
		t.Errorf("re-run stacked alerts: got %d, want 1", len(alerts))
	}
}

func TestReconcile_LateEntriesForLaterDaysAreIgnored(t *testing.T) {
	fx := newEngineFixture()
	fx.credit(7, models.OwnerTypePayee, 7, "900.00")

	// Next day's posting lands before the prior day is reconciled.
	fx.clock.Advance(24 * time.Hour)
	fx.credit(7, models.OwnerTypePayee, 7, "111.11")

	record, err := fx.engine.Reconcile(context.Background(), fx.day)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if record.Status != models.ReconciliationStatusReconciled {
		t.Errorf("status = %s, want RECONCILED (later-day postings must not read as drift)", record.Status)
	}
}

func TestReconcile_ResolvedAlertStaysResolvedOnRerun(t *testing.T) {
	fx := newEngineFixture()
	balance := fx.credit(7, models.OwnerTypePayee, 7, "900.00")
	fx.ledger.tamper(balance.ID, decimal.NewFromFloat(950))

	record, err := fx.engine.Reconcile(context.Background(), fx.day)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	alerts, _ := fx.repo.AlertsForRecord(context.Background(), nil, record.ID)
	if _, err := fx.engine.ResolveAlert(context.Background(), ResolveAlertInput{
		AlertId:    alerts[0].ID,
		ResolvedBy: 9,
		Notes:      "manual posting applied",
	}); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if _, err := fx.engine.Reconcile(context.Background(), fx.day); err != nil {
		t.Fatalf("re-reconcile: %v", err)
	}
	alerts, _ = fx.repo.AlertsForRecord(context.Background(), nil, record.ID)
	if len(alerts) != 1 {
		t.Fatalf("got %d alerts, want the single resolved one", len(alerts))
	}
	if alerts[0].Status != models.AlertStatusResolved {
		t.Errorf("re-run touched a resolved alert: status = %s", alerts[0].Status)
	}
}

func TestResolveAlert_Transitions(t *testing.T) {
	fx := newEngineFixture()
	balance := fx.credit(7, models.OwnerTypePayee, 7, "900.00")
	fx.ledger.tamper(balance.ID, decimal.NewFromFloat(950))
	record, err := fx.engine.Reconcile(context.Background(), fx.day)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	alerts, _ := fx.repo.AlertsForRecord(context.Background(), nil, record.ID)
	alertId := alerts[0].ID

	// Notes are mandatory.
	if _, err := fx.engine.ResolveAlert(context.Background(), ResolveAlertInput{AlertId: alertId, ResolvedBy: 9}); err == nil {
		t.Error("resolution without notes accepted")
	}

	resolved, err := fx.engine.ResolveAlert(context.Background(), ResolveAlertInput{
		AlertId:    alertId,
		ResolvedBy: 9,
		Notes:      "correction ADJ-000001 applied",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != models.AlertStatusResolved || resolved.ResolvedBy == nil || *resolved.ResolvedBy != 9 {
		t.Errorf("resolution fields not set: %+v", resolved)
	}
	if fx.audit.countOf(models.AuditActionResolveAlert) != 1 {
		t.Errorf("resolution not audited")
	}

	// RESOLVED is terminal.
	_, err = fx.engine.ResolveAlert(context.Background(), ResolveAlertInput{
		AlertId:    alertId,
		ResolvedBy: 9,
		Notes:      "again",
	})
	if !errors.Is(err, models.ErrAlertAlreadyResolved) {
		t.Errorf("second resolve error = %v, want ErrAlertAlreadyResolved", err)
	}
}
