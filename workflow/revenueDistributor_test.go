package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/finance_backend/config"
	"bitbucket.org/mmdatafocus/finance_backend/models"
	"bitbucket.org/mmdatafocus/finance_backend/money"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func testSettings() config.FinanceSettings {
	return config.FinanceSettings{
		DefaultServiceChargeRate: decimal.NewFromFloat(0.05),
		MinServiceChargeRate:     decimal.Zero,
		MaxServiceChargeRate:     decimal.NewFromFloat(0.5),
		MaxPostingAmount:         decimal.NewFromInt(10000000),
		HighSeverityThreshold:    decimal.NewFromInt(1000),
		VolumeOutlierFactor:      decimal.NewFromInt(3),
		VolumeOutlierWindowDays:  7,
		VolumeAbsoluteCeiling:    decimal.NewFromInt(5000000),
		HealthScoreAlertBelow:    80,
		PlatformOwnerId:          1,
	}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

type distributorFixture struct {
	distributor *RevenueDistributor
	ledger      *fakeLedger
	store       *fakeDistStore
	notify      *fakeNotifier
	audit       *fakeAudit
	clock       *fakeClock
}

func newDistributorFixture(rate decimal.Decimal) *distributorFixture {
	clock := &fakeClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	ledger := newFakeLedger(clock)
	store := newFakeDistStore()
	notify := &fakeNotifier{}
	audit := &fakeAudit{}
	return &distributorFixture{
		distributor: &RevenueDistributor{
			Runner:   fakeRunner{},
			Ledger:   ledger,
			Store:    store,
			Rates:    fakeRates{rate: rate},
			Locks:    nil,
			Notify:   notify,
			Audit:    audit,
			Logger:   quietLogger(),
			Settings: testSettings(),
			Validate: validator.New(),
		},
		ledger: ledger,
		store:  store,
		notify: notify,
		audit:  audit,
		clock:  clock,
	}
}

func TestComputeSplit_AlwaysSumsToGross(t *testing.T) {
	rates := []decimal.Decimal{
		decimal.Zero,
		decimal.NewFromFloat(0.05),
		decimal.NewFromFloat(0.075),
		decimal.NewFromFloat(0.1),
		decimal.NewFromFloat(0.333),
		decimal.NewFromFloat(0.5),
	}
	amounts := []string{"0.01", "0.03", "1.00", "33.33", "999.99", "1000.00", "123456.78", "9999999.99"}

	for _, rate := range rates {
		for _, amount := range amounts {
			gross := money.MustParse(amount)
			serviceCharge, payeeAmount, err := ComputeSplit(gross, rate)
			if err != nil {
				t.Fatalf("split %s at rate %s: %v", amount, rate, err)
			}
			if !serviceCharge.Add(payeeAmount).EqualsWithinTolerance(gross) {
				t.Fatalf("split %s at rate %s: %s + %s != %s",
					amount, rate, serviceCharge, payeeAmount, gross)
			}
			if serviceCharge.IsNegative() || payeeAmount.IsNegative() {
				t.Fatalf("split %s at rate %s produced a negative side", amount, rate)
			}
		}
	}
}

func TestDistribute_DefaultRateSplitsGross(t *testing.T) {
	fx := newDistributorFixture(decimal.NewFromFloat(0.05))

	result, err := fx.distributor.Distribute(context.Background(), DistributeInput{
		TransactionRef: "tx-1",
		GrossAmount:    "1000",
		PayeeScopeId:   7,
		Status:         TransactionStatusCompleted,
		ActorId:        42,
	})
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}

	if got := result.PayeeAmount.String(); got != "950.00" {
		t.Errorf("payee amount = %s, want 950.00", got)
	}
	if got := result.ServiceCharge.String(); got != "50.00" {
		t.Errorf("service charge = %s, want 50.00", got)
	}
	if got := result.PayeeBalance.String(); got != "950.00" {
		t.Errorf("payee balance = %s, want 950.00", got)
	}
	if got := result.PlatformBalance.String(); got != "50.00" {
		t.Errorf("platform balance = %s, want 50.00", got)
	}

	// Exactly one entry per side, invariant intact on both accounts.
	for balanceId, balance := range fx.ledger.balances {
		entries := fx.ledger.entriesFor(balanceId)
		if len(entries) != 1 {
			t.Errorf("balance %d has %d entries, want 1", balanceId, len(entries))
		}
		if !balance.InvariantSatisfied(money.DefaultTolerance) {
			t.Errorf("balance %d violates credits-debits invariant", balanceId)
		}
	}

	if fx.notify.count() != 1 {
		t.Errorf("enqueued %d notifications, want 1", fx.notify.count())
	}
	if fx.audit.countOf(models.AuditActionDistribute) != 1 {
		t.Errorf("recorded %d audit events, want 1", fx.audit.countOf(models.AuditActionDistribute))
	}
}

func TestDistribute_SecondCallSameTransactionRejected(t *testing.T) {
	fx := newDistributorFixture(decimal.NewFromFloat(0.05))
	in := DistributeInput{
		TransactionRef: "tx-dup",
		GrossAmount:    "1000",
		PayeeScopeId:   7,
		Status:         TransactionStatusCompleted,
		ActorId:        42,
	}

	if _, err := fx.distributor.Distribute(context.Background(), in); err != nil {
		t.Fatalf("first distribute: %v", err)
	}
	_, err := fx.distributor.Distribute(context.Background(), in)
	if !errors.Is(err, models.ErrDuplicateTransaction) {
		t.Fatalf("second distribute error = %v, want ErrDuplicateTransaction", err)
	}

	// First posting stands, nothing was double-posted.
	payee, _ := fx.ledger.GetBalance(context.Background(), 1)
	platform, _ := fx.ledger.GetBalance(context.Background(), 2)
	if got := payee.CurrentBalance.StringFixed(2); got != "950.00" {
		t.Errorf("payee balance after duplicate = %s, want 950.00", got)
	}
	if got := platform.CurrentBalance.StringFixed(2); got != "50.00" {
		t.Errorf("platform balance after duplicate = %s, want 50.00", got)
	}
}

func TestDistribute_ConcurrentDuplicates_PostOnce(t *testing.T) {
	for run := 0; run < 50; run++ {
		fx := newDistributorFixture(decimal.NewFromFloat(0.05))
		in := DistributeInput{
			TransactionRef: "tx-race",
			GrossAmount:    "1000",
			PayeeScopeId:   7,
			Status:         TransactionStatusCompleted,
			ActorId:        42,
		}

		var wg sync.WaitGroup
		var mu sync.Mutex
		successes, duplicates := 0, 0
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := fx.distributor.Distribute(context.Background(), in)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case errors.Is(err, models.ErrDuplicateTransaction):
					duplicates++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		if successes != 1 || duplicates != 9 {
			t.Fatalf("run=%d got %d successes / %d duplicates, want 1 / 9", run, successes, duplicates)
		}
		payee, _ := fx.ledger.GetBalance(context.Background(), 1)
		if got := payee.CurrentBalance.StringFixed(2); got != "950.00" {
			t.Fatalf("run=%d payee balance = %s, want 950.00", run, got)
		}
	}
}

func TestDistribute_InputValidation(t *testing.T) {
	fx := newDistributorFixture(decimal.NewFromFloat(0.05))
	base := DistributeInput{
		TransactionRef: "tx-v",
		GrossAmount:    "1000",
		PayeeScopeId:   7,
		Status:         TransactionStatusCompleted,
		ActorId:        42,
	}

	cases := []struct {
		name   string
		mutate func(in *DistributeInput)
	}{
		{"pending status", func(in *DistributeInput) { in.Status = "pending" }},
		{"zero amount", func(in *DistributeInput) { in.GrossAmount = "0" }},
		{"negative amount", func(in *DistributeInput) { in.GrossAmount = "-10" }},
		{"non numeric amount", func(in *DistributeInput) { in.GrossAmount = "ten" }},
		{"over max posting", func(in *DistributeInput) { in.GrossAmount = "999999999999" }},
		{"missing ref", func(in *DistributeInput) { in.TransactionRef = "" }},
		{"zero scope id", func(in *DistributeInput) { in.PayeeScopeId = 0 }},
		{"negative scope id", func(in *DistributeInput) { in.PayeeScopeId = -7 }},
	}
	for _, tc := range cases {
		in := base
		tc.mutate(&in)
		if _, err := fx.distributor.Distribute(context.Background(), in); err == nil {
			t.Errorf("%s: expected error, got nil", tc.name)
		}
	}
	if len(fx.ledger.entries) != 0 {
		t.Errorf("rejected inputs still produced %d ledger entries", len(fx.ledger.entries))
	}
}
