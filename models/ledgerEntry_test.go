package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func boolPtr(v bool) *bool { return &v }

func TestLedgerEntryBeforeCreate_DirectionRules(t *testing.T) {
	cases := []struct {
		name      string
		entryType EntryType
		amount    decimal.Decimal
		isDebit   *bool
		wantErr   bool
	}{
		{"credit implied direction", EntryTypeCredit, decimal.NewFromInt(10), boolPtr(false), false},
		{"debit implied direction", EntryTypeDebit, decimal.NewFromInt(10), boolPtr(true), false},
		{"adjustment debit", EntryTypeAdjustment, decimal.NewFromInt(10), boolPtr(true), false},
		{"adjustment credit", EntryTypeAdjustment, decimal.NewFromInt(10), boolPtr(false), false},
		{"credit marked debit", EntryTypeCredit, decimal.NewFromInt(10), boolPtr(true), true},
		{"debit marked credit", EntryTypeDebit, decimal.NewFromInt(10), boolPtr(false), true},
		{"missing direction", EntryTypeCredit, decimal.NewFromInt(10), nil, true},
		{"zero amount", EntryTypeCredit, decimal.Zero, boolPtr(false), true},
		{"negative amount", EntryTypeDebit, decimal.NewFromInt(-5), boolPtr(true), true},
		{"unknown type", EntryType("TRANSFER"), decimal.NewFromInt(10), boolPtr(false), true},
	}
	for _, tc := range cases {
		entry := LedgerEntry{
			BalanceId: 1,
			EntryType: tc.entryType,
			Amount:    tc.amount,
			IsDebit:   tc.isDebit,
		}
		err := entry.BeforeCreate(nil)
		if (err != nil) != tc.wantErr {
			t.Errorf("%s: err = %v, wantErr = %v", tc.name, err, tc.wantErr)
		}
	}
}

func TestLedgerEntryImmutable(t *testing.T) {
	entry := LedgerEntry{ID: 1, EntryType: EntryTypeCredit, Amount: decimal.NewFromInt(10), IsDebit: boolPtr(false)}
	if err := entry.BeforeUpdate(nil); err == nil {
		t.Error("ledger entry update allowed")
	}
	if err := entry.BeforeDelete(nil); err == nil {
		t.Error("ledger entry delete allowed")
	}
}

func TestSignedAmount(t *testing.T) {
	credit := LedgerEntry{EntryType: EntryTypeCredit, Amount: decimal.NewFromInt(50), IsDebit: boolPtr(false)}
	if got := credit.SignedAmount(); !got.Equal(decimal.NewFromInt(50)) {
		t.Errorf("credit signed amount = %s, want 50", got)
	}
	debit := LedgerEntry{EntryType: EntryTypeDebit, Amount: decimal.NewFromInt(50), IsDebit: boolPtr(true)}
	if got := debit.SignedAmount(); !got.Equal(decimal.NewFromInt(-50)) {
		t.Errorf("debit signed amount = %s, want -50", got)
	}
}

func TestEntryTypeDefaultDirection(t *testing.T) {
	if isDebit, err := EntryTypeCredit.DefaultDirection(); err != nil || isDebit {
		t.Errorf("CREDIT direction = (%v, %v), want (false, nil)", isDebit, err)
	}
	if isDebit, err := EntryTypeDebit.DefaultDirection(); err != nil || !isDebit {
		t.Errorf("DEBIT direction = (%v, %v), want (true, nil)", isDebit, err)
	}
	if _, err := EntryTypeAdjustment.DefaultDirection(); err == nil {
		t.Error("ADJUSTMENT must not have an implied direction")
	}
}
