package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestInvariantSatisfied(t *testing.T) {
	tolerance := decimal.NewFromFloat(0.01)
	cases := []struct {
		name    string
		current string
		credits string
		debits  string
		want    bool
	}{
		{"exact", "950.00", "1000.00", "50.00", true},
		{"within tolerance", "949.995", "1000.00", "50.00", true},
		{"at tolerance boundary", "949.99", "1000.00", "50.00", true},
		{"beyond tolerance", "949.98", "1000.00", "50.00", false},
		{"fresh account", "0", "0", "0", true},
		{"tampered", "950.00", "900.00", "0", false},
	}
	for _, tc := range cases {
		balance := AccountBalance{
			CurrentBalance: decimal.RequireFromString(tc.current),
			TotalCredits:   decimal.RequireFromString(tc.credits),
			TotalDebits:    decimal.RequireFromString(tc.debits),
		}
		if got := balance.InvariantSatisfied(tolerance); got != tc.want {
			t.Errorf("%s: InvariantSatisfied = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestAccountBalanceNeverDeleted(t *testing.T) {
	balance := AccountBalance{ID: 1}
	if err := balance.BeforeDelete(nil); err == nil {
		t.Error("account balance delete allowed")
	}
}

func TestSeverityFor(t *testing.T) {
	high := decimal.NewFromInt(1000)
	cases := []struct {
		difference string
		want       AlertSeverity
	}{
		{"0.02", AlertSeverityMedium},
		{"999.99", AlertSeverityMedium},
		{"1000.00", AlertSeverityMedium},
		{"1000.01", AlertSeverityHigh},
		{"-1500.00", AlertSeverityHigh},
		{"-50.00", AlertSeverityMedium},
	}
	for _, tc := range cases {
		if got := SeverityFor(decimal.RequireFromString(tc.difference), high); got != tc.want {
			t.Errorf("SeverityFor(%s) = %s, want %s", tc.difference, got, tc.want)
		}
	}
}
