package models

import (
	"context"
	"errors"
	"testing"

	"bitbucket.org/mmdatafocus/finance_backend/config"
	"github.com/shopspring/decimal"
)

func rateSettings() config.FinanceSettings {
	return config.FinanceSettings{
		DefaultServiceChargeRate: decimal.NewFromFloat(0.05),
		MinServiceChargeRate:     decimal.Zero,
		MaxServiceChargeRate:     decimal.NewFromFloat(0.5),
	}
}

func TestEffectiveRate(t *testing.T) {
	settings := rateSettings()

	cases := []struct {
		name      string
		stored    string
		want      string
		recovered bool
	}{
		{"in range", "0.075", "0.075", false},
		{"at minimum", "0", "0", false},
		{"at maximum", "0.5", "0.5", false},
		{"below minimum", "-0.01", "0.05", true},
		{"above maximum", "0.51", "0.05", true},
		{"absurdly large", "1.5", "0.05", true},
	}
	for _, tc := range cases {
		stored, err := decimal.NewFromString(tc.stored)
		if err != nil {
			t.Fatalf("%s: bad fixture %q", tc.name, tc.stored)
		}
		rate, cfgErr := EffectiveRate(settings, stored)
		if !rate.Equal(decimal.RequireFromString(tc.want)) {
			t.Errorf("%s: effective rate = %s, want %s", tc.name, rate.String(), tc.want)
		}
		if tc.recovered && cfgErr == nil {
			t.Errorf("%s: out-of-range rate did not report a ConfigurationError", tc.name)
		}
		if !tc.recovered && cfgErr != nil {
			t.Errorf("%s: in-range rate reported %v", tc.name, cfgErr)
		}
	}
}

func TestEffectiveRate_RecoveredErrorIsNotCritical(t *testing.T) {
	// The fallback keeps distributions flowing; the error is a warning for
	// operators, never an IntegrityError-grade abort.
	_, cfgErr := EffectiveRate(rateSettings(), decimal.NewFromFloat(0.9))
	if cfgErr == nil {
		t.Fatal("expected a ConfigurationError for rate 0.9")
	}
	if IsCritical(cfgErr) {
		t.Error("recovered ConfigurationError classified as critical")
	}
}

func TestSetServiceChargeRate_RejectsOutOfRange(t *testing.T) {
	settings := rateSettings()

	for _, bad := range []string{"-0.01", "0.51", "2"} {
		rate := decimal.RequireFromString(bad)
		// The bounds check runs before any storage access, so nil handles
		// prove nothing was touched.
		err := SetServiceChargeRate(context.Background(), nil, nil, settings, 7, rate, 1)
		var ve *ValidationError
		if err == nil || !errors.As(err, &ve) {
			t.Errorf("rate %s: error = %v, want ValidationError", bad, err)
		}
	}
}
