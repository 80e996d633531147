package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is a monetary amount at fixed two decimal place precision. All
// arithmetic re-rounds so repeated operations cannot accumulate drift.
// The zero value is usable and equals 0.00.
type Money struct {
	amount decimal.Decimal
}

// Places is the stored precision of every Money value.
const Places = 2

// DefaultTolerance absorbs rounding drift when balances accumulated from many
// small postings are compared. Comparisons against stored balances must use
// WithinTolerance, never exact equality.
var DefaultTolerance = decimal.NewFromFloat(0.01)

func New(d decimal.Decimal) Money {
	return Money{amount: d.Round(Places)}
}

func Zero() Money { return Money{} }

func FromFloat(f float64) Money {
	return New(decimal.NewFromFloat(f))
}

func FromInt(n int64) Money {
	return New(decimal.NewFromInt(n))
}

// Parse reads an amount from display or user input. A currency symbol prefix
// or suffix and thousands separators are stripped; anything non-numeric left
// over is a parse error.
func Parse(value string) (Money, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Money{}, errors.New("empty amount string")
	}

	cleaned := strings.ReplaceAll(value, ",", "")
	cleaned = strings.TrimFunc(cleaned, func(r rune) bool {
		if r >= '0' && r <= '9' {
			return false
		}
		switch r {
		case '.', '-', '+':
			return false
		}
		return true
	})
	if cleaned == "" {
		return Money{}, fmt.Errorf("no numeric amount in %q", value)
	}

	dec, err := decimal.NewFromString(cleaned)
	if err != nil {
		return Money{}, fmt.Errorf("parse amount %q: %w", value, err)
	}
	return New(dec), nil
}

// MustParse is for constants and tests. It panics on malformed input.
func MustParse(value string) Money {
	m, err := Parse(value)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) Add(o Money) Money {
	return New(m.amount.Add(o.amount))
}

func (m Money) Sub(o Money) Money {
	return New(m.amount.Sub(o.amount))
}

// Percentage returns rate*m rounded to two places. rate is a fraction
// (0.05 for 5%), not a percent figure.
func (m Money) Percentage(rate decimal.Decimal) Money {
	return New(m.amount.Mul(rate))
}

func (m Money) Neg() Money { return Money{amount: m.amount.Neg()} }

func (m Money) Abs() Money { return Money{amount: m.amount.Abs()} }

func (m Money) IsZero() bool     { return m.amount.IsZero() }
func (m Money) IsNegative() bool { return m.amount.IsNegative() }
func (m Money) IsPositive() bool { return m.amount.IsPositive() }

func (m Money) Cmp(o Money) int           { return m.amount.Cmp(o.amount) }
func (m Money) Equal(o Money) bool        { return m.amount.Equal(o.amount) }
func (m Money) GreaterThan(o Money) bool  { return m.amount.GreaterThan(o.amount) }
func (m Money) LessThan(o Money) bool     { return m.amount.LessThan(o.amount) }

// WithinTolerance reports whether |m-o| <= tolerance.
func (m Money) WithinTolerance(o Money, tolerance decimal.Decimal) bool {
	return m.amount.Sub(o.amount).Abs().LessThanOrEqual(tolerance)
}

// EqualsWithinTolerance compares with the default 0.01 tolerance.
func (m Money) EqualsWithinTolerance(o Money) bool {
	return m.WithinTolerance(o, DefaultTolerance)
}

// Decimal exposes the underlying value for storage columns.
func (m Money) Decimal() decimal.Decimal { return m.amount }

// String renders the plain fixed form, e.g. "950.00".
func (m Money) String() string { return m.amount.StringFixed(Places) }

// Format renders for display with thousands grouping and an optional
// currency symbol, e.g. "Ks 1,234.50". Parse accepts Format output.
func (m Money) Format(symbol string) string {
	grouped := groupThousands(m.amount.StringFixed(Places))
	if symbol == "" {
		return grouped
	}
	return symbol + " " + grouped
}

func groupThousands(fixed string) string {
	neg := strings.HasPrefix(fixed, "-")
	if neg {
		fixed = fixed[1:]
	}
	intPart := fixed
	fracPart := ""
	if i := strings.IndexByte(fixed, '.'); i >= 0 {
		intPart, fracPart = fixed[:i], fixed[i:]
	}

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	lead := len(intPart) % 3
	if lead > 0 {
		b.WriteString(intPart[:lead])
		if len(intPart) > lead {
			b.WriteByte(',')
		}
	}
	for i := lead; i < len(intPart); i += 3 {
		b.WriteString(intPart[i : i+3])
		if i+3 < len(intPart) {
			b.WriteByte(',')
		}
	}
	b.WriteString(fracPart)
	return b.String()
}
