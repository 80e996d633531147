package models

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
)

var (
	// ErrAccountNotFound means the payee has no ledger account and none can
	// be derived from its scope. Non-retryable; distribution for that payee
	// is suspended until the account is provisioned.
	ErrAccountNotFound = errors.New("ledger account not found")

	// ErrDuplicateTransaction means the external transaction was already
	// distributed. The first posting stands; the caller must not retry.
	ErrDuplicateTransaction = errors.New("transaction already distributed")

	// ErrAlertAlreadyResolved guards the OPEN -> RESOLVED transition.
	ErrAlertAlreadyResolved = errors.New("discrepancy alert is already resolved")
)

// ValidationError rejects malformed input before any mutation. The caller can
// retry with corrected input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ConfigurationError marks a configured value that failed its bounds check.
// It is recovered locally by falling back to the platform default and logged
// as a warning, never surfaced as an operation failure.
type ConfigurationError struct {
	Setting string
	Value   string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration %s=%s: %s", e.Setting, e.Value, e.Reason)
}

// CalculationError means the service-charge split failed its own arithmetic
// check before anything was posted. Critical class.
type CalculationError struct {
	Gross         decimal.Decimal
	ServiceCharge decimal.Decimal
	PayeeAmount   decimal.Decimal
}

func (e *CalculationError) Error() string {
	return fmt.Sprintf("split does not sum to gross: %s + %s != %s",
		e.ServiceCharge.String(), e.PayeeAmount.String(), e.Gross.String())
}

// IntegrityError means a ledger invariant failed after mutation; the whole
// transaction is rolled back and the incident escalated. Critical class.
type IntegrityError struct {
	Op        string
	BalanceId int
	Detail    string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("ledger integrity violation in %s (balance=%d): %s", e.Op, e.BalanceId, e.Detail)
}

// IsCritical reports whether err belongs to the critical severity class that
// must be escalated, not retried.
func IsCritical(err error) bool {
	var ie *IntegrityError
	var ce *CalculationError
	return errors.As(err, &ie) || errors.As(err, &ce)
}

// IsDuplicateKeyErr detects a MySQL unique constraint violation (error 1062),
// the signal the insert-first idempotency checks rely on.
func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// PublicMessage maps an error to what a caller outside the finance team may
// see. Critical failures stay generic; full detail is logged server-side.
func PublicMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case IsCritical(err):
		return "operation failed, contact administrator"
	default:
		var ve *ValidationError
		if errors.As(err, &ve) {
			return ve.Error()
		}
		var cfe *ConfigurationError
		if errors.As(err, &cfe) {
			return cfe.Error()
		}
		if errors.Is(err, ErrAccountNotFound) ||
			errors.Is(err, ErrDuplicateTransaction) ||
			errors.Is(err, ErrAlertAlreadyResolved) {
			return err.Error()
		}
		return "operation failed, contact administrator"
	}
}
