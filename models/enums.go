package models

import "fmt"

type OwnerType string

const (
	OwnerTypePlatformAdmin OwnerType = "PLATFORM_ADMIN"
	OwnerTypePayee         OwnerType = "PAYEE"
)

func (t OwnerType) Valid() bool {
	return t == OwnerTypePlatformAdmin || t == OwnerTypePayee
}

type EntryType string

const (
	EntryTypeCredit     EntryType = "CREDIT"
	EntryTypeDebit      EntryType = "DEBIT"
	EntryTypeAdjustment EntryType = "ADJUSTMENT"
)

func (t EntryType) Valid() bool {
	switch t {
	case EntryTypeCredit, EntryTypeDebit, EntryTypeAdjustment:
		return true
	}
	return false
}

// DefaultDirection returns whether the entry type debits the balance.
// ADJUSTMENT carries its own direction bit and has no default.
func (t EntryType) DefaultDirection() (isDebit bool, err error) {
	switch t {
	case EntryTypeCredit:
		return false, nil
	case EntryTypeDebit:
		return true, nil
	}
	return false, fmt.Errorf("entry type %s has no implied direction", t)
}

type ReconciliationStatus string

const (
	ReconciliationStatusReconciled       ReconciliationStatus = "RECONCILED"
	ReconciliationStatusDiscrepancyFound ReconciliationStatus = "DISCREPANCY_FOUND"
)

type AlertSeverity string

const (
	AlertSeverityMedium AlertSeverity = "MEDIUM"
	AlertSeverityHigh   AlertSeverity = "HIGH"
)

type AlertStatus string

const (
	AlertStatusOpen     AlertStatus = "OPEN"
	AlertStatusResolved AlertStatus = "RESOLVED"
)

// Audit action types.
const (
	AuditActionDistribute   = "DISTRIBUTE"
	AuditActionCorrect      = "CORRECT"
	AuditActionResolveAlert = "RESOLVE_ALERT"
	AuditActionReconcile    = "RECONCILE"
	AuditActionRateChange   = "RATE_CHANGE"
)

// Reference types for audit events and outbox rows.
const (
	ReferenceTypeDistribution   = "DISTRIBUTION"
	ReferenceTypeCorrection     = "CORRECTION"
	ReferenceTypeReconciliation = "RECONCILIATION"
	ReferenceTypeAlert          = "ALERT"
	ReferenceTypeHealthReport   = "HEALTH_REPORT"
	ReferenceTypeChargeRate     = "CHARGE_RATE"
)

// Outbox event types, the routing key consumers switch on.
const (
	EventTypeRevenueDistributed = "REVENUE_DISTRIBUTED"
	EventTypeDiscrepancyFound   = "DISCREPANCY_FOUND"
	EventTypeBalanceCorrected   = "BALANCE_CORRECTED"
	EventTypeHealthDegraded     = "HEALTH_DEGRADED"
)
