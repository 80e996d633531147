package models

import (
	"gorm.io/gorm"
)

func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(
		&AccountBalance{}, &LedgerEntry{},
		&DistributionRecord{}, &ServiceChargeRate{},
		&ReconciliationRecord{}, &DiscrepancyAlert{},
		&BalanceCorrection{}, &AuditEvent{},
		&NotificationOutbox{}, &AccountDailySummary{},
	)
}
