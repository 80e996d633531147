package reports

import (
	"context"
	"fmt"

	"bitbucket.org/mmdatafocus/finance_backend/models"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

const sheetName = "Sheet1"

// ExportStatementExcel renders an account statement as a spreadsheet, the
// form finance ops hands to hospitals on request.
func ExportStatementExcel(statement *Statement) (*excelize.File, error) {
	f := excelize.NewFile()
	if _, err := f.NewSheet(sheetName); err != nil {
		return nil, err
	}

	f.SetCellValue(sheetName, "A1", fmt.Sprintf("Account %d (%s, scope %d)", statement.BalanceId, statement.OwnerType, statement.ScopeId))
	f.SetCellValue(sheetName, "A2", fmt.Sprintf("Period %s to %s", statement.From.Format("2006-01-02"), statement.To.Format("2006-01-02")))
	f.SetCellValue(sheetName, "A3", "Opening Balance")
	f.SetCellValue(sheetName, "B3", statement.OpeningBalance.StringFixed(2))

	// Header row.
	f.SetCellValue(sheetName, "A5", "Date")
	f.SetCellValue(sheetName, "B5", "Type")
	f.SetCellValue(sheetName, "C5", "Description")
	f.SetCellValue(sheetName, "D5", "TransactionRef")
	f.SetCellValue(sheetName, "E5", "Credit")
	f.SetCellValue(sheetName, "F5", "Debit")
	f.SetCellValue(sheetName, "G5", "Balance")

	row := 6
	for _, r := range statement.Rows {
		f.SetCellValue(sheetName, "A"+fmt.Sprint(row), r.PostedAt.Format("2006-01-02 15:04:05"))
		f.SetCellValue(sheetName, "B"+fmt.Sprint(row), string(r.EntryType))
		f.SetCellValue(sheetName, "C"+fmt.Sprint(row), r.Description)
		f.SetCellValue(sheetName, "D"+fmt.Sprint(row), r.TransactionRef)
		f.SetCellValue(sheetName, "E"+fmt.Sprint(row), r.Credit.StringFixed(2))
		f.SetCellValue(sheetName, "F"+fmt.Sprint(row), r.Debit.StringFixed(2))
		f.SetCellValue(sheetName, "G"+fmt.Sprint(row), r.RunningBalance.StringFixed(2))
		row++
	}

	row++
	f.SetCellValue(sheetName, "A"+fmt.Sprint(row), "Closing Balance")
	f.SetCellValue(sheetName, "E"+fmt.Sprint(row), statement.TotalCredits.StringFixed(2))
	f.SetCellValue(sheetName, "F"+fmt.Sprint(row), statement.TotalDebits.StringFixed(2))
	f.SetCellValue(sheetName, "G"+fmt.Sprint(row), statement.ClosingBalance.StringFixed(2))
	return f, nil
}

// ExportReconciliationExcel renders one day's reconciliation record with its
// alerts, for audit review.
func ExportReconciliationExcel(ctx context.Context, db *gorm.DB, record *models.ReconciliationRecord) (*excelize.File, error) {
	var alerts []models.DiscrepancyAlert
	err := db.WithContext(ctx).
		Where("reconciliation_record_id = ?", record.ID).
		Order("balance_id ASC").
		Find(&alerts).Error
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	if _, err := f.NewSheet(sheetName); err != nil {
		return nil, err
	}

	f.SetCellValue(sheetName, "A1", "Reconciliation "+record.ReconciliationDate.Format("2006-01-02"))
	f.SetCellValue(sheetName, "B1", string(record.Status))
	f.SetCellValue(sheetName, "A2", "Entries Replayed")
	f.SetCellValue(sheetName, "B2", record.EntriesReplayed)
	f.SetCellValue(sheetName, "A3", "Accounts Checked")
	f.SetCellValue(sheetName, "B3", record.AccountsChecked)
	f.SetCellValue(sheetName, "A4", "Run Count")
	f.SetCellValue(sheetName, "B4", record.RunCount)

	f.SetCellValue(sheetName, "A6", "BalanceId")
	f.SetCellValue(sheetName, "B6", "Expected")
	f.SetCellValue(sheetName, "C6", "Actual")
	f.SetCellValue(sheetName, "D6", "Difference")
	f.SetCellValue(sheetName, "E6", "Severity")
	f.SetCellValue(sheetName, "F6", "Status")
	f.SetCellValue(sheetName, "G6", "ResolutionNotes")

	row := 7
	for _, a := range alerts {
		f.SetCellValue(sheetName, "A"+fmt.Sprint(row), a.BalanceId)
		f.SetCellValue(sheetName, "B"+fmt.Sprint(row), a.ExpectedAmount.StringFixed(2))
		f.SetCellValue(sheetName, "C"+fmt.Sprint(row), a.ActualAmount.StringFixed(2))
		f.SetCellValue(sheetName, "D"+fmt.Sprint(row), a.DifferenceAmount.StringFixed(2))
		f.SetCellValue(sheetName, "E"+fmt.Sprint(row), string(a.Severity))
		f.SetCellValue(sheetName, "F"+fmt.Sprint(row), string(a.Status))
		if a.ResolutionNotes != nil {
			f.SetCellValue(sheetName, "G"+fmt.Sprint(row), *a.ResolutionNotes)
		}
		row++
	}
	return f, nil
}
