package ledger

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/mmdatafocus/rift_backend/models"
)

const (
	statementSheet = "Statement"
	summarySheet   = "Balances"
)

var statementHeadings = []string{"Date", "Type", "Bucket", "Currency", "Amount", "Transaction", "Payout", "Memo"}

// WriteStatement renders a user's entries and balances as an XLSX workbook.
func WriteStatement(w io.Writer, userId string, entries []models.LedgerEntry) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", statementSheet); err != nil {
		return err
	}
	for i, h := range statementHeadings {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		f.SetCellValue(statementSheet, cell, h)
	}

	row := 2
	for _, e := range entries {
		if e.UserId != userId {
			continue
		}
		values := []interface{}{
			e.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			string(e.Type),
			string(e.Bucket),
			e.Currency,
			e.Amount.InexactFloat64(),
			deref(e.TransactionId),
			deref(e.PayoutId),
			e.Memo,
		}
		for i, v := range values {
			cell, err := excelize.CoordinatesToCellName(i+1, row)
			if err != nil {
				return err
			}
			f.SetCellValue(statementSheet, cell, v)
		}
		row++
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return err
	}
	f.SetCellValue(summarySheet, "A1", "Currency")
	f.SetCellValue(summarySheet, "B1", "Available")
	f.SetCellValue(summarySheet, "C1", "Pending")
	for i, b := range Project(userId, entries) {
		f.SetCellValue(summarySheet, "A"+fmt.Sprint(i+2), b.Currency)
		f.SetCellValue(summarySheet, "B"+fmt.Sprint(i+2), b.Available.StringFixed(2))
		f.SetCellValue(summarySheet, "C"+fmt.Sprint(i+2), b.Pending.StringFixed(2))
	}

	return f.Write(w)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
