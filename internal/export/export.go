// Package export renders onboarding submissions as an Excel workbook for
// administrators.
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/phillip-england/onboarding/internal/store"
)

const SheetName = "Submissions"

var header = []any{
	"Full Name", "Email", "Department", "Form", "Status", "Completion %",
	"Last Saved", "Submitted", "Reviewed", "Rejection Reason",
}

// WriteSubmissions writes one header row and one row per submission.
func WriteSubmissions(w io.Writer, rows []store.SubmissionRow) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return err
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	lastCol, err := excelize.ColumnNumberToName(len(header))
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(SheetName, "A1", lastCol+"1", bold); err != nil {
		return err
	}

	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := []any{
			r.FullName,
			r.Email,
			r.DepartmentName,
			r.FormName,
			string(r.Status),
			r.CompletionPercentage,
			formatTime(&r.LastSavedAt),
			formatTime(r.SubmittedAt),
			formatTime(r.ReviewedAt),
			r.RejectionReason,
		}
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	if err := f.SetColWidth(SheetName, "A", lastCol, 20); err != nil {
		return err
	}
	_, err = f.WriteTo(w)
	return err
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04")
}
