package pipeline

import (
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"smbload/internal"
)

const (
	sheetFiles       = "files"
	sheetDiagnostics = "diagnostics"
)

// ExportSummaryToXLSX writes a run summary as a workbook with one row per
// file and one row per diagnostic.
func ExportSummaryToXLSX(summary Summary, outputPath string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), sheetFiles); err != nil {
		return err
	}
	if _, err := f.NewSheet(sheetDiagnostics); err != nil {
		return err
	}

	fileHeaders := []string{
		"run_id", "file", "outcome", "documents",
		"receivers", "providers", "support_kinds", "support_measures",
		"submitted_receivers", "submitted_providers", "submitted_support_kinds", "submitted_support_measures",
		"sink_error",
	}
	writeHeaders(f, sheetFiles, fileHeaders)

	diagHeaders := []string{"file", "doc_id", "kind", "severity", "field", "message"}
	writeHeaders(f, sheetDiagnostics, diagHeaders)

	diagRow := 2
	for i, report := range summary.Files {
		r := i + 2
		set := func(col int, value any) {
			cell, _ := excelize.CoordinatesToCellName(col, r)
			_ = f.SetCellValue(sheetFiles, cell, value)
		}

		set(1, summary.RunID)
		set(2, filepath.Base(report.Path))
		set(3, string(report.Outcome))
		set(4, report.Documents)
		set(5, report.Receivers)
		set(6, report.Providers)
		set(7, report.Kinds)
		set(8, report.Measures)
		set(9, submittedCount(report.Submitted, string(internal.EntityReceiver)))
		set(10, submittedCount(report.Submitted, string(internal.EntityProvider)))
		set(11, submittedCount(report.Submitted, string(internal.EntitySupportKind)))
		set(12, submittedCount(report.Submitted, internal.TableSupportMeasures))
		set(13, report.SinkError)

		for _, d := range report.Diagnostics {
			setDiag := func(col int, value any) {
				cell, _ := excelize.CoordinatesToCellName(col, diagRow)
				_ = f.SetCellValue(sheetDiagnostics, cell, value)
			}
			setDiag(1, d.File)
			setDiag(2, d.DocID)
			setDiag(3, string(d.Kind))
			setDiag(4, severity(d))
			setDiag(5, d.Field)
			setDiag(6, d.Message)
			diagRow++
		}
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return f.SaveAs(outputPath)
}

func writeHeaders(f *excelize.File, sheet string, headers []string) {
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
}

// submittedCount leaves the cell empty for files that were never committed.
func submittedCount(submitted map[string]int, table string) any {
	if submitted == nil {
		return ""
	}
	return submitted[table]
}

func severity(d internal.Diagnostic) string {
	if d.Warning {
		return "warning"
	}
	return "error"
}
