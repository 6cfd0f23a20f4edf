package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

func isWorkbook(filename string) bool {
	return Extension(filename) == ".xlsx"
}

// readWorkbook returns the header and data rows of the transaction sheet.
func readWorkbook(content []byte) ([]string, [][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheet := findTransactionSheet(f)
	if sheet == "" {
		return nil, nil, fmt.Errorf("no suitable sheet found")
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}

	// skip leading blank rows before the header
	for len(rows) > 0 && isBlank(rows[0]) {
		rows = rows[1:]
	}
	if len(rows) == 0 {
		return nil, nil, nil
	}

	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.TrimSpace(h)
	}
	data := make([][]string, 0, len(rows)-1)
	for _, r := range rows[1:] {
		if !isBlank(r) {
			data = append(data, r)
		}
	}
	return header, data, nil
}

// workbookHeaderLine returns the header row joined by commas, "" on error.
func workbookHeaderLine(content []byte) string {
	header, _, err := readWorkbook(content)
	if err != nil {
		return ""
	}
	return strings.Join(header, ",")
}

func findTransactionSheet(f *excelize.File) string {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return ""
	}

	// Look for sheets with transaction-related names
	preferredNames := []string{"transactions", "statement", "data", "sheet1"}
	for _, preferred := range preferredNames {
		for _, sheet := range sheets {
			if strings.EqualFold(sheet, preferred) {
				return sheet
			}
		}
	}

	return sheets[0]
}
