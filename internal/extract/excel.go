package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

func extractExcel(content []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("%w: open Excel: %v", ErrExtraction, err)
	}
	defer f.Close()

	var lines []string
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("%w: rows of sheet %q: %v", ErrExtraction, sheet, err)
		}
		for _, row := range rows {
			lines = append(lines, strings.Join(row, "\t"))
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n")), nil
}
