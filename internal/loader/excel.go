package loader

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/planetafiscal/internal/common"
)

// ole2Signature opens legacy BIFF (.xls) compound files, which excelize
// cannot read.
var ole2Signature = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// readWorkbook renders every sheet as a "--- Hoja: <name> ---" header
// followed by its rows, cells joined with " | ". Rows with no values are
// dropped.
func readWorkbook(path string) (string, error) {
	legacy, err := isOLE2(path)
	if err != nil {
		return "", err
	}
	if legacy {
		return "", fmt.Errorf("%w: legacy BIFF workbook, save it as .xlsx", common.ErrUnsupportedFormat)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	var lines []string
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		lines = append(lines, fmt.Sprintf("--- Hoja: %s ---", sheet))
		for _, row := range rows {
			line := strings.Join(row, " | ")
			if strings.Trim(line, " |") != "" {
				lines = append(lines, line)
			}
		}
	}

	// Headers alone carry no content.
	for _, l := range lines {
		if !strings.HasPrefix(l, "--- Hoja: ") {
			return strings.Join(lines, "\n"), nil
		}
	}
	return "", nil
}

func isOLE2(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	head := make([]byte, len(ole2Signature))
	if _, err := io.ReadFull(f, head); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return false, nil
		}
		return false, err
	}
	return bytes.Equal(head, ole2Signature), nil
}
