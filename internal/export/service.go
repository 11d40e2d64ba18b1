package export

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/planetafiscal/internal/pipeline"
)

const (
	sheetSolicitudes = "Solicitudes"
	sheetErrores     = "Errores"
	sheetResumen     = "Resumen"
)

// Service renders run summaries as XLSX workbooks.
type Service struct {
	logger *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger}
}

// RunReportXLSX returns a workbook (as bytes) with one sheet of extracted
// records, one of failed documents and a totals sheet.
func (s *Service) RunReportXLSX(ctx context.Context, sum pipeline.RunSummary) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	f := excelize.NewFile()
	defer f.Close()

	// The default "Sheet1" becomes the records sheet.
	if err := f.SetSheetName(f.GetSheetName(0), sheetSolicitudes); err != nil {
		return nil, err
	}
	for _, name := range []string{sheetErrores, sheetResumen} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, err
		}
	}
	f.SetActiveSheet(0)

	writeRow(f, sheetSolicitudes, 1, "Archivo", "Cliente", "Monto", "Fecha", "Tipo de solicitud", "Intentos")
	writeRow(f, sheetErrores, 1, "Archivo", "Tipo de error", "Motivo", "Intentos")

	okRow, errRow := 2, 2
	for _, r := range sum.Results {
		if r.OK {
			var monto any = ""
			if v, ok := r.Record.Monto(); ok {
				monto = v
			}
			writeRow(f, sheetSolicitudes, okRow,
				r.Name(), r.Record.NombreCliente(), monto, r.Record.Fecha(), string(r.Record.TipoSolicitud()), r.Attempts)
			okRow++
			continue
		}
		writeRow(f, sheetErrores, errRow, r.Name(), string(r.Kind), truncate(r.Reason, 300), r.Attempts)
		errRow++
	}

	writeRow(f, sheetResumen, 1, "Ejecución", sum.RunID)
	writeRow(f, sheetResumen, 2, "Total", sum.Total)
	writeRow(f, sheetResumen, 3, "Procesados", sum.Succeeded)
	writeRow(f, sheetResumen, 4, "Errores", sum.Failed)
	writeRow(f, sheetResumen, 5, "Fecha", sum.FinishedAt.Format(time.RFC3339))

	// Widen a few columns
	_ = f.SetColWidth(sheetSolicitudes, "A", "A", 32) // file
	_ = f.SetColWidth(sheetSolicitudes, "B", "B", 28) // client
	_ = f.SetColWidth(sheetSolicitudes, "C", "D", 14)
	_ = f.SetColWidth(sheetSolicitudes, "E", "E", 18)
	_ = f.SetColWidth(sheetErrores, "A", "B", 26)
	_ = f.SetColWidth(sheetErrores, "C", "C", 80) // reason
	_ = f.SetColWidth(sheetResumen, "A", "B", 40)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"run_id", sum.RunID,
		"rows", okRow-2,
		"errors", errRow-2,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

// FileReporter writes the run report to a local path after every run.
type FileReporter struct {
	svc  *Service
	path string
}

func NewFileReporter(svc *Service, path string) *FileReporter {
	return &FileReporter{svc: svc, path: path}
}

func (r *FileReporter) Report(ctx context.Context, sum pipeline.RunSummary) error {
	data, err := r.svc.RunReportXLSX(ctx, sum)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}
	if err := os.WriteFile(r.path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	r.svc.logger.Info("export.report.saved", "run_id", sum.RunID, "path", r.path)
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values ...any) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
