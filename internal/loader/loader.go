// Package loader turns a file on disk into the raw text of a SourceDocument.
//
// Supported formats:
//   - .txt  plain text, encoding auto-detected
//   - .pdf  text layer of each page (pdfcpu)
//   - .docx paragraphs, then table rows joined with " | "
//   - .xlsx/.xls one "--- Hoja: <name> ---" block per sheet (excelize)
//
// Every failure wraps common.ErrUnreadableDocument.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joseph-ayodele/planetafiscal/constants"
	"github.com/joseph-ayodele/planetafiscal/internal/common"
)

// SourceDocument is the loaded content of one input file. Path is its identity.
type SourceDocument struct {
	Path     string
	Text     string
	Encoding string
	Format   constants.Format
	Language string // ISO 639-1, empty when undetermined
}

// Name returns the file name without directories.
func (d SourceDocument) Name() string { return filepath.Base(d.Path) }

// Config controls the loader.
type Config struct {
	MaxFileSize    int64 // bytes; 0 disables the check
	DetectLanguage bool
}

type Loader struct {
	cfg  Config
	lang *languageDetector
	log  *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loader{cfg: cfg, log: logger}
	if cfg.DetectLanguage {
		l.lang = newLanguageDetector()
	}
	return l
}

// Load reads path and extracts its text according to the file extension.
func (l *Loader) Load(ctx context.Context, path string) (SourceDocument, error) {
	if err := ctx.Err(); err != nil {
		return SourceDocument{}, err
	}
	start := time.Now()

	format := constants.MapExtToFormat(filepath.Ext(path))
	if format == "" {
		return SourceDocument{}, common.Unreadable(path, fmt.Errorf("%w: %q", common.ErrUnsupportedFormat, filepath.Ext(path)))
	}

	info, err := os.Stat(path)
	if err != nil {
		return SourceDocument{}, common.Unreadable(path, err)
	}
	if info.IsDir() {
		return SourceDocument{}, common.Unreadable(path, fmt.Errorf("is a directory"))
	}
	if l.cfg.MaxFileSize > 0 && info.Size() > l.cfg.MaxFileSize {
		return SourceDocument{}, common.Unreadable(path, fmt.Errorf("file too large: %d bytes (max %d)", info.Size(), l.cfg.MaxFileSize))
	}

	doc := SourceDocument{Path: path, Format: format}
	switch format {
	case constants.TXT:
		doc.Text, doc.Encoding, err = readText(path)
	case constants.PDF:
		doc.Text, err = readPDF(path)
		doc.Encoding = "pdf"
	case constants.DOCX:
		doc.Text, err = readDocx(path)
		doc.Encoding = "UTF-8"
	case constants.XLSX, constants.XLS:
		doc.Text, err = readWorkbook(path)
		doc.Encoding = "UTF-8"
	}
	if err != nil {
		l.log.Warn("loader.read_error", "path", path, "format", format, "error", err)
		return SourceDocument{}, common.Unreadable(path, err)
	}

	doc.Text = strings.TrimSpace(doc.Text)
	if doc.Text == "" {
		return SourceDocument{}, common.Unreadable(path, common.ErrEmptyDocument)
	}

	if l.lang != nil {
		doc.Language = l.lang.Detect(doc.Text)
	}

	l.log.Debug("loader.loaded",
		"path", path,
		"format", format,
		"encoding", doc.Encoding,
		"language", doc.Language,
		"chars", len([]rune(doc.Text)),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return doc, nil
}
