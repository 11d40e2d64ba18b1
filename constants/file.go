package constants

import "strings"

// Format is the declared document format, derived from the file extension.
type Format string

const (
	TXT  Format = "TXT"
	PDF  Format = "PDF"
	DOCX Format = "DOCX"
	XLSX Format = "XLSX"
	XLS  Format = "XLS"
)

// AllowedExtensions holds the file extensions picked up from the input directory.
var AllowedExtensions = map[string]struct{}{
	"txt":  {},
	"pdf":  {},
	"docx": {},
	"xlsx": {},
	"xls":  {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// MapExtToFormat returns "" for extensions we cannot load.
func MapExtToFormat(ext string) Format {
	switch NormalizeExt(ext) {
	case "txt":
		return TXT
	case "pdf":
		return PDF
	case "docx":
		return DOCX
	case "xlsx":
		return XLSX
	case "xls":
		return XLS
	default:
		return ""
	}
}

// ResultFileSuffix is appended to the document stem for per-document artifacts.
const ResultFileSuffix = "_resultado.json"

// SummaryFileName is the consolidated run artifact.
const SummaryFileName = "resumen_completo.json"
