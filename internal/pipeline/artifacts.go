package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joseph-ayodele/planetafiscal/constants"
	"github.com/joseph-ayodele/planetafiscal/internal/llm"
)

type failureArtifact struct {
	Error    bool                  `json:"error"`
	Archivo  string                `json:"archivo"`
	Motivo   string                `json:"motivo"`
	TipoErr  constants.FailureKind `json:"tipo_error"`
	Intentos int                   `json:"intentos"`
}

type summaryEntry struct {
	Archivo        string                 `json:"archivo"`
	Estado         constants.ResultStatus `json:"estado"`
	DatosExtraidos *llm.ExtractedRecord   `json:"datos_extraidos,omitempty"`
	Motivo         string                 `json:"motivo,omitempty"`
	TipoErr        constants.FailureKind  `json:"tipo_error,omitempty"`
	Intentos       int                    `json:"intentos"`
	ProcesadoEn    string                 `json:"procesado_en"`
}

type summaryArtifact struct {
	RunID              string         `json:"run_id"`
	Total              int            `json:"total"`
	TotalProcesados    int            `json:"total_procesados"`
	TotalErrores       int            `json:"total_errores"`
	FechaProcesamiento string         `json:"fecha_procesamiento"`
	Resultados         []summaryEntry `json:"resultados"`
}

// EncodeResult renders the per-document artifact: the bare record on
// success, an error marker otherwise.
func EncodeResult(r DocumentResult) ([]byte, error) {
	if r.OK {
		return encodeJSON(r.Record)
	}
	return encodeJSON(failureArtifact{
		Error:    true,
		Archivo:  r.Name(),
		Motivo:   r.Reason,
		TipoErr:  r.Kind,
		Intentos: r.Attempts,
	})
}

// EncodeSummary renders the consolidated run artifact, results in run order.
func EncodeSummary(s RunSummary) ([]byte, error) {
	out := summaryArtifact{
		RunID:              s.RunID,
		Total:              s.Total,
		TotalProcesados:    s.Succeeded,
		TotalErrores:       s.Failed,
		FechaProcesamiento: formatTime(s.FinishedAt),
		Resultados:         make([]summaryEntry, 0, len(s.Results)),
	}
	for _, r := range s.Results {
		e := summaryEntry{
			Archivo:     r.Name(),
			Estado:      r.Status(),
			Intentos:    r.Attempts,
			ProcesadoEn: formatTime(r.ProcessedAt),
		}
		if r.OK {
			rec := r.Record
			e.DatosExtraidos = &rec
		} else {
			e.Motivo = r.Reason
			e.TipoErr = r.Kind
		}
		out.Resultados = append(out.Resultados, e)
	}
	return encodeJSON(out)
}

// SummaryRecords re-validates the successful entries of a summary artifact,
// so records loaded from disk pass the same checks as fresh ones. Entries
// that no longer validate are reported by file name.
func SummaryRecords(data []byte) ([]llm.ExtractedRecord, map[string]error, error) {
	var in struct {
		Resultados []struct {
			Archivo        string          `json:"archivo"`
			Estado         string          `json:"estado"`
			DatosExtraidos json.RawMessage `json:"datos_extraidos"`
		} `json:"resultados"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, nil, fmt.Errorf("decode summary: %w", err)
	}

	var recs []llm.ExtractedRecord
	invalid := map[string]error{}
	for _, e := range in.Resultados {
		if e.Estado != string(constants.StatusOK) || len(e.DatosExtraidos) == 0 {
			continue
		}
		rec, err := llm.Validate(string(e.DatosExtraidos))
		if err != nil {
			invalid[e.Archivo] = err
			continue
		}
		recs = append(recs, rec)
	}
	return recs, invalid, nil
}

// ResultName is the artifact name for a source file: its stem plus
// "_resultado.json".
func ResultName(sourcePath string) string {
	base := filepath.Base(sourcePath)
	return strings.TrimSuffix(base, filepath.Ext(base)) + constants.ResultFileSuffix
}

// resultNames assigns artifact names in run order.
func resultNames(results []DocumentResult) []string {
	owners := make(map[string]string, len(results))
	names := make([]string, len(results))
	for i, r := range results {
		names[i] = claimName(owners, r.SourcePath)
	}
	return names
}

// claimName returns the artifact name for path and records its owner. A
// different file whose stem collides with an earlier one (a.txt then a.pdf)
// gets its extension, then a counter, folded into the name. The same path
// always gets the same name.
func claimName(owners map[string]string, path string) string {
	name := ResultName(path)
	if owner, taken := owners[name]; taken && owner != path {
		base := filepath.Base(path)
		ext := constants.NormalizeExt(filepath.Ext(base))
		stem := strings.TrimSuffix(base, filepath.Ext(base))
		name = fmt.Sprintf("%s_%s%s", stem, ext, constants.ResultFileSuffix)
		for n := 2; ; n++ {
			if owner, taken := owners[name]; !taken || owner == path {
				break
			}
			name = fmt.Sprintf("%s_%s_%d%s", stem, ext, n, constants.ResultFileSuffix)
		}
	}
	owners[name] = path
	return name
}

func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
