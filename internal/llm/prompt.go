package llm

import (
	"strings"
	"unicode/utf8"

	"github.com/joseph-ayodele/planetafiscal/constants"
)

// SystemPrompt describes the four-field schema and the allowed request types.
var SystemPrompt = strings.Join([]string{
	"Eres un asistente de extracción de datos estructurados.",
	"Recibirás texto desordenado (correos, facturas, quejas, solicitudes) y debes devolver",
	"SOLO un objeto JSON válido con exactamente esta forma:",
	"",
	`{"nombre_cliente": "string", "monto": number | null, "fecha": "YYYY-MM-DD", "tipo_solicitud": "` +
		strings.Join(constants.AsStringSlice(), " | ") + `"}`,
	"",
	"Reglas:",
	`1. "nombre_cliente": persona o empresa que envía o solicita. Siempre un string no vacío.`,
	`2. "monto": monto numérico principal sin símbolo de moneda ni separadores de miles. Si no aparece, usa null.`,
	`3. "fecha": fecha más relevante del documento en formato YYYY-MM-DD.`,
	`4. "tipo_solicitud": exactamente uno de ` + strings.Join(quoted(constants.AsStringSlice()), ", ") + `.`,
	"",
	"Responde únicamente con el JSON: sin texto adicional, sin explicaciones y sin bloques de código markdown.",
}, "\n")

const truncatedMarker = "\n…(texto truncado)"

// BuildUserPrompt packages the document text with optional hints. Text longer
// than req.MaxInputRunes is cut on a rune boundary.
func BuildUserPrompt(req ExtractionRequest) string {
	var b strings.Builder
	if name := strings.TrimSpace(req.FilenameHint); name != "" {
		b.WriteString("Archivo: ")
		b.WriteString(name)
		b.WriteString("\n")
	}
	if lang := strings.TrimSpace(req.Language); lang != "" {
		b.WriteString("Idioma detectado: ")
		b.WriteString(lang)
		b.WriteString("\n")
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}

	b.WriteString("Extrae los datos del siguiente texto:\n\n")
	b.WriteString(truncateRunes(strings.TrimSpace(req.DocumentText), req.MaxInputRunes))
	return b.String()
}

func truncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i] + truncatedMarker
		}
		n++
	}
	return s
}

func quoted(vals []string) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = `"` + v + `"`
	}
	return out
}
