package constants

// TipoSolicitud is the request classification the backend must choose.
type TipoSolicitud string

const (
	Venta   TipoSolicitud = "Venta"
	Queja   TipoSolicitud = "Queja"
	Factura TipoSolicitud = "Factura"
)

var allTipos = []TipoSolicitud{
	Venta,
	Queja,
	Factura,
}

func AsStringSlice() []string {
	result := make([]string, len(allTipos))
	for i, t := range allTipos {
		result[i] = string(t)
	}
	return result
}

// ParseTipoSolicitud matches input exactly. No trimming, no case folding and
// no synonyms: "venta" or "Sale" are rejected.
func ParseTipoSolicitud(input string) (TipoSolicitud, bool) {
	for _, t := range allTipos {
		if input == string(t) {
			return t, true
		}
	}
	return "", false
}
