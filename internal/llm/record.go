package llm

import (
	"encoding/json"

	"github.com/joseph-ayodele/planetafiscal/constants"
)

// ExtractedRecord is a schema-valid extraction. It can only be built by
// Validate and is immutable afterwards.
type ExtractedRecord struct {
	nombreCliente string
	monto         *float64
	fecha         string
	tipoSolicitud constants.TipoSolicitud
}

func (r ExtractedRecord) NombreCliente() string { return r.nombreCliente }

// Monto reports the amount and whether it was present (false for null).
func (r ExtractedRecord) Monto() (float64, bool) {
	if r.monto == nil {
		return 0, false
	}
	return *r.monto, true
}

func (r ExtractedRecord) Fecha() string { return r.fecha }

func (r ExtractedRecord) TipoSolicitud() constants.TipoSolicitud { return r.tipoSolicitud }

// recordJSON is the bit-exact wire shape; monto is never omitted.
type recordJSON struct {
	NombreCliente string                  `json:"nombre_cliente"`
	Monto         *float64                `json:"monto"`
	Fecha         string                  `json:"fecha"`
	TipoSolicitud constants.TipoSolicitud `json:"tipo_solicitud"`
}

func (r ExtractedRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordJSON{
		NombreCliente: r.nombreCliente,
		Monto:         r.monto,
		Fecha:         r.fecha,
		TipoSolicitud: r.tipoSolicitud,
	})
}
