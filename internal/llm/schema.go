package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/planetafiscal/constants"
)

// Required keys of an extracted record, in output order.
const (
	FieldNombreCliente = "nombre_cliente"
	FieldMonto         = "monto"
	FieldFecha         = "fecha"
	FieldTipoSolicitud = "tipo_solicitud"
)

var requiredFields = []string{FieldNombreCliente, FieldMonto, FieldFecha, FieldTipoSolicitud}

// BuildRecordJSONSchema returns the JSON-Schema (draft 2020-12 subset) of an
// extracted record as a generic map. Unknown keys are tolerated.
func BuildRecordJSONSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			FieldNombreCliente: map[string]any{"type": "string", "minLength": 1, "pattern": `\S`},
			FieldMonto:         map[string]any{"type": []string{"number", "null"}},
			FieldFecha:         map[string]any{"type": "string", "pattern": `^\d{4}-\d{2}-\d{2}$`},
			FieldTipoSolicitud: map[string]any{"type": "string", "enum": constants.AsStringSlice()},
		},
		"required": requiredFields,
	}
}

var (
	recordSchemaOnce sync.Once
	recordSchema     *jsonschema.Schema
	recordSchemaErr  error
)

func compiledRecordSchema() (*jsonschema.Schema, error) {
	recordSchemaOnce.Do(func() {
		recordSchema, recordSchemaErr = CompileSchema(BuildRecordJSONSchema())
	})
	return recordSchema, recordSchemaErr
}

// CompileSchema compiles a schema held as a generic map.
func CompileSchema(schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource("record.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("record.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}
