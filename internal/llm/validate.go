package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/planetafiscal/constants"
	"github.com/joseph-ayodele/planetafiscal/internal/common"
)

// Outcome tags the result of validating one backend response.
type Outcome string

const (
	OutcomeParsedOK      Outcome = "ParsedOk"
	OutcomeParseFailed   Outcome = "ParseFailed"
	OutcomeSchemaInvalid Outcome = "SchemaInvalid"
)

// ValidationError is returned by Validate. Kind is never OutcomeParsedOK.
type ValidationError struct {
	Kind   Outcome
	Detail string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Is lets callers match the taxonomy sentinels in internal/common.
func (e *ValidationError) Is(target error) bool {
	switch e.Kind {
	case OutcomeParseFailed:
		return target == common.ErrParseFailed
	case OutcomeSchemaInvalid:
		return target == common.ErrSchemaInvalid
	}
	return false
}

// OutcomeOf classifies an error returned by Validate.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return OutcomeParsedOK
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return OutcomeParseFailed
}

func parseFailed(detail string, err error) error {
	return &ValidationError{Kind: OutcomeParseFailed, Detail: detail, Err: err}
}

func schemaInvalid(detail string, err error) error {
	return &ValidationError{Kind: OutcomeSchemaInvalid, Detail: detail, Err: err}
}

// Validate turns raw backend text into an ExtractedRecord. Decoding happens
// in two phases: a structural parse into a generic value, then a check of
// that value against the fixed record schema.
func Validate(raw string) (ExtractedRecord, error) {
	text := StripCodeFence(raw)

	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return ExtractedRecord{}, parseFailed("response is not valid json: "+err.Error(), err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return ExtractedRecord{}, parseFailed("unexpected data after the json value", err)
	}

	// A list of records is accepted; only the first one is used.
	if list, ok := v.([]any); ok {
		if len(list) == 0 {
			return ExtractedRecord{}, schemaInvalid("response is an empty list", nil)
		}
		v = list[0]
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return ExtractedRecord{}, schemaInvalid(fmt.Sprintf("expected a json object, got %s", jsonKind(v)), nil)
	}

	schema, err := compiledRecordSchema()
	if err != nil {
		return ExtractedRecord{}, fmt.Errorf("record schema: %w", err)
	}
	if err := schema.Validate(obj); err != nil {
		return ExtractedRecord{}, schemaInvalid(describeSchemaError(err), err)
	}

	return buildRecord(obj)
}

// buildRecord runs after schema validation, so type assertions only guard
// against schema drift.
func buildRecord(obj map[string]any) (ExtractedRecord, error) {
	nombre, _ := obj[FieldNombreCliente].(string)
	fecha, _ := obj[FieldFecha].(string)
	tipoRaw, _ := obj[FieldTipoSolicitud].(string)

	if _, err := time.Parse("2006-01-02", fecha); err != nil {
		return ExtractedRecord{}, schemaInvalid(fmt.Sprintf("'fecha' is not a calendar date: %q", fecha), err)
	}
	tipo, ok := constants.ParseTipoSolicitud(tipoRaw)
	if !ok {
		return ExtractedRecord{}, schemaInvalid(fmt.Sprintf("'tipo_solicitud' invalid: %q", tipoRaw), nil)
	}

	rec := ExtractedRecord{
		nombreCliente: nombre,
		fecha:         fecha,
		tipoSolicitud: tipo,
	}
	switch m := obj[FieldMonto].(type) {
	case nil:
	case json.Number:
		f, err := m.Float64()
		if err != nil {
			return ExtractedRecord{}, schemaInvalid(fmt.Sprintf("'monto' out of range: %s", m), err)
		}
		rec.monto = &f
	default:
		return ExtractedRecord{}, schemaInvalid(fmt.Sprintf("'monto' must be numeric or null, got %s", jsonKind(m)), nil)
	}
	return rec, nil
}

// describeSchemaError flattens a jsonschema error tree into its leaf messages.
func describeSchemaError(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	var msgs []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			msgs = append(msgs, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return strings.Join(msgs, "; ")
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case json.Number, float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
