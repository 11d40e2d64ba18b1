package constants

// ResultStatus is the per-document status written to artifacts.
type ResultStatus string

// Stable values (written verbatim into resumen_completo.json).
const (
	StatusOK    ResultStatus = "ok"
	StatusError ResultStatus = "error"
)

// FailureKind names the error taxonomy entry a failed document ended with.
type FailureKind string

const (
	FailureUnreadableDocument FailureKind = "UnreadableDocument"
	FailureBackendUnavailable FailureKind = "BackendUnavailable"
	FailureParseFailed        FailureKind = "ParseFailed"
	FailureSchemaInvalid      FailureKind = "SchemaInvalid"
	FailureCanceled           FailureKind = "Canceled"
)
