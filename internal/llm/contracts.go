package llm

import "context"

// ExtractionRequest is the fixed instruction combined with one document's text.
// It is rebuilt for every attempt.
type ExtractionRequest struct {
	DocumentText  string
	FilenameHint  string
	Language      string // ISO 639-1, empty when unknown
	Attempt       int
	MaxInputRunes int
}

// Instruction returns the system instruction sent with every request.
func (r ExtractionRequest) Instruction() string {
	return SystemPrompt
}

// UserPrompt returns the user message carrying the document text.
func (r ExtractionRequest) UserPrompt() string {
	return BuildUserPrompt(r)
}

// Extractor is a stateless transport to a language-understanding backend.
// It returns the raw response text and never retries; transport and auth
// failures wrap common.ErrBackendUnavailable.
type Extractor interface {
	Extract(ctx context.Context, req ExtractionRequest) (string, error)
}
