package vertex

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"cloud.google.com/go/vertexai/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/planetafiscal/internal/common"
	"github.com/joseph-ayodele/planetafiscal/internal/llm"
)

type fakeModel struct {
	resp  *genai.GenerateContentResponse
	err   error
	parts []genai.Part
}

func (f *fakeModel) GenerateContent(_ context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	f.parts = parts
	return f.resp, f.err
}

func newTestClient(m contentGenerator) *Client {
	return &Client{cfg: Config{Model: "gemini-1.5-flash"}, model: m, log: slog.Default()}
}

func textResponse(parts ...string) *genai.GenerateContentResponse {
	content := &genai.Content{Role: "model"}
	for _, p := range parts {
		content.Parts = append(content.Parts, genai.Text(p))
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{Content: content}}}
}

func TestExtract_ConcatenatesTextParts(t *testing.T) {
	m := &fakeModel{resp: textResponse(`{"nombre_cliente":"Ana",`, `"monto":null,"fecha":"2026-01-02","tipo_solicitud":"Queja"}`)}
	c := newTestClient(m)

	raw, err := c.Extract(context.Background(), llm.ExtractionRequest{DocumentText: "queja de Ana", Attempt: 1})
	require.NoError(t, err)

	rec, err := llm.Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, "Ana", rec.NombreCliente())

	require.Len(t, m.parts, 1)
	assert.Contains(t, string(m.parts[0].(genai.Text)), "queja de Ana")
}

func TestExtract_EmptyCandidates(t *testing.T) {
	c := newTestClient(&fakeModel{resp: &genai.GenerateContentResponse{}})
	raw, err := c.Extract(context.Background(), llm.ExtractionRequest{DocumentText: "x"})
	require.NoError(t, err)
	assert.Empty(t, raw)

	_, err = llm.Validate(raw)
	assert.Equal(t, llm.OutcomeParseFailed, llm.OutcomeOf(err))
}

func TestExtract_GRPCErrorIsBackendUnavailable(t *testing.T) {
	c := newTestClient(&fakeModel{err: status.Error(codes.PermissionDenied, "no access")})
	_, err := c.Extract(context.Background(), llm.ExtractionRequest{DocumentText: "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrBackendUnavailable))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient(status.Error(codes.Unavailable, "down")))
	assert.True(t, isTransient(status.Error(codes.ResourceExhausted, "quota")))
	assert.False(t, isTransient(status.Error(codes.PermissionDenied, "denied")))
	assert.False(t, isTransient(errors.New("plain")))
}

func TestNewClient_RequiresProject(t *testing.T) {
	_, err := NewClient(context.Background(), Config{}, nil)
	assert.Error(t, err)
}
