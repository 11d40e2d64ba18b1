// Package vertex implements llm.Extractor on Gemini models served by Vertex AI.
package vertex

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/planetafiscal/internal/common"
	"github.com/joseph-ayodele/planetafiscal/internal/llm"
)

// Config for the Vertex AI client.
type Config struct {
	ProjectID   string
	Region      string  // default us-central1
	Model       string  // default gemini-1.5-flash
	Temperature float32 // low for deterministic, structured output
}

// contentGenerator is the subset of *genai.GenerativeModel we call.
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

type Client struct {
	cfg        Config
	model      contentGenerator
	baseClient *genai.Client
	log        *slog.Logger
}

var _ llm.Extractor = (*Client)(nil)

// NewClient creates a Vertex AI client with the extraction instruction
// installed as the model's system instruction.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("vertex.NewClient: projectID cannot be empty")
	}
	if cfg.Region == "" {
		cfg.Region = "us-central1"
	}
	if cfg.Model == "" || strings.HasPrefix(cfg.Model, "gpt-") {
		cfg.Model = "gemini-1.5-flash"
	}
	if logger == nil {
		logger = slog.Default()
	}

	baseClient, err := genai.NewClient(ctx, cfg.ProjectID, cfg.Region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	model := baseClient.GenerativeModel(cfg.Model)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(llm.SystemPrompt)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](cfg.Temperature),
	}

	return &Client{cfg: cfg, model: model, baseClient: baseClient, log: logger}, nil
}

func (c *Client) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}

// Extract sends the user prompt and concatenates the text parts of the first
// candidate. A response with no candidates yields empty text, which the
// validator reports as ParseFailed.
func (c *Client) Extract(ctx context.Context, req llm.ExtractionRequest) (string, error) {
	rid := uuid.New().String()
	start := time.Now()

	c.log.Info("llm.extract.start",
		"req_id", rid,
		"run_id", common.RunIDFromContext(ctx),
		"document", common.DocumentFromContext(ctx),
		"attempt", req.Attempt,
		"model", c.cfg.Model,
		"text_len", len(req.DocumentText),
	)

	resp, err := c.model.GenerateContent(ctx, genai.Text(req.UserPrompt()))
	if err != nil {
		c.log.Error("llm.extract.vertex_error",
			"req_id", rid,
			"grpc_code", status.Code(err).String(),
			"transient", isTransient(err),
			"error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return "", common.BackendUnavailable(fmt.Errorf("gemini generate content: %w", err))
	}

	content, parts := responseText(resp)
	if parts == 0 {
		var blockReason string
		if resp != nil && resp.PromptFeedback != nil {
			blockReason = resp.PromptFeedback.BlockReason.String()
		}
		c.log.Warn("llm.extract.empty_response",
			"req_id", rid, "block_reason", blockReason,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	} else if parts > 1 {
		c.log.Warn("llm.extract.multi_part_response", "req_id", rid, "parts", parts)
	}

	c.log.Info("llm.extract.ok",
		"req_id", rid,
		"attempt", req.Attempt,
		"content_len", len(content),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	c.log.Debug("llm.extract.raw", "req_id", rid, "content", content)
	return content, nil
}

func responseText(resp *genai.GenerateContentResponse) (string, int) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", 0
	}
	var b strings.Builder
	n := 0
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
			n++
		}
	}
	return strings.TrimSpace(b.String()), n
}

// isTransient reports gRPC codes that usually clear on their own. Every
// backend error consumes an attempt either way; this only feeds the logs.
func isTransient(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal:
		return true
	default:
		return false
	}
}
