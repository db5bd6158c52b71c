package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/bryanwahyu/contract-risk/internal/domain/ai"
	"github.com/bryanwahyu/contract-risk/internal/domain/analysis"
	"github.com/bryanwahyu/contract-risk/internal/domain/extraction"
	"github.com/bryanwahyu/contract-risk/internal/infra/ai/output"
	"github.com/bryanwahyu/contract-risk/internal/infra/ai/prompt"
)

const (
	DefaultModel    = "gpt-4.1-mini"
	DefaultOCRModel = "gpt-4o-mini"

	// DefaultMaxTokens caps one reply. Replies carry score, summary and at
	// most 12 clauses, never the contract text itself.
	DefaultMaxTokens = 16384
)

var tracer = otel.Tracer("contract-risk/infra/ai/openai")

// Client implements ai.Oracle and ai.OCR on the chat completions API.
type Client struct {
	*openai.Client
	Model     string
	OCRModel  string
	MaxTokens int // <0 sends no cap
}

type Options struct {
	APIKey    string
	BaseURL   string
	Model     string
	OCRModel  string
	MaxTokens int
}

func NewClient(opts Options) *Client {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	return &Client{
		Client:    openai.NewClientWithConfig(cfg),
		Model:     opts.Model,
		OCRModel:  opts.OCRModel,
		MaxTokens: opts.MaxTokens,
	}
}

var (
	_ ai.Oracle = (*Client)(nil)
	_ ai.OCR    = (*Client)(nil)
)

func (c *Client) Analyze(ctx context.Context, in ai.Input) (analysis.Result, error) {
	ctx, span := tracer.Start(ctx, "oracle.analyze")
	defer span.End()
	span.SetAttributes(
		attribute.String("contract.type", string(in.Category)),
		attribute.String("contract.identity", string(in.Identity)),
		attribute.Int("input.runes", len([]rune(in.Text))),
	)

	raw, err := c.complete(ctx, c.model(), []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: prompt.System(in.Category, in.Identity)},
		{Role: openai.ChatMessageRoleUser, Content: in.Text},
	}, true)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return analysis.Result{}, err
	}
	res, err := output.Parse(raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid output")
	}
	return res, err
}

// chunkDigest is the compact per-chunk view sent to the merge step.
type chunkDigest struct {
	ChunkIndex  int               `json:"chunkIndex"`
	Score       float64           `json:"score"`
	RiskSummary string            `json:"riskSummary"`
	Clauses     []analysis.Clause `json:"clauses"`
}

func (c *Client) Merge(ctx context.Context, in ai.MergeInput) (analysis.Result, error) {
	ctx, span := tracer.Start(ctx, "oracle.merge")
	defer span.End()
	span.SetAttributes(attribute.Int("chunks", len(in.Partials)))

	digests := make([]chunkDigest, 0, len(in.Partials))
	for i, p := range in.Partials {
		clauses := p.Clauses
		if clauses == nil {
			clauses = []analysis.Clause{}
		}
		digests = append(digests, chunkDigest{ChunkIndex: i + 1, Score: p.Score, RiskSummary: p.RiskSummary, Clauses: clauses})
	}
	body, err := json.Marshal(digests)
	if err != nil {
		return analysis.Result{}, fmt.Errorf("marshal chunk digests: %w", err)
	}

	raw, err := c.complete(ctx, c.model(), []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: prompt.Merge(in.Category, in.Identity)},
		{Role: openai.ChatMessageRoleUser, Content: string(body)},
	}, true)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return analysis.Result{}, err
	}
	return output.Parse(raw)
}

// Recognize sends all images in one request; callers keep groups small.
func (c *Client) Recognize(ctx context.Context, images []extraction.Image) (string, error) {
	if len(images) == 0 {
		return "", nil
	}
	ctx, span := tracer.Start(ctx, "oracle.ocr")
	defer span.End()
	span.SetAttributes(attribute.Int("images", len(images)))

	parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: prompt.OCR}}
	for _, img := range images {
		mt := img.MediaType
		if mt == "" {
			mt = "image/png"
		}
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(img.Data),
				Detail: openai.ImageURLDetailAuto,
			},
		})
	}
	model := c.OCRModel
	if model == "" {
		model = DefaultOCRModel
	}
	raw, err := c.complete(ctx, model, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, MultiContent: parts},
	}, false)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ocr failed")
		return "", err
	}
	return strings.TrimSpace(raw), nil
}

func (c *Client) model() string {
	if c.Model == "" {
		return DefaultModel
	}
	return c.Model
}

func (c *Client) complete(ctx context.Context, model string, msgs []openai.ChatCompletionMessage, jsonMode bool) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       model,
		Temperature: 0,
		Messages:    msgs,
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	// For reasoning models (o1/o3/o4/gpt-5*) use MaxCompletionTokens instead of MaxTokens
	if limit := c.maxTokens(); limit > 0 {
		if isReasoningModel(model) {
			req.MaxCompletionTokens = limit
		} else {
			req.MaxTokens = limit
		}
	}

	resp, err := c.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classify(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", ai.ErrOracleOutputInvalid)
	}
	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonLength {
		return "", fmt.Errorf("%w: model %s stopped after %d completion tokens",
			ai.ErrOracleTruncated, model, resp.Usage.CompletionTokens)
	}
	return choice.Message.Content, nil
}

func (c *Client) maxTokens() int {
	if c.MaxTokens == 0 {
		return DefaultMaxTokens
	}
	return c.MaxTokens
}

func isReasoningModel(model string) bool {
	for _, p := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

// classify maps provider errors onto the domain taxonomy.
func classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if status == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", ai.ErrQuotaExceeded, err)
	}
	return fmt.Errorf("%w: %v", ai.ErrOracleUnavailable, err)
}
