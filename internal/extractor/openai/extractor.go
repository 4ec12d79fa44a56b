// Package openaiextractor implements the pipeline Extractor with a single
// JSON-mode chat completion call against the OpenAI API.
package openaiextractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/orbitlabs/orbit/internal/pipeline"
)

// Config controls the extraction call.
type Config struct {
	// APIKey authenticates against the OpenAI API.
	APIKey string
	// BaseURL overrides the API endpoint; used against test servers.
	BaseURL string
	// Model defaults to gpt-4o-mini.
	Model string
	// MaxPageChars truncates each page's text before prompting (default 4000).
	MaxPageChars int
	// Temperature for the completion; extraction wants it low.
	Temperature float32
}

const (
	defaultModel        = "gpt-4o-mini"
	defaultMaxPageChars = 4000
)

const systemPrompt = `You extract structured company facts from web page text.
Respond with a single JSON object using these keys: subject_key, legal_name,
website, founded_year, description, total_raised_usd, funding_events,
leadership, founders, products, snapshots, visibility. Omit keys you cannot
support with the text. Never invent facts.`

// Extractor turns a page bundle into a structured record.
type Extractor struct {
	cfg    Config
	client *openai.Client
	logger *zap.Logger
}

// New builds an Extractor.
func New(cfg Config, logger *zap.Logger) (*Extractor, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai extractor: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxPageChars <= 0 {
		cfg.MaxPageChars = defaultMaxPageChars
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Extractor{
		cfg:    cfg,
		client: openai.NewClientWithConfig(clientCfg),
		logger: logger,
	}, nil
}

// Extract runs one chat completion over the bundle's page text and decodes
// the model's JSON answer. API trouble maps to the transient/permanent
// taxonomy; a malformed answer is permanent because retrying the same prompt
// against a model that returned garbage rarely helps within one run.
func (e *Extractor) Extract(ctx context.Context, bundle pipeline.PageBundle) (pipeline.StructuredRecord, error) {
	if len(bundle.Pages) == 0 {
		return pipeline.StructuredRecord{}, pipeline.Permanentf("empty page bundle for %q", bundle.SubjectKey)
	}

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.cfg.Model,
		Temperature: e.cfg.Temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: e.buildPrompt(bundle)},
		},
	})
	if err != nil {
		return pipeline.StructuredRecord{}, classifyAPIError(err)
	}
	if len(resp.Choices) == 0 {
		return pipeline.StructuredRecord{}, pipeline.Transientf("extraction returned no choices")
	}

	content := resp.Choices[0].Message.Content
	var record pipeline.StructuredRecord
	if err := json.Unmarshal([]byte(content), &record); err != nil {
		return pipeline.StructuredRecord{}, pipeline.Permanentf("decode extraction answer: %v", err)
	}
	record.SubjectKey = bundle.SubjectKey
	if record.Website == "" {
		record.Website = bundle.Website
	}

	e.logger.Debug("extraction complete",
		zap.String("subject", bundle.SubjectKey),
		zap.String("model", e.cfg.Model),
		zap.Int("prompt_pages", len(bundle.Pages)),
	)
	return record, nil
}

func (e *Extractor) buildPrompt(bundle pipeline.PageBundle) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Subject: %s\nWebsite: %s\n\n", bundle.SubjectKey, bundle.Website)
	for _, page := range bundle.Pages {
		text := page.Text
		if len(text) > e.cfg.MaxPageChars {
			text = text[:e.cfg.MaxPageChars]
		}
		fmt.Fprintf(&b, "--- %s (%s)\n%s\n\n", page.Title, page.URL, text)
	}
	return b.String()
}

// classifyAPIError maps OpenAI API failures onto the pipeline taxonomy:
// rate limiting and server-side failures are transient, other request errors
// (bad auth, invalid request) permanent.
func classifyAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500 {
			return pipeline.Transient(fmt.Errorf("openai api: %w", err))
		}
		return pipeline.Permanent(fmt.Errorf("openai api: %w", err))
	}
	return pipeline.Transient(fmt.Errorf("openai call: %w", err))
}
