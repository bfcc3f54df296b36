package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kiranshivaraju/svgforge/pkg/models"
	"google.golang.org/genai"
)

// contentAPI is the slice of the genai client used here.
type contentAPI interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini implements models.Generator using the Gemini API.
type Gemini struct {
	api    contentAPI
	logger *slog.Logger
}

func NewGemini(ctx context.Context, apiKey string, logger *slog.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("gemini API key cannot be empty")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return newGeminiWithAPI(client.Models, logger), nil
}

func newGeminiWithAPI(api contentAPI, logger *slog.Logger) *Gemini {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gemini{api: api, logger: logger}
}

func (g *Gemini) Name() string { return "gemini" }

// Generate makes a single call. Retries belong to the queue, so errors are
// returned as-is for classification.
func (g *Gemini) Generate(ctx context.Context, prompt, style, model string) (string, error) {
	text, err := BuildPrompt(prompt, style)
	if err != nil {
		return "", err
	}

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: systemInstruction}}},
	}

	g.logger.DebugContext(ctx, "calling gemini", "model", model, "prompt_length", len(text))
	resp, err := g.api.GenerateContent(ctx, model, genai.Text(text), cfg)
	if err != nil {
		return "", fmt.Errorf("gemini %s: %w", model, err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", ErrEmptyResponse
	}
	cand := resp.Candidates[0]
	if cand.FinishReason == genai.FinishReasonSafety {
		return "", ErrBlocked
	}
	if cand.Content == nil {
		return "", ErrEmptyResponse
	}

	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	return ExtractSVG(sb.String())
}

// ExtractSVG returns the first <svg>...</svg> document in s, dropping any
// surrounding prose or markdown fences.
func ExtractSVG(s string) (string, error) {
	if strings.TrimSpace(s) == "" {
		return "", ErrEmptyResponse
	}
	lower := strings.ToLower(s)
	start := strings.Index(lower, "<svg")
	end := strings.LastIndex(lower, "</svg>")
	if start < 0 || end < start {
		return "", ErrNoSVG
	}
	return s[start : end+len("</svg>")], nil
}

var _ models.Generator = (*Gemini)(nil)
