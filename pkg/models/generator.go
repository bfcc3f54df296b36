package models

import "context"

// Generator is the boundary to the generative model that draws an SVG.
// Never call a specific provider directly; always inject this interface.
type Generator interface {
	// Generate returns the raw SVG document for the prompt. It may be slow and
	// fail in provider-specific ways; callers classify errors by message.
	Generate(ctx context.Context, prompt, style, model string) (string, error)
	// Name returns the provider identifier (e.g., "gemini", "synthetic").
	Name() string
}
