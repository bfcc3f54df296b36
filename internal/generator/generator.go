// Package generator turns a prompt into a sanitized SVG document. Providers
// implement models.Generator; New picks one from configuration.
package generator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"text/template"

	"github.com/kiranshivaraju/svgforge/internal/config"
	"github.com/kiranshivaraju/svgforge/pkg/models"
)

var (
	ErrEmptyResponse = errors.New("generator returned no content")
	ErrBlocked       = errors.New("generation blocked by safety filters")
	ErrNoSVG         = errors.New("generator response contained no svg document")
)

// New constructs the provider named in cfg. Called once at worker startup.
func New(ctx context.Context, cfg config.GeneratorConfig, logger *slog.Logger) (models.Generator, error) {
	switch cfg.Provider {
	case "gemini":
		return NewGemini(ctx, cfg.GeminiAPIKey, logger)
	case "synthetic":
		return NewSynthetic(), nil
	default:
		return nil, fmt.Errorf("unknown generator provider %q: must be one of gemini, synthetic", cfg.Provider)
	}
}

const systemInstruction = `You are an icon designer. Reply with exactly one standalone SVG 1.1 document and nothing else.
Use a 24x24 viewBox, no external references, no scripts, no embedded raster images and no text elements.`

var promptTemplate = template.Must(template.New("icon").Parse(
	`Draw an icon of: {{.Prompt}}
Style: {{.Style}}. {{.StyleHint}}`))

var styleHints = map[string]string{
	models.StyleOutline:   "Strokes only, 2px stroke width, round caps, no fills.",
	models.StyleFilled:    "Solid single-colour fills, no strokes.",
	models.StyleDuotone:   "Two tones of one hue; the secondary shape at 40% opacity.",
	models.StyleFlat:      "Flat colours, no gradients or shadows, up to four colours.",
	models.StyleIsometric: "Isometric projection with three visible faces and consistent lighting.",
	models.StyleHandDrawn: "Slightly irregular strokes as if sketched with a pen.",
}

type promptData struct {
	Prompt    string
	Style     string
	StyleHint string
}

// BuildPrompt renders the user prompt and style into the provider prompt.
func BuildPrompt(prompt, style string) (string, error) {
	var buf bytes.Buffer
	err := promptTemplate.Execute(&buf, promptData{Prompt: prompt, Style: style, StyleHint: styleHints[style]})
	if err != nil {
		return "", fmt.Errorf("rendering prompt: %w", err)
	}
	return buf.String(), nil
}
