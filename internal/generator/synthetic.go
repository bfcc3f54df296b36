package generator

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/kiranshivaraju/svgforge/pkg/models"
)

// Synthetic draws a deterministic placeholder icon from the prompt. It makes no
// network calls and is meant for local development and load tests.
type Synthetic struct{}

func NewSynthetic() *Synthetic { return &Synthetic{} }

func (s *Synthetic) Name() string { return "synthetic" }

func (s *Synthetic) Generate(ctx context.Context, prompt, style, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(style + "\x00" + prompt))
	color := fmt.Sprintf("#%02x%02x%02x", sum[0], sum[1], sum[2])

	var b strings.Builder
	b.WriteString(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 24 24" width="24" height="24">`)
	for i := 0; i < 3; i++ {
		x := 4 + int(sum[3+i]%16)
		y := 4 + int(sum[6+i]%16)
		r := 2 + int(sum[9+i]%4)
		if style == models.StyleOutline || style == models.StyleHandDrawn {
			fmt.Fprintf(&b, `<circle cx="%d" cy="%d" r="%d" fill="none" stroke="%s" stroke-width="2"/>`, x, y, r, color)
		} else {
			fmt.Fprintf(&b, `<circle cx="%d" cy="%d" r="%d" fill="%s"/>`, x, y, r, color)
		}
	}
	b.WriteString(`</svg>`)
	return b.String(), nil
}

var _ models.Generator = (*Synthetic)(nil)
