package generator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kiranshivaraju/svgforge/internal/config"
	"github.com/kiranshivaraju/svgforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeAPI struct {
	resp      *genai.GenerateContentResponse
	err       error
	gotModel  string
	gotPrompt string
	gotSystem string
}

func (f *fakeAPI) GenerateContent(_ context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.gotModel = model
	if len(contents) > 0 && len(contents[0].Parts) > 0 {
		f.gotPrompt = contents[0].Parts[0].Text
	}
	if cfg != nil && cfg.SystemInstruction != nil {
		f.gotSystem = cfg.SystemInstruction.Parts[0].Text
	}
	return f.resp, f.err
}

func textResponse(text string, reason genai.FinishReason) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      &genai.Content{Parts: []*genai.Part{{Text: text}}},
			FinishReason: reason,
		}},
	}
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(context.Background(), config.GeneratorConfig{Provider: "dalle"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown generator provider")
}

func TestNew_Synthetic(t *testing.T) {
	g, err := New(context.Background(), config.GeneratorConfig{Provider: "synthetic"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "synthetic", g.Name())
}

func TestNew_GeminiRequiresKey(t *testing.T) {
	_, err := New(context.Background(), config.GeneratorConfig{Provider: "gemini"}, nil)
	require.Error(t, err)
}

func TestGemini_Generate(t *testing.T) {
	api := &fakeAPI{resp: textResponse("Here you go:\n```svg\n<svg viewBox=\"0 0 24 24\"><path d=\"M0 0h24\"/></svg>\n```", genai.FinishReasonStop)}
	g := newGeminiWithAPI(api, nil)

	svg, err := g.Generate(context.Background(), "a lighthouse", models.StyleOutline, models.ModelFlash)
	require.NoError(t, err)
	assert.Equal(t, `<svg viewBox="0 0 24 24"><path d="M0 0h24"/></svg>`, svg)
	assert.Equal(t, models.ModelFlash, api.gotModel)
	assert.Contains(t, api.gotPrompt, "a lighthouse")
	assert.Contains(t, api.gotPrompt, "Style: outline")
	assert.Contains(t, api.gotSystem, "SVG")
}

func TestGemini_Errors(t *testing.T) {
	tests := []struct {
		name string
		api  *fakeAPI
		want error
	}{
		{"no candidates", &fakeAPI{resp: &genai.GenerateContentResponse{}}, ErrEmptyResponse},
		{"nil response", &fakeAPI{}, ErrEmptyResponse},
		{"safety", &fakeAPI{resp: textResponse("", genai.FinishReasonSafety)}, ErrBlocked},
		{"prose only", &fakeAPI{resp: textResponse("I cannot draw that.", genai.FinishReasonStop)}, ErrNoSVG},
		{"empty text", &fakeAPI{resp: textResponse("  ", genai.FinishReasonStop)}, ErrEmptyResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newGeminiWithAPI(tt.api, nil).Generate(context.Background(), "x", models.StyleFlat, models.ModelPro)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestGemini_UpstreamErrorKeepsMessage(t *testing.T) {
	api := &fakeAPI{err: errors.New("Error 429, Message: Resource has been exhausted, Status: RESOURCE_EXHAUSTED")}
	_, err := newGeminiWithAPI(api, nil).Generate(context.Background(), "x", models.StyleFlat, models.ModelPro)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RESOURCE_EXHAUSTED")
	assert.Contains(t, err.Error(), models.ModelPro)
}

func TestSynthetic_Deterministic(t *testing.T) {
	s := NewSynthetic()
	a, err := s.Generate(context.Background(), "a fox", models.StyleFilled, models.ModelFlash)
	require.NoError(t, err)
	b, err := s.Generate(context.Background(), "a fox", models.StyleFilled, models.ModelFlash)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := s.Generate(context.Background(), "a fox", models.StyleOutline, models.ModelFlash)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
	assert.Contains(t, c, `fill="none"`)

	clean, err := Sanitizer{}.Sanitize(a)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(clean, "<svg"))
}

func TestSynthetic_HonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewSynthetic().Generate(ctx, "x", models.StyleFlat, models.ModelFlash)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuildPrompt_UsesStyleHint(t *testing.T) {
	p, err := BuildPrompt("a cat", models.StyleDuotone)
	require.NoError(t, err)
	assert.Contains(t, p, "a cat")
	assert.Contains(t, p, "40% opacity")
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr error
	}{
		{
			name: "plain document is preserved",
			in:   `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 24 24"><circle cx="12" cy="12" r="4" fill="#000"/></svg>`,
			want: `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 24 24"><circle cx="12" cy="12" r="4" fill="#000"></circle></svg>`,
		},
		{
			name: "script elements are removed with their content",
			in:   `<svg><script>alert(1)</script><g><script><![CDATA[x()]]></script><rect/></g></svg>`,
			want: `<svg><g><rect></rect></g></svg>`,
		},
		{
			name: "event handlers are removed",
			in:   `<svg onload="alert(1)"><rect onClick="x()" width="2"/></svg>`,
			want: `<svg><rect width="2"></rect></svg>`,
		},
		{
			name: "javascript urls are removed",
			in:   `<svg xmlns:xlink="http://www.w3.org/1999/xlink"><a href=" java&#x09;script:alert(1)"><use xlink:href="javascript:x()"/></a><a href="#ok"></a></svg>`,
			want: `<svg xmlns:xlink="http://www.w3.org/1999/xlink"><a><use></use></a><a href="#ok"></a></svg>`,
		},
		{
			name: "foreign content is removed",
			in:   `<svg><foreignObject><div>hi</div></foreignObject><html:p xmlns:html="http://www.w3.org/1999/xhtml">x</html:p><style>@import url(x)</style></svg>`,
			want: `<svg></svg>`,
		},
		{
			name: "comments and doctype are dropped",
			in:   `<?xml version="1.0"?><!DOCTYPE svg><!-- hi --><svg><!-- there --><path d="M0 0"/></svg>`,
			want: `<svg><path d="M0 0"></path></svg>`,
		},
		{
			name: "text is escaped",
			in:   `<svg><title>a &amp; b &lt;c&gt;</title></svg>`,
			want: `<svg><title>a &amp; b &lt;c&gt;</title></svg>`,
		},
		{
			name: "data urls other than raster images are removed",
			in:   `<svg><image href="data:text/html;base64,PHNjcmlwdD4="/><image href="data:image/png;base64,AAAA"/></svg>`,
			want: `<svg><image></image><image href="data:image/png;base64,AAAA"></image></svg>`,
		},
		{name: "html root is rejected", in: `<html><svg/></html>`, wantErr: ErrNotSVG},
		{name: "empty input is rejected", in: ``, wantErr: ErrNotSVG},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Sanitizer{}.Sanitize(tt.in)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSanitize_Malformed(t *testing.T) {
	_, err := Sanitizer{}.Sanitize(`<svg><g></svg>`)
	assert.Error(t, err)

	_, err = Sanitizer{}.Sanitize(`<svg></svg><svg></svg>`)
	assert.Error(t, err)

	_, err = Sanitizer{}.Sanitize(strings.Repeat("a", MaxSVGBytes+1))
	assert.Error(t, err)
}
