package mock

import (
	"context"
	"sync"

	"github.com/kiranshivaraju/svgforge/pkg/models"
)

// SampleSVG is what NewMockGenerator returns.
const SampleSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 24 24"><circle cx="12" cy="12" r="6"></circle></svg>`

// MockGenerator satisfies models.Generator for testing.
type MockGenerator struct {
	Name_        string
	GenerateFunc func(ctx context.Context, prompt, style, model string) (string, error)

	mu    sync.Mutex
	calls int
}

func (m *MockGenerator) Name() string { return m.Name_ }

func (m *MockGenerator) Generate(ctx context.Context, prompt, style, model string) (string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt, style, model)
	}
	return "", nil
}

// Calls returns how many times Generate ran.
func (m *MockGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// NewMockGenerator returns a MockGenerator that always succeeds with SampleSVG.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{
		Name_: "mock",
		GenerateFunc: func(_ context.Context, _, _, _ string) (string, error) {
			return SampleSVG, nil
		},
	}
}

// NewFailingGenerator returns a MockGenerator that always returns err.
func NewFailingGenerator(err error) *MockGenerator {
	return &MockGenerator{
		Name_: "mock-failing",
		GenerateFunc: func(_ context.Context, _, _, _ string) (string, error) {
			return "", err
		},
	}
}

// NewSequenceGenerator fails with errs in order, then succeeds with SampleSVG.
func NewSequenceGenerator(errs ...error) *MockGenerator {
	var mu sync.Mutex
	i := 0
	return &MockGenerator{
		Name_: "mock-sequence",
		GenerateFunc: func(_ context.Context, _, _, _ string) (string, error) {
			mu.Lock()
			defer mu.Unlock()
			if i < len(errs) {
				err := errs[i]
				i++
				return "", err
			}
			return SampleSVG, nil
		},
	}
}

// NewTimeoutGenerator returns a MockGenerator that blocks until ctx is done.
func NewTimeoutGenerator() *MockGenerator {
	return &MockGenerator{
		Name_: "mock-timeout",
		GenerateFunc: func(ctx context.Context, _, _, _ string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
}

// Compile-time check that MockGenerator implements Generator.
var _ models.Generator = (*MockGenerator)(nil)
