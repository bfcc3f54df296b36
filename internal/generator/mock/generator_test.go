package mock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kiranshivaraju/svgforge/internal/generator/mock"
	"github.com/kiranshivaraju/svgforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMockGenerator(t *testing.T) {
	g := mock.NewMockGenerator()
	assert.Equal(t, "mock", g.Name())

	svg, err := g.Generate(context.Background(), "p", models.StyleFlat, models.ModelFlash)
	require.NoError(t, err)
	assert.Equal(t, mock.SampleSVG, svg)
	assert.Equal(t, 1, g.Calls())
}

func TestNewFailingGenerator(t *testing.T) {
	want := errors.New("boom")
	_, err := mock.NewFailingGenerator(want).Generate(context.Background(), "p", "", "")
	assert.ErrorIs(t, err, want)
}

func TestNewSequenceGenerator(t *testing.T) {
	e1, e2 := errors.New("one"), errors.New("two")
	g := mock.NewSequenceGenerator(e1, e2)

	_, err := g.Generate(context.Background(), "p", "", "")
	assert.ErrorIs(t, err, e1)
	_, err = g.Generate(context.Background(), "p", "", "")
	assert.ErrorIs(t, err, e2)
	svg, err := g.Generate(context.Background(), "p", "", "")
	require.NoError(t, err)
	assert.Equal(t, mock.SampleSVG, svg)
	assert.Equal(t, 3, g.Calls())
}

func TestNewTimeoutGenerator(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := mock.NewTimeoutGenerator().Generate(ctx, "p", "", "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestZeroValueReturnsEmpty(t *testing.T) {
	svg, err := (&mock.MockGenerator{}).Generate(context.Background(), "p", "", "")
	require.NoError(t, err)
	assert.Empty(t, svg)
}
