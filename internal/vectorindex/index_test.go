package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kagenti/mcp-hub/internal/catalog"
)

func TestEmbeddingTextIncludesOverlayDescription(t *testing.T) {
	d := catalog.Descriptor{
		UpstreamName: "A",
		ToolName:     "weather",
		Description:  "Forecast service",
		InputSchema:  map[string]any{"type": "object"},
		Enabled:      true,
	}
	text := embeddingText(d)
	require.Contains(t, text, "weather")
	require.Contains(t, text, "Forecast service")
	require.Contains(t, text, `"type":"object"`)
}

type fakeEmbedder struct {
	calls int
	dim   int
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, f.dim)
		v[0] = float32(len(texts[i]))
		out[i] = v
	}
	return out, nil
}
