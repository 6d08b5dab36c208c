// Package vectorindex implements the C5 Vector Index: a persistent embedding
// store over tool descriptors, backed by Postgres/pgvector, that powers the
// $smart group's search_tools meta-tool (spec §4.C5).
package vectorindex

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kagenti/mcp-hub/internal/apierrors"
)

// Embedder is the external collaborator spec §4.C5 calls out: "compute a
// fresh embedding (calling the external Embedder)". Kept as a narrow
// interface so tests can supply a deterministic fake instead of calling out
// to a real model.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// openAIEmbedder adapts github.com/sashabaranov/go-openai's embeddings
// endpoint to the Embedder contract, grounded on SPEC_FULL.md's domain-stack
// wiring for smartRouting.embedModel.
type openAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// NewOpenAIEmbedder builds an Embedder against the OpenAI (or
// OpenAI-compatible) embeddings API. apiKey and baseURL follow the same
// override pattern the teacher's credential handling uses: an empty baseURL
// means "use the public OpenAI API".
func NewOpenAIEmbedder(apiKey, baseURL, model string) Embedder {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &openAIEmbedder{
		client: openai.NewClientWithConfig(cfg),
		model:  openai.EmbeddingModel(model),
	}
}

func (e *openAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: e.model,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apierrors.ErrEmbedderUnavailable, err)
	}
	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		out[d.Index] = d.Embedding
	}
	return out, nil
}
