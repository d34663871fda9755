package knowledge

import "context"

// Embedder turns text into a vector, the Go analogue of original_source's
// EmbeddingProvider abstract base (embed/embed_batch). Unlike the Python,
// there is a single committed implementation per deployment rather than a
// runtime-selected OpenAI/local pair — callers inject whichever client
// satisfies this interface.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// BatchEmbedder is satisfied by Embedders that can amortize a round trip
// across many chunks at once. Ground always prefers it when available,
// falling back to one Embed call per chunk otherwise.
type BatchEmbedder interface {
	Embedder
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

func embedAll(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	if be, ok := e.(BatchEmbedder); ok {
		return be.EmbedBatch(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
