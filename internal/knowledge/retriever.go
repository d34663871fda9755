package knowledge

import (
	"context"
	"fmt"
	"strings"
)

// Retriever is what the session-open code path actually calls: embed a
// question, search the Store, thin out anything below Threshold, and render
// the survivors into a block of text ready to fold into PinnedPrefix.
//
// Grounded on original_source's RAGSystem.query + format_context. query()
// there defaults to k=5, threshold=0.5; format_context defaults to
// max_chars=2000 and joins "[Relevance: {score:.2f}]\n{content}" blocks with
// "\n\n---\n\n".
// Searcher is the slice of *Store that Retriever depends on, narrow enough to
// fake in tests without a real Postgres connection.
type Searcher interface {
	Search(ctx context.Context, tenantID string, queryEmbedding []float32, topK int) ([]SearchResult, error)
}

type Retriever struct {
	Store    Searcher
	Embedder Embedder

	K         int
	Threshold float64
	MaxChars  int
}

// NewRetriever returns a Retriever using sensible default k/threshold/maxChars.
func NewRetriever(store Searcher, embedder Embedder) *Retriever {
	return &Retriever{Store: store, Embedder: embedder, K: 5, Threshold: 0.5, MaxChars: 2000}
}

// Query embeds question, searches tenantID's documents, and drops anything
// scoring below r.Threshold.
func (r *Retriever) Query(ctx context.Context, tenantID, question string) ([]SearchResult, error) {
	k := r.K
	if k <= 0 {
		k = 5
	}
	vec, err := r.Embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("knowledge: embed query: %w", err)
	}
	results, err := r.Store.Search(ctx, tenantID, vec, k)
	if err != nil {
		return nil, err
	}

	threshold := r.Threshold
	kept := results[:0]
	for _, res := range results {
		if res.Score >= threshold {
			kept = append(kept, res)
		}
	}
	return kept, nil
}

// FormatContext renders results into the block of text PinnedPrefix
// construction appends. The blocks, not counting the separators between
// them, are truncated to r.MaxChars bytes.
func (r *Retriever) FormatContext(results []SearchResult) string {
	if len(results) == 0 {
		return ""
	}
	maxChars := r.MaxChars
	if maxChars <= 0 {
		maxChars = 2000
	}

	var blocks []string
	total := 0
	for _, res := range results {
		block := fmt.Sprintf("[Relevance: %.2f]\n%s", res.Score, res.Document.Content)
		if total+len(block) > maxChars {
			remaining := maxChars - total
			if remaining <= 0 {
				break
			}
			blocks = append(blocks, block[:remaining])
			break
		}
		blocks = append(blocks, block)
		total += len(block)
	}
	return strings.Join(blocks, "\n\n---\n\n")
}

// Upserter is the slice of *Store that Ground depends on, narrow enough to
// fake in tests without a real Postgres connection.
type Upserter interface {
	Upsert(ctx context.Context, doc Document) error
}

// Ground embeds and upserts source text into the Store for tenantID, chunking
// it first via c. Each chunk is stored under an id derived from docID and its
// chunk index so re-grounding the same source replaces rather than
// duplicates its chunks.
func Ground(ctx context.Context, store Upserter, embedder Embedder, c Chunker, tenantID, docID, text string, metadata map[string]string) error {
	chunks := c.Split(text)
	if len(chunks) == 0 {
		return nil
	}
	vectors, err := embedAll(ctx, embedder, chunks)
	if err != nil {
		return fmt.Errorf("knowledge: ground %s: embed: %w", docID, err)
	}
	for i, chunk := range chunks {
		doc := Document{
			ID:        fmt.Sprintf("%s#%d", docID, i),
			TenantID:  tenantID,
			Content:   chunk,
			Metadata:  metadata,
			Embedding: vectors[i],
		}
		if err := store.Upsert(ctx, doc); err != nil {
			return fmt.Errorf("knowledge: ground %s: %w", docID, err)
		}
	}
	return nil
}
