package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPEmbedder is the single committed Embedder backend: an OpenAI-compatible
// /v1/embeddings endpoint, the Go analogue of original_source's
// OpenAIEmbeddings. The corpus carries no Go embeddings-API client, so this
// talks the wire protocol directly over net/http rather than pulling in an
// unvetted dependency for one JSON POST.
type HTTPEmbedder struct {
	URL    string
	APIKey string
	Model  string
	Dims   int

	Client *http.Client
}

// NewHTTPEmbedder returns an HTTPEmbedder with a bounded request timeout.
func NewHTTPEmbedder(url, apiKey, model string, dims int) *HTTPEmbedder {
	return &HTTPEmbedder{
		URL:    url,
		APIKey: apiKey,
		Model:  model,
		Dims:   dims,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (e *HTTPEmbedder) Dimensions() int { return e.Dims }

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingsRequest{Model: e.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("knowledge: marshal embeddings request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("knowledge: build embeddings request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.APIKey)
	}

	resp, err := e.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("knowledge: embeddings request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("knowledge: embeddings endpoint returned %s", resp.Status)
	}

	var parsed embeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("knowledge: decode embeddings response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("knowledge: embeddings endpoint returned %d vectors for %d inputs", len(parsed.Data), len(texts))
	}

	out := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		out[i] = d.Embedding
	}
	return out, nil
}
