package groq

import (
	"context"
	"fmt"
	"math"
)

// EmbeddingClient calls an OpenAI-compatible /embeddings endpoint. Groq does
// not serve embeddings, so this typically points at a separate provider; any
// server speaking the OpenAI embeddings wire format works.
type EmbeddingClient struct {
	client *Client
	model  string
}

// NewEmbeddingClient creates an EmbeddingClient for the given endpoint and model.
func NewEmbeddingClient(baseURL, apiKey, model string) *EmbeddingClient {
	return &EmbeddingClient{client: New(baseURL, apiKey), model: model}
}

// embedRequest is the JSON body for POST /embeddings.
type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// embedResponse mirrors the JSON returned by POST /embeddings.
type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *apiError `json:"error"`
}

// Embed returns the unit-normalized embedding vector for text. Chunk and
// query embeddings go through the same normalization so squared L2 distances
// are comparable.
func (e *EmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	var result embedResponse
	if err := e.client.postJSON(ctx, "/embeddings", embedRequest{Model: e.model, Input: text}, &result); err != nil {
		return nil, err
	}
	if result.Error != nil {
		return nil, fmt.Errorf("embeddings: %s", result.Error.Message)
	}
	if len(result.Data) == 0 {
		return nil, fmt.Errorf("embeddings: empty data array")
	}
	return Normalize(result.Data[0].Embedding), nil
}

// Normalize scales v to unit L2 norm. A zero vector is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) / norm)
	}
	return out
}
