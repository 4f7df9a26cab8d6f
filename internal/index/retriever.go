package index

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Embedder produces a unit-normalized embedding vector for a text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever combines an Embedder with the chunk Store: it ingests raw text
// into chunks and answers similarity queries.
type Retriever struct {
	embedder  Embedder
	store     *Store
	chunkSize int
}

// NewRetriever creates a Retriever over store. chunkSize <= 0 selects
// DefaultChunkSize.
func NewRetriever(embedder Embedder, store *Store, chunkSize int) *Retriever {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Retriever{embedder: embedder, store: store, chunkSize: chunkSize}
}

// Store exposes the underlying chunk store.
func (r *Retriever) Store() *Store {
	return r.store
}

// Ingest splits text into fixed-size windows, embeds every window, and
// appends the resulting chunks to the store. All embeddings are computed
// before anything is inserted, so a failed embedding call leaves the store
// unmodified. Re-ingesting the same document multiplies storage — there is
// deliberately no deduplication.
func (r *Retriever) Ingest(ctx context.Context, text string) error {
	windows := SplitChunks(text, r.chunkSize)
	if len(windows) == 0 {
		return nil
	}

	embeddings := make([][]float32, len(windows))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to avoid overwhelming the embedding backend.
	for i, w := range windows {
		g.Go(func() error {
			vec, err := r.embedder.Embed(gCtx, w)
			if err != nil {
				return fmt.Errorf("embedding chunk %d: %w", i, err)
			}
			embeddings[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	r.store.Append(windows, embeddings)
	return nil
}

// Retrieve embeds query and returns the k nearest chunk texts joined by
// newline. ok is false when the store is empty; k <= 0 selects DefaultTopK.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) (string, bool, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return "", false, fmt.Errorf("embedding query: %w", err)
	}

	texts, ok := r.store.Nearest(vec, k)
	if !ok {
		return "", false, nil
	}
	return JoinContext(texts), true, nil
}
