package index

import (
	"sort"
	"strings"
	"sync"
)

// DefaultChunkSize is the window size, in characters, used to split ingested
// text.
const DefaultChunkSize = 500

// DefaultTopK is the number of chunks returned by Retrieve when the caller
// does not specify one.
const DefaultTopK = 3

// Chunk is one fixed-size slice of ingested text together with its embedding.
// Chunks are immutable once inserted; IDs are dense, 0-based, and assigned in
// insertion order.
type Chunk struct {
	ID        int
	Text      string
	Embedding []float32
}

// Store holds chunks and their embeddings in memory and answers exact
// nearest-neighbor queries by squared L2 distance. The store is append-only:
// there is no delete, and contents are lost on process exit.
//
// An exhaustive linear scan is fine at the corpus sizes this serves (a
// handful of uploaded documents). Revisit with an ANN index if that changes.
type Store struct {
	mu     sync.RWMutex
	chunks []Chunk
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{}
}

// SplitChunks splits text into consecutive, non-overlapping windows of
// chunkSize characters. Windows are counted in runes, never bytes, so a
// multi-byte rune is never cut in half and every chunk is valid UTF-8. The
// final window may be shorter; concatenating the windows in order reproduces
// the input exactly.
func SplitChunks(text string, chunkSize int) []string {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if text == "" {
		return nil
	}
	chunks := make([]string, 0, len(text)/chunkSize+1)
	start, n := 0, 0
	for i := range text {
		if n == chunkSize {
			chunks = append(chunks, text[start:i])
			start, n = i, 0
		}
		n++
	}
	return append(chunks, text[start:])
}

// Append inserts texts with their embeddings as new chunks, in order, under a
// single lock acquisition. Either all pairs become visible to readers or,
// if the input is mismatched, none do. texts[i] pairs with embeddings[i].
func (s *Store) Append(texts []string, embeddings [][]float32) []int {
	if len(texts) != len(embeddings) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int, len(texts))
	for i := range texts {
		id := len(s.chunks)
		s.chunks = append(s.chunks, Chunk{ID: id, Text: texts[i], Embedding: embeddings[i]})
		ids[i] = id
	}
	return ids
}

// Len returns the number of stored chunks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Chunks returns a snapshot copy of all stored chunks in id order.
func (s *Store) Chunks() []Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Chunk, len(s.chunks))
	copy(out, s.chunks)
	return out
}

// Nearest returns the texts of the k chunks closest to vec by squared L2
// distance, in ascending-distance order, ties broken by lower chunk id so
// identical queries against an unchanged store return identical results.
// Returns ok=false when the store is empty — the "no knowledge" state, not
// an error.
func (s *Store) Nearest(vec []float32, k int) (texts []string, ok bool) {
	if k <= 0 {
		k = DefaultTopK
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.chunks) == 0 {
		return nil, false
	}

	type scored struct {
		id   int
		dist float64
	}
	results := make([]scored, len(s.chunks))
	for i, c := range s.chunks {
		results[i] = scored{id: c.ID, dist: sqDistance(vec, c.Embedding)}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].dist != results[j].dist {
			return results[i].dist < results[j].dist
		}
		return results[i].id < results[j].id
	})

	if k > len(results) {
		k = len(results)
	}
	texts = make([]string, k)
	for i := 0; i < k; i++ {
		texts[i] = s.chunks[results[i].id].Text
	}
	return texts, true
}

// JoinContext concatenates retrieved chunk texts into the single context
// string handed to the completion call.
func JoinContext(texts []string) string {
	return strings.Join(texts, "\n")
}

// sqDistance returns the squared Euclidean distance between a and b.
// Mismatched lengths are treated as maximally distant rather than panicking;
// that only happens if the embedding backend changes dimension mid-run.
func sqDistance(a, b []float32) float64 {
	if len(a) != len(b) {
		return maxDistance
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

const maxDistance = 1e30
