// Package encoder turns text into fixed-dimension unit-length vectors
// suitable for inner-product similarity search.
package encoder

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/firebase/genkit/go/ai"

	"github.com/avelin0/sage/internal/textnorm"
)

var (
	// ErrEmptyInput reports text that is empty after normalization and
	// therefore cannot be encoded.
	ErrEmptyInput = errors.New("empty input text")

	// ErrDimensionMismatch reports a model that returned vectors of a
	// different dimension than configured.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Encoder produces deterministic unit-length vectors for text. Both
// methods normalize the input text first, so callers never need to
// pre-clean.
type Encoder interface {
	// Encode encodes one text. Returns ErrEmptyInput if the text is
	// blank after normalization.
	Encode(ctx context.Context, text string) ([]float32, error)

	// EncodeBatch encodes texts in order: result i corresponds to
	// texts[i]. A single blank text fails the whole batch.
	EncodeBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the fixed output dimension.
	Dimension() int
}

// GenkitEncoder adapts a Genkit ai.Embedder to the Encoder contract,
// adding text normalization, dimension enforcement and L2 output
// normalization on top of the raw model.
type GenkitEncoder struct {
	embedder  ai.Embedder
	dimension int
}

// NewGenkit wraps a Genkit embedder. dimension is the expected model
// output dimension; responses of any other size are rejected.
func NewGenkit(embedder ai.Embedder, dimension int) (*GenkitEncoder, error) {
	if embedder == nil {
		return nil, errors.New("embedder is nil")
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid dimension %d: must be positive", dimension)
	}
	return &GenkitEncoder{embedder: embedder, dimension: dimension}, nil
}

// Dimension returns the configured output dimension.
func (e *GenkitEncoder) Dimension() int { return e.dimension }

// Encode implements Encoder.
func (e *GenkitEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EncodeBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EncodeBatch implements Encoder. All texts go to the model in a
// single request; the model's response order matches the input order.
func (e *GenkitEncoder) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	docs := make([]*ai.Document, len(texts))
	for i, text := range texts {
		cleaned := textnorm.Normalize(text)
		if cleaned == "" {
			return nil, fmt.Errorf("%w: text %d is blank after normalization", ErrEmptyInput, i)
		}
		docs[i] = ai.DocumentFromText(cleaned, nil)
	}

	resp, err := e.embedder.Embed(ctx, &ai.EmbedRequest{Input: docs})
	if err != nil {
		return nil, fmt.Errorf("embed failed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("model returned %d embeddings for %d texts", len(resp.Embeddings), len(texts))
	}

	out := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if len(emb.Embedding) != e.dimension {
			return nil, fmt.Errorf("%w: model returned dimension %d, expected %d",
				ErrDimensionMismatch, len(emb.Embedding), e.dimension)
		}
		out[i] = unitVector(emb.Embedding)
	}
	return out, nil
}

// unitVector returns an L2-normalized copy of v. A zero vector (which
// some models emit for degenerate input) is returned zero-filled.
func unitVector(v []float32) []float32 {
	out := make([]float32, len(v))
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return out
	}
	inv := 1 / math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}
