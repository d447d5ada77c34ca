// Package retrieval runs the question-answering pipeline: embed the
// question, search the vector index, fetch the matched entries, and
// produce an answer with a calibrated confidence.
package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/avelin0/sage/internal/encoder"
	"github.com/avelin0/sage/internal/knowledge"
	"github.com/avelin0/sage/internal/log"
	"github.com/avelin0/sage/internal/vecindex"
)

// IndexProvider hands out the currently published index. Satisfied by
// the synchronizer; the orchestrator never holds an index across
// requests, so every query sees the latest completed rebuild.
type IndexProvider interface {
	Current() *vecindex.Index
}

// Options tunes the pipeline.
type Options struct {
	// TopK is the default number of candidates when the query does
	// not specify one.
	TopK int

	// MaxK caps the per-query override.
	MaxK int

	// ConfidenceThreshold is the score below which answers carry the
	// hedge prefix.
	ConfidenceThreshold float64

	// HedgePrefix is prepended to low-confidence answers.
	HedgePrefix string
}

// Query is one retrieval request. Embedding, when non-nil, skips the
// question-encoding step; it must match the index dimension.
type Query struct {
	Question  string
	Embedding []float32
	K         int
}

// Result is the pipeline output. SourceIDs lists the matched entry ids
// in rank order, best first; Sources carries the same entries in the
// same order with their full text.
type Result struct {
	Answer     string            `json:"answer"`
	Confidence float64           `json:"confidence"`
	Generated  bool              `json:"generated"`
	Hedged     bool              `json:"hedged"`
	SourceIDs  []int64           `json:"source_ids"`
	Sources    []knowledge.Entry `json:"sources"`
	LatencyMS  int64             `json:"latency_ms"`
}

// Orchestrator wires the retrieval stages together. Safe for
// concurrent use; all state is per-request.
type Orchestrator struct {
	enc    encoder.Encoder
	index  IndexProvider
	source knowledge.Source
	gen    Generator
	opts   Options
	logger log.Logger
}

// New creates an Orchestrator.
func New(enc encoder.Encoder, index IndexProvider, source knowledge.Source, gen Generator, opts Options, logger log.Logger) *Orchestrator {
	return &Orchestrator{
		enc:    enc,
		index:  index,
		source: source,
		gen:    gen,
		opts:   opts,
		logger: logger,
	}
}

// GeneratorAvailable reports whether answers are model-generated or
// verbatim. Exposed for the health endpoint.
func (o *Orchestrator) GeneratorAvailable() (bool, string) {
	return o.gen.Available(), o.gen.Reason()
}

// Retrieve answers one question. Returns ErrNoMatch when the index is
// empty or nothing relevant is found, encoder.ErrEmptyInput for blank
// questions, and encoder.ErrDimensionMismatch for a caller-supplied
// embedding of the wrong size.
func (o *Orchestrator) Retrieve(ctx context.Context, q Query) (Result, error) {
	start := time.Now()

	ix := o.index.Current()

	embedding, err := o.resolveEmbedding(ctx, ix, q)
	if err != nil {
		return Result{}, err
	}

	k := o.resolveK(q.K)
	scores, positions, err := ix.Search(embedding, k)
	if err != nil {
		return Result{}, fmt.Errorf("searching index: %w", err)
	}
	if len(positions) == 0 {
		return Result{}, fmt.Errorf("%w: index is empty", ErrNoMatch)
	}

	ids := make([]int64, 0, len(positions))
	for _, id := range ix.SourceIDs(positions) {
		if id != vecindex.InvalidID {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return Result{}, fmt.Errorf("%w: no valid candidates", ErrNoMatch)
	}

	entries, err := o.source.FetchByIDs(ctx, ids)
	if err != nil {
		return Result{}, fmt.Errorf("fetching entries: %w", err)
	}
	if len(entries) == 0 {
		// Matched ids no longer exist or were deactivated since the
		// last rebuild.
		return Result{}, fmt.Errorf("%w: matched entries no longer active", ErrNoMatch)
	}

	confidence := scoreToConfidence(scores[0])
	answer, generated := o.answer(ctx, q.Question, entries)

	hedged := false
	if confidence < o.opts.ConfidenceThreshold {
		answer = o.opts.HedgePrefix + answer
		hedged = true
	}

	sourceIDs := make([]int64, len(entries))
	for i, e := range entries {
		sourceIDs[i] = e.ID
	}

	result := Result{
		Answer:     answer,
		Confidence: confidence,
		Generated:  generated,
		Hedged:     hedged,
		SourceIDs:  sourceIDs,
		Sources:    entries,
		LatencyMS:  time.Since(start).Milliseconds(),
	}

	o.logger.Info("retrieval complete",
		"top_score", scores[0],
		"confidence", confidence,
		"candidates", len(entries),
		"generated", generated,
		"hedged", hedged,
		"latency_ms", result.LatencyMS)

	return result, nil
}

// resolveEmbedding returns the caller's embedding after validation, or
// encodes the question.
func (o *Orchestrator) resolveEmbedding(ctx context.Context, ix *vecindex.Index, q Query) ([]float32, error) {
	if q.Embedding != nil {
		if len(q.Embedding) != ix.Dimension() {
			return nil, fmt.Errorf("%w: embedding has dimension %d, index expects %d",
				encoder.ErrDimensionMismatch, len(q.Embedding), ix.Dimension())
		}
		return q.Embedding, nil
	}
	return o.enc.Encode(ctx, q.Question)
}

func (o *Orchestrator) resolveK(k int) int {
	if k <= 0 {
		return o.opts.TopK
	}
	if o.opts.MaxK > 0 && k > o.opts.MaxK {
		return o.opts.MaxK
	}
	return k
}

// answer generates a model answer over the retrieved context, falling
// back to the best entry's stored answer verbatim when no model is
// available or generation fails. The fallback keeps the service useful
// in degraded mode.
func (o *Orchestrator) answer(ctx context.Context, question string, entries []knowledge.Entry) (string, bool) {
	fallback := entries[0].Answer

	if !o.gen.Available() {
		return fallback, false
	}

	generated, err := o.gen.Generate(ctx, question, buildContext(entries))
	if err != nil {
		o.logger.Warn("generation failed, serving stored answer", "error", err)
		return fallback, false
	}
	return generated, true
}

// buildContext renders entries as question/answer blocks for the
// generation prompt, best match first.
func buildContext(entries []knowledge.Entry) string {
	blocks := make([]string, len(entries))
	for i, e := range entries {
		blocks[i] = fmt.Sprintf("Q: %s\nA: %s", e.Question, e.Answer)
	}
	return strings.Join(blocks, "\n\n")
}

// scoreToConfidence maps an inner-product score in [-1, 1] to a
// confidence in [0, 1]. The linear mapping is kept as-is because the
// hedging threshold was calibrated against it.
func scoreToConfidence(score float32) float64 {
	c := (float64(score) + 1) / 2
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
