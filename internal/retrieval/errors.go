package retrieval

import "errors"

var (
	// ErrNoMatch reports that no knowledge entry could be matched to
	// the question. Distinct from a failure: the pipeline worked, the
	// knowledge base simply has nothing relevant (or nothing at all).
	ErrNoMatch = errors.New("no matching knowledge entry")

	// ErrGeneration reports that the language model failed to produce
	// an answer and no fallback was possible.
	ErrGeneration = errors.New("answer generation failed")
)
