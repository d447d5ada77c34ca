package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// systemPrompt frames the model as an assistant that answers strictly
// from the supplied knowledge excerpts.
const systemPrompt = `You are a helpful internal support assistant.
Answer the user's question using ONLY the knowledge excerpts provided.
If the excerpts do not contain the answer, say so briefly.
Answer in the same language as the question. Be concise.`

// Generator produces a natural-language answer from a question and the
// retrieved knowledge context. Whether a model is reachable is decided
// once at startup; Available never flips at runtime.
type Generator interface {
	// Generate returns the model's answer. Wraps ErrGeneration on
	// model failure.
	Generate(ctx context.Context, question, kbContext string) (string, error)

	// Available reports whether this generator has a live model
	// behind it. When false, Reason explains why and callers fall
	// back to verbatim answers.
	Available() bool

	// Reason is the human-readable explanation for unavailability.
	// Empty when Available is true.
	Reason() string
}

// GenkitGenerator is the live Generator backed by a Genkit model.
type GenkitGenerator struct {
	g       *genkit.Genkit
	model   string
	timeout time.Duration
}

// NewGenkitGenerator creates a generator for the given fully-qualified
// model name (e.g. "googleai/gemini-2.5-flash" or "ollama/gemma3").
func NewGenkitGenerator(g *genkit.Genkit, model string, timeout time.Duration) *GenkitGenerator {
	return &GenkitGenerator{g: g, model: model, timeout: timeout}
}

// Available implements Generator.
func (*GenkitGenerator) Available() bool { return true }

// Reason implements Generator.
func (*GenkitGenerator) Reason() string { return "" }

// Generate implements Generator.
func (gg *GenkitGenerator) Generate(ctx context.Context, question, kbContext string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, gg.timeout)
	defer cancel()

	resp, err := genkit.Generate(ctx, gg.g,
		ai.WithModelName(gg.model),
		ai.WithSystem(systemPrompt),
		ai.WithPrompt("Knowledge excerpts:\n%s\n\nQuestion: %s", kbContext, question),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("%w: model returned empty response", ErrGeneration)
	}
	return text, nil
}

// UnavailableGenerator is the degraded-mode Generator: no model is
// configured or reachable, so retrieval serves verbatim answers only.
type UnavailableGenerator struct {
	reason string
}

// NewUnavailable creates a generator that always declines with reason.
func NewUnavailable(reason string) *UnavailableGenerator {
	return &UnavailableGenerator{reason: reason}
}

// Available implements Generator.
func (*UnavailableGenerator) Available() bool { return false }

// Reason implements Generator.
func (u *UnavailableGenerator) Reason() string { return u.reason }

// Generate implements Generator.
func (u *UnavailableGenerator) Generate(context.Context, string, string) (string, error) {
	return "", fmt.Errorf("%w: %s", ErrGeneration, u.reason)
}
