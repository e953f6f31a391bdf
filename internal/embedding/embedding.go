// Package embedding maps text to fixed-dimension vectors. A deterministic
// hash-based variant stands in when no provider is configured or reachable,
// so callers above this layer never see an embedding failure.
package embedding

import (
	"context"
	"fmt"
	"log"
	"math"
	"unicode/utf8"

	"github.com/chatvault/chatvault/provider"
)

// DefaultDimensions matches the pgvector column width of the chunk store.
const DefaultDimensions = 1536

// minQueryRunes is the length under which input is expanded with a query
// template before embedding, to avoid degenerate vectors for trivial text.
const minQueryRunes = 3

// Embedder converts free text into a numeric vector representation.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// expandShort pads trivially short inputs so the provider has something to
// anchor the vector on.
func expandShort(text string) string {
	if utf8.RuneCountInString(text) >= minQueryRunes {
		return text
	}
	return fmt.Sprintf("question: %s. searching for related information.", text)
}

// ProviderEmbedder embeds through a configured LLM provider.
type ProviderEmbedder struct {
	llm  provider.Provider
	dims int
}

// NewProviderEmbedder wraps an LLM provider as an Embedder.
func NewProviderEmbedder(llm provider.Provider, dims int) *ProviderEmbedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &ProviderEmbedder{llm: llm, dims: dims}
}

func (e *ProviderEmbedder) Dimensions() int { return e.dims }

func (e *ProviderEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.llm.CreateEmbedding(ctx, []string{expandShort(text)})
	if err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("provider returned no vectors")
	}
	return vecs[0], nil
}

// HashEmbedder produces a deterministic pseudo-embedding: the input is folded
// through a rolling hash into a seed and each coordinate is a cosine of
// seed+index. The same text always yields the same vector and Embed never
// fails, which keeps downstream similarity search well-defined when no real
// backend is available.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder builds the offline fallback embedder.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &HashEmbedder{dims: dims}
}

func (e *HashEmbedder) Dimensions() int { return e.dims }

func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	seed := hashSeed(expandShort(text))
	vec := make([]float32, e.dims)
	for i := range vec {
		vec[i] = float32(math.Cos(float64(seed) + float64(i)))
	}
	return vec, nil
}

func hashSeed(text string) uint32 {
	var h uint32
	for _, r := range text {
		h = h*31 + uint32(r)
	}
	return h % 1000
}

// FallbackEmbedder tries a primary embedder and degrades to the hash
// embedder on any error. Its Embed never returns a non-nil error.
type FallbackEmbedder struct {
	primary  Embedder
	fallback *HashEmbedder
	logger   *log.Logger
}

// NewFallbackEmbedder wraps primary with the deterministic fallback. A nil
// primary selects degraded mode outright.
func NewFallbackEmbedder(primary Embedder, dims int, logger *log.Logger) *FallbackEmbedder {
	if logger == nil {
		logger = log.New(log.Writer(), "[EMBED] ", log.LstdFlags)
	}
	return &FallbackEmbedder{
		primary:  primary,
		fallback: NewHashEmbedder(dims),
		logger:   logger,
	}
}

func (e *FallbackEmbedder) Dimensions() int { return e.fallback.Dimensions() }

func (e *FallbackEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.primary != nil {
		vec, err := e.primary.Embed(ctx, text)
		if err == nil {
			return vec, nil
		}
		e.logger.Printf("provider embedding failed, using deterministic fallback: %v", err)
	}
	return e.fallback.Embed(ctx, text)
}
