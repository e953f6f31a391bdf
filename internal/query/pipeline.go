// Package query answers natural-language questions over the chat archive:
// intent classification, adaptive vector retrieval, and grounded synthesis.
package query

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/chatvault/chatvault/config"
	"github.com/chatvault/chatvault/internal/embedding"
	"github.com/chatvault/chatvault/internal/store"
)

// ErrSearchUnavailable marks a vector-store transport failure. It is distinct
// from zero results, which is not an error and drives the threshold ladder.
var ErrSearchUnavailable = errors.New("search backend unavailable")

const noContextAnswer = "I couldn't find relevant information in your archive for that question."

// SearchStore is the slice of the store the query pipeline depends on.
type SearchStore interface {
	MatchChunks(ctx context.Context, vector []float32, threshold float64, limit int) ([]store.ChunkMatch, error)
	LatestSession(ctx context.Context) (store.SessionRecord, bool, error)
}

// Generator produces text from a system+user prompt pair.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// Observer receives pipeline events; the server wires prometheus counters
// through it. The zero value of nopObserver is the default.
type Observer interface {
	QueryHandled(intent Intent)
	SearchAttempt(rung int)
}

type nopObserver struct{}

func (nopObserver) QueryHandled(Intent) {}
func (nopObserver) SearchAttempt(int)   {}

// Request is one question over the archive. Threshold and Limit fall back to
// the configured defaults when zero.
type Request struct {
	Query     string  `json:"query"`
	Threshold float64 `json:"similarity,omitempty"`
	Limit     int     `json:"limit,omitempty"`
}

// Source is one ranked citation behind an answer.
type Source struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	URL        string  `json:"url"`
	Similarity float64 `json:"similarity"`
}

// Response is a synthesized answer with its provenance.
type Response struct {
	Answer           string   `json:"answer"`
	Summary          string   `json:"summary,omitempty"`
	FallbackAnswer   string   `json:"fallback_answer,omitempty"`
	Sources          []Source `json:"sources"`
	HasSourceContext bool     `json:"has_source_context"`
	Intent           Intent   `json:"intent"`
}

// retrievedChunk is the internal working form of a context chunk.
type retrievedChunk struct {
	SessionID  string
	Title      string
	URL        string
	Content    string
	Similarity float64
}

// Pipeline wires the retrieval and synthesis dependencies.
type Pipeline struct {
	store    SearchStore
	embedder embedding.Embedder
	llm      Generator
	cfg      config.SearchConfig
	observer Observer
	logger   *log.Logger
	reserved map[string]bool
}

// NewPipeline builds a query pipeline. observer may be nil.
func NewPipeline(st SearchStore, emb embedding.Embedder, llm Generator, cfg config.SearchConfig, observer Observer, logger *log.Logger) *Pipeline {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.3
	}
	if cfg.ThresholdFloor <= 0 {
		cfg.ThresholdFloor = 0.1
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 5
	}
	if cfg.MaxSources <= 0 {
		cfg.MaxSources = 3
	}
	if cfg.LowConfidenceFloor <= 0 {
		cfg.LowConfidenceFloor = 0.4
	}
	if observer == nil {
		observer = nopObserver{}
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[QUERY] ", log.LstdFlags)
	}
	reserved := make(map[string]bool, len(cfg.ReservedSessionIDs))
	for _, id := range cfg.ReservedSessionIDs {
		reserved[id] = true
	}
	return &Pipeline{store: st, embedder: emb, llm: llm, cfg: cfg, observer: observer, logger: logger, reserved: reserved}
}

// Answer runs the full query state machine. A vector-store transport failure
// is returned wrapped in ErrSearchUnavailable; every other path produces a
// Response.
func (p *Pipeline) Answer(ctx context.Context, req Request) (Response, error) {
	q := strings.TrimSpace(req.Query)
	if q == "" {
		return Response{}, fmt.Errorf("query required")
	}

	intent := Classify(q)
	p.observer.QueryHandled(intent)

	switch intent {
	case IntentConversational:
		return p.answerConversational(ctx, q)
	case IntentMeta:
		return p.answerMeta(ctx, q)
	}

	threshold := req.Threshold
	if threshold <= 0 {
		threshold = p.cfg.Threshold
	}
	limit := req.Limit
	if limit <= 0 {
		limit = p.cfg.Limit
	}

	vec, err := p.embedder.Embed(ctx, q)
	if err != nil {
		return Response{}, fmt.Errorf("embed query: %w", err)
	}

	matches, err := p.searchWithLadder(ctx, vec, threshold, limit)
	if err != nil {
		return Response{}, err
	}
	if len(matches) == 0 {
		return p.answerWithoutContext(ctx, q)
	}

	chunks := make([]retrievedChunk, 0, len(matches))
	for _, m := range matches {
		chunks = append(chunks, retrievedChunk{
			SessionID:  m.ChatSessionID,
			Title:      m.SessionTitle,
			URL:        m.SessionURL,
			Content:    m.Content,
			Similarity: m.Similarity,
		})
	}
	return p.synthesize(ctx, q, IntentKnowledge, chunks)
}

// searchWithLadder retries an empty search at half the threshold, then at
// the fixed floor. The first non-empty rung wins; transport errors abort
// immediately and are never retried here.
func (p *Pipeline) searchWithLadder(ctx context.Context, vec []float32, threshold float64, limit int) ([]store.ChunkMatch, error) {
	rungs := []float64{threshold, threshold * 0.5, p.cfg.ThresholdFloor}
	for i, t := range rungs {
		p.observer.SearchAttempt(i)
		matches, err := p.store.MatchChunks(ctx, vec, t, limit)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSearchUnavailable, err)
		}
		if len(matches) > 0 {
			if i > 0 {
				p.logger.Printf("retrieval succeeded at relaxed threshold %.2f (attempt %d)", t, i+1)
			}
			return matches, nil
		}
	}
	return nil, nil
}

// answerConversational replies directly; retrieval is skipped entirely.
func (p *Pipeline) answerConversational(ctx context.Context, q string) (Response, error) {
	answer, err := p.llm.Generate(ctx, conversationalSystemPrompt, q)
	if err != nil {
		p.logger.Printf("conversational generation failed: %v", err)
		answer = "Hello! Ask me anything about your archived conversations."
	}
	return Response{Answer: answer, Sources: []Source{}, HasSourceContext: false, Intent: IntentConversational}, nil
}

// answerMeta answers from the most recent session's summary, wrapped as one
// synthetic chunk with similarity 1.0. MatchChunks is never called.
func (p *Pipeline) answerMeta(ctx context.Context, q string) (Response, error) {
	latest, found, err := p.store.LatestSession(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrSearchUnavailable, err)
	}
	if !found || strings.TrimSpace(latest.Summary) == "" {
		resp, err := p.answerWithoutContext(ctx, q)
		resp.Intent = IntentMeta
		return resp, err
	}
	chunk := retrievedChunk{
		SessionID:  latest.ID,
		Title:      latest.Title,
		URL:        latest.URL,
		Content:    latest.Summary,
		Similarity: 1.0,
	}
	return p.synthesize(ctx, q, IntentMeta, []retrievedChunk{chunk})
}

// answerWithoutContext handles the empty-ladder outcome: a graceful no-info
// answer plus an ungrounded fallback the caller may surface instead.
func (p *Pipeline) answerWithoutContext(ctx context.Context, q string) (Response, error) {
	fallback, err := p.llm.Generate(ctx, fallbackSystemPrompt, q)
	if err != nil {
		p.logger.Printf("ungrounded fallback generation failed: %v", err)
		fallback = ""
	}
	return Response{
		Answer:           noContextAnswer,
		FallbackAnswer:   fallback,
		Sources:          []Source{},
		HasSourceContext: false,
		Intent:           IntentKnowledge,
	}, nil
}

// synthesize builds the grounded prompt, generates the answer and its
// one-sentence summary, and adds an ungrounded fallback when mean similarity
// falls under the low-confidence floor.
func (p *Pipeline) synthesize(ctx context.Context, q string, intent Intent, chunks []retrievedChunk) (Response, error) {
	prompt := buildGroundedPrompt(q, buildContext(chunks))

	var mean float64
	for _, c := range chunks {
		mean += c.Similarity
	}
	mean /= float64(len(chunks))
	lowConfidence := mean < p.cfg.LowConfidenceFloor

	var (
		answer   string
		fallback string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a, err := p.llm.Generate(gctx, groundedSystemPrompt, prompt)
		if err != nil {
			return fmt.Errorf("generate answer: %w", err)
		}
		answer = a
		return nil
	})
	if lowConfidence {
		g.Go(func() error {
			f, err := p.llm.Generate(gctx, fallbackSystemPrompt, q)
			if err != nil {
				p.logger.Printf("ungrounded fallback generation failed: %v", err)
				return nil
			}
			fallback = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Response{}, err
	}

	summary, err := p.llm.Generate(ctx, "", buildSummaryPrompt(answer))
	if err != nil {
		p.logger.Printf("answer summary generation failed: %v", err)
		summary = ""
	}

	return Response{
		Answer:           answer,
		Summary:          summary,
		FallbackAnswer:   fallback,
		Sources:          p.sources(chunks),
		HasSourceContext: true,
		Intent:           intent,
	}, nil
}

// sources maps retrieved chunks to ranked citations, dropping reserved
// system sessions (the built-in FAQ) and truncating to the configured cap.
func (p *Pipeline) sources(chunks []retrievedChunk) []Source {
	out := make([]Source, 0, p.cfg.MaxSources)
	for _, c := range chunks {
		if p.reserved[c.SessionID] {
			continue
		}
		out = append(out, Source{
			ID:         c.SessionID,
			Title:      c.Title,
			URL:        c.URL,
			Similarity: c.Similarity,
		})
		if len(out) == p.cfg.MaxSources {
			break
		}
	}
	return out
}
