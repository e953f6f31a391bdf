package query

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"

	"github.com/chatvault/chatvault/config"
	"github.com/chatvault/chatvault/internal/store"
)

type stubSearchStore struct {
	// matchesByRung maps ladder attempt index to the result of that call.
	matchesByRung map[int][]store.ChunkMatch
	matchErr      error
	matchCalls    int
	thresholds    []float64

	latest    store.SessionRecord
	hasLatest bool
	latestErr error
}

func (s *stubSearchStore) MatchChunks(_ context.Context, _ []float32, threshold float64, _ int) ([]store.ChunkMatch, error) {
	call := s.matchCalls
	s.matchCalls++
	s.thresholds = append(s.thresholds, threshold)
	if s.matchErr != nil {
		return nil, s.matchErr
	}
	return s.matchesByRung[call], nil
}

func (s *stubSearchStore) LatestSession(_ context.Context) (store.SessionRecord, bool, error) {
	if s.latestErr != nil {
		return store.SessionRecord{}, false, s.latestErr
	}
	return s.latest, s.hasLatest, nil
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(context.Context, string) ([]float32, error) { return []float32{1, 0}, nil }
func (stubEmbedder) Dimensions() int                                  { return 2 }

type scriptedGenerator struct {
	mu      sync.Mutex
	prompts []string
	systems []string
}

func (g *scriptedGenerator) Generate(_ context.Context, system, prompt string) (string, error) {
	g.mu.Lock()
	g.systems = append(g.systems, system)
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	switch system {
	case groundedSystemPrompt:
		return "grounded answer", nil
	case conversationalSystemPrompt:
		return "hello back", nil
	case fallbackSystemPrompt:
		return "general knowledge answer", nil
	}
	return "one sentence summary", nil
}

func (g *scriptedGenerator) sawSystem(system string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, s := range g.systems {
		if s == system {
			return true
		}
	}
	return false
}

func searchConfig() config.SearchConfig {
	return config.SearchConfig{
		Threshold:          0.3,
		ThresholdFloor:     0.1,
		Limit:              5,
		MaxSources:         3,
		LowConfidenceFloor: 0.4,
	}
}

func newTestPipeline(st *stubSearchStore, gen Generator, cfg config.SearchConfig) *Pipeline {
	return NewPipeline(st, stubEmbedder{}, gen, cfg, nil, log.New(io.Discard, "", 0))
}

func match(id, content string, sim float64) store.ChunkMatch {
	return store.ChunkMatch{
		ChatSessionID: id,
		Content:       content,
		Similarity:    sim,
		SessionTitle:  "Session " + id,
		SessionURL:    "https://host/share/" + id,
	}
}

func TestAnswerConversationalSkipsRetrieval(t *testing.T) {
	for _, q := range []string{"hello there", "안녕"} {
		st := &stubSearchStore{}
		gen := &scriptedGenerator{}
		p := newTestPipeline(st, gen, searchConfig())

		resp, err := p.Answer(context.Background(), Request{Query: q})
		if err != nil {
			t.Fatalf("Answer(%q): %v", q, err)
		}
		if st.matchCalls != 0 {
			t.Fatalf("Answer(%q) hit the vector store %d times", q, st.matchCalls)
		}
		if resp.Intent != IntentConversational {
			t.Fatalf("intent = %q", resp.Intent)
		}
		if resp.HasSourceContext {
			t.Fatal("conversational answers carry no source context")
		}
		if resp.Answer != "hello back" {
			t.Fatalf("answer = %q", resp.Answer)
		}
	}
}

func TestAnswerMetaUsesLatestSummary(t *testing.T) {
	st := &stubSearchStore{
		latest: store.SessionRecord{
			ID:      "s-latest",
			Title:   "Planning session",
			URL:     "https://host/share/s-latest",
			Summary: "We planned the rollout.",
		},
		hasLatest: true,
	}
	gen := &scriptedGenerator{}
	p := newTestPipeline(st, gen, searchConfig())

	resp, err := p.Answer(context.Background(), Request{Query: "이 대화의 핵심이 뭐야?"})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if st.matchCalls != 0 {
		t.Fatal("meta queries must not run a similarity search")
	}
	if resp.Intent != IntentMeta {
		t.Fatalf("intent = %q", resp.Intent)
	}
	if len(resp.Sources) != 1 {
		t.Fatalf("sources = %v", resp.Sources)
	}
	if resp.Sources[0].ID != "s-latest" || resp.Sources[0].Similarity != 1.0 {
		t.Fatalf("source = %+v", resp.Sources[0])
	}
	if !strings.Contains(gen.prompts[0], "We planned the rollout.") {
		t.Fatalf("summary not in grounded prompt: %q", gen.prompts[0])
	}
}

func TestAnswerMetaEmptyArchiveFallsBack(t *testing.T) {
	st := &stubSearchStore{hasLatest: false}
	gen := &scriptedGenerator{}
	p := newTestPipeline(st, gen, searchConfig())

	resp, err := p.Answer(context.Background(), Request{Query: "summarize this conversation"})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if resp.Intent != IntentMeta {
		t.Fatalf("intent = %q", resp.Intent)
	}
	if resp.HasSourceContext {
		t.Fatal("empty archive cannot be source context")
	}
	if resp.Answer != noContextAnswer {
		t.Fatalf("answer = %q", resp.Answer)
	}
}

func TestAnswerLadderRelaxesThreshold(t *testing.T) {
	st := &stubSearchStore{
		matchesByRung: map[int][]store.ChunkMatch{
			2: {match("s1", "found at the floor", 0.12)},
		},
	}
	gen := &scriptedGenerator{}
	p := newTestPipeline(st, gen, searchConfig())

	resp, err := p.Answer(context.Background(), Request{Query: "what did we decide about X"})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if st.matchCalls != 3 {
		t.Fatalf("match calls = %d, want 3", st.matchCalls)
	}
	want := []float64{0.3, 0.15, 0.1}
	for i, w := range want {
		if st.thresholds[i] != w {
			t.Fatalf("thresholds = %v, want %v", st.thresholds, want)
		}
	}
	if !resp.HasSourceContext {
		t.Fatal("floor rung produced matches, expected source context")
	}
	if len(resp.Sources) != 1 || resp.Sources[0].ID != "s1" {
		t.Fatalf("sources = %v", resp.Sources)
	}
}

func TestAnswerFirstRungWinStopsLadder(t *testing.T) {
	st := &stubSearchStore{
		matchesByRung: map[int][]store.ChunkMatch{
			0: {match("s1", "relevant content", 0.8)},
		},
	}
	p := newTestPipeline(st, &scriptedGenerator{}, searchConfig())

	if _, err := p.Answer(context.Background(), Request{Query: "tell me about X"}); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if st.matchCalls != 1 {
		t.Fatalf("match calls = %d, want 1", st.matchCalls)
	}
}

func TestAnswerTransportErrorNotRetried(t *testing.T) {
	st := &stubSearchStore{matchErr: errors.New("connection refused")}
	p := newTestPipeline(st, &scriptedGenerator{}, searchConfig())

	_, err := p.Answer(context.Background(), Request{Query: "anything factual"})
	if !errors.Is(err, ErrSearchUnavailable) {
		t.Fatalf("err = %v, want ErrSearchUnavailable", err)
	}
	if st.matchCalls != 1 {
		t.Fatalf("transport error retried: %d calls", st.matchCalls)
	}
}

func TestAnswerEmptyLadderReturnsGracefulAnswer(t *testing.T) {
	st := &stubSearchStore{}
	gen := &scriptedGenerator{}
	p := newTestPipeline(st, gen, searchConfig())

	resp, err := p.Answer(context.Background(), Request{Query: "something never discussed"})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if st.matchCalls != 3 {
		t.Fatalf("match calls = %d, want 3", st.matchCalls)
	}
	if resp.Answer != noContextAnswer {
		t.Fatalf("answer = %q", resp.Answer)
	}
	if resp.FallbackAnswer != "general knowledge answer" {
		t.Fatalf("fallback = %q", resp.FallbackAnswer)
	}
	if resp.HasSourceContext || len(resp.Sources) != 0 {
		t.Fatalf("response = %+v", resp)
	}
}

func TestAnswerLowConfidenceAddsFallback(t *testing.T) {
	st := &stubSearchStore{
		matchesByRung: map[int][]store.ChunkMatch{
			0: {match("s1", "weakly related", 0.31), match("s2", "also weak", 0.33)},
		},
	}
	gen := &scriptedGenerator{}
	p := newTestPipeline(st, gen, searchConfig())

	resp, err := p.Answer(context.Background(), Request{Query: "fringe topic question"})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if resp.FallbackAnswer != "general knowledge answer" {
		t.Fatalf("mean similarity 0.32 < 0.4 must add a fallback, got %q", resp.FallbackAnswer)
	}
	if !gen.sawSystem(fallbackSystemPrompt) {
		t.Fatal("fallback generation never ran")
	}
}

func TestAnswerHighConfidenceSkipsFallback(t *testing.T) {
	st := &stubSearchStore{
		matchesByRung: map[int][]store.ChunkMatch{
			0: {match("s1", "strongly related", 0.9)},
		},
	}
	gen := &scriptedGenerator{}
	p := newTestPipeline(st, gen, searchConfig())

	resp, err := p.Answer(context.Background(), Request{Query: "well covered topic"})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if resp.FallbackAnswer != "" {
		t.Fatalf("fallback = %q, want empty", resp.FallbackAnswer)
	}
	if gen.sawSystem(fallbackSystemPrompt) {
		t.Fatal("fallback generation ran for a confident answer")
	}
}

func TestSourcesFilterReservedAndTruncate(t *testing.T) {
	st := &stubSearchStore{
		matchesByRung: map[int][]store.ChunkMatch{
			0: {
				match("faq", "built-in answer", 0.95),
				match("s1", "a", 0.9),
				match("s2", "b", 0.8),
				match("s3", "c", 0.7),
				match("s4", "d", 0.6),
			},
		},
	}
	cfg := searchConfig()
	cfg.ReservedSessionIDs = []string{"faq"}
	gen := &scriptedGenerator{}
	p := newTestPipeline(st, gen, cfg)

	resp, err := p.Answer(context.Background(), Request{Query: "topic spread over sessions"})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if len(resp.Sources) != 3 {
		t.Fatalf("sources = %d, want 3", len(resp.Sources))
	}
	for _, s := range resp.Sources {
		if s.ID == "faq" {
			t.Fatal("reserved session leaked into sources")
		}
	}
	if resp.Sources[0].ID != "s1" || resp.Sources[2].ID != "s3" {
		t.Fatalf("source order = %+v", resp.Sources)
	}
	// filtered chunk still contributes to the grounded context
	if !strings.Contains(gen.prompts[0], "built-in answer") {
		t.Fatal("reserved chunk dropped from context")
	}
}

func TestAnswerRequestOverrides(t *testing.T) {
	st := &stubSearchStore{
		matchesByRung: map[int][]store.ChunkMatch{0: {match("s1", "x", 0.9)}},
	}
	p := newTestPipeline(st, &scriptedGenerator{}, searchConfig())

	if _, err := p.Answer(context.Background(), Request{Query: "question", Threshold: 0.6}); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if st.thresholds[0] != 0.6 {
		t.Fatalf("threshold = %v, want 0.6", st.thresholds[0])
	}
}

func TestAnswerEmptyQuery(t *testing.T) {
	p := newTestPipeline(&stubSearchStore{}, &scriptedGenerator{}, searchConfig())
	if _, err := p.Answer(context.Background(), Request{Query: "   "}); err == nil {
		t.Fatal("expected error for empty query")
	}
}
