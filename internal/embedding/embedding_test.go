package embedding

import (
	"context"
	"errors"
	"testing"
)

type captureProvider struct {
	lastInputs []string
	vectors    [][]float32
	err        error
}

func (p *captureProvider) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	p.lastInputs = append([]string(nil), texts...)
	return p.vectors, p.err
}

func (p *captureProvider) Generate(context.Context, string, string) (string, error) {
	return "", errors.New("not implemented")
}

func TestHashEmbedderDeterministic(t *testing.T) {
	e := NewHashEmbedder(64)
	a, err := e.Embed(context.Background(), "the same text")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	b, err := e.Embed(context.Background(), "the same text")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(a) != 64 || len(b) != 64 {
		t.Fatalf("dimensions = %d/%d, want 64", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("coordinate %d differs: %v vs %v", i, a[i], b[i])
		}
	}
	c, _ := e.Embed(context.Background(), "different text")
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("different texts produced identical vectors")
	}
}

func TestProviderEmbedderExpandsShortInput(t *testing.T) {
	p := &captureProvider{vectors: [][]float32{{0.1, 0.2}}}
	e := NewProviderEmbedder(p, 2)
	if _, err := e.Embed(context.Background(), "hi"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(p.lastInputs) != 1 || p.lastInputs[0] == "hi" {
		t.Fatalf("short input should be expanded, got %v", p.lastInputs)
	}
	if _, err := e.Embed(context.Background(), "hello there"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if p.lastInputs[0] != "hello there" {
		t.Fatalf("long input must not be expanded, got %q", p.lastInputs[0])
	}
}

func TestFallbackEmbedderNeverFails(t *testing.T) {
	p := &captureProvider{err: errors.New("backend down")}
	e := NewFallbackEmbedder(NewProviderEmbedder(p, 32), 32, nil)
	vec, err := e.Embed(context.Background(), "query text")
	if err != nil {
		t.Fatalf("fallback must swallow provider errors, got %v", err)
	}
	if len(vec) != 32 {
		t.Fatalf("dimensions = %d, want 32", len(vec))
	}
	// deterministic: same input, same degraded vector
	again, _ := e.Embed(context.Background(), "query text")
	for i := range vec {
		if vec[i] != again[i] {
			t.Fatalf("fallback vector not deterministic at %d", i)
		}
	}
}

func TestFallbackEmbedderPrefersPrimary(t *testing.T) {
	p := &captureProvider{vectors: [][]float32{{0.5, 0.5}}}
	e := NewFallbackEmbedder(NewProviderEmbedder(p, 2), 2, nil)
	vec, err := e.Embed(context.Background(), "query text")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if vec[0] != 0.5 || vec[1] != 0.5 {
		t.Fatalf("expected primary vector, got %v", vec)
	}
}
