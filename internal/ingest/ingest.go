// Package ingest implements the dedup-checked archive pipeline: normalize,
// sanitize, embed, persist the session, then chunk and persist in batches.
package ingest

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/chatvault/chatvault/config"
	"github.com/chatvault/chatvault/internal/chunker"
	"github.com/chatvault/chatvault/internal/embedding"
	"github.com/chatvault/chatvault/internal/hooks"
	"github.com/chatvault/chatvault/internal/sanitize"
	"github.com/chatvault/chatvault/internal/store"
)

// maxEmbedConcurrency bounds the chunk-embedding fan-out per ingestion.
const maxEmbedConcurrency = 8

// SessionStore is the slice of the store the pipeline depends on.
type SessionStore interface {
	FindSessionByURLPrefix(ctx context.Context, prefix string) (store.SessionRecord, bool, error)
	InsertSession(ctx context.Context, rec store.SessionRecord) (string, error)
	InsertChunks(ctx context.Context, sessionID string, chunks []store.ChunkRecord) error
}

// Request carries one transcript to archive.
type Request struct {
	URL      string                 `json:"url"`
	Title    string                 `json:"title"`
	Summary  string                 `json:"summary"`
	Messages []chunker.Message      `json:"messages"`
	Metadata map[string]interface{} `json:"metadata"`
}

// Result reports the outcome of one ingestion. ChunksStored counts only
// chunks that were durably persisted; on partial batch failure it can be
// lower than the number of chunks produced.
type Result struct {
	SessionID    string `json:"id"`
	Duplicate    bool   `json:"duplicate"`
	ChunksStored int    `json:"chunks"`
}

// Pipeline wires the ingestion dependencies. All collaborators are injected;
// there is no package-level state.
type Pipeline struct {
	store    SessionStore
	embedder embedding.Embedder
	archiver hooks.Archiver
	cfg      config.IngestConfig
	logger   *log.Logger
}

// NewPipeline builds an ingestion pipeline.
func NewPipeline(st SessionStore, emb embedding.Embedder, archiver hooks.Archiver, cfg config.IngestConfig, logger *log.Logger) *Pipeline {
	if archiver == nil {
		archiver = hooks.Nop{}
	}
	if cfg.MaxTokensPerChunk <= 0 {
		cfg.MaxTokensPerChunk = chunker.DefaultMaxTokens
	}
	if cfg.ChunkBatchSize <= 0 {
		cfg.ChunkBatchSize = 10
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[INGEST] ", log.LstdFlags)
	}
	return &Pipeline{store: st, embedder: emb, archiver: archiver, cfg: cfg, logger: logger}
}

// NormalizeURL reduces a share link to origin + pathname, stripping query
// and fragment, so the same conversation reached through different tracking
// parameters dedups to one session.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("url required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url must be absolute: %q", raw)
	}
	return u.Scheme + "://" + u.Host + u.Path, nil
}

// Ingest archives one transcript. Re-ingesting a URL that normalizes to an
// existing session's prefix is an idempotent no-op reporting Duplicate=true;
// nothing is re-embedded or re-chunked in that case.
//
// The dedup pre-check and the insert are not one atomic step: two
// simultaneous ingestions of the same URL can both pass the check. The
// storage layer is the authority; the pre-check is a fast path.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (Result, error) {
	normURL, err := NormalizeURL(req.URL)
	if err != nil {
		return Result{}, err
	}

	if existing, found, err := p.store.FindSessionByURLPrefix(ctx, normURL); err != nil {
		return Result{}, fmt.Errorf("dedup lookup: %w", err)
	} else if found {
		p.logger.Printf("duplicate url %s resolves to session %s", normURL, existing.ID)
		return Result{SessionID: existing.ID, Duplicate: true}, nil
	}

	ingestID := uuid.NewString()

	title := sanitize.Clean(req.Title)
	summary := sanitize.Clean(req.Summary)
	messages := make([]chunker.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, chunker.Message{
			Role:    sanitize.Clean(m.Role),
			Content: sanitize.Clean(m.Content),
		})
	}
	metadata := sanitize.CleanMap(req.Metadata)

	summaryVec, err := p.embedder.Embed(ctx, summary)
	if err != nil {
		return Result{}, fmt.Errorf("embed summary: %w", err)
	}

	sessionID, err := p.store.InsertSession(ctx, store.SessionRecord{
		Title:     title,
		URL:       normURL,
		Summary:   summary,
		Messages:  messages,
		Metadata:  metadata,
		Embedding: summaryVec,
	})
	if err != nil {
		return Result{}, fmt.Errorf("insert session: %w", err)
	}
	p.logger.Printf("[%s] archived session %s (%d messages)", ingestID, sessionID, len(messages))

	chunks := chunker.Split(messages, p.cfg.MaxTokensPerChunk)
	records, err := p.embedChunks(ctx, sessionID, chunks)
	if err != nil {
		return Result{}, err
	}

	stored := p.persistChunks(ctx, ingestID, sessionID, records)
	p.logger.Printf("[%s] stored %d/%d chunks for session %s", ingestID, stored, len(records), sessionID)

	if err := p.archiver.SessionArchived(ctx, sessionID, title, normURL); err != nil {
		p.logger.Printf("[%s] archive hook failed: %v", ingestID, err)
	}

	return Result{SessionID: sessionID, Duplicate: false, ChunksStored: stored}, nil
}

// embedChunks embeds every chunk concurrently. Indices were assigned before
// the fan-out, so stored order is deterministic regardless of completion
// order.
func (p *Pipeline) embedChunks(ctx context.Context, sessionID string, chunks []chunker.Chunk) ([]store.ChunkRecord, error) {
	records := make([]store.ChunkRecord, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxEmbedConcurrency)
	for i, c := range chunks {
		i, c := i, c
		g.Go(func() error {
			content := sanitize.Clean(c.Content)
			vec, err := p.embedder.Embed(gctx, content)
			if err != nil {
				return fmt.Errorf("embed chunk %d: %w", c.Index, err)
			}
			records[i] = store.ChunkRecord{
				ChatSessionID: sessionID,
				ChunkIndex:    c.Index,
				Content:       content,
				Embedding:     vec,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}

// persistChunks inserts records in sequential fixed-size batches. A failed
// batch is logged and skipped; later batches still run. Returns the number
// of chunks actually persisted.
func (p *Pipeline) persistChunks(ctx context.Context, ingestID, sessionID string, records []store.ChunkRecord) int {
	stored := 0
	for start := 0; start < len(records); start += p.cfg.ChunkBatchSize {
		end := start + p.cfg.ChunkBatchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]
		if err := p.store.InsertChunks(ctx, sessionID, batch); err != nil {
			p.logger.Printf("[%s] chunk batch %d-%d failed: %v", ingestID, start, end-1, err)
			continue
		}
		stored += len(batch)
	}
	return stored
}
