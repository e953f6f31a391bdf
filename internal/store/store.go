// Package store persists archived sessions and their chunks in Postgres and
// answers nearest-neighbour queries over pgvector embedding columns.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/chatvault/chatvault/internal/chunker"
)

// Store wraps the Postgres handle. All methods use raw SQL; the pgvector
// extension provides the `<=>` cosine-distance operator.
type Store struct {
	DB *sql.DB
}

// DefaultEmbeddingDimensions indicates the expected length of vectors stored
// in pgvector columns.
const DefaultEmbeddingDimensions = 1536

// SessionRecord is one archived transcript.
type SessionRecord struct {
	ID        string
	Title     string
	URL       string
	Summary   string
	Messages  []chunker.Message
	Metadata  map[string]interface{}
	Embedding []float32
	CreatedAt time.Time
}

// ChunkRecord is one retrievable unit derived from a session's messages.
type ChunkRecord struct {
	ID            string
	ChatSessionID string
	ChunkIndex    int
	Content       string
	Embedding     []float32
	CreatedAt     time.Time
}

// ChunkMatch is a similarity-search hit joined with its parent session.
type ChunkMatch struct {
	ChunkID       string
	ChatSessionID string
	ChunkIndex    int
	Content       string
	Similarity    float64
	SessionTitle  string
	SessionURL    string
	CreatedAt     time.Time
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// InsertSession persists a session row together with its summary embedding
// and returns the server-generated id.
func (s *Store) InsertSession(ctx context.Context, rec SessionRecord) (string, error) {
	if strings.TrimSpace(rec.URL) == "" {
		return "", fmt.Errorf("session url required")
	}
	msgBytes, err := json.Marshal(rec.Messages)
	if err != nil {
		return "", fmt.Errorf("marshal messages: %w", err)
	}
	if rec.Metadata == nil {
		rec.Metadata = map[string]interface{}{}
	}
	metaBytes, err := json.Marshal(rec.Metadata)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	vectorLiteral, err := encodeVectorLiteral(rec.Embedding)
	if err != nil {
		return "", err
	}
	var id string
	err = s.DB.QueryRowContext(ctx, `
INSERT INTO sessions (title, url, summary, messages, metadata, embedding, created_at)
VALUES ($1,$2,$3,$4,$5,$6::vector,NOW())
RETURNING id
`, rec.Title, rec.URL, rec.Summary, msgBytes, metaBytes, vectorLiteral).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	return id, nil
}

// likeEscaper neutralizes LIKE metacharacters so a URL prefix matches
// literally. Underscores are common in share-link paths and would otherwise
// match any single character.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// FindSessionByURLPrefix returns the first session whose stored url begins
// with the supplied normalized prefix. The bool reports whether a row exists.
func (s *Store) FindSessionByURLPrefix(ctx context.Context, prefix string) (SessionRecord, bool, error) {
	if strings.TrimSpace(prefix) == "" {
		return SessionRecord{}, false, fmt.Errorf("url prefix required")
	}
	row := s.DB.QueryRowContext(ctx, `
SELECT id, title, url, summary, metadata, created_at
FROM sessions
WHERE url LIKE $1
ORDER BY created_at ASC
LIMIT 1
`, likeEscaper.Replace(prefix)+"%")
	rec, err := scanSessionHeader(row)
	if err == sql.ErrNoRows {
		return SessionRecord{}, false, nil
	}
	if err != nil {
		return SessionRecord{}, false, err
	}
	return rec, true, nil
}

// GetSession fetches a single session by id. The bool reports existence.
func (s *Store) GetSession(ctx context.Context, id string) (SessionRecord, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, title, url, summary, messages, metadata, created_at
FROM sessions
WHERE id=$1
`, id)
	var (
		rec       SessionRecord
		msgBytes  []byte
		metaBytes []byte
	)
	err := row.Scan(&rec.ID, &rec.Title, &rec.URL, &rec.Summary, &msgBytes, &metaBytes, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return SessionRecord{}, false, nil
	}
	if err != nil {
		return SessionRecord{}, false, err
	}
	if len(msgBytes) > 0 {
		_ = json.Unmarshal(msgBytes, &rec.Messages)
	}
	if len(metaBytes) > 0 {
		_ = json.Unmarshal(metaBytes, &rec.Metadata)
	}
	return rec, true, nil
}

// LatestSession returns the most recently created session. The bool reports
// whether the archive holds any sessions at all.
func (s *Store) LatestSession(ctx context.Context) (SessionRecord, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, title, url, summary, metadata, created_at
FROM sessions
ORDER BY created_at DESC
LIMIT 1
`)
	rec, err := scanSessionHeader(row)
	if err == sql.ErrNoRows {
		return SessionRecord{}, false, nil
	}
	if err != nil {
		return SessionRecord{}, false, err
	}
	return rec, true, nil
}

// ListSessions returns session headers ordered newest first.
func (s *Store) ListSessions(ctx context.Context, limit, offset int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, title, url, summary, metadata, created_at
FROM sessions
ORDER BY created_at DESC
LIMIT $1 OFFSET $2
`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SessionRecord
	for rows.Next() {
		var (
			rec       SessionRecord
			metaBytes []byte
		)
		if err := rows.Scan(&rec.ID, &rec.Title, &rec.URL, &rec.Summary, &metaBytes, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if len(metaBytes) > 0 {
			_ = json.Unmarshal(metaBytes, &rec.Metadata)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteSession removes a session row; the chunks FK cascades. The bool
// reports whether a row was actually removed.
func (s *Store) DeleteSession(ctx context.Context, id string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM sessions WHERE id=$1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpdateSessionMetadata merges the supplied keys into the session's metadata
// map. Only metadata is mutable after creation.
func (s *Store) UpdateSessionMetadata(ctx context.Context, id string, patch map[string]interface{}) (bool, error) {
	if len(patch) == 0 {
		return false, fmt.Errorf("metadata patch required")
	}
	patchBytes, err := json.Marshal(patch)
	if err != nil {
		return false, fmt.Errorf("marshal metadata patch: %w", err)
	}
	res, err := s.DB.ExecContext(ctx, `
UPDATE sessions
SET metadata = COALESCE(metadata, '{}'::jsonb) || $2::jsonb
WHERE id=$1
`, id, patchBytes)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// InsertChunks stores one batch of pre-embedded chunks inside a transaction.
// Indices were assigned by the chunker; this method does not reorder.
func (s *Store) InsertChunks(ctx context.Context, sessionID string, chunks []ChunkRecord) error {
	if sessionID == "" {
		return fmt.Errorf("session id required")
	}
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO chunks (chat_session_id, chunk_index, content, embedding, created_at)
VALUES ($1,$2,$3,$4::vector,NOW())
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range chunks {
		vectorLiteral, err := encodeVectorLiteral(c.Embedding)
		if err != nil {
			return fmt.Errorf("chunk %d: %w", c.ChunkIndex, err)
		}
		if _, err := stmt.ExecContext(ctx, sessionID, c.ChunkIndex, c.Content, vectorLiteral); err != nil {
			return fmt.Errorf("insert chunk %d: %w", c.ChunkIndex, err)
		}
	}
	return tx.Commit()
}

// CountChunks reports how many chunks are stored for a session.
func (s *Store) CountChunks(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE chat_session_id=$1`, sessionID).Scan(&n)
	return n, err
}

// MatchChunks returns chunks ranked by cosine similarity to the query vector,
// restricted to rows whose similarity exceeds the threshold. Zero rows is a
// normal outcome, not an error; the caller owns any retry policy.
func (s *Store) MatchChunks(ctx context.Context, vector []float32, threshold float64, limit int) ([]ChunkMatch, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("vector must not be empty")
	}
	if limit <= 0 {
		limit = 5
	}
	vecLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT c.id, c.chat_session_id, c.chunk_index, c.content,
       1 - (c.embedding <=> $1::vector) AS similarity,
       s.title, s.url, c.created_at
FROM chunks c
JOIN sessions s ON s.id = c.chat_session_id
WHERE 1 - (c.embedding <=> $1::vector) > $2
ORDER BY c.embedding <=> $1::vector
LIMIT $3
`, vecLiteral, threshold, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []ChunkMatch
	for rows.Next() {
		var m ChunkMatch
		if err := rows.Scan(&m.ChunkID, &m.ChatSessionID, &m.ChunkIndex, &m.Content, &m.Similarity, &m.SessionTitle, &m.SessionURL, &m.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

func scanSessionHeader(row *sql.Row) (SessionRecord, error) {
	var (
		rec       SessionRecord
		metaBytes []byte
	)
	if err := row.Scan(&rec.ID, &rec.Title, &rec.URL, &rec.Summary, &metaBytes, &rec.CreatedAt); err != nil {
		return SessionRecord{}, err
	}
	if len(metaBytes) > 0 {
		_ = json.Unmarshal(metaBytes, &rec.Metadata)
	}
	return rec, nil
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}
