// Package chunker splits an ordered transcript into token-bounded chunks.
package chunker

import (
	"fmt"
	"strings"
)

// DefaultMaxTokens bounds a chunk when no explicit limit is configured.
const DefaultMaxTokens = 500

// Message is one role-tagged transcript entry. Order is significant and is
// never changed by the chunker.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chunk is one retrievable unit. Indices are contiguous from zero in
// emission order.
type Chunk struct {
	Index   int
	Content string
}

// TokenCount reports the token length of a text. Tokens are whitespace
// fields, which keeps chunk boundaries deterministic and offline.
func TokenCount(text string) int {
	return len(strings.Fields(text))
}

// Render formats a message the way it is stored inside a chunk.
func Render(m Message) string {
	return fmt.Sprintf("[%s]: %s", m.Role, m.Content)
}

// Split packs rendered messages greedily into chunks of at most maxTokens
// tokens each. A single message longer than the bound is flushed on its own
// and sliced into consecutive token runs, each within the bound; every other
// chunk holds whole messages joined by a blank line.
func Split(msgs []Message, maxTokens int) []Chunk {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	var (
		chunks    []Chunk
		buf       []string
		bufTokens int
	)
	flush := func() {
		if len(buf) == 0 {
			return
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Content: strings.Join(buf, "\n\n")})
		buf = nil
		bufTokens = 0
	}

	for _, m := range msgs {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		rendered := Render(m)
		tokens := strings.Fields(rendered)
		t := len(tokens)
		if t == 0 {
			continue
		}
		switch {
		case t > maxTokens:
			flush()
			for start := 0; start < t; start += maxTokens {
				end := start + maxTokens
				if end > t {
					end = t
				}
				chunks = append(chunks, Chunk{Index: len(chunks), Content: strings.Join(tokens[start:end], " ")})
			}
		case bufTokens+t <= maxTokens:
			buf = append(buf, rendered)
			bufTokens += t
		default:
			flush()
			buf = append(buf, rendered)
			bufTokens = t
		}
	}
	flush()
	return chunks
}
