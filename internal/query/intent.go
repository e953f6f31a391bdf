package query

import (
	"regexp"
	"strings"
)

// Intent is the coarse classification that routes a query before any
// retrieval happens.
type Intent string

const (
	// IntentKnowledge queries run the full retrieval pipeline.
	IntentKnowledge Intent = "knowledge"
	// IntentConversational queries get a direct reply and never touch the
	// vector store.
	IntentConversational Intent = "conversational"
	// IntentMeta queries ask about the archive itself and are answered from
	// the most recent session's summary.
	IntentMeta Intent = "meta"
)

// Conversational patterns: greetings, thanks, identity, praise, small talk.
// Korean forms are included alongside English because transcripts and
// queries arrive in both.
var conversationalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(hi|hello|hey|hiya|yo|good (morning|afternoon|evening))\b`),
	regexp.MustCompile(`^(안녕|하이|헬로)`),
	regexp.MustCompile(`(?i)^(thanks|thank you|thx|ty)\b`),
	regexp.MustCompile(`(고마워|감사합니다|감사해)`),
	regexp.MustCompile(`(?i)\bwho are you\b`),
	regexp.MustCompile(`(?i)\bwhat are you\b`),
	regexp.MustCompile(`(너.*누구|넌 누구|누구세요|누구니)`),
	regexp.MustCompile(`(?i)^(good job|well done|nice|awesome|great)[.!~\s]*$`),
	regexp.MustCompile(`^(잘했어|멋지다|좋아요|최고)[.!~\s]*$`),
	regexp.MustCompile(`(?i)^how are you\b`),
	regexp.MustCompile(`(뭐해|뭐 해|심심해)`),
}

// Meta patterns match questions about the archived conversation itself
// rather than a fact inside it.
var metaPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(이 대화|이 세션|지난 대화)`),
	regexp.MustCompile(`(핵심이 뭐|핵심은|요점이 뭐|요약해)`),
	regexp.MustCompile(`(?i)\bsummar(y|ize|ise) (this|the|our) (conversation|chat|session)\b`),
	regexp.MustCompile(`(?i)\bwhat('s| is) the (core|main) point\b`),
	regexp.MustCompile(`(?i)^tl;?dr\b`),
}

// Classify routes a query. Conversational wins over meta so that a greeting
// containing the word "conversation" still short-circuits retrieval.
func Classify(q string) Intent {
	q = strings.TrimSpace(q)
	if q == "" {
		return IntentKnowledge
	}
	for _, p := range conversationalPatterns {
		if p.MatchString(q) {
			return IntentConversational
		}
	}
	for _, p := range metaPatterns {
		if p.MatchString(q) {
			return IntentMeta
		}
	}
	return IntentKnowledge
}
