package query

import (
	"fmt"
	"strings"
)

const groundedSystemPrompt = `You are an assistant answering questions from a user's archived chat transcripts.
Rules:
1. Answer from the provided context whenever it contains the answer.
2. When no exact answer exists but the context is related, reason from the related material and say so.
3. Only reply that the information was not found in the archive when nothing in the context is relevant.
4. Answer in the language of the question.
5. Be concise and cite sources by their labels, e.g. [Source 2].`

const conversationalSystemPrompt = `You are the friendly assistant of a chat-archive service.
Reply briefly and warmly to the user's message. Do not invent archive contents.
Answer in the language of the message.`

const fallbackSystemPrompt = `Answer the question from general knowledge.
Begin the answer by noting that nothing directly relevant was found in the user's archive.
Answer in the language of the question.`

// buildContext renders retrieved chunks as a labeled context block.
func buildContext(chunks []retrievedChunk) string {
	var b strings.Builder
	for i, c := range chunks {
		fmt.Fprintf(&b, "[Source %d] %s (%s)\n%s\n\n", i+1, c.Title, c.URL, c.Content)
	}
	return strings.TrimSpace(b.String())
}

// buildGroundedPrompt assembles the final user prompt for answer synthesis.
func buildGroundedPrompt(question, context string) string {
	return fmt.Sprintf("--- CONTEXT START ---\n%s\n--- CONTEXT END ---\n\nQuestion: %s", context, question)
}

// buildSummaryPrompt asks for a one-sentence abstract of an answer.
func buildSummaryPrompt(answer string) string {
	return fmt.Sprintf("Summarize the following answer in one sentence, in the same language:\n\n%s", answer)
}
