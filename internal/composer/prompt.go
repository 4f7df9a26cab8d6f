// Package composer assembles the chat messages sent to the completion model:
// per-intent system framing, optional conversation history, and the current
// query with its retrieved context.
package composer

import (
	"fmt"

	"github.com/codetutor/tutord/internal/groq"
	"github.com/codetutor/tutord/internal/intent"
	"github.com/codetutor/tutord/internal/profile"
	"github.com/codetutor/tutord/internal/session"
)

// Framing returns the system prompt for the given intent, parameterized by
// the learner profile when present. A nil profile falls back to fixed
// defaults — personalization must never be a hard dependency.
func Framing(in intent.Intent, p *profile.Profile) string {
	if p == nil {
		return defaultFraming
	}

	edu := p.EducationInfo()
	level := p.Level()
	langs := p.Languages()

	switch in {
	case intent.Greeting:
		return fmt.Sprintf("You are a friendly Coding AI assistant for %s student at %s coding level. Respond to greetings briefly and concisely in 1-2 sentences.", edu, level)
	case intent.NonCoding:
		return fmt.Sprintf("You are a specialized Coding Assistant AI for %s student. Politely redirect non-coding questions by explaining your specialty in programming help in 1-2 sentences.", edu)
	case intent.Teaching:
		return fmt.Sprintf(`You are a Patient Programming Teacher for %s student at %s level with these guidelines:
1. Start with a simple explanation of the concept
2. Break down complex topics into steps
3. Provide 1-2 practical examples in preferred languages: %s
4. Use analogies when helpful
5. Format code examples properly with language specification
6. Keep explanations under 5 sentences per point
7. End with a summary and offer to clarify`, edu, level, langs)
	}

	return fmt.Sprintf(`You are an Expert Coding Assistant for %s student at %s level with these guidelines:
1. ALWAYS wrap code in markdown code blocks with language specification
2. Prefer these languages: %s
3. For beginners, include more comments and explanations
4. For advanced students, focus on best practices and optimizations
5. When unsure about language preference, ask which language the student wants`, edu, level, langs)
}

const defaultFraming = "You are a helpful Coding AI Assistant."

// Compose builds the full message sequence for one sub-query: system framing,
// history when the intent uses it, then the user input. A non-empty retrieval
// context is prepended to the query so the model answers from the ingested
// documents.
func Compose(in intent.Intent, p *profile.Profile, history []session.Turn, context, query string) []groq.Message {
	msgs := []groq.Message{{Role: "system", Content: Framing(in, p)}}

	if in.UsesHistory() {
		for _, turn := range history {
			msgs = append(msgs, groq.Message{Role: string(turn.Role), Content: turn.Text})
		}
	}

	input := query
	if context != "" {
		input = fmt.Sprintf("Context:\n%s\n\nQuestion:\n%s", context, query)
	}
	msgs = append(msgs, groq.Message{Role: "user", Content: input})

	return msgs
}
