package intent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/codetutor/tutord/internal/groq"
)

// Chatter is the chat-completion capability the classifier needs.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []groq.Message, jsonMode bool) (string, error)
}

const classifierPrompt = `You are an AI that classifies user queries about programming and coding.
Classify the intent into one of these categories:
1. greeting - Simple greetings or small talk
2. code_explanation - Requests to explain code concepts or existing code
3. code_generation - Requests to write new code
4. debug_help - Requests to debug or fix code
5. optimization - Requests to optimize existing code
6. learning_path - Requests for learning resources or paths
7. code_review - Requests to review existing code
8. teaching - Requests to teach or explain programming concepts
9. non_coding - Anything not related to programming
If the user gives code as input, mark the intent as code_explanation.
Reply in JSON format: [{"query": "user message", "intent": "detected_intent"}]
If the query contains multiple intents, split them into separate items.`

// Classifier delegates intent classification to a language model constrained
// to structured JSON output.
type Classifier struct {
	client Chatter
	model  string
}

// NewClassifier creates a Classifier using the given chat client and model name.
func NewClassifier(client Chatter, model string) *Classifier {
	return &Classifier{client: client, model: model}
}

// Classify splits text into sub-queries with intents. On any failure — chat
// error, malformed JSON, unknown label, empty result — it falls back to a
// single sub-query covering the whole input classified as non_coding. The
// input is never dropped and classification never returns an error.
func (c *Classifier) Classify(ctx context.Context, text string) []SubQuery {
	fallback := []SubQuery{{Text: text, Intent: NonCoding}}

	messages := []groq.Message{
		{Role: "system", Content: classifierPrompt},
		{Role: "user", Content: "User message: " + text},
	}

	raw, err := c.client.Chat(ctx, c.model, messages, true)
	if err != nil {
		slog.Warn("intent classification failed", "error", err)
		return fallback
	}

	subs, err := parseSubQueries(raw)
	if err != nil {
		slog.Warn("malformed classification output", "error", err, "response", raw)
		return fallback
	}
	if len(subs) == 0 {
		return fallback
	}

	for i, sq := range subs {
		if sq.Text == "" {
			subs[i].Text = text
		}
		if !sq.Intent.Valid() {
			subs[i].Intent = NonCoding
		}
	}
	return subs
}

// parseSubQueries decodes the model output, accepting either a JSON array of
// {query, intent} objects or a single such object. Some models wrap the array
// in an envelope object; the first array-valued field is used in that case.
func parseSubQueries(raw string) ([]SubQuery, error) {
	raw = strings.TrimSpace(raw)

	var subs []SubQuery
	if err := json.Unmarshal([]byte(raw), &subs); err == nil {
		return subs, nil
	}

	var single SubQuery
	if err := json.Unmarshal([]byte(raw), &single); err == nil && (single.Text != "" || single.Intent != "") {
		return []SubQuery{single}, nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return nil, err
	}
	for _, v := range envelope {
		if err := json.Unmarshal(v, &subs); err == nil && len(subs) > 0 {
			return subs, nil
		}
	}
	return nil, json.Unmarshal([]byte(raw), &subs)
}
