// Package chat orchestrates one conversational turn: intent classification,
// per-session serialization, context retrieval, prompt composition, and the
// completion call.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codetutor/tutord/internal/composer"
	"github.com/codetutor/tutord/internal/groq"
	"github.com/codetutor/tutord/internal/intent"
	"github.com/codetutor/tutord/internal/profile"
	"github.com/codetutor/tutord/internal/session"
	"github.com/codetutor/tutord/internal/storage"
)

// ErrGeneration is returned when no sub-query of an utterance produced a
// reply.
var ErrGeneration = errors.New("response generation failed")

// Classifier splits an utterance into classified sub-queries. Never fails:
// malformed model output falls back to a single non_coding sub-query.
type Classifier interface {
	Classify(ctx context.Context, text string) []intent.SubQuery
}

// Retriever answers similarity queries over the ingested document index.
// ok is false when the index is empty.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) (text string, ok bool, err error)
}

// Completer is the chat-completion capability.
type Completer interface {
	Chat(ctx context.Context, model string, messages []groq.Message, jsonMode bool) (string, error)
}

// InteractionLog records completed exchanges. Optional; logging failures are
// never surfaced to the user.
type InteractionLog interface {
	SaveInteraction(i storage.Interaction) error
}

// Service wires the conversation pipeline together.
type Service struct {
	classifier Classifier
	retriever  Retriever
	completer  Completer
	sessions   *session.Store
	model      string
	topK       int
	log        InteractionLog // optional
}

// NewService creates a Service. topK <= 0 selects the retriever default;
// interactionLog may be nil.
func NewService(classifier Classifier, retriever Retriever, completer Completer, sessions *session.Store, model string, topK int, interactionLog InteractionLog) *Service {
	return &Service{
		classifier: classifier,
		retriever:  retriever,
		completer:  completer,
		sessions:   sessions,
		model:      model,
		topK:       topK,
		log:        interactionLog,
	}
}

// HandleUtterance processes one raw utterance for a session and returns the
// aggregated reply: the classifier's sub-queries are answered in order under
// the session lock, and their replies concatenated with a blank line.
//
// The lock is held for the entire sub-query batch, so two concurrent calls
// for the same session never interleave their history appends. A failure in
// one sub-query is reported in its slot of the reply and does not abort
// siblings; ErrGeneration is returned only when every sub-query failed.
func (s *Service) HandleUtterance(ctx context.Context, sessionID, text string, prof *profile.Profile) (string, error) {
	subs := s.classifier.Classify(ctx, text)

	sess := s.sessions.GetOrCreate(sessionID)
	sess.Lock()
	defer sess.Unlock()

	replies := make([]string, 0, len(subs))
	succeeded := 0

	for _, sub := range subs {
		reply, err := s.answer(ctx, sess, sub, prof)
		if err != nil {
			slog.Warn("sub-query generation failed",
				"session", sessionID, "intent", sub.Intent, "error", err)
			replies = append(replies, fmt.Sprintf("Sorry, I could not answer %q right now. Please try again.", sub.Text))
			continue
		}
		succeeded++
		replies = append(replies, reply)

		sess.Append(session.RoleUser, sub.Text)
		sess.Append(session.RoleAssistant, reply)
		s.record(sessionID, sub, reply)
	}

	if succeeded == 0 {
		return "", fmt.Errorf("%w for session %s", ErrGeneration, sessionID)
	}
	return strings.Join(replies, "\n\n"), nil
}

// answer handles a single sub-query: retrieve context unless the intent is
// context-free, compose the prompt, call the model, clean the reply. The
// caller must hold the session lock.
func (s *Service) answer(ctx context.Context, sess *session.Session, sub intent.SubQuery, prof *profile.Profile) (string, error) {
	var retrieved string
	if !sub.Intent.ContextFree() {
		text, ok, err := s.retriever.Retrieve(ctx, sub.Text, s.topK)
		if err != nil {
			return "", fmt.Errorf("retrieving context: %w", err)
		}
		if ok {
			retrieved = text
		}
		// An empty index is "no knowledge", not an error: the model answers
		// from the prompt alone.
	}

	messages := composer.Compose(sub.Intent, prof, sess.History(), retrieved, sub.Text)

	raw, err := s.completer.Chat(ctx, s.model, messages, false)
	if err != nil {
		return "", fmt.Errorf("completion: %w", err)
	}
	return composer.Clean(raw), nil
}

// record saves the exchange to the interaction log, best-effort.
func (s *Service) record(sessionID string, sub intent.SubQuery, reply string) {
	if s.log == nil {
		return
	}
	err := s.log.SaveInteraction(storage.Interaction{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		CreatedAt: time.Now().UTC(),
		Query:     sub.Text,
		Intent:    string(sub.Intent),
		Response:  reply,
	})
	if err != nil {
		slog.Warn("failed to record interaction", "session", sessionID, "error", err)
	}
}

// GetHistory returns the conversation history for a session, oldest first.
// Unknown sessions yield an empty history.
func (s *Service) GetHistory(sessionID string) []session.Turn {
	return s.sessions.History(sessionID)
}

// ClearSession removes all state for a session. Waits for any in-flight
// processing on the same session.
func (s *Service) ClearSession(sessionID string) {
	s.sessions.Clear(sessionID)
}
