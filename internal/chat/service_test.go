package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/codetutor/tutord/internal/groq"
	"github.com/codetutor/tutord/internal/intent"
	"github.com/codetutor/tutord/internal/session"
	"github.com/codetutor/tutord/internal/storage"
)

type stubClassifier struct {
	subs func(text string) []intent.SubQuery
}

func (s *stubClassifier) Classify(ctx context.Context, text string) []intent.SubQuery {
	if s.subs != nil {
		return s.subs(text)
	}
	return []intent.SubQuery{{Text: text, Intent: intent.Teaching}}
}

type stubRetriever struct {
	mu    sync.Mutex
	text  string
	ok    bool
	err   error
	calls int
}

func (s *stubRetriever) Retrieve(ctx context.Context, query string, k int) (string, bool, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.text, s.ok, s.err
}

type stubCompleter struct {
	mu      sync.Mutex
	reply   func(messages []groq.Message) (string, error)
	history [][]groq.Message
}

func (s *stubCompleter) Chat(ctx context.Context, model string, messages []groq.Message, jsonMode bool) (string, error) {
	s.mu.Lock()
	s.history = append(s.history, messages)
	s.mu.Unlock()
	if s.reply != nil {
		return s.reply(messages)
	}
	return "echo: " + messages[len(messages)-1].Content, nil
}

type memoryLog struct {
	mu           sync.Mutex
	interactions []storage.Interaction
	err          error
}

func (m *memoryLog) SaveInteraction(i storage.Interaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.interactions = append(m.interactions, i)
	return nil
}

func newTestService(cl Classifier, r Retriever, co Completer, log InteractionLog) *Service {
	return NewService(cl, r, co, session.NewStore(), "test-model", 3, log)
}

func TestHandleUtterance_SingleQuery(t *testing.T) {
	svc := newTestService(&stubClassifier{}, &stubRetriever{}, &stubCompleter{}, nil)

	reply, err := svc.HandleUtterance(context.Background(), "s1", "what is a channel?", nil)
	if err != nil {
		t.Fatalf("HandleUtterance: %v", err)
	}
	if reply != "echo: what is a channel?" {
		t.Errorf("reply = %q", reply)
	}

	h := svc.GetHistory("s1")
	if len(h) != 2 {
		t.Fatalf("got %d history turns, want 2", len(h))
	}
	if h[0].Role != session.RoleUser || h[0].Text != "what is a channel?" {
		t.Errorf("turn 0 = %+v", h[0])
	}
	if h[1].Role != session.RoleAssistant || h[1].Text != "echo: what is a channel?" {
		t.Errorf("turn 1 = %+v", h[1])
	}
}

func TestHandleUtterance_MultipleSubQueries(t *testing.T) {
	cl := &stubClassifier{subs: func(text string) []intent.SubQuery {
		return []intent.SubQuery{
			{Text: "first", Intent: intent.Teaching},
			{Text: "second", Intent: intent.CodeGeneration},
		}
	}}
	svc := newTestService(cl, &stubRetriever{}, &stubCompleter{}, nil)

	reply, err := svc.HandleUtterance(context.Background(), "s1", "first and second", nil)
	if err != nil {
		t.Fatalf("HandleUtterance: %v", err)
	}
	if reply != "echo: first\n\necho: second" {
		t.Errorf("reply = %q, want replies joined by blank line", reply)
	}
	if got := len(svc.GetHistory("s1")); got != 4 {
		t.Errorf("history has %d turns, want 4", got)
	}
}

func TestHandleUtterance_RetrievedContextInPrompt(t *testing.T) {
	co := &stubCompleter{}
	svc := newTestService(
		&stubClassifier{},
		&stubRetriever{text: "channels carry values", ok: true},
		co, nil,
	)

	if _, err := svc.HandleUtterance(context.Background(), "s1", "what is a channel?", nil); err != nil {
		t.Fatalf("HandleUtterance: %v", err)
	}

	msgs := co.history[0]
	last := msgs[len(msgs)-1].Content
	if !strings.Contains(last, "Context:\nchannels carry values") {
		t.Errorf("prompt missing retrieved context: %q", last)
	}
	if !strings.Contains(last, "Question:\nwhat is a channel?") {
		t.Errorf("prompt missing question: %q", last)
	}
}

func TestHandleUtterance_ContextFreeSkipsRetrieval(t *testing.T) {
	r := &stubRetriever{}
	cl := &stubClassifier{subs: func(text string) []intent.SubQuery {
		return []intent.SubQuery{{Text: text, Intent: intent.Greeting}}
	}}
	svc := newTestService(cl, r, &stubCompleter{}, nil)

	if _, err := svc.HandleUtterance(context.Background(), "s1", "hello!", nil); err != nil {
		t.Fatalf("HandleUtterance: %v", err)
	}
	if r.calls != 0 {
		t.Errorf("retriever called %d times for greeting, want 0", r.calls)
	}
}

func TestHandleUtterance_EmptyIndex(t *testing.T) {
	co := &stubCompleter{}
	svc := newTestService(&stubClassifier{}, &stubRetriever{ok: false}, co, nil)

	if _, err := svc.HandleUtterance(context.Background(), "s1", "what is a channel?", nil); err != nil {
		t.Fatalf("HandleUtterance: %v", err)
	}

	msgs := co.history[0]
	last := msgs[len(msgs)-1].Content
	if strings.Contains(last, "Context:") {
		t.Errorf("empty index must not add a context section: %q", last)
	}
}

func TestHandleUtterance_RetrievalError(t *testing.T) {
	svc := newTestService(
		&stubClassifier{},
		&stubRetriever{err: errors.New("embedding backend down")},
		&stubCompleter{}, nil,
	)

	_, err := svc.HandleUtterance(context.Background(), "s1", "what is a channel?", nil)
	if !errors.Is(err, ErrGeneration) {
		t.Fatalf("err = %v, want ErrGeneration", err)
	}
	if got := len(svc.GetHistory("s1")); got != 0 {
		t.Errorf("failed turn appended %d history entries", got)
	}
}

func TestHandleUtterance_PartialFailure(t *testing.T) {
	cl := &stubClassifier{subs: func(text string) []intent.SubQuery {
		return []intent.SubQuery{
			{Text: "good one", Intent: intent.Teaching},
			{Text: "bad one", Intent: intent.Teaching},
		}
	}}
	co := &stubCompleter{reply: func(messages []groq.Message) (string, error) {
		if strings.Contains(messages[len(messages)-1].Content, "bad one") {
			return "", errors.New("model overloaded")
		}
		return "fine", nil
	}}
	svc := newTestService(cl, &stubRetriever{}, co, nil)

	reply, err := svc.HandleUtterance(context.Background(), "s1", "both", nil)
	if err != nil {
		t.Fatalf("HandleUtterance: %v", err)
	}
	if !strings.Contains(reply, "fine") {
		t.Errorf("reply missing successful answer: %q", reply)
	}
	if !strings.Contains(reply, `could not answer "bad one"`) {
		t.Errorf("reply missing failure notice: %q", reply)
	}

	// Only the successful exchange lands in history.
	h := svc.GetHistory("s1")
	if len(h) != 2 {
		t.Fatalf("history has %d turns, want 2", len(h))
	}
	if h[0].Text != "good one" {
		t.Errorf("turn 0 = %+v", h[0])
	}
}

func TestHandleUtterance_AllFailed(t *testing.T) {
	co := &stubCompleter{reply: func([]groq.Message) (string, error) {
		return "", errors.New("model overloaded")
	}}
	svc := newTestService(&stubClassifier{}, &stubRetriever{}, co, nil)

	_, err := svc.HandleUtterance(context.Background(), "s1", "anything", nil)
	if !errors.Is(err, ErrGeneration) {
		t.Fatalf("err = %v, want ErrGeneration", err)
	}
}

func TestHandleUtterance_CleansReply(t *testing.T) {
	co := &stubCompleter{reply: func([]groq.Message) (string, error) {
		return `"**Bold** answer"`, nil
	}}
	svc := newTestService(&stubClassifier{}, &stubRetriever{}, co, nil)

	reply, err := svc.HandleUtterance(context.Background(), "s1", "q", nil)
	if err != nil {
		t.Fatalf("HandleUtterance: %v", err)
	}
	if reply != "Bold answer" {
		t.Errorf("reply = %q, want cleaned text", reply)
	}
}

func TestHandleUtterance_RecordsInteractions(t *testing.T) {
	log := &memoryLog{}
	svc := newTestService(&stubClassifier{}, &stubRetriever{}, &stubCompleter{}, log)

	if _, err := svc.HandleUtterance(context.Background(), "s1", "what is a channel?", nil); err != nil {
		t.Fatalf("HandleUtterance: %v", err)
	}

	if len(log.interactions) != 1 {
		t.Fatalf("recorded %d interactions, want 1", len(log.interactions))
	}
	ix := log.interactions[0]
	if ix.SessionID != "s1" || ix.Query != "what is a channel?" || ix.Intent != "teaching" {
		t.Errorf("interaction = %+v", ix)
	}
	if ix.ID == "" {
		t.Error("interaction has no id")
	}
}

func TestHandleUtterance_LogFailureIsSilent(t *testing.T) {
	log := &memoryLog{err: errors.New("disk full")}
	svc := newTestService(&stubClassifier{}, &stubRetriever{}, &stubCompleter{}, log)

	reply, err := svc.HandleUtterance(context.Background(), "s1", "q", nil)
	if err != nil {
		t.Fatalf("HandleUtterance: %v", err)
	}
	if reply == "" {
		t.Error("empty reply")
	}
}

func TestHandleUtterance_ConcurrentSameSession(t *testing.T) {
	svc := newTestService(&stubClassifier{}, &stubRetriever{}, &stubCompleter{}, nil)

	const calls = 16
	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q := fmt.Sprintf("question-%d", i)
			if _, err := svc.HandleUtterance(context.Background(), "shared", q, nil); err != nil {
				t.Errorf("call %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	h := svc.GetHistory("shared")
	if len(h) != calls*2 {
		t.Fatalf("history has %d turns, want %d", len(h), calls*2)
	}
	// Every user turn is immediately followed by its own reply.
	for i := 0; i < len(h); i += 2 {
		if h[i].Role != session.RoleUser || h[i+1].Role != session.RoleAssistant {
			t.Fatalf("turns %d,%d have roles %s,%s", i, i+1, h[i].Role, h[i+1].Role)
		}
		if h[i+1].Text != "echo: "+h[i].Text {
			t.Fatalf("reply at %d does not match its question: %q vs %q", i+1, h[i+1].Text, h[i].Text)
		}
	}
}

func TestClearSession(t *testing.T) {
	svc := newTestService(&stubClassifier{}, &stubRetriever{}, &stubCompleter{}, nil)

	if _, err := svc.HandleUtterance(context.Background(), "s1", "q", nil); err != nil {
		t.Fatalf("HandleUtterance: %v", err)
	}
	svc.ClearSession("s1")

	if h := svc.GetHistory("s1"); len(h) != 0 {
		t.Errorf("history after clear has %d turns", len(h))
	}
}
