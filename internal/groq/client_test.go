package groq

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func chatServer(t *testing.T, handler func(t *testing.T, r *http.Request, body map[string]any) any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
		json.NewEncoder(w).Encode(handler(t, r, body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func chatReply(content string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}},
		},
	}
}

func TestChat(t *testing.T) {
	srv := chatServer(t, func(t *testing.T, r *http.Request, body map[string]any) any {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		if body["model"] != "test-model" {
			t.Errorf("model = %v", body["model"])
		}
		if body["temperature"] != 0.7 {
			t.Errorf("temperature = %v, want 0.7", body["temperature"])
		}
		if _, ok := body["response_format"]; ok {
			t.Error("plain chat must not set response_format")
		}
		return chatReply("hello back")
	})

	c := New(srv.URL, "test-key")
	got, err := c.Chat(context.Background(), "test-model", []Message{{Role: "user", Content: "hello"}}, false)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got != "hello back" {
		t.Errorf("got %q", got)
	}
}

func TestChat_JSONMode(t *testing.T) {
	srv := chatServer(t, func(t *testing.T, r *http.Request, body map[string]any) any {
		rf, ok := body["response_format"].(map[string]any)
		if !ok || rf["type"] != "json_object" {
			t.Errorf("response_format = %v, want json_object", body["response_format"])
		}
		if body["temperature"] != 0.2 {
			t.Errorf("temperature = %v, want 0.2", body["temperature"])
		}
		return chatReply(`{"ok": true}`)
	})

	c := New(srv.URL, "test-key")
	if _, err := c.Chat(context.Background(), "test-model", nil, true); err != nil {
		t.Fatalf("Chat: %v", err)
	}
}

func TestChat_APIError(t *testing.T) {
	srv := chatServer(t, func(t *testing.T, r *http.Request, body map[string]any) any {
		return map[string]any{"error": map[string]any{"message": "model not found", "type": "invalid_request_error"}}
	})

	c := New(srv.URL, "test-key")
	_, err := c.Chat(context.Background(), "missing-model", nil, false)
	if err == nil || !strings.Contains(err.Error(), "model not found") {
		t.Fatalf("err = %v", err)
	}
}

func TestChat_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, "test-key")
	_, err := c.Chat(context.Background(), "test-model", nil, false)
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("err = %v", err)
	}
}

func TestChat_EmptyChoices(t *testing.T) {
	srv := chatServer(t, func(t *testing.T, r *http.Request, body map[string]any) any {
		return map[string]any{"choices": []any{}}
	})

	c := New(srv.URL, "test-key")
	if _, err := c.Chat(context.Background(), "test-model", nil, false); err == nil {
		t.Fatal("expected error on empty choices")
	}
}

func TestTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parsing multipart: %v", err)
		}
		if got := r.FormValue("model"); got != "whisper-test" {
			t.Errorf("model = %q", got)
		}
		if got := r.FormValue("language"); got != "en" {
			t.Errorf("language = %q", got)
		}
		f, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("file part: %v", err)
		}
		f.Close()
		if header.Filename != "memo.mp3" {
			t.Errorf("filename = %q", header.Filename)
		}
		json.NewEncoder(w).Encode(map[string]string{"text": "spoken words"})
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, "test-key")
	got, err := c.Transcribe(context.Background(), "whisper-test", "memo.mp3", []byte("audio-bytes"))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "spoken words" {
		t.Errorf("got %q", got)
	}
}

func TestTranscribe_DefaultFilename(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseMultipartForm(1 << 20)
		_, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("file part: %v", err)
		}
		if header.Filename != "audio.webm" {
			t.Errorf("filename = %q, want audio.webm", header.Filename)
		}
		json.NewEncoder(w).Encode(map[string]string{"text": "ok"})
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, "test-key")
	if _, err := c.Transcribe(context.Background(), "whisper-test", "blob", []byte("x")); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
}

func TestTranscribe_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, "test-key")
	if _, err := c.Transcribe(context.Background(), "whisper-test", "memo.mp3", []byte("x")); err == nil {
		t.Fatal("expected error")
	}
}

func TestDescribe(t *testing.T) {
	srv := chatServer(t, func(t *testing.T, r *http.Request, body map[string]any) any {
		msgs, ok := body["messages"].([]any)
		if !ok || len(msgs) != 2 {
			t.Fatalf("messages = %v", body["messages"])
		}
		user := msgs[1].(map[string]any)
		parts, ok := user["content"].([]any)
		if !ok || len(parts) != 2 {
			t.Fatalf("user content = %v", user["content"])
		}
		img := parts[0].(map[string]any)
		url := img["image_url"].(map[string]any)["url"].(string)
		if !strings.HasPrefix(url, "data:image/png;base64,") {
			t.Errorf("image url = %q", url)
		}
		return chatReply("a diagram of two services")
	})

	c := New(srv.URL, "test-key")
	got, err := c.Describe(context.Background(), "vision-test", "diagram.png", []byte("image-bytes"))
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if got != "a diagram of two services" {
		t.Errorf("got %q", got)
	}
}

func TestEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["model"] != "embed-test" || body["input"] != "some text" {
			t.Errorf("body = %v", body)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{3, 4}}},
		})
	}))
	t.Cleanup(srv.Close)

	e := NewEmbeddingClient(srv.URL, "test-key", "embed-test")
	vec, err := e.Embed(context.Background(), "some text")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	// The returned vector is unit-normalized.
	if len(vec) != 2 {
		t.Fatalf("dim = %d", len(vec))
	}
	if math.Abs(float64(vec[0])-0.6) > 1e-6 || math.Abs(float64(vec[1])-0.8) > 1e-6 {
		t.Errorf("vec = %v, want [0.6 0.8]", vec)
	}
}

func TestEmbed_EmptyData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	}))
	t.Cleanup(srv.Close)

	e := NewEmbeddingClient(srv.URL, "test-key", "embed-test")
	if _, err := e.Embed(context.Background(), "text"); err == nil {
		t.Fatal("expected error on empty data")
	}
}

func TestNormalize(t *testing.T) {
	got := Normalize([]float32{3, 4})
	if math.Abs(float64(got[0])-0.6) > 1e-6 || math.Abs(float64(got[1])-0.8) > 1e-6 {
		t.Errorf("Normalize = %v", got)
	}

	var sum float64
	for _, f := range got {
		sum += float64(f) * float64(f)
	}
	if math.Abs(sum-1) > 1e-6 {
		t.Errorf("norm^2 = %f, want 1", sum)
	}

	zero := Normalize([]float32{0, 0})
	if zero[0] != 0 || zero[1] != 0 {
		t.Errorf("zero vector changed: %v", zero)
	}
}
