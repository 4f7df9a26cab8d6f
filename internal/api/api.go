// Package api exposes the conversational core over HTTP (chi) and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/codetutor/tutord/internal/extract"
	"github.com/codetutor/tutord/internal/profile"
	"github.com/codetutor/tutord/internal/session"
	"github.com/codetutor/tutord/internal/storage"
)

const maxUploadSize = 10 << 20 // 10MB
const maxURLFetchSize = 5 << 20

// ChatService is the conversational core the handlers drive.
type ChatService interface {
	HandleUtterance(ctx context.Context, sessionID, text string, prof *profile.Profile) (string, error)
	GetHistory(sessionID string) []session.Turn
	ClearSession(sessionID string)
}

// Ingester feeds normalized text into the shared document index.
type Ingester interface {
	Ingest(ctx context.Context, text string) error
}

// ProfileStore reads and writes learner profiles. Implemented by
// profile.Manager.
type ProfileStore interface {
	Lookup(username string) (*profile.Profile, error)
	Save(p profile.Profile) error
}

// InteractionReader pages through recorded exchanges, newest first.
// Implemented by storage.Store.
type InteractionReader interface {
	RecentInteractions(sessionID string, limit int) ([]storage.Interaction, error)
}

// Deps holds the collaborators the HTTP layer needs.
type Deps struct {
	Chat         ChatService
	Ingester     Ingester
	Extractor    *extract.Extractor
	Profiles     ProfileStore
	Interactions InteractionReader
	HTTPClient   *http.Client // for url ingestion; defaults to http.DefaultClient
}

// NewHandler builds the HTTP API router.
func NewHandler(deps Deps) http.Handler {
	if deps.HTTPClient == nil {
		deps.HTTPClient = http.DefaultClient
	}

	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Post("/api/chat", handleChat(deps))
	r.Post("/api/ingest", handleIngest(deps))
	r.Get("/api/history", handleHistory(deps))
	r.Post("/api/clear", handleClear(deps))
	r.Get("/api/user/{username}", handleGetUser(deps))
	r.Post("/api/user", handleSaveUser(deps))
	r.Get("/api/interactions", handleInteractions(deps))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// sessionID derives the session identifier for a request: the session_id
// cookie when present, otherwise a hash of the caller's address. The fallback
// is not collision-free; clients that care set the cookie.
func sessionID(r *http.Request) string {
	if c, err := r.Cookie("session_id"); err == nil && c.Value != "" {
		return c.Value
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	h := fnv.New64a()
	h.Write([]byte(host))
	return fmt.Sprintf("addr-%x", h.Sum64())
}

type chatResponse struct {
	Response    string `json:"response"`
	Transcribed string `json:"transcribed,omitempty"`
}

// handleChat is the main conversation endpoint. JSON bodies carry
// {username, query}; multipart bodies may additionally carry a file whose
// handling depends on its kind: documents are indexed, audio is transcribed
// and answered, images are described and answered.
func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sid := sessionID(r)

		var (
			username string
			query    string
			filename string
			fileData []byte
		)

		ct := r.Header.Get("Content-Type")
		switch {
		case strings.HasPrefix(ct, "multipart/form-data"):
			if err := r.ParseMultipartForm(maxUploadSize); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart body: %v", err)
				return
			}
			username = r.FormValue("username")
			query = strings.TrimSpace(r.FormValue("query"))

			if file, header, err := r.FormFile("file"); err == nil {
				defer file.Close()
				data, err := io.ReadAll(io.LimitReader(file, maxUploadSize))
				if err != nil {
					httpError(w, http.StatusBadRequest, "invalid_request_error", "reading upload: %v", err)
					return
				}
				filename = header.Filename
				fileData = data
			}

		case strings.HasPrefix(ct, "application/json"):
			r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
			var body struct {
				Username string `json:"username"`
				Query    string `json:"query"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
				return
			}
			username = body.Username
			query = strings.TrimSpace(body.Query)

		default:
			httpError(w, http.StatusUnsupportedMediaType, "invalid_request_error", "unsupported content type %q", ct)
			return
		}

		prof := lookupProfile(deps.Profiles, username)

		if filename != "" {
			handleChatUpload(w, r, deps, sid, filename, fileData, query, prof)
			return
		}

		if query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}

		respond(w, r, deps, sid, query, prof, "")
	}
}

// handleChatUpload routes an uploaded file by kind, per the front-end
// contract: documents feed the index, audio and images become utterances.
func handleChatUpload(w http.ResponseWriter, r *http.Request, deps Deps, sid, filename string, data []byte, query string, prof *profile.Profile) {
	kind := extract.KindOf(filename)
	if kind == extract.KindUnknown {
		httpError(w, http.StatusUnsupportedMediaType, "unsupported_format", "unsupported file type: %s", filename)
		return
	}

	text, err := deps.Extractor.Extract(r.Context(), filename, data)
	switch {
	case errors.Is(err, extract.ErrTranscription):
		httpError(w, http.StatusBadGateway, "transcription_failure",
			"Could not process the audio. Please try again or type your message instead.")
		return
	case errors.Is(err, extract.ErrDescription):
		httpError(w, http.StatusBadGateway, "description_failure",
			"Could not process the image. Please try again or describe it in text instead.")
		return
	case err != nil:
		httpError(w, http.StatusBadRequest, "invalid_request_error", "processing %s: %v", filename, err)
		return
	}

	switch kind {
	case extract.KindAudio:
		// The transcript is the utterance; echo it back alongside the reply.
		respond(w, r, deps, sid, text, prof, text)

	case extract.KindImage:
		respond(w, r, deps, sid, text, prof, "")

	default:
		if err := deps.Ingester.Ingest(r.Context(), text); err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "indexing document: %v", err)
			return
		}
		if query != "" {
			respond(w, r, deps, sid, query, prof, "")
			return
		}
		writeJSON(w, chatResponse{Response: "File processed successfully. You can now ask questions about its content."})
	}
}

func respond(w http.ResponseWriter, r *http.Request, deps Deps, sid, utterance string, prof *profile.Profile, transcribed string) {
	reply, err := deps.Chat.HandleUtterance(r.Context(), sid, utterance, prof)
	if err != nil {
		httpError(w, http.StatusBadGateway, "generation_failure", "generating response: %v", err)
		return
	}
	writeJSON(w, chatResponse{Response: reply, Transcribed: transcribed})
}

// lookupProfile resolves a username best-effort: a missing or failing profile
// never blocks the conversation.
func lookupProfile(profiles ProfileStore, username string) *profile.Profile {
	if profiles == nil || username == "" {
		return nil
	}
	p, err := profiles.Lookup(username)
	if err != nil {
		return nil
	}
	return p
}

type ingestRequest struct {
	Content string `json:"content"`
	URL     string `json:"url"`
}

// handleIngest adds raw text — or the visible text of a fetched URL — to the
// shared document index.
func handleIngest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		defer r.Body.Close()

		var req ingestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Content == "" && req.URL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at least one of content or url is required")
			return
		}

		content := req.Content
		if req.URL != "" {
			text, err := fetchURLText(r.Context(), deps.HTTPClient, req.URL)
			if err != nil {
				httpError(w, http.StatusBadGateway, "api_error", "fetching url: %v", err)
				return
			}
			content = text
		}

		if err := deps.Ingester.Ingest(r.Context(), content); err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "indexing content: %v", err)
			return
		}

		writeJSON(w, map[string]string{"status": "indexed"})
	}
}

// fetchURLText downloads a page (size-capped) and reduces it to visible text.
func fetchURLText(ctx context.Context, client *http.Client, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("url returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxURLFetchSize))
	if err != nil {
		return "", fmt.Errorf("reading url response: %w", err)
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		return extract.HTMLText(strings.NewReader(string(body)))
	}
	return string(body), nil
}

func handleHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		turns := deps.Chat.GetHistory(sessionID(r))

		type entry struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}
		history := make([]entry, len(turns))
		for i, t := range turns {
			history[i] = entry{Role: string(t.Role), Content: t.Text}
		}
		writeJSON(w, map[string]any{"history": history})
	}
}

func handleClear(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Chat.ClearSession(sessionID(r))
		writeJSON(w, map[string]string{"message": "History cleared"})
	}
}

func handleGetUser(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username := chi.URLParam(r, "username")

		p := lookupProfile(deps.Profiles, username)
		if p == nil {
			httpError(w, http.StatusNotFound, "not_found", "user not found")
			return
		}
		writeJSON(w, p)
	}
}

// handleSaveUser creates or updates the learner profile the front-end
// collects at registration; subsequent chats for that username pick it up.
func handleSaveUser(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

		var p profile.Profile
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if p.Username == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "username is required")
			return
		}

		if err := deps.Profiles.Save(p); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "saving profile: %v", err)
			return
		}
		writeJSON(w, p)
	}
}

// handleInteractions returns the caller's most recent recorded exchanges,
// newest first. ?limit=N caps the page size.
func handleInteractions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be a positive integer")
				return
			}
			limit = n
		}

		items, err := deps.Interactions.RecentInteractions(sessionID(r), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading interactions: %v", err)
			return
		}

		type entry struct {
			ID        string    `json:"id"`
			CreatedAt time.Time `json:"created_at"`
			Query     string    `json:"query"`
			Intent    string    `json:"intent"`
			Response  string    `json:"response"`
		}
		entries := make([]entry, len(items))
		for i, it := range items {
			entries[i] = entry{ID: it.ID, CreatedAt: it.CreatedAt, Query: it.Query, Intent: it.Intent, Response: it.Response}
		}
		writeJSON(w, map[string]any{"interactions": entries})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
