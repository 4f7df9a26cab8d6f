// Package groq is a minimal client for the Groq OpenAI-compatible API:
// chat completions (plain and JSON-mode), Whisper transcription, and vision
// image description.
package groq

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
)

// Message represents a chat message in the OpenAI wire format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client communicates with a Groq (or any OpenAI-compatible) endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a Client for the given base URL (e.g.
// "https://api.groq.com/openai/v1") and API key.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		// Completion calls are treated as blocking I/O; cancellation and
		// deadlines come from the caller's context, not a client timeout.
		httpClient: &http.Client{Timeout: 0},
	}
}

// chatRequest is the JSON body for POST /chat/completions.
type chatRequest struct {
	Model          string    `json:"model"`
	Messages       []Message `json:"messages"`
	Temperature    float64   `json:"temperature,omitempty"`
	MaxTokens      int       `json:"max_tokens,omitempty"`
	ResponseFormat any       `json:"response_format,omitempty"`
}

// chatResponse mirrors the JSON returned by POST /chat/completions.
type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Chat sends messages to the given model and returns the assistant's reply.
// When jsonMode is true, response_format is set to json_object so the model
// returns structured output.
func (c *Client) Chat(ctx context.Context, model string, messages []Message, jsonMode bool) (string, error) {
	cr := chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: 0.7,
	}
	if jsonMode {
		cr.Temperature = 0.2
		cr.ResponseFormat = map[string]string{"type": "json_object"}
	}

	var result chatResponse
	if err := c.postJSON(ctx, "/chat/completions", cr, &result); err != nil {
		return "", err
	}
	if result.Error != nil {
		return "", fmt.Errorf("chat: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("chat: empty choices")
	}
	return result.Choices[0].Message.Content, nil
}

// transcribeResponse is the JSON returned by POST /audio/transcriptions.
type transcribeResponse struct {
	Text  string    `json:"text"`
	Error *apiError `json:"error"`
}

// Transcribe sends audio bytes to the Whisper endpoint and returns the
// transcript. filename carries the extension the endpoint uses for format
// detection; a sensible default is applied when it has none.
func (c *Client) Transcribe(ctx context.Context, model, filename string, audio []byte) (string, error) {
	if filepath.Ext(filename) == "" {
		filename = "audio.webm"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return "", fmt.Errorf("building multipart body: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return "", fmt.Errorf("writing audio payload: %w", err)
	}
	for _, f := range [][2]string{{"model", model}, {"response_format", "json"}, {"language", "en"}} {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return "", fmt.Errorf("writing %s field: %w", f[0], err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("closing multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", fmt.Errorf("creating transcription request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcription: unexpected status %d", resp.StatusCode)
	}

	var result transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding transcription response: %w", err)
	}
	if result.Error != nil {
		return "", fmt.Errorf("transcription: %s", result.Error.Message)
	}
	return result.Text, nil
}

// visionRequest is a chat completion whose user message carries image parts.
type visionRequest struct {
	Model     string          `json:"model"`
	Messages  []visionMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens,omitempty"`
}

type visionMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type imagePart struct {
	Type     string `json:"type"`
	ImageURL struct {
		URL string `json:"url"`
	} `json:"image_url"`
}

type textPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Describe asks a vision model for a natural-language description of the
// image, with emphasis on any text or code it contains. filename supplies
// the extension used for the data-URL media type.
func (c *Client) Describe(ctx context.Context, model, filename string, image []byte) (string, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if ext == "" {
		ext = "png"
	}

	var img imagePart
	img.Type = "image_url"
	img.ImageURL.URL = fmt.Sprintf("data:image/%s;base64,%s", ext, base64.StdEncoding.EncodeToString(image))

	vr := visionRequest{
		Model: model,
		Messages: []visionMessage{
			{
				Role:    "system",
				Content: "You are an AI that can analyze images. Describe the image content in detail, focusing on any text or code present.",
			},
			{
				Role: "user",
				Content: []any{
					img,
					textPart{Type: "text", Text: "Describe this image in detail, especially any text or code content."},
				},
			},
		},
		MaxTokens: 1000,
	}

	var result chatResponse
	if err := c.postJSON(ctx, "/chat/completions", vr, &result); err != nil {
		return "", err
	}
	if result.Error != nil {
		return "", fmt.Errorf("describe: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("describe: empty choices")
	}
	return result.Choices[0].Message.Content, nil
}

// postJSON sends body as JSON to path and decodes the response into out.
func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Read a little of the body for diagnostics.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: unexpected status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
