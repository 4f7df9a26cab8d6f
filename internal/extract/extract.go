// Package extract converts format-specific uploads — source files, PDF,
// DOCX, audio, images — into plain text suitable for chunking and indexing.
package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Sentinel errors callers branch on with errors.Is.
var (
	// ErrUnsupportedFormat means the file extension is not in any allow-list.
	// Hard, user-facing, non-retriable.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrTranscription wraps audio transcription failures so front ends can
	// show a friendlier message than a generic error.
	ErrTranscription = errors.New("could not transcribe audio")

	// ErrDescription wraps image description failures, same rationale.
	ErrDescription = errors.New("could not describe image")
)

// Kind is the coarse category of an upload, derived from its extension.
type Kind int

const (
	KindUnknown Kind = iota
	KindText
	KindPDF
	KindDocx
	KindAudio
	KindImage
)

var textExts = map[string]bool{
	".txt": true, ".md": true,
	".py": true, ".java": true, ".c": true, ".cpp": true,
	".js": true, ".ts": true, ".go": true, ".rs": true,
	".rb": true, ".php": true,
}

var audioExts = map[string]bool{
	".mp3": true, ".wav": true, ".m4a": true, ".ogg": true, ".webm": true,
}

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".bmp": true,
}

// KindOf classifies filename by extension. KindUnknown means the format is
// unsupported.
func KindOf(filename string) Kind {
	ext := strings.ToLower(filepath.Ext(filename))
	switch {
	case textExts[ext]:
		return KindText
	case ext == ".pdf":
		return KindPDF
	case ext == ".docx":
		return KindDocx
	case audioExts[ext]:
		return KindAudio
	case imageExts[ext]:
		return KindImage
	}
	return KindUnknown
}

// Transcriber is the external audio transcription capability.
type Transcriber interface {
	Transcribe(ctx context.Context, model, filename string, audio []byte) (string, error)
}

// Describer is the external vision description capability.
type Describer interface {
	Describe(ctx context.Context, model, filename string, image []byte) (string, error)
}

// Extractor normalizes uploads into plain text. Document formats are handled
// locally; audio and images are delegated to external model capabilities.
type Extractor struct {
	transcriber     Transcriber
	describer       Describer
	transcribeModel string
	visionModel     string
}

// New creates an Extractor. transcriber and describer may be nil when the
// caller only handles document formats; audio/image input then fails with the
// corresponding sentinel error.
func New(transcriber Transcriber, describer Describer, transcribeModel, visionModel string) *Extractor {
	return &Extractor{
		transcriber:     transcriber,
		describer:       describer,
		transcribeModel: transcribeModel,
		visionModel:     visionModel,
	}
}

// Extract converts the named upload into plain text.
//
// Text and code files must be valid UTF-8; anything else is a hard error.
// Transcription and description failures come back wrapped in
// ErrTranscription / ErrDescription so the front end can distinguish them.
// An unrecognized extension is ErrUnsupportedFormat, never silently skipped.
func (e *Extractor) Extract(ctx context.Context, filename string, data []byte) (string, error) {
	switch KindOf(filename) {
	case KindText:
		if !utf8.Valid(data) {
			return "", fmt.Errorf("%s: invalid UTF-8 encoding", filename)
		}
		return string(data), nil

	case KindPDF:
		text, err := pdfText(data)
		if err != nil {
			return "", fmt.Errorf("extracting pdf %s: %w", filename, err)
		}
		return text, nil

	case KindDocx:
		text, err := docxText(data)
		if err != nil {
			return "", fmt.Errorf("extracting docx %s: %w", filename, err)
		}
		return text, nil

	case KindAudio:
		if e.transcriber == nil {
			return "", fmt.Errorf("%w: no transcriber configured", ErrTranscription)
		}
		text, err := e.transcriber.Transcribe(ctx, e.transcribeModel, filename, data)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrTranscription, err)
		}
		return text, nil

	case KindImage:
		if e.describer == nil {
			return "", fmt.Errorf("%w: no describer configured", ErrDescription)
		}
		text, err := e.describer.Describe(ctx, e.visionModel, filename, data)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrDescription, err)
		}
		return text, nil
	}

	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, strings.ToLower(filepath.Ext(filename)))
}
