// Package watch ingests documents dropped into a watched directory.
package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/codetutor/tutord/internal/extract"
)

// Ingester feeds normalized text into the document index.
type Ingester interface {
	Ingest(ctx context.Context, text string) error
}

// Watcher monitors one directory and indexes supported files as they appear.
// Audio and image files are ignored here — they are conversational inputs,
// not documents.
type Watcher struct {
	dir       string
	extractor *extract.Extractor
	ingester  Ingester
	settle    time.Duration
	logger    *slog.Logger
}

// New creates a Watcher for dir. settle is the delay between a write event
// and reading the file, letting editors and copies finish; <= 0 selects
// 200ms.
func New(dir string, extractor *extract.Extractor, ingester Ingester, settle time.Duration) *Watcher {
	if settle <= 0 {
		settle = 200 * time.Millisecond
	}
	return &Watcher{
		dir:       dir,
		extractor: extractor,
		ingester:  ingester,
		settle:    settle,
		logger:    slog.Default(),
	}
}

// Run ingests files already present in the directory, then watches for new
// ones until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return err
	}

	w.ingestExisting(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !indexable(event.Name) {
				continue
			}

			select {
			case <-time.After(w.settle):
			case <-ctx.Done():
				return nil
			}
			w.ingestFile(ctx, event.Name)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) ingestExisting(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("reading watch directory", "dir", w.dir, "error", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(w.dir, entry.Name())
		if indexable(path) {
			w.ingestFile(ctx, path)
		}
	}
}

func (w *Watcher) ingestFile(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn("reading watched file", "path", path, "error", err)
		return
	}

	text, err := w.extractor.Extract(ctx, path, data)
	if err != nil {
		w.logger.Warn("extracting watched file", "path", path, "error", err)
		return
	}

	if err := w.ingester.Ingest(ctx, text); err != nil {
		w.logger.Warn("indexing watched file", "path", path, "error", err)
		return
	}
	w.logger.Info("indexed document", "path", path)
}

// indexable reports whether the file is a document format fed to the index.
func indexable(path string) bool {
	switch extract.KindOf(path) {
	case extract.KindText, extract.KindPDF, extract.KindDocx:
		return true
	}
	return false
}
