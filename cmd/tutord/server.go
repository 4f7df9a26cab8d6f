package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/codetutor/tutord/internal/api"
	"github.com/codetutor/tutord/internal/chat"
	"github.com/codetutor/tutord/internal/config"
	"github.com/codetutor/tutord/internal/extract"
	"github.com/codetutor/tutord/internal/groq"
	"github.com/codetutor/tutord/internal/index"
	"github.com/codetutor/tutord/internal/intent"
	"github.com/codetutor/tutord/internal/profile"
	"github.com/codetutor/tutord/internal/session"
	"github.com/codetutor/tutord/internal/storage"
	"github.com/codetutor/tutord/internal/watch"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the tutord server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running tutord server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tutord server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "tutord.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "tutord version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// One server per data directory; the index is in-memory, so a second
	// instance would answer from a different knowledge state.
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	dirLock := flock.New(filepath.Join(cfg.Storage.DataDir, "tutord.lock"))
	locked, err := dirLock.TryLock()
	if err != nil {
		return fmt.Errorf("locking data directory: %w", err)
	}
	if !locked {
		return fmt.Errorf("another tutord instance is using %s", cfg.Storage.DataDir)
	}
	defer dirLock.Unlock()

	pidPath := pidFilePath(cfg.Storage.DataDir)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer os.Remove(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	// Build the conversation pipeline.
	groqClient := groq.New(cfg.Groq.BaseURL, cfg.Groq.APIKey)
	embedder := groq.NewEmbeddingClient(cfg.Embeddings.BaseURL, cfg.Embeddings.APIKey, cfg.Embeddings.Model)
	retriever := index.NewRetriever(embedder, index.NewStore(), cfg.Retrieval.ChunkSize)
	classifier := intent.NewClassifier(groqClient, cfg.Groq.ClassifierModel)
	sessions := session.NewStore()
	profiles := profile.NewManager(store, store.IsNotFound)
	extractor := extract.New(groqClient, groqClient, cfg.Groq.WhisperModel, cfg.Groq.VisionModel)

	service := chat.NewService(classifier, retriever, groqClient, sessions, cfg.Groq.ChatModel, cfg.Retrieval.TopK, store)

	// Build HTTP handler and server.
	handler := api.NewHandler(api.Deps{
		Chat:         service,
		Ingester:     retriever,
		Extractor:    extractor,
		Profiles:     profiles,
		Interactions: store,
		HTTPClient:   &http.Client{Timeout: 15 * time.Second},
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Start the docs directory watcher when configured.
	if cfg.Watch.Dir != "" {
		watcher := watch.New(cfg.Watch.Dir, extractor, retriever, 0)
		go func() {
			if err := watcher.Run(ctx); err != nil {
				slog.Error("document watcher stopped", "dir", cfg.Watch.Dir, "error", err)
			}
		}()
		slog.Info("watching documents directory", "dir", cfg.Watch.Dir)
	}

	// MCP server over stdio.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Chat:      service,
		Ingester:  retriever,
		Retriever: retriever,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()

	// Start the HTTP server.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("tutord listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	pid, err := readPIDFile(pidFilePath(cfg.Storage.DataDir))
	if err != nil {
		printWarning("no PID file found — is tutord running?")
		return err
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signalling process %d: %w", pid, err)
	}

	printSuccess("sent SIGTERM to tutord (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(healthURL)
	if err != nil {
		printError("tutord is not running")
		return nil
	}
	resp.Body.Close()

	printSuccess("tutord is running")
	printStatus("Port", "%d", cfg.Server.Port)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	if pid, err := readPIDFile(pidFilePath(cfg.Storage.DataDir)); err == nil {
		printStatus("PID", "%d", pid)
	}
	return nil
}
