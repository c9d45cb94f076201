// chatrelay - a chat-assistant relay between messaging clients and LLM backends.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jeranaias/chatrelay/internal/backend"
	"github.com/jeranaias/chatrelay/internal/config"
	"github.com/jeranaias/chatrelay/internal/history"
	"github.com/jeranaias/chatrelay/internal/profile"
	"github.com/jeranaias/chatrelay/internal/relay"
)

// Version information (set at build time)
var (
	Version   = "0.2.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config.toml (default: ~/.chatrelay/config.toml)")
	logLevel := flag.String("log-level", "info", "log level: trace, debug, info, warn, error")
	flag.Parse()

	setupLogging(*logLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	log.Info().
		Str("version", Version).
		Str("commit", GitCommit).
		Str("listen_addr", cfg.ListenAddr).
		Msg("chatrelay starting")

	profiles, histories, closeStores, err := buildStores(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open stores")
	}
	defer closeStores()

	app := newApp(cfg, profiles, histories)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Hot reload: tunables and backend settings follow the file; stores
	// and the listen address are fixed for the process lifetime.
	if path := resolvedConfigPath(*configPath); path != "" {
		go func() {
			if err := config.Watch(ctx, path, app.reload); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn().Err(err).Msg("config watcher stopped")
			}
		}()
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           app.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		log.Error().Err(err).Msg("server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown incomplete")
	}
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// resolvedConfigPath returns the path the watcher should follow, or ""
// when not even the default location can be determined.
func resolvedConfigPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	path, err := config.DefaultPath()
	if err != nil {
		return ""
	}
	return path
}

// buildStores opens the profile and history stores: SQLite under
// DataDir when set, in-memory otherwise.
func buildStores(cfg *config.Config) (profile.Store, history.Store, func(), error) {
	if cfg.DataDir == "" {
		log.Info().Msg("no data_dir configured, using in-memory stores")
		return profile.NewMemoryStore(), history.NewMemoryStore(), func() {}, nil
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, nil, nil, err
	}

	profiles, err := profile.NewSQLiteStore(filepath.Join(cfg.DataDir, "profiles.db"))
	if err != nil {
		return nil, nil, nil, err
	}
	histories, err := history.NewSQLiteStore(filepath.Join(cfg.DataDir, "history.db"))
	if err != nil {
		profiles.Close()
		return nil, nil, nil, err
	}

	closer := func() {
		if err := histories.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close history store")
		}
		if err := profiles.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close profile store")
		}
	}
	return profiles, histories, closer, nil
}

// =============================================================================
// APPLICATION
// =============================================================================

// app owns the orchestrator and swaps it atomically on config reload.
type app struct {
	mu   sync.RWMutex
	orch *relay.Orchestrator

	profiles  profile.Store
	histories history.Store
}

func newApp(cfg *config.Config, profiles profile.Store, histories history.Store) *app {
	a := &app{profiles: profiles, histories: histories}
	a.orch = a.buildOrchestrator(cfg)
	return a
}

func (a *app) buildOrchestrator(cfg *config.Config) *relay.Orchestrator {
	primary := backend.NewClient(backend.Config{
		Role:    "primary",
		BaseURL: cfg.Backends.Primary.BaseURL,
		APIKey:  cfg.Backends.Primary.APIKey,
		Model:   cfg.Backends.Primary.Model,
	})
	research := backend.NewClient(backend.Config{
		Role:    "research",
		BaseURL: cfg.Backends.Research.BaseURL,
		APIKey:  cfg.Backends.Research.APIKey,
		Model:   cfg.Backends.Research.Model,
	})
	editor := backend.NewClient(backend.Config{
		Role:    "editor",
		BaseURL: cfg.Backends.Editor.BaseURL,
		APIKey:  cfg.Backends.Editor.APIKey,
		Model:   cfg.Backends.Editor.Model,
	})

	return relay.New(relay.Config{
		Primary:       primary,
		Research:      research,
		Editor:        editor,
		Profiles:      a.profiles,
		Histories:     a.histories,
		HistoryWindow: cfg.Pipeline.HistoryWindow,
		ContentCap:    cfg.Pipeline.ContentCap,
		ChunkLimit:    cfg.Delivery.ChunkLimit,
		PreviewLen:    cfg.Pipeline.PreviewLen,
		EditorEnabled: cfg.Pipeline.EditorEnabled,
		Limiter:       relay.NewLimiter(cfg.Rate.PerUserRPS, cfg.Rate.Burst),
	})
}

// reload rebuilds the orchestrator from a freshly loaded config.
func (a *app) reload(cfg *config.Config) {
	orch := a.buildOrchestrator(cfg)
	a.mu.Lock()
	a.orch = orch
	a.mu.Unlock()
}

func (a *app) orchestrator() *relay.Orchestrator {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.orch
}

// =============================================================================
// HTTP FRONT DOOR
// =============================================================================

// chatRequest is the POST /chat body.
type chatRequest struct {
	UserID string `json:"user_id"`
	Mode   string `json:"mode,omitempty"`
	Text   string `json:"text"`
}

// chatResponse carries the ordered delivery chunks.
type chatResponse struct {
	Chunks []string `json:"chunks"`
}

const maxRequestBody = 1 << 20 // 1 MiB

func (a *app) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat", a.handleChat)
	mux.HandleFunc("/healthz", handleHealth)
	return mux
}

func (a *app) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	chunks := a.orchestrator().Respond(r.Context(), relay.Request{
		UserID: req.UserID,
		Mode:   relay.ParseMode(req.Mode),
		Text:   req.Text,
	})

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(chatResponse{Chunks: chunks}); err != nil {
		log.Warn().Err(err).Msg("failed to write response")
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"version": Version,
	})
}
