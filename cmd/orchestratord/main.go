// Command orchestratord wires the six orchestrator components behind a
// minimal HTTP surface: POST a run request for a session/agent and stream
// the result back as Server-Sent Events. Session/agent/link CRUD, auth and
// routing beyond this single endpoint remain out of scope, per spec.md §1.
package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"

	"github.com/riverrun-ai/orchestrator/config"
	"github.com/riverrun-ai/orchestrator/coordinator"
	"github.com/riverrun-ai/orchestrator/domain"
	"github.com/riverrun-ai/orchestrator/executor"
	"github.com/riverrun-ai/orchestrator/llm"
	"github.com/riverrun-ai/orchestrator/llm/anthropicllm"
	"github.com/riverrun-ai/orchestrator/llm/openaillm"
	"github.com/riverrun-ai/orchestrator/logging"
	"github.com/riverrun-ai/orchestrator/repository"
	"github.com/riverrun-ai/orchestrator/sse"
	"github.com/riverrun-ai/orchestrator/treecache"
)

func main() {
	cfg := config.Load()
	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)

	var client llm.Client
	switch os.Getenv("LLM_PROVIDER") {
	case "openai":
		client = openaillm.New()
	default:
		client = anthropicllm.New()
	}

	repo := repository.NewInMemoryRepository()
	cache := treecache.New(repo, client, logger)
	// Wrapping repo ties tree mutations (re-parenting) to cache invalidation,
	// so a stale snapshot is never served after an agent is moved.
	invalidatingRepo := treecache.NewInvalidatingRepository(repo, cache)
	exec := executor.New(client, executor.Options{
		MaxDepth:          cfg.MaxDepth,
		MaxParallelPerRun: cfg.MaxParallelPerRun,
		GlobalConcurrency: cfg.GlobalLLMConcurrency,
		AgentTimeout:      cfg.AgentTimeout,
		Logger:            logger,
	})
	coord := coordinator.New(invalidatingRepo, cache, exec, client, coordinator.Options{
		RunTimeout:      cfg.RunTimeout,
		ChannelCapacity: cfg.ChannelCapacity,
		Logger:          logger,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions/{sessionID}/agents/{rootID}/runs", runHandler(coord, cfg))

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	logger.Info("orchestratord listening addr=%s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("orchestratord exited", "error", err)
		os.Exit(1)
	}
}

type runRequest struct {
	APIKey string         `json:"api_key"`
	Input  domain.RunInput `json:"input"`
	RunID  string         `json:"run_id,omitempty"`
}

func runHandler(coord *coordinator.Coordinator, cfg config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.PathValue("sessionID")
		rootID := r.PathValue("rootID")

		var req runRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.APIKey == "" {
			req.APIKey = cfg.DefaultAPIKey
		}

		_, frames, err := coord.StartRun(r.Context(), sessionID, rootID, req.APIKey, req.RunID, req.Input)
		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}

		if err := sse.Stream(r.Context(), w, frames); err != nil {
			slog.Warn("sse stream ended", "error", err)
		}
	}
}
