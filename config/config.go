// Package config loads the orchestrator's environment-variable
// configuration, with an optional local .env file, matching spec.md §6.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/riverrun-ai/orchestrator/llm"
)

// Config holds every tunable named in spec.md §6.
type Config struct {
	DefaultAPIKey         string
	MaxDepth              int
	MaxParallelPerRun     int
	GlobalLLMConcurrency  int
	RunTimeout            time.Duration
	AgentTimeout          time.Duration
	ChannelCapacity       int
	LegacyModelMap        map[string]string
}

// Load reads configuration from the process environment, first attempting
// to load a local .env file (ignored if absent), matching the pack's
// convention of godotenv-for-local-dev plus plain os.Getenv for the rest.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		DefaultAPIKey:        os.Getenv("LLM_DEFAULT_KEY"),
		MaxDepth:             envInt("MAX_DEPTH", 10),
		MaxParallelPerRun:    envInt("MAX_PARALLEL_PER_RUN", 4),
		GlobalLLMConcurrency: envInt("GLOBAL_LLM_CONCURRENCY", 32),
		RunTimeout:           envSeconds("RUN_TIMEOUT_SECONDS", 600),
		AgentTimeout:         envSeconds("AGENT_TIMEOUT_SECONDS", 30),
		ChannelCapacity:      envInt("CHANNEL_CAPACITY", 256),
		LegacyModelMap:       parseLegacyModelMap(os.Getenv("LEGACY_MODEL_MAP")),
	}
}

// ResolveModel applies any operator-supplied LEGACY_MODEL_MAP entries on
// top of the llm package's built-in migration table.
func (c Config) ResolveModel(model string) string {
	if replacement, ok := c.LegacyModelMap[model]; ok {
		return replacement
	}
	return llm.ResolveModel(model)
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envSeconds(key string, def int) time.Duration {
	return time.Duration(envInt(key, def)) * time.Second
}

// parseLegacyModelMap parses a comma-separated list of "old=new" pairs.
func parseLegacyModelMap(raw string) map[string]string {
	m := make(map[string]string)
	if raw == "" {
		return m
	}
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		old := strings.TrimSpace(parts[0])
		new := strings.TrimSpace(parts[1])
		if old != "" && new != "" {
			m[old] = new
		}
	}
	return m
}
