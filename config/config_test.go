package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/riverrun-ai/orchestrator/config"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MAX_DEPTH", "")
	t.Setenv("LEGACY_MODEL_MAP", "")

	cfg := config.Load()
	assert.Equal(t, 10, cfg.MaxDepth)
	assert.Equal(t, 4, cfg.MaxParallelPerRun)
	assert.Equal(t, 256, cfg.ChannelCapacity)
}

func TestResolveModelAppliesOperatorOverrides(t *testing.T) {
	t.Setenv("LEGACY_MODEL_MAP", "my-custom-model=claude-3-5-sonnet-20241022")
	cfg := config.Load()
	assert.Equal(t, "claude-3-5-sonnet-20241022", cfg.ResolveModel("my-custom-model"))
	assert.Equal(t, "untouched", cfg.ResolveModel("untouched"))
}
