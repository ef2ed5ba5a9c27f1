package llm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/riverrun-ai/orchestrator/llm"
)

func TestResolveModel(t *testing.T) {
	assert.Equal(t, "claude-3-5-sonnet-20241022", llm.ResolveModel("claude-2"))
	assert.Equal(t, "gpt-4o", llm.ResolveModel("gpt-4-0314"))
	assert.Equal(t, "claude-3-7-sonnet-latest", llm.ResolveModel("claude-3-7-sonnet-latest"))
}

func TestJoinHistory(t *testing.T) {
	assert.Equal(t, "", llm.JoinHistory(nil))
	assert.Equal(t, "a\nb\n", llm.JoinHistory([]string{"a", "b"}))
}
