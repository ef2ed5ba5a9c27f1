package mockllm_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverrun-ai/orchestrator/llm"
	"github.com/riverrun-ai/orchestrator/llm/mockllm"
)

func TestGenerateStreamCannedResponse(t *testing.T) {
	client := mockllm.New(false)
	client.AddResponse("hello", "world")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	chunks, errs := client.GenerateStream(ctx, llm.StreamRequest{UserPrompt: "hello"})

	var texts []string
	for ch := range chunks {
		if ch.Text != "" {
			texts = append(texts, ch.Text)
		}
	}
	require.NoError(t, <-errs)
	assert.Equal(t, []string{"world"}, texts)
}

func TestGenerateStreamFallback(t *testing.T) {
	client := mockllm.New(false)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	chunks, errs := client.GenerateStream(ctx, llm.StreamRequest{UserPrompt: "unknown"})

	var texts []string
	for ch := range chunks {
		if ch.Text != "" {
			texts = append(texts, ch.Text)
		}
	}
	require.NoError(t, <-errs)
	assert.Equal(t, []string{"mock response to: unknown"}, texts)
}
