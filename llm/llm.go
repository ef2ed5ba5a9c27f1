// Package llm defines the provider-neutral streaming client (C1): the
// narrow interface the orchestrator uses to ask any LLM provider to
// generate a completion for an agent and stream it back chunk by chunk.
package llm

import (
	"context"
	"strings"
)

// StreamRequest is the normalized input to a streaming completion call.
type StreamRequest struct {
	APIKey              string
	Model               string
	SystemPrompt        string
	UserPrompt          string
	Images              [][]byte
	ConversationHistory []string
	Temperature         float64
	MaxTokens           int
}

// Chunk is one piece of a streamed completion. The last chunk for a call
// has Done set to true and carries the finish reason.
type Chunk struct {
	Text         string
	Done         bool
	FinishReason string
}

// Client is the minimal interface every LLM provider adapter implements.
// Generation happens on a background goroutine; the returned channels are
// closed once the stream ends (cleanly or with an error).
type Client interface {
	GenerateStream(ctx context.Context, req StreamRequest) (<-chan Chunk, <-chan error)
}

// legacyModelMap maps deprecated/retired model identifiers to their current
// replacements, mirroring the migration table the original orchestrator
// applied before dispatching a provider call.
var legacyModelMap = map[string]string{
	"claude-2":               "claude-3-5-sonnet-20241022",
	"claude-instant-1":       "claude-3-5-haiku-20241022",
	"gpt-4-0314":             "gpt-4o",
	"gpt-4-32k-0314":         "gpt-4o",
	"gpt-3.5-turbo-0301":     "gpt-4o-mini",
	"text-davinci-003":       "gpt-4o-mini",
}

// ResolveModel applies the built-in legacy model migration table, returning
// the model ID unchanged if it is not a known legacy identifier. It does not
// read LEGACY_MODEL_MAP; config.Config.ResolveModel applies those operator
// entries first and then falls back to this function.
func ResolveModel(model string) string {
	if replacement, ok := legacyModelMap[model]; ok {
		return replacement
	}
	return model
}

// EmptyCompletionText is emitted as a single synthetic, non-partial chunk
// whenever a provider returns a stream with no text content at all, so
// downstream consumers always observe at least one output_chunk per agent.
const EmptyCompletionText = "[no content generated]"

// JoinHistory renders a conversation history slice into plain text the way
// every adapter prefixes a user prompt, one line per turn.
func JoinHistory(history []string) string {
	if len(history) == 0 {
		return ""
	}
	return strings.Join(history, "\n") + "\n"
}

// HistoryLimit is the default number of trailing conversation history
// entries joined into a user prompt, per spec.md §4.5 ("last N entries of
// conversation history (default 3)").
const HistoryLimit = 3

// TailHistory returns at most the last n entries of history, in order.
func TailHistory(history []string, n int) []string {
	if n <= 0 || len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
