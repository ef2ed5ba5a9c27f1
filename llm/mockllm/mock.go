// Package mockllm is a deterministic, in-memory llm.Client used by tests.
package mockllm

import (
	"context"
	"fmt"
	"sync"

	"github.com/riverrun-ai/orchestrator/llm"
)

// Client is a lightweight canned-response implementation of llm.Client.
type Client struct {
	mu        sync.Mutex
	responses map[string]string
	stream    bool
}

// New constructs a Client. When stream is true, responses are emitted
// character by character before the final non-partial chunk, mirroring the
// teacher's MockModel streaming behavior.
func New(stream bool) *Client {
	return &Client{responses: make(map[string]string), stream: stream}
}

// AddResponse registers a canned completion for an exact prompt match.
func (c *Client) AddResponse(prompt, response string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses[prompt] = response
}

// GenerateStream implements llm.Client.
func (c *Client) GenerateStream(ctx context.Context, req llm.StreamRequest) (<-chan llm.Chunk, <-chan error) {
	out := make(chan llm.Chunk, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		c.mu.Lock()
		full, ok := c.responses[req.UserPrompt]
		c.mu.Unlock()
		if !ok {
			full = fmt.Sprintf("mock response to: %s", req.UserPrompt)
		}
		if full == "" {
			full = llm.EmptyCompletionText
		}

		if c.stream {
			for _, r := range full {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case out <- llm.Chunk{Text: string(r)}:
				}
			}
		} else {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- llm.Chunk{Text: full}:
			}
		}

		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case out <- llm.Chunk{Done: true, FinishReason: "stop"}:
		}
	}()

	return out, errCh
}
