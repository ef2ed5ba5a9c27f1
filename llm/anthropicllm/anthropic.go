// Package anthropicllm implements llm.Client against the Anthropic Messages
// API, including real chunk-by-chunk streaming.
package anthropicllm

import (
	"context"
	"errors"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v5"

	"github.com/riverrun-ai/orchestrator/domain"
	"github.com/riverrun-ai/orchestrator/llm"
)

// Client wraps the Anthropic SDK behind llm.Client.
type Client struct {
	client *anthropic.Client
}

// New constructs a Client without an API key; callers pass the key per
// request via StreamRequest.APIKey, so it is never stored on the Client.
func New() *Client {
	c := anthropic.NewClient()
	return &Client{client: &c}
}

// GenerateStream implements llm.Client.
func (c *Client) GenerateStream(ctx context.Context, req llm.StreamRequest) (<-chan llm.Chunk, <-chan error) {
	out := make(chan llm.Chunk, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		if req.APIKey == "" {
			errCh <- domain.ErrMissingKey
			return
		}

		model := anthropic.Model(llm.ResolveModel(req.Model))
		maxTokens := int64(req.MaxTokens)
		if maxTokens <= 0 {
			maxTokens = 4096
		}

		userText := llm.JoinHistory(req.ConversationHistory) + req.UserPrompt
		params := anthropic.MessageNewParams{
			Model:       model,
			MaxTokens:   maxTokens,
			Temperature: anthropic.Float(req.Temperature),
			Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(userText))},
		}
		if req.SystemPrompt != "" {
			params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
		}

		op := func() (struct{}, error) {
			return struct{}{}, c.stream(ctx, params, req.APIKey, out)
		}
		_, err := backoff.Retry(ctx, op,
			backoff.WithMaxTries(4),
			backoff.WithBackOff(backoff.NewExponentialBackOff()),
		)
		if err != nil {
			errCh <- err
		}
	}()

	return out, errCh
}

func (c *Client) stream(ctx context.Context, params anthropic.MessageNewParams, apiKey string, out chan<- llm.Chunk) error {
	stream := c.client.Messages.NewStreaming(ctx, params, option.WithAPIKey(apiKey))

	var sawText bool
	for stream.Next() {
		event := stream.Current()
		switch delta := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta.Delta.Text != "" {
				sawText = true
				select {
				case <-ctx.Done():
					return ctx.Err()
				case out <- llm.Chunk{Text: delta.Delta.Text}:
				}
			}
		case anthropic.MessageDeltaEvent:
			if delta.Delta.StopReason != "" {
				if !sawText {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case out <- llm.Chunk{Text: llm.EmptyCompletionText}:
					}
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case out <- llm.Chunk{Done: true, FinishReason: string(delta.Delta.StopReason)}:
				}
			}
		}
	}

	if err := stream.Err(); err != nil {
		if isRateLimited(err) {
			return &domain.ErrRateLimited{RetryAfter: 2 * time.Second}
		}
		return errors.Join(domain.ErrTransportFailure, err)
	}

	return nil
}

func isRateLimited(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}
