// Package openaillm implements llm.Client against the OpenAI Chat
// Completions API, reusing the provider's native streaming support.
package openaillm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/riverrun-ai/orchestrator/domain"
	"github.com/riverrun-ai/orchestrator/llm"
)

// Client wraps the OpenAI SDK behind llm.Client.
type Client struct {
	client *openai.Client
}

// New constructs a Client. Per-request API keys are supplied via
// StreamRequest.APIKey, matching the orchestrator's never-store-the-key rule.
func New() *Client {
	c := openai.NewClient()
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

		var messages []openai.ChatCompletionMessageParamUnion
		if req.SystemPrompt != "" {
			messages = append(messages, openai.SystemMessage(req.SystemPrompt))
		}
		messages = append(messages, openai.UserMessage(llm.JoinHistory(req.ConversationHistory)+req.UserPrompt))

		maxTokens := int64(req.MaxTokens)
		if maxTokens <= 0 {
			maxTokens = 4096
		}
		params := openai.ChatCompletionNewParams{
			Messages:            messages,
			Model:               llm.ResolveModel(req.Model),
			Temperature:         openai.Float(req.Temperature),
			MaxCompletionTokens: openai.Int(maxTokens),
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

func (c *Client) stream(ctx context.Context, params openai.ChatCompletionNewParams, apiKey string, out chan<- llm.Chunk) error {
	stream := c.client.Chat.Completions.NewStreaming(ctx, params, option.WithAPIKey(apiKey))

	var builder strings.Builder
	var finishReason string
	for stream.Next() {
		chunk := stream.Current()
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				builder.WriteString(choice.Delta.Content)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case out <- llm.Chunk{Text: choice.Delta.Content}:
				}
			}
			if choice.FinishReason != "" {
				finishReason = choice.FinishReason
			}
		}
	}

	if err := stream.Err(); err != nil {
		if isRateLimited(err) {
			return &domain.ErrRateLimited{RetryAfter: 2 * time.Second}
		}
		return errors.Join(domain.ErrTransportFailure, err)
	}

	if builder.Len() == 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- llm.Chunk{Text: llm.EmptyCompletionText}:
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- llm.Chunk{Done: true, FinishReason: finishReason}:
	}

	return nil
}

func isRateLimited(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}
