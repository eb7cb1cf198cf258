// Package llm talks to the language model behind the assistant. The
// client targets OpenRouter's OpenAI-compatible API but works against
// any endpoint that speaks the chat-completions protocol.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Message is one turn of dialogue history.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// Request is a single completion call: a system prompt, recent history,
// and the new user message.
type Request struct {
	System  string
	History []Message
	User    string
}

// Response carries the assistant reply plus the token usage the backend
// reported, which drives wallet debits.
type Response struct {
	Text        string
	TotalTokens int64
}

// Client produces assistant replies. Implementations must be safe for
// concurrent use; every tenant worker shares one client.
type Client interface {
	Answer(ctx context.Context, req Request) (Response, error)
}

// Config holds OpenRouter connection settings.
type Config struct {
	// BaseURL of the OpenAI-compatible endpoint.
	BaseURL string
	// APIKey is required.
	APIKey string
	// Model in provider/model form, e.g. "deepseek/deepseek-chat".
	Model string
	// Temperature for sampling; zero means the backend default.
	Temperature float32
	// MaxRetries for transient failures (default 2).
	MaxRetries int
	// RetryDelay is the base backoff between attempts (default 1s).
	RetryDelay time.Duration
}

// OpenRouter is the production Client over go-openai.
type OpenRouter struct {
	client      *openai.Client
	model       string
	temperature float32
	maxRetries  int
	retryDelay  time.Duration
}

// NewOpenRouter builds the client. APIKey and Model are required.
func NewOpenRouter(cfg Config) (*OpenRouter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm: API key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("llm: model is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenRouter{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxRetries:  cfg.MaxRetries,
		retryDelay:  cfg.RetryDelay,
	}, nil
}

// Answer runs one chat completion, retrying transient failures with
// linear backoff.
func (o *OpenRouter) Answer(ctx context.Context, req Request) (Response, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.History {
		role := openai.ChatMessageRoleUser
		if m.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.User,
	})

	var lastErr error
	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Response{}, ctx.Err()
			case <-time.After(time.Duration(attempt) * o.retryDelay):
			}
		}

		resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       o.model,
			Messages:    messages,
			Temperature: o.temperature,
		})
		if err != nil {
			lastErr = err
			if !retryable(err) {
				break
			}
			continue
		}
		if len(resp.Choices) == 0 {
			return Response{}, errors.New("llm: empty completion response")
		}
		return Response{
			Text:        resp.Choices[0].Message.Content,
			TotalTokens: int64(resp.Usage.TotalTokens),
		}, nil
	}
	return Response{}, fmt.Errorf("llm: completion failed: %w", lastErr)
}

// retryable reports whether the error is worth another attempt:
// rate limits and server-side failures, not auth or request errors.
func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	// transport-level errors (timeouts, resets) are retryable
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
