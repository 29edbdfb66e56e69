// Package providers contains clients for external chat-completion services.
// The assistant service talks to the Completer interface only; the concrete
// OpenAIClient works against any OpenAI-compatible endpoint (DeepSeek,
// OpenAI, local gateways) selected via base URL.
package providers

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"
)

// ChatTurn is one ordered message of a completion request.
type ChatTurn struct {
	Role    string // "system", "user", or "assistant"
	Content string
}

// CompletionRequest describes one generation call.
type CompletionRequest struct {
	Model       string
	Temperature float32
	MaxTokens   int
	Turns       []ChatTurn
}

// CompletionResult carries the reply and token accounting.
type CompletionResult struct {
	Content     string
	TotalTokens int
}

// Completer generates an assistant reply for an ordered conversation.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error)
}

// OpenAIClient implements Completer via the OpenAI-compatible chat API.
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient builds a client for the given key and base URL. An empty
// baseURL keeps the library default (api.openai.com).
func NewOpenAIClient(apiKey, baseURL string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg)}
}

// Complete performs one chat completion call.
func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Turns))
	for _, t := range req.Turns {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: t.Role, Content: t.Content})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return CompletionResult{}, err
	}
	if len(resp.Choices) == 0 {
		return CompletionResult{}, errors.New("completion returned no choices")
	}
	return CompletionResult{
		Content:     resp.Choices[0].Message.Content,
		TotalTokens: resp.Usage.TotalTokens,
	}, nil
}
