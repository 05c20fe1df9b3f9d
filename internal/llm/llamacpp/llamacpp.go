// Package llamacpp talks to an OpenAI-compatible chat completions endpoint,
// such as a local llama.cpp server or Ollama.
package llamacpp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"llm-crypto-trader/internal/api"
	"llm-crypto-trader/internal/interfaces"
	"llm-crypto-trader/internal/store"
	"llm-crypto-trader/internal/trace"
	"llm-crypto-trader/internal/types"
)

type Client struct {
	http     *api.Client
	endpoint string
	model    string
}

var _ interfaces.Inference = (*Client)(nil)

// New builds a client for cfg.LLM. Per-call deadlines come from the caller's context.
func New(cfg *store.Config, opts ...api.ClientOption) *Client {
	opts = append([]api.ClientOption{api.WithTimeout(cfg.LLMTimeout()), api.WithLogging(true)}, opts...)
	return &Client{
		http:     api.NewClient(opts...),
		endpoint: cfg.LLM.Endpoint,
		model:    cfg.LLM.Model,
	}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model,omitempty"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
	TopP        float64   `json:"top_p"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
	Stream      bool      `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Client) Generate(ctx context.Context, prompt types.Prompt, opts types.GenerateOptions) (string, error) {
	ctx, span := trace.StartSpan(ctx, "llamacpp.chat_completion")
	defer span.End()

	msgs := make([]message, 0, len(prompt.Turns)+1)
	if prompt.System != "" {
		msgs = append(msgs, message{Role: "system", Content: prompt.System})
	}
	for _, t := range prompt.Turns {
		msgs = append(msgs, message{Role: string(t.Role), Content: t.Content})
	}

	body := chatRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		MaxTokens:   opts.MaxTokens,
		Stop:        opts.Stop,
	}

	resp, err := c.http.POST(ctx, c.endpoint, body)
	if err != nil {
		trace.RecordError(ctx, err)
		return "", fmt.Errorf("chat completion: %w", err)
	}

	var r chatResponse
	if err := resp.ParseJSON(&r); err != nil {
		return "", err
	}
	if len(r.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return strings.TrimSpace(r.Choices[0].Message.Content), nil
}
