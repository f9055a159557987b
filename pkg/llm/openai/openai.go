// Package openai implements llm.Client against an OpenAI-compatible
// chat-completions endpoint (OpenAI itself, and any self-hosted server —
// e.g. Ollama's OpenAI compatibility mode — that speaks the same wire
// format). Kept out of pkg/llm itself: that package is deliberately
// vendor-agnostic.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/distrihub/distri-sub004/pkg/distrierr"
	"github.com/distrihub/distri-sub004/pkg/llm"
	"github.com/distrihub/distri-sub004/pkg/message"
)

// Client talks to an OpenAI-compatible chat-completions endpoint.
type Client struct {
	apiKey  string
	model   string
	baseURL string
	http    *http.Client
}

// Config configures a Client.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string // defaults to https://api.openai.com/v1
	Timeout time.Duration
}

// New builds a Client from cfg.
func New(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatFunction struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Tools    []chatTool    `json:"tools,omitempty"`
	Stream   bool          `json:"stream,omitempty"`
}

type chatToolCall struct {
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatChoice struct {
	Message struct {
		Content   string         `json:"content"`
		ToolCalls []chatToolCall `json:"tool_calls"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Usage   struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) buildRequest(messages []*message.Message, tools []llm.ToolDefinition, stream bool) chatRequest {
	req := chatRequest{Model: c.model, Stream: stream}
	for _, m := range messages {
		req.Messages = append(req.Messages, chatMessage{Role: string(m.Role), Content: m.Text()})
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, chatTool{Type: "function", Function: chatFunction{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		}})
	}
	return req
}

// Generate implements llm.Client.
func (c *Client) Generate(ctx context.Context, messages []*message.Message, tools []llm.ToolDefinition) (*llm.Completion, error) {
	body, err := json.Marshal(c.buildRequest(messages, tools, false))
	if err != nil {
		return nil, distrierr.Wrap(distrierr.LLM, err, "marshal chat request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, distrierr.Wrap(distrierr.LLM, err, "build chat request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, distrierr.Wrap(distrierr.LLM, err, "call chat completions endpoint")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, distrierr.Wrap(distrierr.LLM, err, "read chat completions response")
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, distrierr.Wrap(distrierr.LLM, err, "decode chat completions response")
	}
	if parsed.Error != nil {
		return nil, distrierr.Newf(distrierr.LLM, "chat completions error: %s", parsed.Error.Message)
	}
	if resp.StatusCode >= 300 {
		return nil, distrierr.Newf(distrierr.LLM, "chat completions returned status %d", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return nil, distrierr.New(distrierr.LLM, "chat completions returned no choices")
	}

	choice := parsed.Choices[0]
	completion := &llm.Completion{Text: choice.Message.Content, TokensUsed: parsed.Usage.TotalTokens}
	for _, tc := range choice.Message.ToolCalls {
		var args any
		if tc.Function.Arguments != "" {
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		}
		completion.ToolCalls = append(completion.ToolCalls, &message.ToolCall{
			ToolCallID: tc.ID,
			ToolName:   tc.Function.Name,
			Input:      args,
		})
	}
	return completion, nil
}

// GenerateStreaming implements llm.Client. The underlying transport doesn't
// stream server-sent events in this trimmed client; it buffers the full
// completion and replays it through onDelta as a single chunk.
func (c *Client) GenerateStreaming(ctx context.Context, messages []*message.Message, tools []llm.ToolDefinition, onDelta func(string)) (*llm.Completion, error) {
	completion, err := c.Generate(ctx, messages, tools)
	if err != nil {
		return nil, err
	}
	if onDelta != nil && completion.Text != "" {
		onDelta(completion.Text)
	}
	return completion, nil
}

// SupportsToolCalling implements llm.Client.
func (c *Client) SupportsToolCalling() bool { return true }

var _ llm.Client = (*Client)(nil)
