package llm

// #region imports
import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// #endregion imports

// #region types

// Message is one chat turn sent to the capability.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest describes one generation call.
type ChatRequest struct {
	Messages    []Message
	MaxTokens   int
	Temperature float64
	JSONMode    bool // ask the endpoint for a JSON object response
}

// ChatResult holds the response from a generation call.
type ChatResult struct {
	Text  string
	Usage Usage
}

// Usage is token accounting for one capability call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates usage from another call.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// #endregion types

// #region errors

// APIError is a non-2xx response from the capability endpoint.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm api status %d: %s", e.Status, e.Message)
}

// IsTransient reports whether err is worth exactly one retry:
// timeouts, connection failures, 429 and 5xx responses.
// Malformed-request classes (4xx other than 429) are not retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= 500
	}
	return false
}

// #endregion errors

// #region client-struct

// Client talks to an OpenAI-compatible chat/embeddings endpoint over HTTP.
// It is the only place in the engine that knows the wire protocol.
type Client struct {
	baseURL    string
	apiKey     string
	chatModel  string
	embedModel string
	http       *http.Client
}

// Config holds client construction parameters.
type Config struct {
	BaseURL    string
	APIKey     string
	ChatModel  string
	EmbedModel string
	Timeout    time.Duration
}

// NewClient creates a Client for the given endpoint.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		chatModel:  cfg.ChatModel,
		embedModel: cfg.EmbedModel,
		http:       &http.Client{Timeout: timeout},
	}
}

// NewClientWithHTTP creates a Client with an injected http.Client.
// Used for testing against httptest servers without real timeouts.
func NewClientWithHTTP(cfg Config, hc *http.Client) *Client {
	c := NewClient(cfg)
	c.http = hc
	return c
}

// #endregion client-struct

// #region wire-format

type wireRequest struct {
	Model          string     `json:"model"`
	Messages       []Message  `json:"messages"`
	MaxTokens      int        `json:"max_tokens,omitempty"`
	Temperature    float64    `json:"temperature,omitempty"`
	Stream         bool       `json:"stream,omitempty"`
	StreamOptions  *streamOpt `json:"stream_options,omitempty"`
	ResponseFormat *respFmt   `json:"response_format,omitempty"`
}

type streamOpt struct {
	IncludeUsage bool `json:"include_usage"`
}

type respFmt struct {
	Type string `json:"type"`
}

type wireResponse struct {
	Choices []struct {
		Message Message `json:"message"`
		Delta   Message `json:"delta"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// #endregion wire-format

// #region complete

// Complete sends a chat request and waits for the full response.
func (c *Client) Complete(ctx context.Context, req ChatRequest) (ChatResult, error) {
	body := wireRequest{
		Model:       c.chatModel,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.JSONMode {
		body.ResponseFormat = &respFmt{Type: "json_object"}
	}

	resp, err := c.post(ctx, "/chat/completions", body)
	if err != nil {
		return ChatResult{}, err
	}
	defer resp.Body.Close()

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return ChatResult{}, fmt.Errorf("decode chat response: %w", err)
	}
	if len(wire.Choices) == 0 {
		return ChatResult{}, fmt.Errorf("chat response: no choices")
	}

	result := ChatResult{Text: wire.Choices[0].Message.Content}
	if wire.Usage != nil {
		result.Usage = *wire.Usage
	}
	return result, nil
}

// #endregion complete

// #region stream

// Stream sends a chat request with SSE streaming and invokes onDelta for each
// token chunk in arrival order. Returns the accumulated result. A non-nil
// error from onDelta aborts the stream (cooperative cancellation).
func (c *Client) Stream(ctx context.Context, req ChatRequest, onDelta func(delta string) error) (ChatResult, error) {
	body := wireRequest{
		Model:         c.chatModel,
		Messages:      req.Messages,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		Stream:        true,
		StreamOptions: &streamOpt{IncludeUsage: true},
	}

	resp, err := c.post(ctx, "/chat/completions", body)
	if err != nil {
		return ChatResult{}, err
	}
	defer resp.Body.Close()

	var result ChatResult
	var accumulated strings.Builder

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		var wire wireResponse
		if err := json.Unmarshal([]byte(payload), &wire); err != nil {
			continue // tolerate malformed keepalive chunks
		}
		if wire.Usage != nil {
			result.Usage = *wire.Usage
		}
		if len(wire.Choices) == 0 {
			continue
		}
		delta := wire.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		accumulated.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return result, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("read stream: %w", err)
	}

	result.Text = accumulated.String()
	return result, nil
}

// #endregion stream

// #region embed

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage *Usage `json:"usage"`
}

// Embed returns the embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.post(ctx, "/embeddings", embedRequest{Model: c.embedModel, Input: text})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var wire embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(wire.Data) == 0 {
		return nil, fmt.Errorf("embedding response: no data")
	}
	return wire.Data[0].Embedding, nil
}

// #endregion embed

// #region post

func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		var wire wireResponse
		detail := strings.TrimSpace(string(msg))
		if json.Unmarshal(msg, &wire) == nil && wire.Error != nil {
			detail = wire.Error.Message
		}
		return nil, &APIError{Status: resp.StatusCode, Message: detail}
	}
	return resp, nil
}

// #endregion post
