// Package llm is the upstream chat-completions client. One Call is one
// upstream request with retry/backoff; throttling across calls is the swarm
// engine's concern, never the client's.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/warrenet/nebula/pkg/config"
)

// Retry policy: exponential backoff 1s → 32s, at most 5 retries, applied to
// 429, 5xx and transport errors. Other 4xx surface immediately.
const (
	maxRetries  = 5
	baseBackoff = 1 * time.Second
	maxBackoff  = 32 * time.Second
)

// maxErrBody bounds how much upstream error body is kept in error values.
const maxErrBody = 512

// Role constants for chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one turn in the conversation sent upstream.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the upstream chat-completions request body.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

// Usage reports upstream token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// ChatResponse is the parsed upstream reply: the first choice's content
// plus token usage.
type ChatResponse struct {
	Content string
	Usage   Usage
}

// wire types for the upstream JSON shape.
type upstreamResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// Client issues single chat-completion calls. Stateless: concurrent callers
// share only the underlying http.Client connection pool.
type Client struct {
	apiKey  string
	baseURL string
	referer string
	title   string
	http    *http.Client
}

// NewClient builds a Client from config. Fails fast with ErrMissingAPIKey
// when the credential is absent.
func NewClient(cfg *config.Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: cfg.APIBaseURL,
		referer: cfg.Referer,
		title:   cfg.Title,
		http:    &http.Client{Timeout: 120 * time.Second},
	}, nil
}

// Call sends one chat-completions request, retrying 429/5xx/transport
// errors with exponential backoff. Context cancellation aborts both the
// in-flight request and any backoff sleep.
func (c *Client) Call(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var resp *ChatResponse
	operation := func() error {
		r, err := c.doOnce(ctx, payload)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = baseBackoff
	b.MaxInterval = maxBackoff
	b.Multiplier = 2
	b.MaxElapsedTime = 0 // retry count is the only cap

	err = backoff.Retry(operation, backoff.WithMaxRetries(backoff.WithContext(b, ctx), maxRetries))
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// doOnce performs a single HTTP round trip and classifies the outcome for
// the retry wrapper: nil (success), retryable error, or backoff.Permanent.
func (c *Client) doOnce(ctx context.Context, payload []byte) (*ChatResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("User-Agent", config.Version())
	if c.referer != "" {
		httpReq.Header.Set("HTTP-Referer", c.referer)
	}
	if c.title != "" {
		httpReq.Header.Set("X-Title", c.title)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, &UpstreamError{Body: err.Error()}
	}
	defer httpResp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))

	switch {
	case httpResp.StatusCode == http.StatusOK:
		// parsed below

	case httpResp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitError{
			RetryAfter: parseRetryAfter(httpResp.Header.Get("Retry-After")),
		}

	case httpResp.StatusCode >= 500:
		return nil, &UpstreamError{Status: httpResp.StatusCode, Body: truncate(body)}

	default:
		// 4xx other than 429: surface without retry.
		return nil, backoff.Permanent(&UpstreamError{
			Status: httpResp.StatusCode, Body: truncate(body),
		})
	}

	var parsed upstreamResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode response: %w", err))
	}
	if len(parsed.Choices) == 0 {
		return nil, backoff.Permanent(&UpstreamError{
			Status: httpResp.StatusCode, Body: "response has no choices",
		})
	}

	return &ChatResponse{
		Content: parsed.Choices[0].Message.Content,
		Usage:   parsed.Usage,
	}, nil
}

// parseRetryAfter parses the delay-seconds form of a Retry-After header.
// HTTP-date form and garbage both yield zero.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func truncate(body []byte) string {
	if len(body) > maxErrBody {
		return string(body[:maxErrBody]) + "..."
	}
	return string(body)
}
