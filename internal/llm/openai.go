package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/siteagent/siteagent/internal/config"
	"github.com/siteagent/siteagent/internal/monitoring"
)

// Client errors
var (
	ErrUpstreamError   = errors.New("openai upstream error")
	ErrUpstreamTimeout = errors.New("openai upstream timeout")
	ErrCircuitOpen     = errors.New("openai circuit breaker is open")
)

const (
	chatCompletionsURL = "https://api.openai.com/v1/chat/completions"
	embeddingsURL      = "https://api.openai.com/v1/embeddings"

	// Generation parameters for the chatbot answer model.
	DefaultTemperature = 0.3
	DefaultMaxTokens   = 500
)

// Message is one turn in a chat completion conversation.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Tool describes a callable function exposed to the model.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction is the schema half of a Tool.
type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is a model-initiated function invocation.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction carries the call target and raw JSON arguments.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatRequest is the chat completions request body.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Tools       []Tool    `json:"tools,omitempty"`
	ToolChoice  string    `json:"tool_choice,omitempty"`
}

// ChatChoice is one completion candidate.
type ChatChoice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// ChatUsage reports token accounting for a completion.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is the chat completions response body.
type ChatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   ChatUsage    `json:"usage"`
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingData struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

type embeddingResponse struct {
	Data []embeddingData `json:"data"`
}

// Provider is the model-call surface the pipeline and chat engine depend on.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}

// Client calls the OpenAI REST API for embeddings and chat completions.
// All calls go through a shared circuit breaker so a flapping upstream
// fails fast instead of piling up requests.
type Client struct {
	config     *config.OpenAIConfig
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// NewClient creates an OpenAI client from configuration.
func NewClient(cfg *config.OpenAIConfig) *Client {
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "openai",
			MaxRequests: 5,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Info().
					Str("circuit_breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("Circuit breaker state changed")
			},
			IsSuccessful: func(err error) bool {
				if err == nil {
					return true
				}
				return !errors.Is(err, ErrUpstreamError) && !errors.Is(err, ErrUpstreamTimeout)
			},
		}),
	}
}

// ChatModel returns the configured completion model name.
func (c *Client) ChatModel() string {
	return c.config.ChatModel
}

// Embed requests embeddings for a batch of texts. The result preserves
// input order; its length can be shorter than the input if the provider
// returned fewer vectors, which callers must check.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	body := &embeddingRequest{
		Model: c.config.EmbeddingModel,
		Input: texts,
	}

	var resp embeddingResponse
	if err := c.post(ctx, "embeddings", embeddingsURL, body, &resp); err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		idx := d.Index
		if idx < 0 || idx >= len(vectors) {
			idx = i
		}
		vectors[idx] = d.Embedding
	}
	return vectors, nil
}

// ChatCompletion requests a completion. The caller owns message assembly
// and tool wiring; missing model/temperature/max_tokens fall back to the
// configured defaults.
func (c *Client) ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if req.Model == "" {
		req.Model = c.config.ChatModel
	}
	if req.Temperature == 0 {
		req.Temperature = DefaultTemperature
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = DefaultMaxTokens
	}

	var resp ChatResponse
	if err := c.post(ctx, "chat_completions", chatCompletionsURL, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty choices", ErrUpstreamError)
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, operation, url string, body, out any) error {
	start := time.Now()

	_, err := c.breaker.Execute(func() (interface{}, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		return nil, c.postInternal(ctx, url, body, out)
	})

	m := monitoring.Get()
	m.ProviderLatency.WithLabelValues("openai", operation).Observe(time.Since(start).Seconds())

	if err != nil {
		m.ProviderErrors.WithLabelValues("openai", operation).Inc()
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			log.Warn().Str("operation", operation).Msg("Circuit breaker is open, rejecting request")
			return ErrCircuitOpen
		}
		return err
	}
	return nil
}

func (c *Client) postInternal(ctx context.Context, url string, body, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return ErrUpstreamTimeout
		}
		return fmt.Errorf("%w: %v", ErrUpstreamError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		log.Error().
			Int("status", resp.StatusCode).
			Str("body", string(respBody)).
			Str("url", url).
			Msg("Upstream error")
		return fmt.Errorf("%w: status %d", ErrUpstreamError, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
