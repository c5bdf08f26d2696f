package vector

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
	ErrUpstreamError   = errors.New("pinecone upstream error")
	ErrUpstreamTimeout = errors.New("pinecone upstream timeout")
	ErrCircuitOpen     = errors.New("pinecone circuit breaker is open")
)

// defaultUpsertBatchSize caps one upsert request when no limit is
// configured.
const defaultUpsertBatchSize = 100

// Metadata travels with each vector so query hits can be rendered as
// retrieval context without a second relational lookup.
type Metadata struct {
	ChunkText   string `json:"chunk_text"`
	DocumentID  string `json:"document_id"`
	ChatbotID   string `json:"chatbot_id"`
	FileName    string `json:"file_name"`
	ChunkIndex  int    `json:"chunk_index"`
	ContentType string `json:"content_type"`
	ChunkLength int    `json:"chunk_length"`
}

// Record is one vector to upsert, keyed {documentID}-{chunkIndex}.
type Record struct {
	ID       string    `json:"id"`
	Values   []float32 `json:"values"`
	Metadata Metadata  `json:"metadata"`
}

// Match is one query hit.
type Match struct {
	ID       string    `json:"id"`
	Score    float32   `json:"score"`
	Metadata *Metadata `json:"metadata"`
}

// Index is the vector store surface the pipeline and chat engine depend on.
type Index interface {
	Upsert(ctx context.Context, records []Record) error
	Query(ctx context.Context, vector []float32, chatbotID string, topK int) ([]Match, error)
	DeleteByDocument(ctx context.Context, documentID string) error
}

// Client talks to a Pinecone index over its data-plane REST API.
type Client struct {
	config     *config.PineconeConfig
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// NewClient creates a Pinecone index client from configuration.
func NewClient(cfg *config.PineconeConfig) *Client {
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "pinecone",
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

type upsertRequest struct {
	Vectors []Record `json:"vectors"`
}

// Upsert writes records to the index, splitting into sub-batches to stay
// under the provider's request limit. Batches are sent in order; the first
// failure aborts the remainder.
func (c *Client) Upsert(ctx context.Context, records []Record) error {
	batchSize := c.config.UpsertBatchSize
	if batchSize <= 0 {
		batchSize = defaultUpsertBatchSize
	}
	for start := 0; start < len(records); start += batchSize {
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}

		req := &upsertRequest{Vectors: records[start:end]}
		if err := c.post(ctx, "upsert", "/vectors/upsert", req, &struct{}{}); err != nil {
			return err
		}
		monitoring.Get().VectorUpserts.Add(float64(end - start))
	}
	return nil
}

type queryRequest struct {
	Vector          []float32      `json:"vector"`
	TopK            int            `json:"topK"`
	IncludeMetadata bool           `json:"includeMetadata"`
	Filter          map[string]any `json:"filter"`
}

type queryResponse struct {
	Matches []Match `json:"matches"`
}

// Query returns the topK nearest neighbors scoped to one chatbot. No
// similarity floor is applied; relevance judgment is left to the caller.
func (c *Client) Query(ctx context.Context, vec []float32, chatbotID string, topK int) ([]Match, error) {
	req := &queryRequest{
		Vector:          vec,
		TopK:            topK,
		IncludeMetadata: true,
		Filter: map[string]any{
			"chatbot_id": map[string]any{"$eq": chatbotID},
		},
	}

	var resp queryResponse
	if err := c.post(ctx, "query", "/query", req, &resp); err != nil {
		monitoring.Get().VectorQueries.WithLabelValues("error").Inc()
		return nil, err
	}

	result := "hit"
	if len(resp.Matches) == 0 {
		result = "empty"
	}
	monitoring.Get().VectorQueries.WithLabelValues(result).Inc()
	return resp.Matches, nil
}

type deleteRequest struct {
	Filter map[string]any `json:"filter"`
}

// DeleteByDocument removes every vector belonging to a document via a
// metadata filter, covering ids this process never saw.
func (c *Client) DeleteByDocument(ctx context.Context, documentID string) error {
	req := &deleteRequest{
		Filter: map[string]any{
			"document_id": map[string]any{"$eq": documentID},
		},
	}
	return c.post(ctx, "delete", "/vectors/delete", req, &struct{}{})
}

func (c *Client) post(ctx context.Context, operation, path string, body, out any) error {
	start := time.Now()

	_, err := c.breaker.Execute(func() (interface{}, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		return nil, c.postInternal(ctx, path, body, out)
	})

	m := monitoring.Get()
	m.ProviderLatency.WithLabelValues("pinecone", operation).Observe(time.Since(start).Seconds())

	if err != nil {
		m.ProviderErrors.WithLabelValues("pinecone", operation).Inc()
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			log.Warn().Str("operation", operation).Msg("Circuit breaker is open, rejecting request")
			return ErrCircuitOpen
		}
		return err
	}
	return nil
}

func (c *Client) postInternal(ctx context.Context, path string, body, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.config.IndexHost+path, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Api-Key", c.config.APIKey)

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
			Str("path", path).
			Msg("Upstream error")
		return fmt.Errorf("%w: status %d", ErrUpstreamError, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
