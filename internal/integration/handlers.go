package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Handlers implements the fixed set of model-callable integrations. Every
// handler resolves the chatbot owner, decrypts that owner's stored token
// and calls the third-party REST API. Handlers never propagate errors past
// their boundary: failures come back inside the tool content so the model
// can relay them conversationally.
type Handlers struct {
	tokens     TokenSource
	httpClient *http.Client
}

// NewHandlers creates the integration handler set.
func NewHandlers(tokens TokenSource) *Handlers {
	return &Handlers{
		tokens: tokens,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (h *Handlers) ownerToken(ctx context.Context, chatbotID uuid.UUID, service string) (string, map[string]string, error) {
	ownerID, err := h.tokens.ResolveOwner(ctx, chatbotID)
	if err != nil {
		return "", nil, fmt.Errorf("resolve owner: %w", err)
	}
	return h.tokens.AccessToken(ctx, ownerID, service)
}

func (h *Handlers) getJSON(ctx context.Context, url string, headers map[string]string, out any) error {
	return h.doJSON(ctx, http.MethodGet, url, headers, nil, out)
}

func (h *Handlers) doJSON(ctx context.Context, method, url string, headers map[string]string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		log.Error().
			Str("url", url).
			Int("status", resp.StatusCode).
			Str("body", string(respBody)).
			Msg("Integration API request failed")
		return fmt.Errorf("API error: %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// errContent is the uniform failure shape fed back to the model.
func errContent(msg string) map[string]any {
	return map[string]any{"error": msg}
}
