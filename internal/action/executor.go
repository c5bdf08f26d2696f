package action

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/siteagent/siteagent/internal/models"
	"github.com/siteagent/siteagent/internal/monitoring"
)

// SecretSource resolves decrypted vault secrets for a tenant.
type SecretSource interface {
	GetDecrypted(ctx context.Context, userID uuid.UUID, names []string) (map[string]string, error)
}

// Outcome is the user-facing result of an action attempt. Failures still
// produce an Answer: the chat surface never shows a raw error for a
// broken action, it apologizes instead.
type Outcome struct {
	Answer string
	// Delivered is true only when the action ran end to end; failed
	// attempts are not billed against the owner's quota.
	Delivered bool
}

// Executor runs keyword-triggered webhook actions.
type Executor struct {
	secrets    SecretSource
	httpClient *http.Client
}

// NewExecutor creates an action executor.
func NewExecutor(secrets SecretSource) *Executor {
	return &Executor{
		secrets: secrets,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Match returns the first action whose keyword list has a case-insensitive
// substring match against the message, in storage order. At most one
// action fires per message.
func Match(actions []models.Action, message string) *models.Action {
	lowered := strings.ToLower(message)
	for i := range actions {
		for _, keyword := range actions[i].TriggerKeywords {
			if keyword != "" && strings.Contains(lowered, strings.ToLower(keyword)) {
				return &actions[i]
			}
		}
	}
	return nil
}

// Execute resolves secrets, substitutes templates, performs the HTTP call
// and renders the success message.
func (e *Executor) Execute(ctx context.Context, act *models.Action, ownerID uuid.UUID, query string) *Outcome {
	outcome, err := e.execute(ctx, act, ownerID, query)
	if err != nil {
		log.Error().Err(err).
			Str("action", act.Name).
			Str("chatbot_id", act.ChatbotID.String()).
			Msg("Action execution failed")
		monitoring.Get().ActionsTriggered.WithLabelValues("error").Inc()
		return &Outcome{
			Answer: fmt.Sprintf("I tried to perform the action '%s', but encountered an error.", act.Name),
		}
	}
	monitoring.Get().ActionsTriggered.WithLabelValues("success").Inc()
	return outcome
}

func (e *Executor) execute(ctx context.Context, act *models.Action, ownerID uuid.UUID, query string) (*Outcome, error) {
	names := ExtractVaultNames(act.Headers)
	for _, n := range ExtractVaultNames(act.RequestBodyTemplate) {
		duplicate := false
		for _, existing := range names {
			if existing == n {
				duplicate = true
				break
			}
		}
		if !duplicate {
			names = append(names, n)
		}
	}

	vaultSecrets, err := e.secrets.GetDecrypted(ctx, ownerID, names)
	if err != nil {
		return nil, fmt.Errorf("resolve vault secrets: %w", err)
	}

	templateContext := map[string]string{
		"user_query": query,
		"chatbot_id": act.ChatbotID.String(),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}

	headers, err := ProcessStringMap(act.Headers, templateContext, vaultSecrets)
	if err != nil {
		return nil, fmt.Errorf("process header template: %w", err)
	}

	var body io.Reader
	if act.HTTPMethod != http.MethodGet && act.RequestBodyTemplate != nil {
		processed, err := ProcessTemplate(act.RequestBodyTemplate, templateContext, vaultSecrets)
		if err != nil {
			return nil, fmt.Errorf("process body template: %w", err)
		}
		raw, err := json.Marshal(processed)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, act.HTTPMethod, act.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute action request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("action endpoint returned %d: %s", resp.StatusCode, string(respBody))
	}

	// Response body may be JSON or plain text; only JSON objects feed
	// {{response.field}} substitution.
	respBody, _ := io.ReadAll(resp.Body)
	var responseData any
	if err := json.Unmarshal(respBody, &responseData); err != nil {
		responseData = string(respBody)
	}

	answer := fmt.Sprintf("Okay, I have performed the action: %s.", act.Name)
	if act.SuccessMessage != nil && *act.SuccessMessage != "" {
		answer = SubstituteResponse(*act.SuccessMessage, responseData)
	}

	return &Outcome{Answer: answer, Delivered: true}, nil
}
