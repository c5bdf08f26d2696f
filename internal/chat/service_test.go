package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/siteagent/siteagent/internal/action"
	"github.com/siteagent/siteagent/internal/llm"
	"github.com/siteagent/siteagent/internal/models"
	"github.com/siteagent/siteagent/internal/quota"
	"github.com/siteagent/siteagent/internal/vector"
)

type fakeChatStore struct {
	bot       *models.Chatbot
	actions   []models.Action
	history   []models.ChatMessage
	saved     []models.ChatMessage
	chunks    map[string][]string
	insertErr error
}

func (f *fakeChatStore) ChatbotByID(_ context.Context, id uuid.UUID) (*models.Chatbot, error) {
	if f.bot == nil || f.bot.ID != id {
		return nil, ErrChatbotNotFound
	}
	return f.bot, nil
}

func (f *fakeChatStore) Actions(_ context.Context, _ uuid.UUID) ([]models.Action, error) {
	return f.actions, nil
}

func (f *fakeChatStore) History(_ context.Context, _, _ uuid.UUID, limit int) ([]models.ChatMessage, error) {
	if len(f.history) > limit {
		return f.history[:limit], nil
	}
	return f.history, nil
}

func (f *fakeChatStore) InsertMessage(_ context.Context, msg *models.ChatMessage) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.saved = append(f.saved, *msg)
	return nil
}

func (f *fakeChatStore) SearchChunkTexts(_ context.Context, _ uuid.UUID, token string, limit int) ([]string, error) {
	found := f.chunks[token]
	if len(found) > limit {
		found = found[:limit]
	}
	return found, nil
}

type fakeChatProvider struct {
	embedErr  error
	requests  []*llm.ChatRequest
	responses []*llm.ChatResponse
}

func (f *fakeChatProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{0.1, 0.2, 0.3}
	}
	return vectors, nil
}

func (f *fakeChatProvider) ChatCompletion(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	captured := *req
	captured.Messages = append([]llm.Message(nil), req.Messages...)
	f.requests = append(f.requests, &captured)

	if len(f.responses) == 0 {
		return nil, errors.New("no scripted response")
	}
	next := f.responses[0]
	f.responses = f.responses[1:]
	return next, nil
}

type fakeChatIndex struct {
	matches []vector.Match
	err     error
}

func (f *fakeChatIndex) Upsert(_ context.Context, _ []vector.Record) error { return nil }

func (f *fakeChatIndex) Query(_ context.Context, _ []float32, _ string, _ int) ([]vector.Match, error) {
	return f.matches, f.err
}

func (f *fakeChatIndex) DeleteByDocument(_ context.Context, _ string) error { return nil }

type fakeQuotaGate struct {
	canErr     error
	increments int
}

func (f *fakeQuotaGate) CanSendMessage(_ context.Context, _ uuid.UUID) error { return f.canErr }

func (f *fakeQuotaGate) IncrementUsage(_ context.Context, _ uuid.UUID) error {
	f.increments++
	return nil
}

type fakeActionRunner struct {
	executed *models.Action
	outcome  *action.Outcome
}

func (f *fakeActionRunner) Execute(_ context.Context, act *models.Action, _ uuid.UUID, _ string) *action.Outcome {
	f.executed = act
	return f.outcome
}

type toolInvocation struct {
	name string
	args []string
}

type fakeToolHandlers struct {
	invocations []toolInvocation
	content     map[string]any
}

func (f *fakeToolHandlers) record(name string, args ...string) map[string]any {
	f.invocations = append(f.invocations, toolInvocation{name: name, args: args})
	if f.content != nil {
		return f.content
	}
	return map[string]any{"data": "ok"}
}

func (f *fakeToolHandlers) ShopifyOrderDetails(_ context.Context, _ uuid.UUID, orderName string) map[string]any {
	return f.record(toolShopifyOrder, orderName)
}

func (f *fakeToolHandlers) CalendlyLink(_ context.Context, _ uuid.UUID, eventTypeURI string) map[string]any {
	return f.record(toolCalendlyLink, eventTypeURI)
}

func (f *fakeToolHandlers) JiraCreateIssue(_ context.Context, _ uuid.UUID, projectKey, summary, description string) map[string]any {
	return f.record(toolJiraIssue, projectKey, summary, description)
}

func (f *fakeToolHandlers) HubspotCreateContact(_ context.Context, _ uuid.UUID, email, firstname, lastname string) map[string]any {
	return f.record(toolHubspotContact, email, firstname, lastname)
}

type fakeConnections struct {
	services map[string]bool
}

func (f *fakeConnections) ConnectedServices(_ context.Context, _ uuid.UUID) (map[string]bool, error) {
	return f.services, nil
}

func textResponse(content string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Choices: []llm.ChatChoice{{Message: llm.Message{Role: "assistant", Content: content}}},
	}
}

func toolCallResponse(callID, name, arguments string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Choices: []llm.ChatChoice{{
			Message: llm.Message{
				Role: "assistant",
				ToolCalls: []llm.ToolCall{{
					ID:   callID,
					Type: "function",
					Function: llm.ToolCallFunction{Name: name, Arguments: arguments},
				}},
			},
		}},
	}
}

type serviceFixture struct {
	service  *Service
	store    *fakeChatStore
	provider *fakeChatProvider
	index    *fakeChatIndex
	quota    *fakeQuotaGate
	runner   *fakeActionRunner
	tools    *fakeToolHandlers
	bot      *models.Chatbot
}

func newServiceFixture(connected map[string]bool) *serviceFixture {
	bot := &models.Chatbot{
		ID:     uuid.New(),
		UserID: uuid.New(),
		Name:   "Support Bot",
	}
	store := &fakeChatStore{bot: bot, chunks: map[string][]string{}}
	provider := &fakeChatProvider{}
	index := &fakeChatIndex{}
	quotaGate := &fakeQuotaGate{}
	runner := &fakeActionRunner{}
	tools := &fakeToolHandlers{}
	connections := &fakeConnections{services: connected}

	return &serviceFixture{
		service:  NewService(store, provider, index, quotaGate, runner, tools, connections),
		store:    store,
		provider: provider,
		index:    index,
		quota:    quotaGate,
		runner:   runner,
		tools:    tools,
		bot:      bot,
	}
}

func vectorMatch(text string) vector.Match {
	return vector.Match{Metadata: &vector.Metadata{ChunkText: text}}
}

func TestAnswer_PlainTurnWithVectorContext(t *testing.T) {
	f := newServiceFixture(nil)
	f.index.matches = []vector.Match{vectorMatch("Opening hours are 9 to 5."), vectorMatch("We ship within Germany.")}
	f.provider.responses = []*llm.ChatResponse{textResponse("We are open from 9 to 5.")}

	resp, err := f.service.Answer(context.Background(), &Request{ChatbotID: f.bot.ID, Query: "When are you open?"})
	require.NoError(t, err)

	assert.Equal(t, "We are open from 9 to 5.", resp.Answer)
	assert.NotEqual(t, uuid.Nil, resp.SessionID)

	// Both turns are persisted, user first.
	require.Len(t, f.store.saved, 2)
	assert.True(t, f.store.saved[0].IsUserMessage)
	assert.Equal(t, "When are you open?", f.store.saved[0].Content)
	assert.False(t, f.store.saved[1].IsUserMessage)
	assert.Equal(t, 1, f.quota.increments)

	require.Len(t, f.provider.requests, 1)
	req := f.provider.requests[0]
	assert.Equal(t, "auto", req.ToolChoice)

	expectedContext := "Opening hours are 9 to 5." + ContextSeparator + "We ship within Germany."
	expectedSystem := BuildSystemMessage(BuildSystemPrompt(nil, Availability{}), expectedContext)
	require.NotEmpty(t, req.Messages)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Equal(t, expectedSystem, req.Messages[0].Content)
	assert.Equal(t, llm.Message{Role: "user", Content: "When are you open?"}, req.Messages[len(req.Messages)-1])
}

func TestAnswer_ReusesProvidedSessionID(t *testing.T) {
	f := newServiceFixture(nil)
	f.provider.responses = []*llm.ChatResponse{textResponse("Hello again.")}
	sessionID := uuid.New()

	resp, err := f.service.Answer(context.Background(), &Request{ChatbotID: f.bot.ID, Query: "hi", SessionID: sessionID})
	require.NoError(t, err)

	assert.Equal(t, sessionID, resp.SessionID)
	assert.Equal(t, sessionID, f.store.saved[0].SessionID)
}

func TestAnswer_UnknownChatbot(t *testing.T) {
	f := newServiceFixture(nil)

	_, err := f.service.Answer(context.Background(), &Request{ChatbotID: uuid.New(), Query: "hi"})

	assert.ErrorIs(t, err, ErrChatbotNotFound)
	assert.Empty(t, f.store.saved)
}

func TestAnswer_QuotaExhausted(t *testing.T) {
	f := newServiceFixture(nil)
	f.quota.canErr = quota.ErrQuotaExhausted

	_, err := f.service.Answer(context.Background(), &Request{ChatbotID: f.bot.ID, Query: "hi"})

	assert.ErrorIs(t, err, quota.ErrQuotaExhausted)
	// Rejected turns are neither logged nor billed.
	assert.Empty(t, f.store.saved)
	assert.Zero(t, f.quota.increments)
	assert.Empty(t, f.provider.requests)
}

func TestAnswer_ActionShortCircuit(t *testing.T) {
	f := newServiceFixture(nil)
	f.store.actions = []models.Action{{
		ID:              uuid.New(),
		ChatbotID:       f.bot.ID,
		Name:            "Notify team",
		TriggerKeywords: []string{"contact sales"},
	}}
	f.runner.outcome = &action.Outcome{Answer: "Okay, I have performed the action: Notify team.", Delivered: true}

	resp, err := f.service.Answer(context.Background(), &Request{ChatbotID: f.bot.ID, Query: "Please CONTACT SALES for me"})
	require.NoError(t, err)

	assert.Equal(t, "Okay, I have performed the action: Notify team.", resp.Answer)
	require.NotNil(t, f.runner.executed)
	assert.Equal(t, "Notify team", f.runner.executed.Name)
	assert.Equal(t, 1, f.quota.increments)
	// The model is never consulted when an action fires.
	assert.Empty(t, f.provider.requests)
	// Both sides of the turn are logged, user first.
	require.Len(t, f.store.saved, 2)
	assert.True(t, f.store.saved[0].IsUserMessage)
	assert.False(t, f.store.saved[1].IsUserMessage)
}

func TestAnswer_ActionAnswerIsPersisted(t *testing.T) {
	f := newServiceFixture(nil)
	f.store.actions = []models.Action{{
		ID:              uuid.New(),
		ChatbotID:       f.bot.ID,
		Name:            "Ship order",
		TriggerKeywords: []string{"ship"},
	}}
	f.runner.outcome = &action.Outcome{Answer: "Order shipped.", Delivered: true}
	sessionID := uuid.New()

	_, err := f.service.Answer(context.Background(), &Request{ChatbotID: f.bot.ID, Query: "ship my order", SessionID: sessionID})
	require.NoError(t, err)

	require.Len(t, f.store.saved, 2)
	reply := f.store.saved[1]
	assert.False(t, reply.IsUserMessage)
	assert.Equal(t, "Order shipped.", reply.Content)
	assert.Equal(t, sessionID, reply.SessionID)
	assert.Equal(t, f.bot.ID, reply.ChatbotID)
}

func TestAnswer_FailedActionNotBilled(t *testing.T) {
	f := newServiceFixture(nil)
	f.store.actions = []models.Action{{
		ID:              uuid.New(),
		ChatbotID:       f.bot.ID,
		Name:            "Broken hook",
		TriggerKeywords: []string{"trigger"},
	}}
	f.runner.outcome = &action.Outcome{Answer: "I tried to perform the action 'Broken hook', but encountered an error."}

	resp, err := f.service.Answer(context.Background(), &Request{ChatbotID: f.bot.ID, Query: "trigger it"})
	require.NoError(t, err)

	assert.Contains(t, resp.Answer, "encountered an error")
	assert.Zero(t, f.quota.increments)
	// The apology is still logged so the session reads coherently.
	require.Len(t, f.store.saved, 2)
	assert.Equal(t, resp.Answer, f.store.saved[1].Content)
}

func TestAnswer_EmbeddingFailureIsFatal(t *testing.T) {
	f := newServiceFixture(nil)
	f.provider.embedErr = errors.New("embeddings down")

	_, err := f.service.Answer(context.Background(), &Request{ChatbotID: f.bot.ID, Query: "hi"})

	require.Error(t, err)
	assert.Zero(t, f.quota.increments)
	// The user turn was already logged before the failure.
	require.Len(t, f.store.saved, 1)
	assert.True(t, f.store.saved[0].IsUserMessage)
}

func TestAnswer_VectorErrorDegradesToFallback(t *testing.T) {
	f := newServiceFixture(nil)
	f.index.err = errors.New("index unavailable")
	f.store.chunks["shipping"] = []string{"Shipping takes 3 days."}
	f.provider.responses = []*llm.ChatResponse{textResponse("3 days.")}

	resp, err := f.service.Answer(context.Background(), &Request{ChatbotID: f.bot.ID, Query: "shipping time?"})
	require.NoError(t, err)

	assert.Equal(t, "3 days.", resp.Answer)
	require.Len(t, f.provider.requests, 1)
	assert.Contains(t, f.provider.requests[0].Messages[0].Content, "Shipping takes 3 days.")
}

func TestAnswer_NoContextPlaceholderWhenNothingFound(t *testing.T) {
	f := newServiceFixture(nil)
	f.provider.responses = []*llm.ChatResponse{textResponse("I do not know.")}

	_, err := f.service.Answer(context.Background(), &Request{ChatbotID: f.bot.ID, Query: "anything known?"})
	require.NoError(t, err)

	assert.Contains(t, f.provider.requests[0].Messages[0].Content, NoContextFound)
}

func TestAnswer_HistoryWindowedToNewestFifteen(t *testing.T) {
	f := newServiceFixture(nil)
	sessionID := uuid.New()
	for i := 0; i < 20; i++ {
		f.store.history = append(f.store.history, models.ChatMessage{
			ChatbotID:     f.bot.ID,
			SessionID:     sessionID,
			IsUserMessage: i%2 == 0,
			Content:       fmt.Sprintf("turn %d", i),
		})
	}
	f.provider.responses = []*llm.ChatResponse{textResponse("done")}

	_, err := f.service.Answer(context.Background(), &Request{ChatbotID: f.bot.ID, Query: "latest", SessionID: sessionID})
	require.NoError(t, err)

	// system + 15 history + current query
	req := f.provider.requests[0]
	require.Len(t, req.Messages, 17)
	assert.Equal(t, "turn 5", req.Messages[1].Content)
	assert.Equal(t, "turn 19", req.Messages[15].Content)
}

func TestAnswer_ToolsFilteredByAvailability(t *testing.T) {
	f := newServiceFixture(map[string]bool{models.ServiceJira: true, models.ServiceHubspot: true})
	f.bot.IntegrationJira = true
	// HubSpot is connected but toggled off for this chatbot.
	f.bot.IntegrationHubspot = false
	f.provider.responses = []*llm.ChatResponse{textResponse("ok")}

	_, err := f.service.Answer(context.Background(), &Request{ChatbotID: f.bot.ID, Query: "hi"})
	require.NoError(t, err)

	var names []string
	for _, tool := range f.provider.requests[0].Tools {
		names = append(names, tool.Function.Name)
	}
	assert.Equal(t, []string{toolShopifyOrder, toolJiraIssue}, names)
}

func TestAnswer_ToolCallRoundTrip(t *testing.T) {
	f := newServiceFixture(nil)
	f.tools.content = map[string]any{"data": map[string]any{"name": "#1001", "financial_status": "paid"}}
	f.provider.responses = []*llm.ChatResponse{
		toolCallResponse("call_1", toolShopifyOrder, `{"order_name":"#1001"}`),
		textResponse("Your order #1001 is paid."),
	}

	resp, err := f.service.Answer(context.Background(), &Request{ChatbotID: f.bot.ID, Query: "where is order 1001?"})
	require.NoError(t, err)

	assert.Equal(t, "Your order #1001 is paid.", resp.Answer)
	require.Len(t, f.tools.invocations, 1)
	assert.Equal(t, toolShopifyOrder, f.tools.invocations[0].name)
	assert.Equal(t, []string{"#1001"}, f.tools.invocations[0].args)

	// Second completion sees the assistant tool-call turn plus the tool
	// result, and carries no tool definitions.
	require.Len(t, f.provider.requests, 2)
	final := f.provider.requests[1]
	assert.Empty(t, final.Tools)

	toolMsg := final.Messages[len(final.Messages)-1]
	assert.Equal(t, "tool", toolMsg.Role)
	assert.Equal(t, "call_1", toolMsg.ToolCallID)

	var content map[string]any
	require.NoError(t, json.Unmarshal([]byte(toolMsg.Content), &content))
	assert.Equal(t, f.tools.content, content)

	assistantMsg := final.Messages[len(final.Messages)-2]
	require.Len(t, assistantMsg.ToolCalls, 1)
	assert.Equal(t, "call_1", assistantMsg.ToolCalls[0].ID)
}

func TestAnswer_UnknownToolGetsStubResult(t *testing.T) {
	f := newServiceFixture(nil)
	f.provider.responses = []*llm.ChatResponse{
		toolCallResponse("call_9", "send_rocket", `{}`),
		textResponse("I cannot do that."),
	}

	resp, err := f.service.Answer(context.Background(), &Request{ChatbotID: f.bot.ID, Query: "launch"})
	require.NoError(t, err)

	assert.Equal(t, "I cannot do that.", resp.Answer)
	assert.Empty(t, f.tools.invocations)

	toolMsg := f.provider.requests[1].Messages[len(f.provider.requests[1].Messages)-1]
	assert.JSONEq(t, `{"error":"Tool not implemented."}`, toolMsg.Content)
}

func TestAnswer_EmptyFinalAnswerAfterTools(t *testing.T) {
	f := newServiceFixture(nil)
	f.provider.responses = []*llm.ChatResponse{
		toolCallResponse("call_1", toolCalendlyLink, `{}`),
		textResponse(""),
	}

	resp, err := f.service.Answer(context.Background(), &Request{ChatbotID: f.bot.ID, Query: "book a meeting"})
	require.NoError(t, err)

	assert.Equal(t, "I am unable to complete the requested action.", resp.Answer)
}

func TestAnswer_EmptyAnswerWithoutToolsIsError(t *testing.T) {
	f := newServiceFixture(nil)
	f.provider.responses = []*llm.ChatResponse{textResponse("   ")}

	_, err := f.service.Answer(context.Background(), &Request{ChatbotID: f.bot.ID, Query: "hi"})

	require.Error(t, err)
	assert.Zero(t, f.quota.increments)
}

func TestProperty_FallbackContextIsDedupedAndCapped(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		texts := rapid.SliceOfN(rapid.StringMatching(`[a-z]{1,8}( [a-z]{1,8}){0,4}`), 0, 24).Draw(t, "texts")

		f := newServiceFixture(nil)
		f.store.chunks["information"] = texts
		f.provider.responses = []*llm.ChatResponse{textResponse("ok")}

		_, err := f.service.Answer(context.Background(), &Request{ChatbotID: f.bot.ID, Query: "information"})
		if err != nil {
			t.Fatalf("PROPERTY VIOLATION: turn failed: %v", err)
		}

		// The store is asked for at most MatchCount rows for a single
		// token; dedup applies to what it returned.
		fetched := texts
		if len(fetched) > MatchCount {
			fetched = fetched[:MatchCount]
		}
		var expected []string
		seen := make(map[string]struct{})
		for _, text := range fetched {
			if _, dup := seen[text]; dup {
				continue
			}
			seen[text] = struct{}{}
			expected = append(expected, text)
		}

		expectedContext := NoContextFound
		if len(expected) > 0 {
			expectedContext = strings.Join(expected, ContextSeparator)
		}
		expectedSystem := BuildSystemMessage(BuildSystemPrompt(nil, Availability{}), expectedContext)

		got := f.provider.requests[0].Messages[0].Content
		if got != expectedSystem {
			t.Fatalf("PROPERTY VIOLATION: context block mismatch\nwant: %q\ngot:  %q", expectedSystem, got)
		}
	})
}
