package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/siteagent/siteagent/internal/action"
	"github.com/siteagent/siteagent/internal/llm"
	"github.com/siteagent/siteagent/internal/models"
	"github.com/siteagent/siteagent/internal/monitoring"
	"github.com/siteagent/siteagent/internal/vector"
)

const (
	// MatchCount is how many chunks feed the context block, from the
	// vector index or the keyword fallback.
	MatchCount = 8

	// similarityThreshold is the intended score floor for vector matches.
	// Retrieval currently takes the top K unfiltered; the index query path
	// does not apply this yet.
	similarityThreshold = 0.65

	// History handling: up to 30 rows are read per session, the newest 15
	// are replayed to the model.
	historyFetchLimit = 30
	historyWindow     = 15
)

// Request is one visitor turn against a public chatbot.
type Request struct {
	ChatbotID uuid.UUID
	Query     string
	// SessionID groups turns into a conversation. uuid.Nil starts a new
	// session.
	SessionID uuid.UUID
}

// Response carries the answer and the session the turn was logged under.
type Response struct {
	Answer    string    `json:"answer"`
	SessionID uuid.UUID `json:"sessionId"`
}

// QuotaGate guards turns against the owner's message quota.
type QuotaGate interface {
	CanSendMessage(ctx context.Context, userID uuid.UUID) error
	IncrementUsage(ctx context.Context, userID uuid.UUID) error
}

// ActionRunner executes a matched keyword action.
type ActionRunner interface {
	Execute(ctx context.Context, act *models.Action, ownerID uuid.UUID, query string) *action.Outcome
}

// ToolHandlers is the model-callable integration surface.
type ToolHandlers interface {
	ShopifyOrderDetails(ctx context.Context, chatbotID uuid.UUID, orderName string) map[string]any
	CalendlyLink(ctx context.Context, chatbotID uuid.UUID, eventTypeURI string) map[string]any
	JiraCreateIssue(ctx context.Context, chatbotID uuid.UUID, projectKey, summary, description string) map[string]any
	HubspotCreateContact(ctx context.Context, chatbotID uuid.UUID, email, firstname, lastname string) map[string]any
}

// ConnectionSource reports which services a user has OAuth tokens for.
type ConnectionSource interface {
	ConnectedServices(ctx context.Context, userID uuid.UUID) (map[string]bool, error)
}

// Service runs the full chat turn: quota gate, action short-circuit,
// retrieval, completion with tools and persistence.
type Service struct {
	store       Store
	llm         llm.Provider
	index       vector.Index
	quota       QuotaGate
	actions     ActionRunner
	tools       ToolHandlers
	connections ConnectionSource
}

// NewService wires the chat service.
func NewService(store Store, provider llm.Provider, index vector.Index, quota QuotaGate, actions ActionRunner, tools ToolHandlers, connections ConnectionSource) *Service {
	return &Service{
		store:       store,
		llm:         provider,
		index:       index,
		quota:       quota,
		actions:     actions,
		tools:       tools,
		connections: connections,
	}
}

// Answer processes one visitor turn. Quota errors and ErrChatbotNotFound
// pass through for the transport layer to map; anything else is an
// internal error.
func (s *Service) Answer(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	m := monitoring.Get()
	defer func() {
		m.ChatTurnDuration.Observe(time.Since(start).Seconds())
	}()

	bot, err := s.store.ChatbotByID(ctx, req.ChatbotID)
	if err != nil {
		return nil, err
	}

	// Quota is charged to the chatbot owner, not the visitor.
	if err := s.quota.CanSendMessage(ctx, bot.UserID); err != nil {
		return nil, err
	}

	sessionID := req.SessionID
	if sessionID == uuid.Nil {
		sessionID = uuid.New()
	}

	// The user turn is logged before anything can fail so the session
	// history stays complete even when the answer path errors out.
	s.saveMessage(ctx, req.ChatbotID, sessionID, true, req.Query)

	if resp := s.tryAction(ctx, bot, sessionID, req.Query); resp != nil {
		return resp, nil
	}

	answer, err := s.generate(ctx, bot, sessionID, req.Query)
	if err != nil {
		m.ChatTurnsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	s.saveMessage(ctx, req.ChatbotID, sessionID, false, answer)
	s.increment(ctx, bot.UserID)
	m.ChatTurnsTotal.WithLabelValues("answered").Inc()

	return &Response{Answer: answer, SessionID: sessionID}, nil
}

// tryAction runs the keyword action short-circuit. A matched action ends
// the turn without any model call; nil means no action matched and the
// RAG path proceeds. Failed actions still produce an apology answer but
// are not billed.
func (s *Service) tryAction(ctx context.Context, bot *models.Chatbot, sessionID uuid.UUID, query string) *Response {
	actions, err := s.store.Actions(ctx, bot.ID)
	if err != nil {
		log.Error().Err(err).Str("chatbot_id", bot.ID.String()).Msg("Failed to fetch chatbot actions")
		return nil
	}

	act := action.Match(actions, query)
	if act == nil {
		return nil
	}

	log.Info().
		Str("chatbot_id", bot.ID.String()).
		Str("action", act.Name).
		Msg("Keyword action triggered")

	outcome := s.actions.Execute(ctx, act, bot.UserID, query)
	// The rendered answer is logged as the assistant turn so the session
	// history replayed on later turns includes the action's reply.
	s.saveMessage(ctx, bot.ID, sessionID, false, outcome.Answer)
	if outcome.Delivered {
		s.increment(ctx, bot.UserID)
		monitoring.Get().ChatTurnsTotal.WithLabelValues("action").Inc()
	} else {
		monitoring.Get().ChatTurnsTotal.WithLabelValues("action_error").Inc()
	}
	return &Response{Answer: outcome.Answer, SessionID: sessionID}
}

func (s *Service) generate(ctx context.Context, bot *models.Chatbot, sessionID uuid.UUID, query string) (string, error) {
	avail := s.availability(ctx, bot)
	systemPrompt := BuildSystemPrompt(bot.SystemPrompt, avail)

	contextText, err := s.retrieveContext(ctx, bot.ID, query)
	if err != nil {
		return "", err
	}

	messages := []llm.Message{
		{Role: "system", Content: BuildSystemMessage(systemPrompt, contextText)},
	}

	history, err := s.store.History(ctx, bot.ID, sessionID, historyFetchLimit)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Failed to fetch chat history, proceeding without it")
		history = nil
	}
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	for _, msg := range history {
		role := "assistant"
		if msg.IsUserMessage {
			role = "user"
		}
		messages = append(messages, llm.Message{Role: role, Content: msg.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: query})

	first, err := s.llm.ChatCompletion(ctx, &llm.ChatRequest{
		Messages:   messages,
		Tools:      ToolsFor(avail),
		ToolChoice: "auto",
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(first.Choices) == 0 {
		return "", fmt.Errorf("chat completion: no choices returned")
	}

	choice := first.Choices[0]
	if len(choice.Message.ToolCalls) == 0 {
		answer := strings.TrimSpace(choice.Message.Content)
		if answer == "" {
			return "", fmt.Errorf("model returned no answer")
		}
		return answer, nil
	}

	messages = append(messages, choice.Message)
	for _, call := range choice.Message.ToolCalls {
		content := s.dispatchTool(ctx, bot.ID, call)
		raw, err := json.Marshal(content)
		if err != nil {
			raw = []byte(`{"error":"Internal server error executing tool."}`)
		}
		messages = append(messages, llm.Message{
			Role:       "tool",
			ToolCallID: call.ID,
			Content:    string(raw),
		})
	}

	// The follow-up turn gets no tools: the model has to answer from the
	// tool results it was just given.
	final, err := s.llm.ChatCompletion(ctx, &llm.ChatRequest{Messages: messages})
	if err != nil {
		return "", fmt.Errorf("final completion after tool calls: %w", err)
	}
	if len(final.Choices) == 0 {
		return "", fmt.Errorf("final completion after tool calls: no choices returned")
	}

	answer := strings.TrimSpace(final.Choices[0].Message.Content)
	if answer == "" {
		answer = "I am unable to complete the requested action."
	}
	return answer, nil
}

// retrieveContext builds the context block: vector search first, keyword
// fallback second. An embedding failure is fatal for the turn; a vector
// index failure is not, the turn degrades to the fallback.
func (s *Service) retrieveContext(ctx context.Context, chatbotID uuid.UUID, query string) (string, error) {
	vectors, err := s.llm.Embed(ctx, []string{query})
	if err != nil {
		return "", fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return "", fmt.Errorf("embed query: provider returned no vector")
	}

	var texts []string
	matches, err := s.index.Query(ctx, vectors[0], chatbotID.String(), MatchCount)
	if err != nil {
		log.Error().Err(err).Str("chatbot_id", chatbotID.String()).Msg("Vector query failed, proceeding without semantic matches")
	} else {
		for _, match := range matches {
			if match.Metadata != nil && match.Metadata.ChunkText != "" {
				texts = append(texts, match.Metadata.ChunkText)
			}
		}
	}

	if len(texts) == 0 {
		texts = s.fallbackSearch(ctx, chatbotID, query)
	}
	if len(texts) == 0 {
		return NoContextFound, nil
	}
	return strings.Join(texts, ContextSeparator), nil
}

// fallbackSearch runs the relational keyword search. Results are deduped
// by chunk text and capped at MatchCount; the per-token limit shrinks as
// the token count grows so the cap holds roughly evenly across tokens.
func (s *Service) fallbackSearch(ctx context.Context, chatbotID uuid.UUID, query string) []string {
	tokens := ExtractSearchTokens(query)
	if len(tokens) == 0 {
		return nil
	}
	monitoring.Get().FallbackSearches.Inc()

	perToken := (MatchCount + len(tokens) - 1) / len(tokens)
	seen := make(map[string]struct{})
	var texts []string
	for _, token := range tokens {
		found, err := s.store.SearchChunkTexts(ctx, chatbotID, token, perToken)
		if err != nil {
			log.Error().Err(err).Str("token", token).Msg("Fallback chunk search failed")
			continue
		}
		for _, text := range found {
			if _, dup := seen[text]; dup {
				continue
			}
			seen[text] = struct{}{}
			texts = append(texts, text)
			if len(texts) == MatchCount {
				return texts
			}
		}
	}
	return texts
}

func (s *Service) dispatchTool(ctx context.Context, chatbotID uuid.UUID, call llm.ToolCall) map[string]any {
	var args struct {
		OrderName    string `json:"order_name"`
		EventTypeURI string `json:"event_type_uri"`
		ProjectKey   string `json:"project_key"`
		Summary      string `json:"summary"`
		Description  string `json:"description"`
		Email        string `json:"email"`
		Firstname    string `json:"firstname"`
		Lastname     string `json:"lastname"`
	}
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		log.Error().Err(err).Str("tool", call.Function.Name).Msg("Failed to parse tool call arguments")
	}

	var content map[string]any
	switch call.Function.Name {
	case toolShopifyOrder:
		content = s.tools.ShopifyOrderDetails(ctx, chatbotID, args.OrderName)
	case toolCalendlyLink:
		content = s.tools.CalendlyLink(ctx, chatbotID, args.EventTypeURI)
	case toolHubspotContact:
		content = s.tools.HubspotCreateContact(ctx, chatbotID, args.Email, args.Firstname, args.Lastname)
	case toolJiraIssue:
		content = s.tools.JiraCreateIssue(ctx, chatbotID, args.ProjectKey, args.Summary, args.Description)
	default:
		content = map[string]any{"error": "Tool not implemented."}
	}

	monitoring.Get().ToolCallsTotal.WithLabelValues(call.Function.Name, toolResult(content)).Inc()
	return content
}

func toolResult(content map[string]any) string {
	if status, ok := content["status"].(string); ok {
		if status == "error" {
			return "error"
		}
		return "success"
	}
	if _, failed := content["error"]; failed {
		return "error"
	}
	return "success"
}

func (s *Service) availability(ctx context.Context, bot *models.Chatbot) Availability {
	connected, err := s.connections.ConnectedServices(ctx, bot.UserID)
	if err != nil {
		log.Error().Err(err).Str("user_id", bot.UserID.String()).Msg("Failed to fetch connected services, treating integrations as unavailable")
		connected = nil
	}
	return Availability{
		Hubspot:  bot.IntegrationHubspot && connected[models.ServiceHubspot],
		Jira:     bot.IntegrationJira && connected[models.ServiceJira],
		Calendly: bot.IntegrationCalendly && connected[models.ServiceCalendly],
	}
}

func (s *Service) saveMessage(ctx context.Context, chatbotID, sessionID uuid.UUID, fromUser bool, content string) {
	msg := &models.ChatMessage{
		ChatbotID:     chatbotID,
		SessionID:     sessionID,
		IsUserMessage: fromUser,
		Content:       content,
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Failed to save chat message")
	}
}

func (s *Service) increment(ctx context.Context, userID uuid.UUID) {
	if err := s.quota.IncrementUsage(ctx, userID); err != nil {
		log.Error().Err(err).Str("user_id", userID.String()).Msg("Failed to increment message usage")
	}
}
