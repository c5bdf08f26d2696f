package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/siteagent/siteagent/internal/models"
)

// ErrChatbotNotFound is returned when the requested chatbot does not exist.
var ErrChatbotNotFound = errors.New("chatbot not found")

// Store is the relational surface the chat service depends on.
type Store interface {
	ChatbotByID(ctx context.Context, id uuid.UUID) (*models.Chatbot, error)
	Actions(ctx context.Context, chatbotID uuid.UUID) ([]models.Action, error)
	History(ctx context.Context, chatbotID, sessionID uuid.UUID, limit int) ([]models.ChatMessage, error)
	InsertMessage(ctx context.Context, msg *models.ChatMessage) error
	SearchChunkTexts(ctx context.Context, chatbotID uuid.UUID, token string, limit int) ([]string, error)
}

// PgStore is the pgx-backed Store.
type PgStore struct {
	db *pgxpool.Pool
}

// NewPgStore creates a chat store on the shared pool.
func NewPgStore(db *pgxpool.Pool) *PgStore {
	return &PgStore{db: db}
}

func (s *PgStore) ChatbotByID(ctx context.Context, id uuid.UUID) (*models.Chatbot, error) {
	var bot models.Chatbot
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, name, system_prompt,
		       integration_hubspot, integration_jira, integration_calendly, integration_shopify,
		       created_at, updated_at
		FROM chatbots
		WHERE id = $1
	`, id).Scan(
		&bot.ID, &bot.UserID, &bot.Name, &bot.SystemPrompt,
		&bot.IntegrationHubspot, &bot.IntegrationJira, &bot.IntegrationCalendly, &bot.IntegrationShopify,
		&bot.CreatedAt, &bot.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChatbotNotFound
		}
		return nil, fmt.Errorf("query chatbot: %w", err)
	}
	return &bot, nil
}

// Actions returns the chatbot's actions in storage order, which is the
// order the keyword matcher walks them in.
func (s *PgStore) Actions(ctx context.Context, chatbotID uuid.UUID) ([]models.Action, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, chatbot_id, name, description, trigger_keywords,
		       http_method, url,
		       COALESCE(headers, '{}'::jsonb),
		       COALESCE(request_body_template, '{}'::jsonb),
		       success_message, created_at
		FROM chatbot_actions
		WHERE chatbot_id = $1
		ORDER BY created_at ASC
	`, chatbotID)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var actions []models.Action
	for rows.Next() {
		var act models.Action
		err := rows.Scan(
			&act.ID, &act.ChatbotID, &act.Name, &act.Description, &act.TriggerKeywords,
			&act.HTTPMethod, &act.URL, &act.Headers, &act.RequestBodyTemplate,
			&act.SuccessMessage, &act.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		actions = append(actions, act)
	}
	return actions, rows.Err()
}

// History returns the oldest-first message log for a session, capped at
// limit.
func (s *PgStore) History(ctx context.Context, chatbotID, sessionID uuid.UUID, limit int) ([]models.ChatMessage, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, chatbot_id, session_id, is_user_message, content, created_at
		FROM chat_messages
		WHERE chatbot_id = $1 AND session_id = $2
		ORDER BY created_at ASC
		LIMIT $3
	`, chatbotID, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query chat history: %w", err)
	}
	defer rows.Close()

	var history []models.ChatMessage
	for rows.Next() {
		var msg models.ChatMessage
		err := rows.Scan(&msg.ID, &msg.ChatbotID, &msg.SessionID, &msg.IsUserMessage, &msg.Content, &msg.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		history = append(history, msg)
	}
	return history, rows.Err()
}

func (s *PgStore) InsertMessage(ctx context.Context, msg *models.ChatMessage) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO chat_messages (chatbot_id, session_id, is_user_message, content)
		VALUES ($1, $2, $3, $4)
	`, msg.ChatbotID, msg.SessionID, msg.IsUserMessage, msg.Content)
	if err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	return nil
}

// SearchChunkTexts does a case-insensitive substring search over the
// chatbot's stored chunks. Used only as the fallback when the vector
// index returns nothing.
func (s *PgStore) SearchChunkTexts(ctx context.Context, chatbotID uuid.UUID, token string, limit int) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT chunk_text
		FROM document_chunks
		WHERE chatbot_id = $1 AND chunk_text ILIKE '%' || $2 || '%'
		LIMIT $3
	`, chatbotID, token, limit)
	if err != nil {
		return nil, fmt.Errorf("fallback chunk search: %w", err)
	}
	defer rows.Close()

	var texts []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, fmt.Errorf("scan chunk text: %w", err)
		}
		texts = append(texts, text)
	}
	return texts, rows.Err()
}
