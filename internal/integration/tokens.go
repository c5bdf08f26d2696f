package integration

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/siteagent/siteagent/internal/secrets"
)

// Token errors
var (
	ErrChatbotNotFound = errors.New("chatbot not found")
	ErrNotConnected    = errors.New("service not connected")
)

// TokenSource resolves a chatbot to its owner and the owner's decrypted
// third-party credentials.
type TokenSource interface {
	ResolveOwner(ctx context.Context, chatbotID uuid.UUID) (uuid.UUID, error)
	AccessToken(ctx context.Context, userID uuid.UUID, service string) (string, map[string]string, error)
	ConnectedServices(ctx context.Context, userID uuid.UUID) (map[string]bool, error)
}

// TokenStore is the pgx-backed TokenSource. OAuth tokens are stored
// encrypted; decryption happens here so handlers only ever see plaintext
// in memory.
type TokenStore struct {
	db     *pgxpool.Pool
	cipher *secrets.Cipher
}

// NewTokenStore creates a token store.
func NewTokenStore(db *pgxpool.Pool, cipher *secrets.Cipher) *TokenStore {
	return &TokenStore{db: db, cipher: cipher}
}

// ResolveOwner returns the owning user of a chatbot.
func (s *TokenStore) ResolveOwner(ctx context.Context, chatbotID uuid.UUID) (uuid.UUID, error) {
	var userID uuid.UUID
	err := s.db.QueryRow(ctx, `SELECT user_id FROM chatbots WHERE id = $1`, chatbotID).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrChatbotNotFound
		}
		return uuid.Nil, fmt.Errorf("resolve chatbot owner: %w", err)
	}
	return userID, nil
}

// AccessToken returns the decrypted access token and service metadata for
// one of the user's connected services.
func (s *TokenStore) AccessToken(ctx context.Context, userID uuid.UUID, service string) (string, map[string]string, error) {
	var encrypted string
	var metadata map[string]string
	err := s.db.QueryRow(ctx, `
		SELECT access_token, COALESCE(metadata, '{}'::jsonb)
		FROM user_oauth_tokens
		WHERE user_id = $1 AND service_name = $2
	`, userID, service).Scan(&encrypted, &metadata)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil, fmt.Errorf("%w: %s", ErrNotConnected, service)
		}
		return "", nil, fmt.Errorf("query oauth token: %w", err)
	}

	token, err := s.cipher.Decrypt(encrypted)
	if err != nil {
		return "", nil, fmt.Errorf("decrypt %s token: %w", service, err)
	}
	return token, metadata, nil
}

// ConnectedServices reports which services the user has tokens for.
func (s *TokenStore) ConnectedServices(ctx context.Context, userID uuid.UUID) (map[string]bool, error) {
	rows, err := s.db.Query(ctx, `
		SELECT service_name FROM user_oauth_tokens WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query connected services: %w", err)
	}
	defer rows.Close()

	services := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan service name: %w", err)
		}
		services[name] = true
	}
	return services, rows.Err()
}
