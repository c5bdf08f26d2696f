package models

import (
	"time"

	"github.com/google/uuid"
)

// ChatMessage is one turn in the append-only per-session conversation log.
type ChatMessage struct {
	ID            uuid.UUID `json:"id" db:"id"`
	ChatbotID     uuid.UUID `json:"chatbot_id" db:"chatbot_id"`
	SessionID     uuid.UUID `json:"session_id" db:"session_id"`
	IsUserMessage bool      `json:"is_user_message" db:"is_user_message"`
	Content       string    `json:"content" db:"content"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
