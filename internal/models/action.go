package models

import (
	"time"

	"github.com/google/uuid"
)

// Action is a chatbot-scoped trigger rule: the first action (in storage
// order) with any keyword matching the incoming message fires its HTTP call.
type Action struct {
	ID                  uuid.UUID         `json:"id" db:"id"`
	ChatbotID           uuid.UUID         `json:"chatbot_id" db:"chatbot_id"`
	Name                string            `json:"name" db:"name"`
	Description         *string           `json:"description,omitempty" db:"description"`
	TriggerKeywords     []string          `json:"trigger_keywords" db:"trigger_keywords"`
	HTTPMethod          string            `json:"http_method" db:"http_method"`
	URL                 string            `json:"url" db:"url"`
	Headers             map[string]string `json:"headers,omitempty" db:"headers"`
	RequestBodyTemplate map[string]any    `json:"request_body_template,omitempty" db:"request_body_template"`
	SuccessMessage      *string           `json:"success_message,omitempty" db:"success_message"`
	CreatedAt           time.Time         `json:"created_at" db:"created_at"`
}
