package models

import (
	"time"

	"github.com/google/uuid"
)

// Chatbot represents a tenant-owned chatbot configuration. The ingestion
// pipeline never mutates it; the query engine reads it per turn.
type Chatbot struct {
	ID                  uuid.UUID `json:"id" db:"id"`
	UserID              uuid.UUID `json:"user_id" db:"user_id"`
	Name                string    `json:"name" db:"name"`
	SystemPrompt        *string   `json:"system_prompt,omitempty" db:"system_prompt"`
	IntegrationHubspot  bool      `json:"integration_hubspot" db:"integration_hubspot"`
	IntegrationJira     bool      `json:"integration_jira" db:"integration_jira"`
	IntegrationCalendly bool      `json:"integration_calendly" db:"integration_calendly"`
	IntegrationShopify  bool      `json:"integration_shopify" db:"integration_shopify"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time `json:"updated_at" db:"updated_at"`
}
