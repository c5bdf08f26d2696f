package models

import (
	"time"

	"github.com/google/uuid"
)

// OAuth service names used by the integration tool handlers.
const (
	ServiceShopify  = "shopify"
	ServiceCalendly = "calendly"
	ServiceJira     = "jira"
	ServiceHubspot  = "hubspot"
)

// UserOAuthToken stores a third-party access token, encrypted at rest.
// Metadata carries service-specific settings (shop domain, Jira cloud id).
type UserOAuthToken struct {
	ID                   uuid.UUID         `json:"id" db:"id"`
	UserID               uuid.UUID         `json:"user_id" db:"user_id"`
	ServiceName          string            `json:"service_name" db:"service_name"`
	AccessTokenEncrypted string            `json:"-" db:"access_token"`
	RefreshTokenEncrypted *string          `json:"-" db:"refresh_token"`
	ExpiresAt            *time.Time        `json:"expires_at,omitempty" db:"expires_at"`
	Metadata             map[string]string `json:"metadata,omitempty" db:"metadata"`
	CreatedAt            time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at" db:"updated_at"`
}

// VaultSecret is a tenant-scoped named secret referenced from action
// templates as {{vault:NAME}}. The value is encrypted at rest.
type VaultSecret struct {
	ID             uuid.UUID `json:"id" db:"id"`
	UserID         uuid.UUID `json:"user_id" db:"user_id"`
	Name           string    `json:"name" db:"name"`
	ValueEncrypted string    `json:"-" db:"value"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}
