package integration

import (
	"context"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/siteagent/siteagent/internal/models"
)

const hubspotContactsURL = "https://api.hubapi.com/crm/v3/objects/contacts"

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// HubspotCreateContact creates a CRM contact in the chatbot owner's
// HubSpot portal. Placeholder addresses are rejected up front so the
// model is forced to ask the visitor for a real one.
func (h *Handlers) HubspotCreateContact(ctx context.Context, chatbotID uuid.UUID, email, firstname, lastname string) map[string]any {
	email = strings.TrimSpace(email)
	if !emailPattern.MatchString(email) || strings.HasSuffix(strings.ToLower(email), "@example.com") {
		return map[string]any{"status": "error", "error_message": "A valid user email address is required."}
	}

	token, _, err := h.ownerToken(ctx, chatbotID, models.ServiceHubspot)
	if err != nil {
		return map[string]any{"status": "error", "error_message": "HubSpot not connected for chatbot owner."}
	}

	properties := map[string]any{"email": email}
	if firstname != "" {
		properties["firstname"] = firstname
	}
	if lastname != "" {
		properties["lastname"] = lastname
	}

	var created map[string]any
	err = h.doJSON(ctx, "POST", hubspotContactsURL,
		map[string]string{"Authorization": "Bearer " + token},
		map[string]any{"properties": properties}, &created)
	if err != nil {
		return map[string]any{"status": "error", "error_message": "HubSpot API request failed."}
	}

	return map[string]any{"status": "success", "data": created}
}
