package integration

import (
	"context"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/siteagent/siteagent/internal/models"
)

const calendlyAPIBase = "https://api.calendly.com"

// schedulingLinkMaxStart bounds how far out a generated link can be booked.
const schedulingLinkMaxStart = 30 * 24 * time.Hour

type calendlyUserResponse struct {
	Resource struct {
		URI string `json:"uri"`
	} `json:"resource"`
}

type calendlyEventTypesResponse struct {
	Collection []struct {
		URI string `json:"uri"`
	} `json:"collection"`
}

type calendlySchedulingLinkResponse struct {
	Resource struct {
		BookingURL string `json:"booking_url"`
		URL        string `json:"url"`
	} `json:"resource"`
}

// CalendlyLink creates a single-use scheduling link for the chatbot
// owner's account. With no event type given, the owner's first active
// event type is used.
func (h *Handlers) CalendlyLink(ctx context.Context, chatbotID uuid.UUID, eventTypeURI string) map[string]any {
	token, _, err := h.ownerToken(ctx, chatbotID, models.ServiceCalendly)
	if err != nil {
		return errContent("Calendly not connected or token invalid.")
	}
	auth := map[string]string{"Authorization": "Bearer " + token}

	if eventTypeURI == "" {
		var user calendlyUserResponse
		if err := h.getJSON(ctx, calendlyAPIBase+"/users/me", auth, &user); err != nil {
			return errContent("Failed to fetch Calendly user.")
		}
		if user.Resource.URI == "" {
			return errContent("Calendly user URI missing.")
		}

		var eventTypes calendlyEventTypesResponse
		listURL := calendlyAPIBase + "/event_types?user=" + url.QueryEscape(user.Resource.URI)
		if err := h.getJSON(ctx, listURL, auth, &eventTypes); err != nil {
			return errContent("Failed to fetch Calendly event types.")
		}
		if len(eventTypes.Collection) == 0 {
			return errContent("No active Calendly event types.")
		}
		eventTypeURI = eventTypes.Collection[0].URI
	}

	body := map[string]any{
		"owner":                eventTypeURI,
		"owner_type":           "EventType",
		"max_event_start_time": time.Now().Add(schedulingLinkMaxStart).UTC().Format(time.RFC3339),
		"max_event_count":      1,
	}

	var link calendlySchedulingLinkResponse
	if err := h.doJSON(ctx, "POST", calendlyAPIBase+"/scheduling_links", auth, body, &link); err != nil {
		return errContent("Failed to create Calendly scheduling link.")
	}

	bookingURL := link.Resource.BookingURL
	if bookingURL == "" {
		bookingURL = link.Resource.URL
	}
	if bookingURL == "" {
		return errContent("Calendly API did not return link.")
	}
	return map[string]any{"url": bookingURL}
}
