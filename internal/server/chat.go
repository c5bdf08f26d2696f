package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/siteagent/siteagent/internal/chat"
	"github.com/siteagent/siteagent/internal/quota"
)

type publicChatRequest struct {
	Query     string `json:"query"`
	ChatbotID string `json:"chatbotId"`
	SessionID string `json:"sessionId"`
}

// handleChatPublic serves one widget turn. The response shape is what the
// embedded widget expects: {answer, sessionId} on success, {error,
// sessionId} otherwise.
func (s *APIServer) handleChatPublic(c *gin.Context) {
	var req publicChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if req.Query == "" || req.ChatbotID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": `Missing or invalid "query" or "chatbotId" in request body.`})
		return
	}

	chatbotID, err := uuid.Parse(req.ChatbotID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": `Missing or invalid "query" or "chatbotId" in request body.`})
		return
	}

	// A malformed session id silently starts a new session rather than
	// failing the turn.
	sessionID, _ := uuid.Parse(req.SessionID)

	resp, err := s.deps.Chat.Answer(c.Request.Context(), &chat.Request{
		ChatbotID: chatbotID,
		Query:     req.Query,
		SessionID: sessionID,
	})
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrChatbotNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Chatbot not found or configuration error."})
		case errors.Is(err, quota.ErrQuotaExhausted), errors.Is(err, quota.ErrNoPlan):
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "This chatbot is temporarily unavailable due to high message volume. Please try again later.",
			})
		default:
			log.Error().Err(err).Str("chatbot_id", req.ChatbotID).Msg("Chat turn failed")
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "An internal error occurred. Please try again later.",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"answer": resp.Answer, "sessionId": resp.SessionID})
}
