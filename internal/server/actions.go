package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	apierrors "github.com/siteagent/siteagent/internal/errors"
	"github.com/siteagent/siteagent/internal/middleware"
	"github.com/siteagent/siteagent/internal/models"
)

type createActionRequest struct {
	Name                string            `json:"name"`
	Description         *string           `json:"description"`
	TriggerKeywords     []string          `json:"trigger_keywords"`
	HTTPMethod          string            `json:"http_method"`
	URL                 string            `json:"url"`
	Headers             map[string]string `json:"headers"`
	RequestBodyTemplate map[string]any    `json:"request_body_template"`
	SuccessMessage      *string           `json:"success_message"`
}

var allowedActionMethods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true,
	http.MethodPatch: true, http.MethodDelete: true,
}

// ownChatbot verifies the chatbot exists and belongs to the caller.
func (s *APIServer) ownChatbot(c *gin.Context, userID uuid.UUID) (uuid.UUID, bool) {
	chatbotID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apierrors.ErrChatbotNotFoundError)
		return uuid.Nil, false
	}

	var ownerID uuid.UUID
	err = s.db.QueryRow(c.Request.Context(), `SELECT user_id FROM chatbots WHERE id = $1`, chatbotID).Scan(&ownerID)
	if err != nil || ownerID != userID {
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			respondError(c, apierrors.ErrInternalServerError)
			return uuid.Nil, false
		}
		respondError(c, apierrors.ErrChatbotNotFoundError)
		return uuid.Nil, false
	}
	return chatbotID, true
}

func (s *APIServer) handleListActions(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, apierrors.ErrInvalidCredentialsError)
		return
	}
	chatbotID, ok := s.ownChatbot(c, userID)
	if !ok {
		return
	}

	rows, err := s.db.Query(c.Request.Context(), `
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
		respondError(c, apierrors.ErrInternalServerError)
		return
	}
	defer rows.Close()

	actions := []models.Action{}
	for rows.Next() {
		var act models.Action
		err := rows.Scan(
			&act.ID, &act.ChatbotID, &act.Name, &act.Description, &act.TriggerKeywords,
			&act.HTTPMethod, &act.URL, &act.Headers, &act.RequestBodyTemplate,
			&act.SuccessMessage, &act.CreatedAt,
		)
		if err != nil {
			respondError(c, apierrors.ErrInternalServerError)
			return
		}
		actions = append(actions, act)
	}

	c.JSON(http.StatusOK, gin.H{"actions": actions})
}

func (s *APIServer) handleCreateAction(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, apierrors.ErrInvalidCredentialsError)
		return
	}
	chatbotID, ok := s.ownChatbot(c, userID)
	if !ok {
		return
	}

	var req createActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	req.HTTPMethod = strings.ToUpper(req.HTTPMethod)
	switch {
	case strings.TrimSpace(req.Name) == "":
		respondError(c, apierrors.NewValidationError("name is required"))
		return
	case req.URL == "" || !(strings.HasPrefix(req.URL, "http://") || strings.HasPrefix(req.URL, "https://")):
		respondError(c, apierrors.NewValidationError("url must be an absolute http(s) URL"))
		return
	case !allowedActionMethods[req.HTTPMethod]:
		respondError(c, apierrors.NewValidationError("http_method must be one of GET, POST, PUT, PATCH, DELETE"))
		return
	case len(req.TriggerKeywords) == 0:
		respondError(c, apierrors.NewValidationError("trigger_keywords must not be empty"))
		return
	}

	var id uuid.UUID
	err := s.db.QueryRow(c.Request.Context(), `
		INSERT INTO chatbot_actions
			(chatbot_id, name, description, trigger_keywords, http_method, url,
			 headers, request_body_template, success_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, chatbotID, req.Name, req.Description, req.TriggerKeywords, req.HTTPMethod,
		req.URL, req.Headers, req.RequestBodyTemplate, req.SuccessMessage,
	).Scan(&id)
	if err != nil {
		respondError(c, apierrors.ErrInternalServerError)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *APIServer) handleDeleteAction(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, apierrors.ErrInvalidCredentialsError)
		return
	}

	actionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apierrors.ErrChatbotNotFoundError)
		return
	}

	// Ownership rides along in the delete: the action must belong to a
	// chatbot of the caller.
	tag, err := s.db.Exec(c.Request.Context(), `
		DELETE FROM chatbot_actions a
		USING chatbots b
		WHERE a.id = $1 AND a.chatbot_id = b.id AND b.user_id = $2
	`, actionID, userID)
	if err != nil {
		respondError(c, apierrors.ErrInternalServerError)
		return
	}
	if tag.RowsAffected() == 0 {
		respondError(c, apierrors.ErrChatbotNotFoundError)
		return
	}

	c.Status(http.StatusNoContent)
}
