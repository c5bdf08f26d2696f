package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apierrors "github.com/siteagent/siteagent/internal/errors"
	"github.com/siteagent/siteagent/internal/ingest"
	"github.com/siteagent/siteagent/internal/middleware"
)

// handleDocumentStatus lets the dashboard poll ingestion progress.
// Documents owned by other users report the same 404 as missing ones.
func (s *APIServer) handleDocumentStatus(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, apierrors.ErrInvalidCredentialsError)
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apierrors.ErrDocumentNotFoundError)
		return
	}

	doc, err := s.deps.Docs.GetDocument(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ingest.ErrDocumentNotFound) {
			respondError(c, apierrors.ErrDocumentNotFoundError)
		} else {
			respondError(c, apierrors.ErrInternalServerError)
		}
		return
	}
	if doc.UserID != userID {
		respondError(c, apierrors.ErrDocumentNotFoundError)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":                 doc.ID,
		"file_name":          doc.FileName,
		"embedding_status":   doc.EmbeddingStatus,
		"embedding_progress": doc.EmbeddingProgress,
		"error_message":      doc.ErrorMessage,
		"updated_at":         doc.UpdatedAt,
	})
}

// handleDeleteChatbot removes a chatbot and everything hanging off it.
func (s *APIServer) handleDeleteChatbot(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, apierrors.ErrInvalidCredentialsError)
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apierrors.ErrChatbotNotFoundError)
		return
	}

	if err := s.deps.Cascade.DeleteChatbot(c.Request.Context(), userID, id); err != nil {
		if errors.Is(err, ErrCascadeChatbotNotFound) {
			respondError(c, apierrors.ErrChatbotNotFoundError)
		} else {
			respondError(c, apierrors.ErrInternalServerError)
		}
		return
	}

	c.Status(http.StatusNoContent)
}

// handleCleanupVectors drains the deferred vector cleanup queue. Called
// by a scheduler, not by users.
func (s *APIServer) handleCleanupVectors(c *gin.Context) {
	processed, err := s.deps.Cascade.DrainCleanupQueue(c.Request.Context())
	if err != nil {
		respondError(c, apierrors.ErrInternalServerError)
		return
	}
	c.JSON(http.StatusOK, gin.H{"processed": processed})
}
