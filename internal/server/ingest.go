package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/siteagent/siteagent/internal/ingest"
)

// ingestPayload accepts the three trigger shapes: the scraper callback,
// an explicit batch continuation, and the database insert webhook.
type ingestPayload struct {
	Invoker        string `json:"invoker"`
	DocumentID     string `json:"documentId"`
	ScrapedContent string `json:"scrapedContent"`

	// Insert webhook shape.
	Type   string `json:"type"`
	Table  string `json:"table"`
	Record *struct {
		ID string `json:"id"`
	} `json:"record"`
}

const (
	invokerScrape   = "scrape-website"
	invokerContinue = "batch-continue"
)

func (p *ingestPayload) toRequest() (*ingest.Request, bool) {
	switch {
	case p.Invoker == invokerScrape:
		id, err := uuid.Parse(p.DocumentID)
		if err != nil {
			return nil, false
		}
		return &ingest.Request{DocumentID: id, InlineContent: p.ScrapedContent}, true

	case p.Invoker == invokerContinue:
		id, err := uuid.Parse(p.DocumentID)
		if err != nil {
			return nil, false
		}
		return &ingest.Request{DocumentID: id, Continuation: true}, true

	case p.Type == "INSERT" && p.Table == "documents" && p.Record != nil:
		id, err := uuid.Parse(p.Record.ID)
		if err != nil {
			return nil, false
		}
		return &ingest.Request{DocumentID: id}, true
	}
	return nil, false
}

// handleIngest triggers one engine run. 200 for terminal and no-op
// outcomes, 202 when the run spent its budget and a continuation was
// enqueued, 400 for unrecognized payloads.
func (s *APIServer) handleIngest(c *gin.Context) {
	var payload ingestPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	req, ok := payload.toRequest()
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unrecognized ingestion payload."})
		return
	}

	result, err := s.deps.Ingest.Process(c.Request.Context(), req)
	if err != nil {
		// The engine has already recorded the failure on the document.
		log.Error().Err(err).Str("document_id", req.DocumentID.String()).Msg("Ingestion run failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Document processing failed."})
		return
	}

	status := http.StatusOK
	if result.Outcome == ingest.OutcomePartial {
		status = http.StatusAccepted
	}
	c.JSON(status, result)
}
