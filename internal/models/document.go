package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// EmbeddingStatus represents the processing status of a document
type EmbeddingStatus string

const (
	EmbeddingStatusPending    EmbeddingStatus = "pending"
	EmbeddingStatusProcessing EmbeddingStatus = "processing"
	EmbeddingStatusCompleted  EmbeddingStatus = "completed"
	EmbeddingStatusFailed     EmbeddingStatus = "failed"
)

// Document represents an uploaded, scraped, or pasted knowledge source.
// Either StoragePath (blob store key) or Content (inline text) is set.
type Document struct {
	ID                uuid.UUID       `json:"id" db:"id"`
	ChatbotID         uuid.UUID       `json:"chatbot_id" db:"chatbot_id"`
	UserID            uuid.UUID       `json:"user_id" db:"user_id"`
	FileName          string          `json:"file_name" db:"file_name"`
	FileType          *string         `json:"file_type,omitempty" db:"file_type"`
	StoragePath       *string         `json:"-" db:"storage_path"`
	Content           *string         `json:"-" db:"content"`
	EmbeddingStatus   EmbeddingStatus `json:"embedding_status" db:"embedding_status"`
	EmbeddingProgress int             `json:"embedding_progress" db:"embedding_progress"`
	ErrorMessage      *string         `json:"error_message,omitempty" db:"error_message"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// NewDocumentChunk builds a chunk row. Token count is approximated by
// character length.
func NewDocumentChunk(documentID, chatbotID uuid.UUID, text string, embedding []float32) DocumentChunk {
	return DocumentChunk{
		ID:         uuid.New(),
		DocumentID: documentID,
		ChatbotID:  chatbotID,
		ChunkText:  text,
		Embedding:  pgvector.NewVector(embedding),
		TokenCount: len(text),
	}
}

// DocumentChunk is the unit of embedding and retrieval. Rows are append-only
// per batch and immutable once written.
type DocumentChunk struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	DocumentID uuid.UUID       `json:"document_id" db:"document_id"`
	ChatbotID  uuid.UUID       `json:"chatbot_id" db:"chatbot_id"`
	ChunkText  string          `json:"chunk_text" db:"chunk_text"`
	Embedding  pgvector.Vector `json:"-" db:"embedding"`
	TokenCount int             `json:"token_count" db:"token_count"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}
