package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/siteagent/siteagent/internal/models"
)

// PgStore is the pgx-backed Store used in production.
type PgStore struct {
	db *pgxpool.Pool
}

// NewPgStore creates a Postgres-backed ingestion store.
func NewPgStore(db *pgxpool.Pool) *PgStore {
	return &PgStore{db: db}
}

func (s *PgStore) GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	var doc models.Document
	err := s.db.QueryRow(ctx, `
		SELECT id, chatbot_id, user_id, file_name, file_type, storage_path, content,
		       embedding_status, embedding_progress, error_message, created_at, updated_at
		FROM documents
		WHERE id = $1
	`, id).Scan(
		&doc.ID, &doc.ChatbotID, &doc.UserID, &doc.FileName, &doc.FileType,
		&doc.StoragePath, &doc.Content, &doc.EmbeddingStatus, &doc.EmbeddingProgress,
		&doc.ErrorMessage, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("query document: %w", err)
	}
	return &doc, nil
}

// ClaimPending is the atomic claim: only the caller whose conditional
// update hits the pending row owns the run.
func (s *PgStore) ClaimPending(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE documents
		SET embedding_status = 'processing', error_message = NULL, updated_at = NOW()
		WHERE id = $1 AND embedding_status = 'pending'
	`, id)
	if err != nil {
		return false, fmt.Errorf("claim update: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PgStore) DocumentExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM documents WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("existence query: %w", err)
	}
	return exists, nil
}

func (s *PgStore) InsertChunks(ctx context.Context, chunks []models.DocumentChunk) error {
	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(`
			INSERT INTO document_chunks (id, document_id, chatbot_id, chunk_text, embedding, token_count)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, c.ID, c.DocumentID, c.ChatbotID, c.ChunkText, c.Embedding, c.TokenCount)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for range chunks {
		if _, err := results.Exec(); err != nil {
			// FK violation on document_id means the parent was deleted
			// mid-run.
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23503" {
				return ErrDocumentGone
			}
			return fmt.Errorf("insert chunk: %w", err)
		}
	}
	return nil
}

func (s *PgStore) UpdateProgress(ctx context.Context, id uuid.UUID, progress int) error {
	_, err := s.db.Exec(ctx, `
		UPDATE documents SET embedding_progress = $1, updated_at = NOW() WHERE id = $2
	`, progress, id)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

func (s *PgStore) MarkCompleted(ctx context.Context, id uuid.UUID, note string) error {
	var noteArg *string
	if note != "" {
		noteArg = &note
	}
	_, err := s.db.Exec(ctx, `
		UPDATE documents
		SET embedding_status = 'completed', error_message = $1, updated_at = NOW()
		WHERE id = $2
	`, noteArg, id)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

func (s *PgStore) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE documents
		SET embedding_status = 'failed', error_message = $1, updated_at = NOW()
		WHERE id = $2
	`, errMsg, id)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

func (s *PgStore) UpsertCsvDocument(ctx context.Context, meta *models.CsvDocument) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO csv_documents (document_id, chatbot_id, headers, row_count)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (document_id)
		DO UPDATE SET headers = EXCLUDED.headers, row_count = EXCLUDED.row_count, updated_at = NOW()
	`, meta.DocumentID, meta.ChatbotID, meta.Headers, meta.RowCount)
	if err != nil {
		return fmt.Errorf("upsert csv document: %w", err)
	}
	return nil
}

func (s *PgStore) InsertCsvRows(ctx context.Context, documentID, chatbotID uuid.UUID, rows []models.CsvRow) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO csv_rows (document_id, chatbot_id, row_index, row_text, row_json)
			VALUES ($1, $2, $3, $4, $5)
		`, documentID, chatbotID, r.RowIndex, r.RowText, r.RowJSON)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert csv row: %w", err)
		}
	}
	return nil
}
