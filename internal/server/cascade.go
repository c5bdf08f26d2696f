package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/siteagent/siteagent/internal/objstore"
	"github.com/siteagent/siteagent/internal/vector"
)

// ErrCascadeChatbotNotFound covers both a missing chatbot and one owned
// by someone else.
var ErrCascadeChatbotNotFound = errors.New("chatbot not found")

// cascadeConcurrency bounds the parallel per-document external cleanup.
const cascadeConcurrency = 8

// Cascade deletes a chatbot and its dependents across all three stores:
// vectors in the index, blobs in object storage, rows in Postgres.
// External cleanup is best effort; vector deletes that fail are parked in
// a queue and retried by DrainCleanupQueue. The relational delete is the
// step that must succeed, cascading FKs take the dependent rows with it.
type Cascade struct {
	db    *pgxpool.Pool
	index vector.Index
	blobs objstore.Store
}

// NewCascade creates the deletion cascade.
func NewCascade(db *pgxpool.Pool, index vector.Index, blobs objstore.Store) *Cascade {
	return &Cascade{db: db, index: index, blobs: blobs}
}

// DeleteChatbot removes the chatbot owned by userID.
func (d *Cascade) DeleteChatbot(ctx context.Context, userID, chatbotID uuid.UUID) error {
	var ownerID uuid.UUID
	err := d.db.QueryRow(ctx, `SELECT user_id FROM chatbots WHERE id = $1`, chatbotID).Scan(&ownerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrCascadeChatbotNotFound
		}
		return fmt.Errorf("resolve chatbot owner: %w", err)
	}
	if ownerID != userID {
		return ErrCascadeChatbotNotFound
	}

	docs, err := d.listDocuments(ctx, chatbotID)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cascadeConcurrency)
	for _, doc := range docs {
		g.Go(func() error {
			d.cleanupDocument(gctx, doc)
			return nil
		})
	}
	// Workers never return errors, cleanup is best effort.
	_ = g.Wait()

	if _, err := d.db.Exec(ctx, `DELETE FROM chatbots WHERE id = $1`, chatbotID); err != nil {
		return fmt.Errorf("delete chatbot: %w", err)
	}

	log.Info().
		Str("chatbot_id", chatbotID.String()).
		Int("documents", len(docs)).
		Msg("Chatbot deleted")
	return nil
}

type cascadeDocument struct {
	id          uuid.UUID
	storagePath *string
}

func (d *Cascade) listDocuments(ctx context.Context, chatbotID uuid.UUID) ([]cascadeDocument, error) {
	rows, err := d.db.Query(ctx, `SELECT id, storage_path FROM documents WHERE chatbot_id = $1`, chatbotID)
	if err != nil {
		return nil, fmt.Errorf("list chatbot documents: %w", err)
	}
	defer rows.Close()

	var docs []cascadeDocument
	for rows.Next() {
		var doc cascadeDocument
		if err := rows.Scan(&doc.id, &doc.storagePath); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (d *Cascade) cleanupDocument(ctx context.Context, doc cascadeDocument) {
	if err := d.index.DeleteByDocument(ctx, doc.id.String()); err != nil {
		log.Error().Err(err).
			Str("document_id", doc.id.String()).
			Msg("Vector cleanup failed, deferring to queue")
		d.deferVectorCleanup(ctx, doc.id)
	}

	if doc.storagePath != nil && *doc.storagePath != "" {
		if err := d.blobs.Delete(ctx, *doc.storagePath); err != nil {
			log.Error().Err(err).
				Str("document_id", doc.id.String()).
				Str("storage_path", *doc.storagePath).
				Msg("Blob delete failed")
		}
	}
}

func (d *Cascade) deferVectorCleanup(ctx context.Context, documentID uuid.UUID) {
	_, err := d.db.Exec(context.WithoutCancel(ctx), `
		INSERT INTO vector_cleanup_queue (document_id)
		VALUES ($1)
		ON CONFLICT (document_id) DO NOTHING
	`, documentID)
	if err != nil {
		log.Error().Err(err).
			Str("document_id", documentID.String()).
			Msg("Failed to enqueue vector cleanup")
	}
}

// DrainCleanupQueue retries deferred vector deletes, oldest first.
// Entries whose delete succeeds leave the queue; the rest stay for the
// next drain.
func (d *Cascade) DrainCleanupQueue(ctx context.Context) (int, error) {
	rows, err := d.db.Query(ctx, `
		SELECT id, document_id
		FROM vector_cleanup_queue
		ORDER BY created_at ASC
		LIMIT 100
	`)
	if err != nil {
		return 0, fmt.Errorf("read cleanup queue: %w", err)
	}

	type entry struct {
		id         uuid.UUID
		documentID uuid.UUID
	}
	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.id, &e.documentID); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan cleanup entry: %w", err)
		}
		entries = append(entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	processed := 0
	for _, e := range entries {
		if err := d.index.DeleteByDocument(ctx, e.documentID.String()); err != nil {
			log.Warn().Err(err).
				Str("document_id", e.documentID.String()).
				Msg("Deferred vector cleanup still failing")
			continue
		}
		if _, err := d.db.Exec(ctx, `DELETE FROM vector_cleanup_queue WHERE id = $1`, e.id); err != nil {
			log.Error().Err(err).Msg("Failed to dequeue vector cleanup entry")
			continue
		}
		processed++
	}
	return processed, nil
}
