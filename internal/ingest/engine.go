package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/siteagent/siteagent/internal/config"
	"github.com/siteagent/siteagent/internal/document"
	"github.com/siteagent/siteagent/internal/llm"
	"github.com/siteagent/siteagent/internal/models"
	"github.com/siteagent/siteagent/internal/monitoring"
	"github.com/siteagent/siteagent/internal/objstore"
	"github.com/siteagent/siteagent/internal/vector"
)

// Engine errors
var (
	// ErrDocumentGone marks a document deleted while its run was in
	// flight. Treated as cooperative cancellation, never as failure.
	ErrDocumentGone = errors.New("document no longer exists")

	ErrDocumentNotFound = errors.New("document not found")
)

// Error text persisted on failed documents is capped at the column width.
const maxErrorLength = 255

// Outcome classifies how one engine invocation ended.
type Outcome string

const (
	// OutcomeCompleted: the document reached a terminal completed status.
	OutcomeCompleted Outcome = "completed"
	// OutcomePartial: the per-run chunk budget was spent and a
	// continuation was enqueued.
	OutcomePartial Outcome = "partial"
	// OutcomeNoop: nothing to do (already claimed, already terminal, or
	// deleted mid-flight).
	OutcomeNoop Outcome = "noop"
)

// Request identifies one document run. InlineContent carries
// already-scraped text that bypasses blob download; Continuation marks a
// re-invocation resuming an owned processing run.
type Request struct {
	DocumentID    uuid.UUID
	Continuation  bool
	InlineContent string
}

// Result summarizes a finished invocation for the HTTP trigger.
type Result struct {
	Outcome   Outcome `json:"outcome"`
	Processed int     `json:"processed"`
	Progress  int     `json:"progress"`
	Total     int     `json:"total"`
	Message   string  `json:"message,omitempty"`
}

// Store is the relational surface the engine writes through.
type Store interface {
	GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error)
	// ClaimPending atomically moves pending -> processing and reports
	// whether this caller won the claim.
	ClaimPending(ctx context.Context, id uuid.UUID) (bool, error)
	DocumentExists(ctx context.Context, id uuid.UUID) (bool, error)
	// InsertChunks appends chunk rows; returns ErrDocumentGone when the
	// parent row vanished underneath the insert.
	InsertChunks(ctx context.Context, chunks []models.DocumentChunk) error
	UpdateProgress(ctx context.Context, id uuid.UUID, progress int) error
	MarkCompleted(ctx context.Context, id uuid.UUID, note string) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error
	UpsertCsvDocument(ctx context.Context, meta *models.CsvDocument) error
	InsertCsvRows(ctx context.Context, documentID, chatbotID uuid.UUID, rows []models.CsvRow) error
}

// Engine drives a document from pending to a terminal embedding status:
// extract, chunk, embed in batches, dual-write chunk rows and index
// vectors, checkpointing progress so interrupted runs resume where they
// stopped.
type Engine struct {
	store Store
	llm   llm.Provider
	index vector.Index
	blobs objstore.Store
	cfg   *config.IngestConfig

	// enqueue re-invokes the engine for the next slice of a long
	// document. Overridable so tests can intercept continuations.
	enqueue func(documentID uuid.UUID)
}

// NewEngine creates an ingestion engine. Continuations run as detached
// in-process goroutines by default.
func NewEngine(store Store, provider llm.Provider, index vector.Index, blobs objstore.Store, cfg *config.IngestConfig) *Engine {
	e := &Engine{
		store: store,
		llm:   provider,
		index: index,
		blobs: blobs,
		cfg:   cfg,
	}
	e.enqueue = e.defaultEnqueue
	return e
}

// Process runs one bounded ingestion slice for a document.
func (e *Engine) Process(ctx context.Context, req *Request) (*Result, error) {
	doc, err := e.store.GetDocument(ctx, req.DocumentID)
	if err != nil {
		if errors.Is(err, ErrDocumentNotFound) {
			// Deleted before we started; nothing owed.
			return &Result{Outcome: OutcomeNoop, Message: "document no longer exists"}, nil
		}
		return nil, fmt.Errorf("fetch document: %w", err)
	}

	claimed, err := e.claim(ctx, doc, req.Continuation)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return &Result{
			Outcome:  OutcomeNoop,
			Progress: doc.EmbeddingProgress,
			Message:  fmt.Sprintf("document is %s, nothing to do", doc.EmbeddingStatus),
		}, nil
	}

	extracted, err := e.resolveContent(ctx, doc, req.InlineContent)
	if err != nil {
		return nil, e.fail(ctx, doc.ID, err)
	}

	if extracted.Kind == document.KindCSV {
		return e.storeCSV(ctx, doc, extracted.Text)
	}

	chunks := document.ChunkText(extracted.Text, e.cfg.ChunkSize, e.cfg.ChunkOverlap)
	if len(chunks) == 0 {
		if err := e.store.MarkCompleted(ctx, doc.ID, "No text chunks generated."); err != nil {
			return nil, fmt.Errorf("mark completed: %w", err)
		}
		monitoring.Get().DocumentsProcessed.WithLabelValues("completed").Inc()
		return &Result{Outcome: OutcomeCompleted, Message: "no text chunks to process"}, nil
	}

	return e.embedChunks(ctx, doc, chunks)
}

// claim decides ownership of the run. A fresh invocation must win the
// pending -> processing transition; a continuation resumes a run this
// process already owns.
func (e *Engine) claim(ctx context.Context, doc *models.Document, continuation bool) (bool, error) {
	switch doc.EmbeddingStatus {
	case models.EmbeddingStatusPending:
		won, err := e.store.ClaimPending(ctx, doc.ID)
		if err != nil {
			return false, fmt.Errorf("claim document: %w", err)
		}
		return won, nil
	case models.EmbeddingStatusProcessing:
		// Another worker owns it unless this is our own continuation.
		return continuation, nil
	default:
		return false, nil
	}
}

func (e *Engine) resolveContent(ctx context.Context, doc *models.Document, inline string) (*document.Extracted, error) {
	flaggedCSV := doc.FileType != nil && *doc.FileType == "text/csv"

	// Scraped content skips extension dispatch: plain text unless flagged
	// as CSV and independently validating as one.
	if inline != "" {
		return document.FromInline(inline, flaggedCSV), nil
	}
	if doc.Content != nil && *doc.Content != "" {
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(doc.FileName)), ".")
		if ext == "csv" || flaggedCSV {
			return &document.Extracted{Kind: document.KindCSV, Text: *doc.Content}, nil
		}
		return document.FromInline(*doc.Content, false), nil
	}

	if doc.StoragePath == nil || *doc.StoragePath == "" {
		return nil, errors.New("document has neither content nor a storage path")
	}

	data, err := e.blobs.Download(ctx, *doc.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("download document: %w", err)
	}

	contentType := ""
	if doc.FileType != nil {
		contentType = *doc.FileType
	}
	return document.Extract(doc.FileName, contentType, data)
}

// embedChunks processes chunk batches in index order starting at the
// persisted offset, bounded by the per-run budget.
func (e *Engine) embedChunks(ctx context.Context, doc *models.Document, chunks []string) (*Result, error) {
	total := len(chunks)
	progress := doc.EmbeddingProgress
	if progress < 0 {
		progress = 0
	}
	if progress >= total {
		if err := e.store.MarkCompleted(ctx, doc.ID, ""); err != nil {
			return nil, fmt.Errorf("mark completed: %w", err)
		}
		return &Result{Outcome: OutcomeCompleted, Progress: progress, Total: total}, nil
	}

	contentType := "unknown"
	if doc.FileType != nil && *doc.FileType != "" {
		contentType = *doc.FileType
	}

	processed := 0
	for progress < total && processed < e.cfg.MaxChunksPerRun {
		batchStart := time.Now()

		end := progress + e.cfg.EmbedBatchSize
		if end > total {
			end = total
		}
		batch := chunks[progress:end]

		embeddings, err := e.llm.Embed(ctx, batch)
		if err != nil {
			return nil, e.fail(ctx, doc.ID, fmt.Errorf("embedding request: %w", err))
		}
		if len(embeddings) != len(batch) {
			log.Warn().
				Str("document_id", doc.ID.String()).
				Int("expected", len(batch)).
				Int("got", len(embeddings)).
				Msg("Embedding count mismatch, unmatched chunks will be skipped")
		}

		rows, records := buildBatch(doc, batch, embeddings, progress, contentType)

		// The owner may have deleted the document while we were waiting
		// on the provider; bail out without touching status.
		exists, err := e.store.DocumentExists(ctx, doc.ID)
		if err != nil {
			return nil, e.fail(ctx, doc.ID, fmt.Errorf("existence check: %w", err))
		}
		if !exists {
			return e.abortGone(doc.ID, progress, total), nil
		}

		if err := e.store.InsertChunks(ctx, rows); err != nil {
			if errors.Is(err, ErrDocumentGone) {
				return e.abortGone(doc.ID, progress, total), nil
			}
			return nil, e.fail(ctx, doc.ID, fmt.Errorf("insert chunks: %w", err))
		}

		// Index upsert failure after a committed insert still fails the
		// document: the two stores must agree for retrieval to be sound.
		if err := e.index.Upsert(ctx, records); err != nil {
			return nil, e.fail(ctx, doc.ID, fmt.Errorf("vector upsert: %w", err))
		}

		progress = end
		processed += len(batch)
		if err := e.store.UpdateProgress(ctx, doc.ID, progress); err != nil {
			return nil, e.fail(ctx, doc.ID, fmt.Errorf("update progress: %w", err))
		}

		m := monitoring.Get()
		m.ChunksEmbedded.Add(float64(len(batch)))
		m.IngestBatchDuration.Observe(time.Since(batchStart).Seconds())
	}

	if progress >= total {
		if err := e.store.MarkCompleted(ctx, doc.ID, ""); err != nil {
			return nil, fmt.Errorf("mark completed: %w", err)
		}
		monitoring.Get().DocumentsProcessed.WithLabelValues("completed").Inc()
		logProgress(doc.ID, processed, progress, total, "completed")
		return &Result{Outcome: OutcomeCompleted, Processed: processed, Progress: progress, Total: total}, nil
	}

	monitoring.Get().IngestContinuations.Inc()
	e.enqueue(doc.ID)
	logProgress(doc.ID, processed, progress, total, "continued")
	return &Result{
		Outcome:   OutcomePartial,
		Processed: processed,
		Progress:  progress,
		Total:     total,
		Message:   fmt.Sprintf("processed %d of %d chunks, continuing", progress, total),
	}, nil
}

// buildBatch pairs chunks with their embeddings, skipping any chunk the
// provider returned no vector for. Index ids are {documentID}-{chunkIndex}
// with the global chunk index.
func buildBatch(doc *models.Document, batch []string, embeddings [][]float32, offset int, contentType string) ([]models.DocumentChunk, []vector.Record) {
	rows := make([]models.DocumentChunk, 0, len(batch))
	records := make([]vector.Record, 0, len(batch))

	for i, text := range batch {
		if i >= len(embeddings) || embeddings[i] == nil {
			log.Warn().
				Str("document_id", doc.ID.String()).
				Int("chunk_index", offset+i).
				Msg("Missing embedding for chunk, skipping")
			continue
		}

		globalIndex := offset + i
		rows = append(rows, models.NewDocumentChunk(doc.ID, doc.ChatbotID, text, embeddings[i]))
		records = append(records, vector.Record{
			ID:     fmt.Sprintf("%s-%d", doc.ID, globalIndex),
			Values: embeddings[i],
			Metadata: vector.Metadata{
				ChunkText:   text,
				DocumentID:  doc.ID.String(),
				ChatbotID:   doc.ChatbotID.String(),
				FileName:    doc.FileName,
				ChunkIndex:  globalIndex,
				ContentType: contentType,
				ChunkLength: len(text),
			},
		})
	}
	return rows, records
}

func (e *Engine) abortGone(id uuid.UUID, progress, total int) *Result {
	log.Warn().
		Str("document_id", id.String()).
		Msg("Document deleted during processing, aborting cleanly")
	return &Result{
		Outcome:  OutcomeNoop,
		Progress: progress,
		Total:    total,
		Message:  "document was deleted during processing",
	}
}

// fail records a terminal failure on the document and returns the cause.
func (e *Engine) fail(ctx context.Context, id uuid.UUID, cause error) error {
	msg := cause.Error()
	if len(msg) > maxErrorLength {
		msg = msg[:maxErrorLength]
	}

	if err := e.store.MarkFailed(context.WithoutCancel(ctx), id, msg); err != nil {
		log.Error().Err(err).
			Str("document_id", id.String()).
			Msg("Failed to record failure status")
	}
	monitoring.Get().DocumentsProcessed.WithLabelValues("failed").Inc()
	return cause
}

func (e *Engine) defaultEnqueue(documentID uuid.UUID) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		if _, err := e.Process(ctx, &Request{DocumentID: documentID, Continuation: true}); err != nil {
			log.Error().Err(err).
				Str("document_id", documentID.String()).
				Msg("Continuation run failed")
		}
	}()
}

func logProgress(id uuid.UUID, processed, progress, total int, status string) {
	log.Info().
		Str("document_id", id.String()).
		Int("processed", processed).
		Int("progress", progress).
		Int("total", total).
		Str("status", status).
		Msg("Ingestion run finished")
}
