package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siteagent/siteagent/internal/config"
	"github.com/siteagent/siteagent/internal/document"
	"github.com/siteagent/siteagent/internal/llm"
	"github.com/siteagent/siteagent/internal/models"
	"github.com/siteagent/siteagent/internal/vector"
)

type fakeStore struct {
	doc *models.Document

	// deleteAfterEmbed simulates the owner deleting the document while a
	// batch is waiting on the provider.
	deleteAfterEmbed bool
	deleted          bool

	insertErr error

	chunks        []models.DocumentChunk
	csvDoc        *models.CsvDocument
	csvRows       []models.CsvRow
	completed     bool
	completedNote string
	failedMsg     string
	progress      []int
}

func (s *fakeStore) GetDocument(_ context.Context, id uuid.UUID) (*models.Document, error) {
	if s.doc == nil || s.deleted || s.doc.ID != id {
		return nil, ErrDocumentNotFound
	}
	d := *s.doc
	return &d, nil
}

func (s *fakeStore) ClaimPending(_ context.Context, _ uuid.UUID) (bool, error) {
	if s.doc.EmbeddingStatus != models.EmbeddingStatusPending {
		return false, nil
	}
	s.doc.EmbeddingStatus = models.EmbeddingStatusProcessing
	return true, nil
}

func (s *fakeStore) DocumentExists(_ context.Context, _ uuid.UUID) (bool, error) {
	return !s.deleted, nil
}

func (s *fakeStore) InsertChunks(_ context.Context, chunks []models.DocumentChunk) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	if s.deleted {
		return ErrDocumentGone
	}
	s.chunks = append(s.chunks, chunks...)
	return nil
}

func (s *fakeStore) UpdateProgress(_ context.Context, _ uuid.UUID, progress int) error {
	s.doc.EmbeddingProgress = progress
	s.progress = append(s.progress, progress)
	return nil
}

func (s *fakeStore) MarkCompleted(_ context.Context, _ uuid.UUID, note string) error {
	s.doc.EmbeddingStatus = models.EmbeddingStatusCompleted
	s.completed = true
	s.completedNote = note
	return nil
}

func (s *fakeStore) MarkFailed(_ context.Context, _ uuid.UUID, errMsg string) error {
	s.doc.EmbeddingStatus = models.EmbeddingStatusFailed
	s.failedMsg = errMsg
	return nil
}

func (s *fakeStore) UpsertCsvDocument(_ context.Context, meta *models.CsvDocument) error {
	s.csvDoc = meta
	return nil
}

func (s *fakeStore) InsertCsvRows(_ context.Context, _, _ uuid.UUID, rows []models.CsvRow) error {
	s.csvRows = append(s.csvRows, rows...)
	return nil
}

type fakeProvider struct {
	store    *fakeStore
	embedded [][]string
	err      error
}

func (p *fakeProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.embedded = append(p.embedded, texts)
	if p.store != nil && p.store.deleteAfterEmbed {
		p.store.deleted = true
	}
	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = []float32{1, 2, 3}
	}
	return vectors, nil
}

func (p *fakeProvider) ChatCompletion(_ context.Context, _ *llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, errors.New("not used in ingestion")
}

type fakeIndex struct {
	records []vector.Record
	err     error
}

func (f *fakeIndex) Upsert(_ context.Context, records []vector.Record) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, records...)
	return nil
}

func (f *fakeIndex) Query(_ context.Context, _ []float32, _ string, _ int) ([]vector.Match, error) {
	return nil, nil
}

func (f *fakeIndex) DeleteByDocument(_ context.Context, _ string) error {
	return nil
}

func testConfig() *config.IngestConfig {
	return &config.IngestConfig{
		EmbedBatchSize:  2,
		MaxChunksPerRun: 4,
		ChunkSize:       10,
		ChunkOverlap:    2,
	}
}

func textDocument(content string) *models.Document {
	return &models.Document{
		ID:              uuid.New(),
		ChatbotID:       uuid.New(),
		UserID:          uuid.New(),
		FileName:        "notes.txt",
		Content:         &content,
		EmbeddingStatus: models.EmbeddingStatusPending,
	}
}

func newTestEngine(store *fakeStore, provider *fakeProvider, index *fakeIndex) *Engine {
	e := NewEngine(store, provider, index, nil, testConfig())
	e.enqueue = func(uuid.UUID) {}
	return e
}

func TestProcess_CompletesSmallDocument(t *testing.T) {
	store := &fakeStore{doc: textDocument(strings.Repeat("a", 26))}
	provider := &fakeProvider{}
	index := &fakeIndex{}
	engine := newTestEngine(store, provider, index)

	res, err := engine.Process(context.Background(), &Request{DocumentID: store.doc.ID})
	require.NoError(t, err)

	// 26 chars at size 10 / overlap 2 gives starts 0, 8, 16, 24.
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 4, res.Total)
	assert.True(t, store.completed)
	assert.Len(t, store.chunks, 4)
	assert.Len(t, index.records, 4)
	assert.Equal(t, store.doc.ID.String()+"-0", index.records[0].ID)
	assert.Equal(t, store.doc.ID.String()+"-3", index.records[3].ID)
}

func TestProcess_ResumesAtPersistedOffset(t *testing.T) {
	doc := textDocument(strings.Repeat("a", 26))
	doc.EmbeddingStatus = models.EmbeddingStatusProcessing
	doc.EmbeddingProgress = 2
	store := &fakeStore{doc: doc}
	provider := &fakeProvider{}
	index := &fakeIndex{}
	engine := newTestEngine(store, provider, index)

	res, err := engine.Process(context.Background(), &Request{DocumentID: doc.ID, Continuation: true})
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 2, res.Processed)

	// Chunks [0, 2) were embedded by the previous run and must not be
	// re-embedded.
	all := document.ChunkText(strings.Repeat("a", 26), 10, 2)
	var embedded []string
	for _, batch := range provider.embedded {
		embedded = append(embedded, batch...)
	}
	assert.Equal(t, all[2:], embedded)
	assert.Equal(t, doc.ID.String()+"-2", index.records[0].ID)
}

func TestProcess_StopsAtRunBudgetAndContinues(t *testing.T) {
	// 50 chars at size 10 / overlap 2 gives 7 chunks; budget is 4.
	store := &fakeStore{doc: textDocument(strings.Repeat("a", 50))}
	provider := &fakeProvider{}
	index := &fakeIndex{}
	engine := newTestEngine(store, provider, index)

	var continued []uuid.UUID
	engine.enqueue = func(id uuid.UUID) { continued = append(continued, id) }

	res, err := engine.Process(context.Background(), &Request{DocumentID: store.doc.ID})
	require.NoError(t, err)

	assert.Equal(t, OutcomePartial, res.Outcome)
	assert.Equal(t, 4, res.Processed)
	assert.Equal(t, 4, res.Progress)
	assert.Equal(t, 7, res.Total)
	assert.False(t, store.completed)
	assert.Equal(t, []uuid.UUID{store.doc.ID}, continued)

	// The continuation picks up exactly where the budget cut off.
	res, err = engine.Process(context.Background(), &Request{DocumentID: store.doc.ID, Continuation: true})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 7, res.Progress)
	assert.Len(t, store.chunks, 7)
}

func TestProcess_AlreadyProcessingIsNoop(t *testing.T) {
	doc := textDocument("hello world")
	doc.EmbeddingStatus = models.EmbeddingStatusProcessing
	store := &fakeStore{doc: doc}
	provider := &fakeProvider{}
	engine := newTestEngine(store, provider, &fakeIndex{})

	res, err := engine.Process(context.Background(), &Request{DocumentID: doc.ID})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, res.Outcome)
	assert.Empty(t, provider.embedded)
}

func TestProcess_TerminalStatusIsNoop(t *testing.T) {
	for _, status := range []models.EmbeddingStatus{models.EmbeddingStatusCompleted, models.EmbeddingStatusFailed} {
		doc := textDocument("hello world")
		doc.EmbeddingStatus = status
		store := &fakeStore{doc: doc}
		engine := newTestEngine(store, &fakeProvider{}, &fakeIndex{})

		res, err := engine.Process(context.Background(), &Request{DocumentID: doc.ID})
		require.NoError(t, err)
		assert.Equal(t, OutcomeNoop, res.Outcome)
	}
}

func TestProcess_MissingDocumentIsNoop(t *testing.T) {
	store := &fakeStore{}
	engine := newTestEngine(store, &fakeProvider{}, &fakeIndex{})

	res, err := engine.Process(context.Background(), &Request{DocumentID: uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, res.Outcome)
}

func TestProcess_ZeroTextCompletesWithoutChunks(t *testing.T) {
	store := &fakeStore{doc: textDocument("   \n\t  ")}
	provider := &fakeProvider{}
	index := &fakeIndex{}
	engine := newTestEngine(store, provider, index)

	res, err := engine.Process(context.Background(), &Request{DocumentID: store.doc.ID})
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.True(t, store.completed)
	assert.Equal(t, "No text chunks generated.", store.completedNote)
	assert.Empty(t, store.chunks)
	assert.Empty(t, index.records)
}

func TestProcess_DeletedMidRunAbortsCleanly(t *testing.T) {
	store := &fakeStore{doc: textDocument(strings.Repeat("a", 26)), deleteAfterEmbed: true}
	provider := &fakeProvider{}
	provider.store = store
	engine := newTestEngine(store, provider, &fakeIndex{})

	res, err := engine.Process(context.Background(), &Request{DocumentID: store.doc.ID})
	require.NoError(t, err)

	// Benign abort: no chunks written and no failure status recorded.
	assert.Equal(t, OutcomeNoop, res.Outcome)
	assert.Empty(t, store.chunks)
	assert.Empty(t, store.failedMsg)
}

func TestProcess_EmbeddingErrorFailsDocument(t *testing.T) {
	store := &fakeStore{doc: textDocument(strings.Repeat("a", 26))}
	provider := &fakeProvider{err: errors.New("rate limited")}
	engine := newTestEngine(store, provider, &fakeIndex{})

	_, err := engine.Process(context.Background(), &Request{DocumentID: store.doc.ID})
	require.Error(t, err)
	assert.Equal(t, models.EmbeddingStatusFailed, store.doc.EmbeddingStatus)
	assert.Contains(t, store.failedMsg, "rate limited")
}

func TestProcess_ErrorMessageTruncated(t *testing.T) {
	store := &fakeStore{doc: textDocument(strings.Repeat("a", 26))}
	provider := &fakeProvider{err: errors.New(strings.Repeat("x", 600))}
	engine := newTestEngine(store, provider, &fakeIndex{})

	_, err := engine.Process(context.Background(), &Request{DocumentID: store.doc.ID})
	require.Error(t, err)
	assert.Len(t, store.failedMsg, maxErrorLength)
}

func TestProcess_VectorUpsertErrorFailsDocument(t *testing.T) {
	store := &fakeStore{doc: textDocument(strings.Repeat("a", 26))}
	index := &fakeIndex{err: errors.New("index unavailable")}
	engine := newTestEngine(store, &fakeProvider{}, index)

	_, err := engine.Process(context.Background(), &Request{DocumentID: store.doc.ID})
	require.Error(t, err)

	// Relational rows were committed before the index write, yet the
	// document still fails: the stores must agree for retrieval.
	assert.NotEmpty(t, store.chunks)
	assert.Equal(t, models.EmbeddingStatusFailed, store.doc.EmbeddingStatus)
}

func TestProcess_CSVDocumentNeverChunked(t *testing.T) {
	csv := "name,age,city\nAlice,30,Berlin\nBob,25,Hamburg"
	doc := textDocument(csv)
	doc.FileName = "people.csv"
	fileType := "text/csv"
	doc.FileType = &fileType
	store := &fakeStore{doc: doc}
	provider := &fakeProvider{}
	index := &fakeIndex{}
	engine := newTestEngine(store, provider, index)

	res, err := engine.Process(context.Background(), &Request{DocumentID: doc.ID})
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Empty(t, store.chunks)
	assert.Empty(t, provider.embedded)
	assert.Empty(t, index.records)

	require.NotNil(t, store.csvDoc)
	assert.Equal(t, []string{"name", "age", "city"}, store.csvDoc.Headers)
	assert.Equal(t, 2, store.csvDoc.RowCount)
	assert.Len(t, store.csvRows, 2)
}

func TestProcess_CSVRowShapes(t *testing.T) {
	csv := "name,age,city\nAlice,30,Berlin\nBob,25,Hamburg"
	doc := textDocument(csv)
	doc.FileName = "people.csv"
	store := &fakeStore{doc: doc}
	engine := newTestEngine(store, &fakeProvider{}, &fakeIndex{})

	_, err := engine.Process(context.Background(), &Request{DocumentID: doc.ID})
	require.NoError(t, err)

	require.Len(t, store.csvRows, 2)
	assert.Equal(t, 0, store.csvRows[0].RowIndex)
	assert.Equal(t, "name: Alice | age: 30 | city: Berlin", store.csvRows[0].RowText)
	assert.Equal(t, map[string]string{"name": "Alice", "age": "30", "city": "Berlin"}, store.csvRows[0].RowJSON)
	assert.Equal(t, map[string]string{"name": "Bob", "age": "25", "city": "Hamburg"}, store.csvRows[1].RowJSON)
}

func TestProcess_CSVWithoutDataRowsFails(t *testing.T) {
	// Passes the extension dispatch but not the structural minimum.
	doc := textDocument("only,one,line")
	doc.FileName = "broken.csv"
	store := &fakeStore{doc: doc}
	engine := newTestEngine(store, &fakeProvider{}, &fakeIndex{})

	_, err := engine.Process(context.Background(), &Request{DocumentID: doc.ID})
	require.Error(t, err)
	assert.Equal(t, models.EmbeddingStatusFailed, store.doc.EmbeddingStatus)
}

func TestBuildCsvRows_SyntheticColumnNames(t *testing.T) {
	rows := buildCsvRows([]string{"name", ""}, [][]string{{"Alice", "30", "extra"}})
	require.Len(t, rows, 1)
	assert.Equal(t, "name: Alice | column_2: 30 | column_3: extra", rows[0].RowText)
	assert.Equal(t, map[string]string{"name": "Alice", "column_2": "30", "column_3": "extra"}, rows[0].RowJSON)
}

func TestProcess_InlineContentBypassesBlobStore(t *testing.T) {
	doc := textDocument("")
	doc.Content = nil
	store := &fakeStore{doc: doc}
	provider := &fakeProvider{}
	engine := newTestEngine(store, provider, &fakeIndex{})

	res, err := engine.Process(context.Background(), &Request{
		DocumentID:    doc.ID,
		InlineContent: "scraped website text",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	require.Len(t, provider.embedded, 1)
}
