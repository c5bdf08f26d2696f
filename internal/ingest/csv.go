package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/siteagent/siteagent/internal/document"
	"github.com/siteagent/siteagent/internal/models"
	"github.com/siteagent/siteagent/internal/monitoring"
)

// CSV structured-storage limits.
const (
	// CsvInsertBatchSize rows per relational insert.
	CsvInsertBatchSize = 1000
	// CsvMaxRows is the hard cap on data rows per document.
	CsvMaxRows = 10000
)

// storeCSV is the terminal path for CSV-classified documents: one metadata
// record plus one row per data row. CSV documents are never chunked or
// embedded; they reach retrieval only through the keyword fallback search
// over their flattened text.
func (e *Engine) storeCSV(ctx context.Context, doc *models.Document, csvText string) (*Result, error) {
	if !document.IsValidCSV(csvText) {
		return nil, e.fail(ctx, doc.ID, fmt.Errorf("invalid CSV content in %q", doc.FileName))
	}

	delimiter := document.DetectDelimiter(csvText)
	table := document.ParseSimpleCSV(csvText, delimiter)
	if len(table) < 2 {
		return nil, e.fail(ctx, doc.ID, fmt.Errorf("CSV needs a header row and at least one data row, got %d rows", len(table)))
	}

	headers := table[0]
	dataRows := table[1:]
	if len(dataRows) > CsvMaxRows {
		return nil, e.fail(ctx, doc.ID, fmt.Errorf("CSV has %d data rows, limit is %d", len(dataRows), CsvMaxRows))
	}

	meta := &models.CsvDocument{
		DocumentID: doc.ID,
		ChatbotID:  doc.ChatbotID,
		Headers:    headers,
		RowCount:   len(dataRows),
	}
	if err := e.store.UpsertCsvDocument(ctx, meta); err != nil {
		return nil, e.fail(ctx, doc.ID, fmt.Errorf("store CSV metadata: %w", err))
	}

	rows := buildCsvRows(headers, dataRows)
	for start := 0; start < len(rows); start += CsvInsertBatchSize {
		end := start + CsvInsertBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := e.store.InsertCsvRows(ctx, doc.ID, doc.ChatbotID, rows[start:end]); err != nil {
			return nil, e.fail(ctx, doc.ID, fmt.Errorf("store CSV rows: %w", err))
		}
	}

	if err := e.store.MarkCompleted(ctx, doc.ID, ""); err != nil {
		return nil, fmt.Errorf("mark completed: %w", err)
	}

	m := monitoring.Get()
	m.CsvRowsStored.Add(float64(len(rows)))
	m.DocumentsProcessed.WithLabelValues("completed").Inc()

	return &Result{
		Outcome: OutcomeCompleted,
		Message: fmt.Sprintf("stored %d CSV rows", len(rows)),
	}, nil
}

// buildCsvRows flattens each data row into both a "Header: value" text form
// and a key-value mapping. Cells beyond the header row, and empty header
// names, get synthetic column_N keys.
func buildCsvRows(headers []string, dataRows [][]string) []models.CsvRow {
	rows := make([]models.CsvRow, 0, len(dataRows))

	for i, cells := range dataRows {
		var parts []string
		values := make(map[string]string, len(cells))

		for j, cell := range cells {
			name := ""
			if j < len(headers) {
				name = strings.TrimSpace(headers[j])
			}
			if name == "" {
				name = fmt.Sprintf("column_%d", j+1)
			}
			parts = append(parts, name+": "+cell)
			values[name] = cell
		}

		rows = append(rows, models.CsvRow{
			RowIndex: i,
			RowText:  strings.Join(parts, " | "),
			RowJSON:  values,
		})
	}
	return rows
}
