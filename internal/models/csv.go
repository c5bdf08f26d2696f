package models

import (
	"time"

	"github.com/google/uuid"
)

// CsvDocument is the per-document metadata row for a CSV-classified upload.
// CSV documents are a terminal representation: they are never chunked or
// embedded.
type CsvDocument struct {
	ID         uuid.UUID `json:"id" db:"id"`
	DocumentID uuid.UUID `json:"document_id" db:"document_id"`
	ChatbotID  uuid.UUID `json:"chatbot_id" db:"chatbot_id"`
	Headers    []string  `json:"headers" db:"headers"`
	RowCount   int       `json:"row_count" db:"row_count"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// CsvRow holds one CSV data row in both a flattened text form
// ("Header: value | Header: value") used by fallback keyword search and a
// structured key/value form.
type CsvRow struct {
	ID         uuid.UUID         `json:"id" db:"id"`
	DocumentID uuid.UUID         `json:"document_id" db:"document_id"`
	ChatbotID  uuid.UUID         `json:"chatbot_id" db:"chatbot_id"`
	RowIndex   int               `json:"row_index" db:"row_index"`
	RowText    string            `json:"row_text" db:"row_text"`
	RowJSON    map[string]string `json:"row_json" db:"row_json"`
	CreatedAt  time.Time         `json:"created_at" db:"created_at"`
}
