package core

import (
	"context"
)

// Extraction methods.
const (
	MethodHTML    = "html"
	MethodText    = "text"
	MethodPDFText = "pdf_text"
	MethodMixed   = "mixed"
	MethodDocconv = "docconv"
)

// Extraction is the plain-text result of one source document.
type Extraction struct {
	Text      string
	Title     string
	Method    string
	Quality   float64 // 0.0-1.0
	OCRPages  []int   // 1-based page numbers replaced by OCR
	PageCount int
}

// DocumentExtractor turns fetched bytes into text. Near-empty output is not
// an error; deciding what to do with it is the caller's job.
type DocumentExtractor interface {
	Extract(ctx context.Context, url, contentType string, body []byte) (*Extraction, error)
}
