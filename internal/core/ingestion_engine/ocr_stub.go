//go:build !ocr

package ingestion_engine

import "github.com/markdave123-py/lexkb/internal/core"

// NewOCREngine reports that this binary was built without OCR support.
func NewOCREngine() (OCREngine, error) {
	return nil, core.ErrOCRUnavailable
}
