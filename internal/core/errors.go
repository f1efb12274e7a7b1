package core

import "errors"

var (
	ErrDuplicateDocument      = errors.New("document already exists")
	ErrNotFound               = errors.New("not found")
	ErrUnsupportedContentType = errors.New("unsupported content type")
	ErrOCRUnavailable         = errors.New("ocr unavailable")
	ErrVectorUnavailable      = errors.New("vector search unavailable")
	// ErrTransient marks failures worth retrying on the next pass.
	ErrTransient = errors.New("transient failure")
)
