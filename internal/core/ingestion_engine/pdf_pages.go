package ingestion_engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dslipak/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/markdave123-py/lexkb/internal/logger"
)

// TextLayerReader reads per-page text with dslipak/pdf and marks pages that
// carry image XObjects using pdfcpu.
type TextLayerReader struct {
	PageTimeout time.Duration
	log         *logger.Logger
}

func NewTextLayerReader() *TextLayerReader {
	return &TextLayerReader{PageTimeout: 10 * time.Second, log: logger.New("pdf")}
}

func (t *TextLayerReader) ReadPages(ctx context.Context, body []byte) (pages []PDFPage, err error) {
	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("pdf parser panic: %v", r)
		}
	}()

	rd, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	images, probed := imagePages(body)
	if !probed {
		t.log.Debug("image probe failed, treating every page as possibly scanned")
	}

	n := rd.NumPage()
	pages = make([]PDFPage, 0, n)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pg := PDFPage{Number: i, HasImages: !probed || images[i]}
		page := rd.Page(i)
		if !page.V.IsNull() {
			text, err := t.pageText(ctx, page)
			if err != nil {
				t.log.Warn("page text extraction failed", "page", i, "error", err)
			} else {
				pg.Text = text
			}
		}
		pages = append(pages, pg)
	}
	return pages, nil
}

// pageText bounds a single page's extraction; a stuck page is left empty.
func (t *TextLayerReader) pageText(ctx context.Context, page pdf.Page) (string, error) {
	type result struct {
		content string
		err     error
	}
	resChan := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resChan <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		content, err := page.GetPlainText(nil)
		resChan <- result{content, err}
	}()

	timeout := t.PageTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	select {
	case r := <-resChan:
		return r.content, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(timeout):
		return "", errors.New("page extraction timeout")
	}
}

// imagePages returns the 1-based pages that reference image XObjects. ok is
// false when pdfcpu could not read the file.
func imagePages(body []byte) (pages map[int]bool, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			pages, ok = nil, false
		}
	}()

	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(body), model.NewDefaultConfiguration())
	if err != nil {
		return nil, false
	}
	pages = make(map[int]bool)
	for p := 1; p <= ctx.PageCount; p++ {
		if len(pdfcpu.ImageObjNrs(ctx, p)) > 0 {
			pages[p] = true
		}
	}
	return pages, true
}
