//go:build ocr

package ingestion_engine

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// TesseractOCR runs Tesseract through gosseract. Build with -tags ocr and
// the tesseract/leptonica development libraries installed.
type TesseractOCR struct{}

func NewOCREngine() (OCREngine, error) {
	return &TesseractOCR{}, nil
}

func (TesseractOCR) Recognize(ctx context.Context, image []byte, language string) (string, error) {
	type result struct {
		text string
		err  error
	}
	// gosseract has no cancellation; the client is closed by the goroutine
	// that owns it once Tesseract returns.
	resChan := make(chan result, 1)
	go func() {
		client := gosseract.NewClient()
		defer client.Close()

		if err := client.SetLanguage(language); err != nil {
			resChan <- result{err: fmt.Errorf("set language %q: %w", language, err)}
			return
		}
		if err := client.SetImageFromBytes(image); err != nil {
			resChan <- result{err: fmt.Errorf("set image: %w", err)}
			return
		}
		text, err := client.Text()
		resChan <- result{text, err}
	}()

	select {
	case r := <-resChan:
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
