package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/markdave123-py/lexkb/internal/core"
	"github.com/markdave123-py/lexkb/internal/logger"
	"github.com/markdave123-py/lexkb/internal/metrics"
)

// PDFPage is the text layer of one page. Number is 1-based.
type PDFPage struct {
	Number    int
	Text      string
	HasImages bool
}

// PageSource reads the text layer of every page.
type PageSource interface {
	ReadPages(ctx context.Context, pdf []byte) ([]PDFPage, error)
}

// Rasterizer renders one page to a PNG.
type Rasterizer interface {
	RasterizePage(ctx context.Context, pdf []byte, page int) ([]byte, error)
}

// OCREngine recognizes the text in an image.
type OCREngine interface {
	Recognize(ctx context.Context, image []byte, language string) (string, error)
}

type PDFOptions struct {
	PageQualityThreshold float64
	ScanQualityThreshold float64
	SampleDepth          int
	MaxOCRPages          int
	OCRTimeout           time.Duration
	Language             string
}

func DefaultPDFOptions() PDFOptions {
	return PDFOptions{
		PageQualityThreshold: 0.5,
		ScanQualityThreshold: 0.6,
		SampleDepth:          5,
		MaxOCRPages:          40,
		OCRTimeout:           5 * time.Minute,
		Language:             "ita",
	}
}

// PDFExtractor runs the two-pass strategy: text layer first, then OCR for
// the low-quality pages of documents that look scanned.
type PDFExtractor struct {
	pages  PageSource
	raster Rasterizer
	ocr    OCREngine
	opts   PDFOptions
	log    *logger.Logger
}

// NewPDFExtractor builds the extractor. raster and ocr may be nil, in which
// case scanned pages keep whatever the text layer gave.
func NewPDFExtractor(pages PageSource, raster Rasterizer, ocr OCREngine, opts PDFOptions) *PDFExtractor {
	if opts.Language == "" {
		opts.Language = "ita"
	}
	return &PDFExtractor{pages: pages, raster: raster, ocr: ocr, opts: opts, log: logger.New("pdf")}
}

func (p *PDFExtractor) OCRAvailable() bool { return p.raster != nil && p.ocr != nil }

func (p *PDFExtractor) Extract(ctx context.Context, body []byte) (*core.Extraction, error) {
	pages, err := p.pages.ReadPages(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}

	scores := make([]float64, len(pages))
	for i := range pages {
		scores[i] = ScoreText(pages[i].Text)
	}

	res := &core.Extraction{Method: core.MethodPDFText, PageCount: len(pages)}

	if sampled := sampleAverage(scores, p.opts.SampleDepth); len(pages) > 0 && sampled < p.opts.ScanQualityThreshold {
		if !p.OCRAvailable() {
			p.log.Warn("pdf looks scanned but ocr is unavailable", "pages", len(pages), "sampled_quality", sampled)
		} else {
			ocrPages, err := p.ocrLowQualityPages(ctx, body, pages, scores)
			if err != nil {
				return nil, err
			}
			res.OCRPages = ocrPages
		}
	}
	if len(res.OCRPages) > 0 {
		res.Method = core.MethodMixed
	}

	var b strings.Builder
	for i, pg := range pages {
		t := strings.TrimSpace(pg.Text)
		if t == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(t)
		if res.Title == "" && i < 2 {
			res.Title = firstLine(t)
		}
	}
	res.Text = b.String()
	res.Quality = documentQuality(pages, scores)
	return res, nil
}

// ocrLowQualityPages replaces the text of pages below the page threshold
// with OCR output, in page order, until the page cap is reached. Blank pages
// (no text, no images) are skipped. Running past OCRTimeout fails the
// document.
func (p *PDFExtractor) ocrLowQualityPages(ctx context.Context, body []byte, pages []PDFPage, scores []float64) ([]int, error) {
	ocrCtx := ctx
	if p.opts.OCRTimeout > 0 {
		var cancel context.CancelFunc
		ocrCtx, cancel = context.WithTimeout(ctx, p.opts.OCRTimeout)
		defer cancel()
	}

	var done []int
	budget := p.opts.MaxOCRPages
	for i := range pages {
		if scores[i] >= p.opts.PageQualityThreshold {
			continue
		}
		if strings.TrimSpace(pages[i].Text) == "" && !pages[i].HasImages {
			continue
		}
		if budget <= 0 {
			p.log.Warn("ocr page cap reached", "cap", p.opts.MaxOCRPages, "pages", len(pages))
			break
		}
		budget--

		start := time.Now()
		text, err := p.ocrPage(ocrCtx, body, pages[i].Number)
		if err != nil {
			if cerr := phaseError(ctx, ocrCtx, p.opts.OCRTimeout); cerr != nil {
				return nil, cerr
			}
			p.log.Warn("ocr page failed", "page", pages[i].Number, "error", err)
			continue
		}
		metrics.OCRPageSeconds.Observe(time.Since(start).Seconds())
		metrics.OCRPagesTotal.Inc()

		if strings.TrimSpace(text) == "" {
			continue
		}
		pages[i].Text = text
		scores[i] = ScoreText(text)
		done = append(done, pages[i].Number)
	}
	return done, nil
}

func (p *PDFExtractor) ocrPage(ctx context.Context, body []byte, page int) (string, error) {
	img, err := p.raster.RasterizePage(ctx, body, page)
	if err != nil {
		return "", fmt.Errorf("rasterize page %d: %w", page, err)
	}
	text, err := p.ocr.Recognize(ctx, img, p.opts.Language)
	if err != nil {
		return "", fmt.Errorf("ocr page %d: %w", page, err)
	}
	return text, nil
}

// phaseError reports why the OCR phase must stop, or nil to keep going.
func phaseError(parent, phase context.Context, timeout time.Duration) error {
	if err := parent.Err(); err != nil {
		return err
	}
	if errors.Is(phase.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: ocr phase exceeded %s", core.ErrTransient, timeout)
	}
	return nil
}

func sampleAverage(scores []float64, depth int) float64 {
	if depth <= 0 || depth > len(scores) {
		depth = len(scores)
	}
	if depth == 0 {
		return 0
	}
	var sum float64
	for _, s := range scores[:depth] {
		sum += s
	}
	return sum / float64(depth)
}

// documentQuality averages the page scores, ignoring blank pages.
func documentQuality(pages []PDFPage, scores []float64) float64 {
	var sum float64
	n := 0
	for i := range pages {
		if strings.TrimSpace(pages[i].Text) == "" && !pages[i].HasImages {
			continue
		}
		sum += scores[i]
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			continue
		}
		if r := []rune(line); len(r) > 200 {
			line = string(r[:200])
		}
		return line
	}
	return ""
}
