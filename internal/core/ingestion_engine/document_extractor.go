package ingestion_engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"code.sajari.com/docconv"
	"golang.org/x/net/html/charset"

	"github.com/markdave123-py/lexkb/internal/core"
	"github.com/markdave123-py/lexkb/internal/logger"
)

var _ core.DocumentExtractor = (*ContentExtractor)(nil)

const (
	mimeHTML  = "text/html"
	mimeXHTML = "application/xhtml+xml"
	mimeText  = "text/plain"
	mimePDF   = "application/pdf"
	mimeDOCX  = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimeDOC   = "application/msword"
	mimeODT   = "application/vnd.oasis.opendocument.text"
	mimeRTF   = "application/rtf"
)

var officeTypes = map[string]bool{
	mimeDOCX:   true,
	mimeDOC:    true,
	mimeODT:    true,
	mimeRTF:    true,
	"text/rtf": true,
}

var extensionTypes = map[string]string{
	".html":  mimeHTML,
	".htm":   mimeHTML,
	".xhtml": mimeXHTML,
	".txt":   mimeText,
	".pdf":   mimePDF,
	".docx":  mimeDOCX,
	".doc":   mimeDOC,
	".odt":   mimeODT,
	".rtf":   mimeRTF,
}

// ContentExtractor routes fetched bytes to the right extraction strategy
// by media type.
type ContentExtractor struct {
	pdf *PDFExtractor
	log *logger.Logger
}

func NewContentExtractor(pdf *PDFExtractor) *ContentExtractor {
	return &ContentExtractor{pdf: pdf, log: logger.New("extractor")}
}

// Extract returns the raw text of body. The declared content type wins over
// the URL extension; extension and byte sniffing are only consulted when the
// header is missing or generic.
func (e *ContentExtractor) Extract(ctx context.Context, rawURL, contentType string, body []byte) (*core.Extraction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mt := ResolveContentType(rawURL, contentType, body)

	switch {
	case mt == mimeHTML || mt == mimeXHTML:
		title, text, err := extractHTML(body, contentType)
		if err != nil {
			return nil, fmt.Errorf("parse html: %w", err)
		}
		return &core.Extraction{Text: text, Title: title, Method: core.MethodHTML, Quality: 1.0, PageCount: 1}, nil

	case mt == mimeText:
		text, err := decodeText(body, contentType)
		if err != nil {
			return nil, fmt.Errorf("decode text: %w", err)
		}
		return &core.Extraction{Text: text, Method: core.MethodText, Quality: 1.0, PageCount: 1}, nil

	case mt == mimePDF:
		if e.pdf == nil {
			return nil, fmt.Errorf("%w: %s (no pdf extractor configured)", core.ErrUnsupportedContentType, mt)
		}
		return e.pdf.Extract(ctx, body)

	case officeTypes[mt]:
		res, err := docconv.Convert(bytes.NewReader(body), mt, false)
		if err != nil {
			return nil, fmt.Errorf("docconv %s: %w", mt, err)
		}
		e.log.Debug("docconv extraction", "url", rawURL, "mime", mt, "runes", len([]rune(res.Body)))
		return &core.Extraction{
			Text:      res.Body,
			Title:     res.Meta["Title"],
			Method:    core.MethodDocconv,
			Quality:   ScoreText(res.Body),
			PageCount: 1,
		}, nil
	}

	return nil, fmt.Errorf("%w: %q", core.ErrUnsupportedContentType, mt)
}

// ResolveContentType returns the bare media type for a fetched document.
func ResolveContentType(rawURL, declared string, body []byte) string {
	mt, _, err := mime.ParseMediaType(declared)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(strings.SplitN(declared, ";", 2)[0]))
	}
	if mt != "" && mt != "application/octet-stream" && mt != "binary/octet-stream" {
		return mt
	}

	if u, err := url.Parse(rawURL); err == nil {
		if t, ok := extensionTypes[strings.ToLower(path.Ext(u.Path))]; ok {
			return t
		}
	}
	if bytes.HasPrefix(body, []byte("%PDF-")) {
		return mimePDF
	}
	if len(body) == 0 {
		return "application/octet-stream"
	}
	sniffed, _, _ := mime.ParseMediaType(http.DetectContentType(body))
	return sniffed
}

func decodeText(body []byte, contentType string) (string, error) {
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return string(body), nil
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
