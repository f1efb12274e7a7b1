package ingestion_engine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// PdftoppmRasterizer renders pages with poppler's pdftoppm.
type PdftoppmRasterizer struct {
	binary string
	dpi    int
}

// NewPdftoppmRasterizer fails when pdftoppm is not on PATH.
func NewPdftoppmRasterizer(dpi int) (*PdftoppmRasterizer, error) {
	bin, err := exec.LookPath("pdftoppm")
	if err != nil {
		return nil, fmt.Errorf("pdftoppm not found: %w", err)
	}
	if dpi <= 0 {
		dpi = 200
	}
	return &PdftoppmRasterizer{binary: bin, dpi: dpi}, nil
}

func (r *PdftoppmRasterizer) RasterizePage(ctx context.Context, pdf []byte, page int) ([]byte, error) {
	dir, err := os.MkdirTemp("", "kb-raster-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "doc.pdf")
	if err := os.WriteFile(in, pdf, 0o600); err != nil {
		return nil, err
	}
	prefix := filepath.Join(dir, "page")
	n := strconv.Itoa(page)

	cmd := exec.CommandContext(ctx, r.binary,
		"-f", n,
		"-l", n,
		"-r", strconv.Itoa(r.dpi),
		"-png",
		"-singlefile",
		in,
		prefix)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pdftoppm: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return os.ReadFile(prefix + ".png")
}
