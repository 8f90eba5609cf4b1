package action

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PDFCPU is the default PDFEngine, backed by the pdfcpu library. Validation
// is relaxed: real-world scanner output is frequently out of spec but still
// perfectly processable.
type PDFCPU struct {
	conf *model.Configuration
}

func NewPDFCPU() *PDFCPU {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PDFCPU{conf: conf}
}

func (p *PDFCPU) PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("count pages of %s: %w", path, err)
	}
	return n, nil
}

func (p *PDFCPU) Optimize(src, dst string) error {
	if err := api.OptimizeFile(src, dst, p.conf); err != nil {
		return fmt.Errorf("optimize %s: %w", src, err)
	}
	return nil
}

func (p *PDFCPU) Normalize(src, dst string) error {
	if err := api.ValidateFile(src, p.conf); err != nil {
		return fmt.Errorf("validate %s: %w", src, err)
	}
	// Optimizing rewrites the file with a fresh cross-reference table,
	// which repairs the common damage relaxed validation tolerates.
	if err := api.OptimizeFile(src, dst, p.conf); err != nil {
		return fmt.Errorf("rewrite %s: %w", src, err)
	}
	return nil
}

// Tesseract recognizes text by shelling out to the tesseract binary. No Go
// OCR library offers comparable quality, so the external tool stays.
type Tesseract struct {
	// Binary overrides the executable name, for tests.
	Binary string
}

func (t *Tesseract) Recognize(ctx context.Context, path, language string) (string, error) {
	bin := t.Binary
	if bin == "" {
		bin = "tesseract"
	}
	// "-" sends the recognized text to stdout.
	cmd := exec.CommandContext(ctx, bin, path, "-", "-l", language)
	var out, stderr strings.Builder
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tesseract %s: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}
	return out.String(), nil
}
