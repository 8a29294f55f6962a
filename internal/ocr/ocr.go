// Package ocr turns uploaded documents into plain text. PDFs go through
// pdftotext, images through tesseract, and everything else is decoded as
// text. Mistral's hosted OCR can replace both local tools.
package ocr

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/credcheck/internal/config"
)

// Extractor extracts text content from a file on disk.
type Extractor interface {
	ExtractText(ctx context.Context, path string) (string, error)
}

// NewExtractor creates a Reader wired to the configured provider.
func NewExtractor(cfg config.OCRConfig) (*Reader, error) {
	switch cfg.Provider {
	case "local", "":
		return NewReader(NewPdfToText(cfg.PdfToTextPath), NewTesseract(cfg.TesseractPath, cfg.Languages)), nil
	case "mistral":
		if cfg.MistralKey == "" {
			return nil, eris.New("ocr: mistral provider requires mistral_api_key")
		}
		m := NewMistralOCR(cfg.MistralKey, cfg.MistralModel)
		return NewReader(m, m), nil
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}
}
