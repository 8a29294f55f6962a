package ocr

import (
	"context"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/charmap"
)

// PlainText decodes a file as UTF-8, falling back to Latin-1.
type PlainText struct{}

// ExtractText reads path and decodes it.
func (PlainText) ExtractText(_ context.Context, path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", eris.Wrapf(err, "ocr: read %s", path)
	}
	return decodeText(raw), nil
}

// decodeText accepts valid UTF-8 as is and otherwise decodes as Latin-1.
// Any byte that still fails becomes U+FFFD.
func decodeText(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	s, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return strings.ToValidUTF8(string(raw), "�")
	}
	return string(s)
}
