package ocr

import (
	"context"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Media kinds a Reader dispatches on.
const (
	kindText  = "text"
	kindPDF   = "pdf"
	kindImage = "image"
)

// Extensions missing from Go's builtin MIME table on minimal systems.
var extensionKinds = map[string]string{
	".pdf":  kindPDF,
	".jpg":  kindImage,
	".jpeg": kindImage,
	".png":  kindImage,
	".bmp":  kindImage,
	".tif":  kindImage,
	".tiff": kindImage,
	".gif":  kindImage,
	".webp": kindImage,
	".txt":  kindText,
	".md":   kindText,
	".csv":  kindText,
}

// Reader picks an extractor by media type.
type Reader struct {
	pdf   Extractor
	image Extractor
	text  *PlainText
}

// NewReader creates a Reader. Files that are neither PDFs nor images are
// decoded as text.
func NewReader(pdf, image Extractor) *Reader {
	return &Reader{pdf: pdf, image: image, text: &PlainText{}}
}

// ExtractText returns the text of path. A missing file yields an error
// wrapping fs.ErrNotExist.
func (r *Reader) ExtractText(ctx context.Context, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", eris.Wrapf(err, "ocr: stat %s", path)
	}
	if info.IsDir() {
		return "", eris.Errorf("ocr: %s is a directory", path)
	}

	kind, err := detectKind(path)
	if err != nil {
		return "", err
	}

	zap.L().Debug("ocr: extracting text",
		zap.String("path", path),
		zap.String("kind", kind),
		zap.Int64("size", info.Size()),
	)

	switch kind {
	case kindPDF:
		return r.pdf.ExtractText(ctx, path)
	case kindImage:
		return r.image.ExtractText(ctx, path)
	default:
		return r.text.ExtractText(ctx, path)
	}
}

// detectKind classifies path by extension, sniffing the content when the
// extension is unknown.
func detectKind(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if mt := mime.TypeByExtension(ext); mt != "" {
		return kindOf(mt), nil
	}
	if kind, ok := extensionKinds[ext]; ok {
		return kind, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", eris.Wrapf(err, "ocr: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", eris.Wrapf(err, "ocr: sniff %s", path)
	}
	return kindOf(http.DetectContentType(head[:n])), nil
}

func kindOf(mediaType string) string {
	mt, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		mt = mediaType
	}
	switch {
	case mt == "application/pdf":
		return kindPDF
	case strings.HasPrefix(mt, "image/"):
		return kindImage
	default:
		return kindText
	}
}
