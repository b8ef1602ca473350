// Package extract turns uploaded files into the plain text the pipeline analyzes.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// MaxUploadSize bounds how much of an upload is read.
const MaxUploadSize = 10 << 20

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrBinaryContent   = errors.New("file is not valid UTF-8 text")
	ErrTooLarge        = errors.New("file is too large")
)

// Text reads r according to the extension of filename.
func Text(filename string, r io.Reader) (string, error) {
	raw, err := io.ReadAll(io.LimitReader(r, MaxUploadSize+1))
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if len(raw) > MaxUploadSize {
		return "", ErrTooLarge
	}

	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".txt", ".md", ".markdown":
		return plainText(raw)
	case ".pdf":
		return pdfText(raw)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
	}
}

func plainText(raw []byte) (string, error) {
	if !utf8.Valid(raw) {
		return "", ErrBinaryContent
	}
	return strings.TrimSpace(string(raw)), nil
}

func pdfText(raw []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}
