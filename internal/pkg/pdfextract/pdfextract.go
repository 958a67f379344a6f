package pdfextract

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ExtractText reads the entire content of r and extracts plain text from the PDF.
// Returns empty string and nil error if the PDF has no extractable text.
func ExtractText(r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if len(b) == 0 {
		return "", nil
	}
	readerAt := bytes.NewReader(b)
	pdfReader, err := pdf.NewReader(readerAt, int64(len(b)))
	if err != nil {
		return "", err
	}
	plainReader, err := pdfReader.GetPlainText()
	if err != nil {
		return "", err
	}
	out, err := io.ReadAll(plainReader)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// ExtractFile extracts the text of an article PDF on disk.
func ExtractFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	text, err := ExtractText(f)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", path, err)
	}
	return NormalizeReferences(text), nil
}

// NormalizeReferences puts the "References:" heading on its own line so
// citation extraction can find it.
func NormalizeReferences(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "References:" || !strings.HasPrefix(trimmed, "References:") {
			continue
		}
		rest := strings.TrimSpace(strings.TrimPrefix(trimmed, "References:"))
		lines[i] = "References:\n" + rest
		break
	}
	return strings.Join(lines, "\n")
}
