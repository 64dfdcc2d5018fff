// Package pdftext extracts plain text from PDFs locally. It is the
// fallback path when the remote OCR service fails terminally: the output is
// markdown-poor but keeps the item usable.
package pdftext

import (
	"fmt"
	"strings"

	pdflib "github.com/ledongthuc/pdf"
)

// ExtractText reads every page's plain text. Pages after the first are
// preceded by a page marker comment so downstream handling matches OCR
// output.
func ExtractText(path string) (string, int, error) {
	f, reader, err := pdflib.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	var buf strings.Builder
	numPages := reader.NumPage()
	extracted := 0
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if i > 1 {
			fmt.Fprintf(&buf, "\n\n---\n<!-- Page %d -->\n\n", i)
		}
		buf.WriteString(text)
		extracted++
	}

	if extracted == 0 {
		return "", 0, fmt.Errorf("no extractable text in %s", path)
	}
	return buf.String(), numPages, nil
}
