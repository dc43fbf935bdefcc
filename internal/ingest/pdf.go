package ingest

import (
	"fmt"
	"strings"

	pdflib "github.com/ledongthuc/pdf"
)

// readPDF extracts per-page plain text. Pages become level-2 sections so a
// long PDF still chunks along page boundaries.
func readPDF(path string) (string, error) {
	f, reader, err := pdflib.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "## Page %d\n\n%s", i, text)
	}
	return b.String(), nil
}
