package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// extractPDF returns the text of every page joined with newlines. A page whose text cannot
// be extracted contributes an empty string; only a document that cannot be opened fails.
func extractPDF(content []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("%w: open PDF: %v", ErrExtraction, r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("%w: open PDF: %v", ErrExtraction, err)
	}
	numPages := r.NumPage()
	pages := make([]string, numPages)
	for i := 0; i < numPages; i++ {
		pages[i] = pageText(r, i+1)
	}
	return strings.Join(pages, "\n"), nil
}

// pageText extracts one page, swallowing errors and panics from malformed content streams.
func pageText(r *pdf.Reader, num int) (text string) {
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()
	page := r.Page(num)
	if page.V.IsNull() {
		return ""
	}
	text, err := page.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return text
}
