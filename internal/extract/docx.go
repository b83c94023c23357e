package extract

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/nguyenthenguyen/docx"
)

// wordNamespace is the WordprocessingML main namespace.
const wordNamespace = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"

// markupCompatNamespace is the Office markup compatibility namespace (mc:).
const markupCompatNamespace = "http://schemas.openxmlformats.org/markup-compatibility/2006"

// extractDOCX returns the text of every paragraph in word/document.xml joined with newlines.
func extractDOCX(content []byte) (string, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("%w: open DOCX: %v", ErrExtraction, err)
	}
	defer r.Close()

	paragraphs, err := docxParagraphs(r.Editable().GetContent())
	if err != nil {
		return "", fmt.Errorf("%w: parse DOCX: %v", ErrExtraction, err)
	}
	return strings.Join(paragraphs, "\n"), nil
}

// docxParagraphs walks the document body and returns the text of each <w:p> in document
// order, table cells included. Runs are concatenated; <w:tab/> becomes a tab and
// <w:br/>/<w:cr/> a newline. A paragraph nested in another one (a text box) is emitted
// right after its container. mc:Fallback copies of such content are skipped.
func docxParagraphs(documentXML string) ([]string, error) {
	type frame struct {
		text   strings.Builder
		nested []string
	}
	dec := xml.NewDecoder(strings.NewReader(documentXML))
	var (
		paragraphs []string
		open       []*frame
		inText     bool
		fallback   int
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if fallback > 0 || isFallback(t.Name) {
				fallback++
				continue
			}
			if !isWordElement(t.Name) {
				continue
			}
			switch t.Name.Local {
			case "p":
				open = append(open, &frame{})
			case "t":
				inText = true
			case "tab":
				if len(open) > 0 {
					open[len(open)-1].text.WriteByte('\t')
				}
			case "br", "cr":
				if len(open) > 0 {
					open[len(open)-1].text.WriteByte('\n')
				}
			}
		case xml.EndElement:
			if fallback > 0 {
				fallback--
				continue
			}
			if !isWordElement(t.Name) {
				continue
			}
			switch t.Name.Local {
			case "p":
				if len(open) == 0 {
					continue
				}
				f := open[len(open)-1]
				open = open[:len(open)-1]
				lines := append([]string{f.text.String()}, f.nested...)
				if len(open) > 0 {
					parent := open[len(open)-1]
					parent.nested = append(parent.nested, lines...)
				} else {
					paragraphs = append(paragraphs, lines...)
				}
			case "t":
				inText = false
			}
		case xml.CharData:
			if inText && fallback == 0 && len(open) > 0 {
				open[len(open)-1].text.Write(t)
			}
		}
	}
	return paragraphs, nil
}

// isWordElement accepts both the resolved namespace and an undeclared "w" prefix.
func isWordElement(name xml.Name) bool {
	return name.Space == wordNamespace || name.Space == "w"
}

// isFallback matches mc:Fallback, which repeats the mc:Choice content for older readers.
func isFallback(name xml.Name) bool {
	return name.Local == "Fallback" && (name.Space == markupCompatNamespace || name.Space == "mc")
}
