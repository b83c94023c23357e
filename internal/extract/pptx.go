package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// pptxSlidePattern matches slide parts and captures the slide number.
var pptxSlidePattern = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// atTag matches <a:t>text</a:t> with any attributes.
var atTag = regexp.MustCompile(`<a:t[^>]*>([^<]*)</a:t>`)

type pptxSlide struct {
	num  int
	file *zip.File
}

// extractPPTX returns one line per slide, in slide order, with the slide's text runs
// separated by spaces.
func extractPPTX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("%w: PPTX is not a zip: %v", ErrExtraction, err)
	}
	var slides []pptxSlide
	for _, f := range zr.File {
		m := pptxSlidePattern.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		num, _ := strconv.Atoi(m[1])
		slides = append(slides, pptxSlide{num: num, file: f})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	lines := make([]string, 0, len(slides))
	for _, s := range slides {
		rc, err := s.file.Open()
		if err != nil {
			return "", fmt.Errorf("%w: open %s: %v", ErrExtraction, s.file.Name, err)
		}
		var buf bytes.Buffer
		_, err = buf.ReadFrom(rc)
		_ = rc.Close()
		if err != nil {
			return "", fmt.Errorf("%w: read %s: %v", ErrExtraction, s.file.Name, err)
		}
		var runs []string
		for _, m := range atTag.FindAllStringSubmatch(buf.String(), -1) {
			if run := strings.TrimSpace(m[1]); run != "" {
				runs = append(runs, run)
			}
		}
		lines = append(lines, strings.Join(runs, " "))
	}
	return strings.TrimSpace(strings.Join(lines, "\n")), nil
}
