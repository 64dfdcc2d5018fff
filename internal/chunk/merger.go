package chunk

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/refstack/ocrbridge/internal/ocr"
)

// ChunkResult pairs a chunk with its OCR output.
type ChunkResult struct {
	Chunk  Chunk
	Result *ocr.Result
}

var (
	pageMarkerRe = regexp.MustCompile(`<!-- Page (\d+) -->`)
	imageLinkRe  = regexp.MustCompile(`\]\(((?:images/)?)(img-\d+\.[a-z]+)\)`)
	imageSrcRe   = regexp.MustCompile(`src="((?:images/)?)(img-\d+\.[a-z]+)"`)
	tableRefRe   = regexp.MustCompile(`\[(tbl-\d+)\]`)
)

// Merge combines ordered chunk results into one logical document: page
// markers are renumbered with a running offset, image and table names get a
// chunk-scoped prefix so independently-produced assets cannot collide, and
// provenance comments record where each passage came from. Inputs are never
// mutated.
func Merge(results []ChunkResult, sourceFile string) *ocr.Result {
	if len(results) == 1 {
		r := results[0].Result
		if sourceFile != "" {
			return &ocr.Result{
				Markdown:       r.Markdown,
				Images:         r.Images,
				Tables:         r.Tables,
				PagesProcessed: r.PagesProcessed,
				SourceFile:     sourceFile,
			}
		}
		return r
	}

	var parts []string
	images := make(map[string][]byte)
	tables := make(map[string]string)
	totalPages := 0
	pageOffset := 0

	parts = append(parts, fmt.Sprintf("<!-- Merged from %d chunks -->\n", len(results)))

	for _, cr := range results {
		c := cr.Chunk
		r := cr.Result
		prefix := fmt.Sprintf("chunk%02d_", c.Index)

		header := fmt.Sprintf("\n\n<!-- Chunk %d of %d (original pages %d-%d) -->\n",
			c.Index+1, len(results), c.StartPage+1, c.EndPage)
		if c.Title != "" {
			header += fmt.Sprintf("<!-- Section: %s -->\n", c.Title)
		}
		parts = append(parts, header)

		parts = append(parts, rewriteMarkdown(r.Markdown, pageOffset, prefix))

		for name, data := range r.Images {
			images[prefix+name] = data
		}
		for id, content := range r.Tables {
			tables[prefix+id] = content
		}

		pageOffset += r.PagesProcessed
		totalPages += r.PagesProcessed
	}

	return &ocr.Result{
		Markdown:       strings.Join(parts, ""),
		Images:         images,
		Tables:         tables,
		PagesProcessed: totalPages,
		SourceFile:     sourceFile,
	}
}

// rewriteMarkdown shifts embedded page markers by pageOffset and prefixes
// every image and table reference with the chunk prefix.
func rewriteMarkdown(markdown string, pageOffset int, prefix string) string {
	out := pageMarkerRe.ReplaceAllStringFunc(markdown, func(m string) string {
		sub := pageMarkerRe.FindStringSubmatch(m)
		n, err := strconv.Atoi(sub[1])
		if err != nil {
			return m
		}
		return fmt.Sprintf("<!-- Page %d -->", n+pageOffset)
	})

	out = imageLinkRe.ReplaceAllString(out, "](${1}"+prefix+"${2})")
	out = imageSrcRe.ReplaceAllString(out, `src="${1}`+prefix+`${2}"`)
	out = tableRefRe.ReplaceAllString(out, "["+prefix+"${1}]")

	return out
}
