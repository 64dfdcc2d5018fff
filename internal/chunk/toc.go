package chunk

import (
	"fmt"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
)

// PageCount returns the number of pages in a PDF.
func PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("page count %s: %w", path, err)
	}
	return n, nil
}

// ExtractTOC reads a document's outline and returns entries whose level is
// within [minLevel, maxLevel]. Raw page numbers are 1-indexed at the source;
// entries outside [1, totalPages] are dropped, the rest converted to
// 0-indexed. A document without an outline yields an empty slice. No
// ordering is guaranteed; callers sort by page before use.
func ExtractTOC(path string, totalPages, minLevel, maxLevel int) ([]TOCEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	bms, err := api.Bookmarks(f, nil)
	if err != nil {
		// pdfcpu reports a missing outline as an error; treat it as an
		// absent TOC rather than a failure.
		return nil, nil
	}

	var entries []TOCEntry
	var walk func(bms []pdfcpu.Bookmark, level int)
	walk = func(bms []pdfcpu.Bookmark, level int) {
		for _, bm := range bms {
			if minLevel <= level && level <= maxLevel {
				if 1 <= bm.PageFrom && bm.PageFrom <= totalPages {
					entries = append(entries, TOCEntry{
						Level: level,
						Title: bm.Title,
						Page:  bm.PageFrom - 1,
					})
				}
			}
			if len(bm.Kids) > 0 {
				walk(bm.Kids, level+1)
			}
		}
	}
	walk(bms, 1)

	return entries, nil
}

// Analyze determines the chunking strategy for a PDF: page count, TOC
// extraction, then planning.
func (p *Planner) Analyze(path string) (*Plan, error) {
	totalPages, err := PageCount(path)
	if err != nil {
		return nil, err
	}

	toc, err := ExtractTOC(path, totalPages, p.MinLevel, p.MaxLevel)
	if err != nil {
		return nil, err
	}

	plan := p.BuildPlan(path, totalPages, toc)
	if p.Log != nil {
		p.Log.Info("analyzed pdf",
			"path", path,
			"total_pages", totalPages,
			"chunks", len(plan.Chunks),
			"has_toc", plan.HasTOC)
	}
	return plan, nil
}
