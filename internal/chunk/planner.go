package chunk

import (
	"log/slog"
	"sort"
)

// TOCEntry is a table-of-contents entry usable as a preferred split point.
type TOCEntry struct {
	Level int    // nesting depth, 1 = top level
	Title string
	Page  int // 0-indexed
}

// Chunk is a contiguous page range of a source document, processed
// independently. Index is the chunk's position in processing order and
// doubles as the merge and resume key.
type Chunk struct {
	Index     int    `json:"index"`
	StartPage int    `json:"start_page"` // 0-indexed, inclusive
	EndPage   int    `json:"end_page"`   // 0-indexed, exclusive
	Title     string `json:"title,omitempty"`
	Path      string `json:"-"` // materialized chunk PDF, set by MaterializeChunks
}

func (c Chunk) PageCount() int {
	return c.EndPage - c.StartPage
}

// Plan is the immutable result of analyzing a source document.
type Plan struct {
	SourcePath string
	TotalPages int
	Chunks     []Chunk
	HasTOC     bool

	pageLimit int
}

// NeedsChunking reports whether the document exceeds the provider's
// per-request page ceiling.
func (p *Plan) NeedsChunking() bool {
	return p.TotalPages > p.pageLimit
}

// Planner partitions documents into page ranges that fit within the
// provider's page limit, preferring TOC-aligned boundaries.
type Planner struct {
	// PageLimit is the provider's hard per-request ceiling.
	PageLimit int
	// MaxChunkSize is the planning ceiling per chunk, kept below PageLimit.
	MaxChunkSize int
	// MinLevel and MaxLevel bound the TOC levels considered as split
	// points. Deeper entries over-fragment the document.
	MinLevel int
	MaxLevel int

	Log *slog.Logger
}

func NewPlanner(pageLimit, maxChunkSize int, log *slog.Logger) *Planner {
	return &Planner{
		PageLimit:    pageLimit,
		MaxChunkSize: maxChunkSize,
		MinLevel:     1,
		MaxLevel:     2,
		Log:          log,
	}
}

// BuildPlan partitions [0, totalPages) into contiguous, non-overlapping
// chunks. Documents within the page limit yield a single chunk. Boundaries
// need not be sorted; they are sorted by page here before use.
func (p *Planner) BuildPlan(sourcePath string, totalPages int, boundaries []TOCEntry) *Plan {
	hasTOC := len(boundaries) > 0

	plan := &Plan{
		SourcePath: sourcePath,
		TotalPages: totalPages,
		HasTOC:     hasTOC,
		pageLimit:  p.PageLimit,
	}

	if totalPages <= p.PageLimit {
		plan.Chunks = []Chunk{{Index: 0, StartPage: 0, EndPage: totalPages}}
		return plan
	}

	if hasTOC {
		plan.Chunks = p.chunkByTOC(boundaries, totalPages)
	} else {
		plan.Chunks = p.chunkBySize(totalPages)
	}
	return plan
}

// chunkByTOC greedily scans forward, closing each chunk at the last TOC
// boundary that fits within the size ceiling.
func (p *Planner) chunkByTOC(toc []TOCEntry, totalPages int) []Chunk {
	sorted := make([]TOCEntry, len(toc))
	copy(sorted, toc)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Page < sorted[j].Page })

	var chunks []Chunk
	currentStart := 0
	index := 0

	for currentStart < totalPages {
		maxEnd := min(currentStart+p.MaxChunkSize, totalPages)

		if maxEnd >= totalPages {
			chunks = append(chunks, Chunk{
				Index:     index,
				StartPage: currentStart,
				EndPage:   totalPages,
				Title:     sectionTitle(sorted, currentStart),
			})
			break
		}

		// Last boundary in (currentStart, maxEnd] wins: maximizes chunk
		// utilization while staying boundary-aligned.
		bestSplit := -1
		for _, entry := range sorted {
			if currentStart < entry.Page && entry.Page <= maxEnd {
				bestSplit = entry.Page
			}
		}

		if bestSplit < 0 {
			if totalPages-currentStart <= p.MaxChunkSize {
				bestSplit = totalPages
			} else {
				bestSplit = maxEnd
				if p.Log != nil {
					p.Log.Warn("no TOC boundary in window, using fixed split",
						"from_page", currentStart+1,
						"to_page", maxEnd,
						"split", bestSplit)
				}
			}
		}

		chunks = append(chunks, Chunk{
			Index:     index,
			StartPage: currentStart,
			EndPage:   bestSplit,
			Title:     sectionTitle(sorted, currentStart),
		})

		currentStart = bestSplit
		index++
	}

	return chunks
}

// chunkBySize slices the document into fixed windows when no TOC exists.
func (p *Planner) chunkBySize(totalPages int) []Chunk {
	var chunks []Chunk
	index := 0
	currentStart := 0

	for currentStart < totalPages {
		end := min(currentStart+p.MaxChunkSize, totalPages)
		chunks = append(chunks, Chunk{
			Index:     index,
			StartPage: currentStart,
			EndPage:   end,
		})
		currentStart = end
		index++
	}

	return chunks
}

// sectionTitle returns the label of the nearest boundary at or before the
// given page. toc must be sorted by page.
func sectionTitle(toc []TOCEntry, page int) string {
	title := ""
	for _, entry := range toc {
		if entry.Page <= page {
			title = entry.Title
		} else {
			break
		}
	}
	return title
}
