package chunk

import (
	"testing"
)

func testPlanner() *Planner {
	return NewPlanner(500, 450, nil)
}

func checkContiguous(t *testing.T, chunks []Chunk, totalPages int) {
	t.Helper()
	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}
	if chunks[0].StartPage != 0 {
		t.Errorf("first chunk starts at %d, want 0", chunks[0].StartPage)
	}
	for i := 1; i < len(chunks); i++ {
		if chunks[i].StartPage != chunks[i-1].EndPage {
			t.Errorf("chunk %d starts at %d but previous ends at %d",
				i, chunks[i].StartPage, chunks[i-1].EndPage)
		}
		if chunks[i].Index != i {
			t.Errorf("chunk %d has index %d", i, chunks[i].Index)
		}
	}
	if last := chunks[len(chunks)-1]; last.EndPage != totalPages {
		t.Errorf("last chunk ends at %d, want %d", last.EndPage, totalPages)
	}
}

func TestBuildPlan_SingleChunkWithinLimit(t *testing.T) {
	p := testPlanner()
	plan := p.BuildPlan("doc.pdf", 500, nil)

	if plan.NeedsChunking() {
		t.Error("500 pages should not need chunking at a 500 page limit")
	}
	if len(plan.Chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(plan.Chunks))
	}
	c := plan.Chunks[0]
	if c.StartPage != 0 || c.EndPage != 500 {
		t.Errorf("chunk covers [%d,%d), want [0,500)", c.StartPage, c.EndPage)
	}
}

func TestBuildPlan_SinglePageDocument(t *testing.T) {
	plan := testPlanner().BuildPlan("doc.pdf", 1, nil)
	if plan.NeedsChunking() || len(plan.Chunks) != 1 || plan.Chunks[0].PageCount() != 1 {
		t.Errorf("unexpected plan for single page document: %+v", plan.Chunks)
	}
}

func TestBuildPlan_FixedSizeFallback(t *testing.T) {
	p := testPlanner()
	plan := p.BuildPlan("doc.pdf", 1000, nil)

	if !plan.NeedsChunking() {
		t.Error("1000 pages should need chunking")
	}
	if plan.HasTOC {
		t.Error("no TOC was supplied")
	}
	// ceil(1000/450) = 3 windows: 450, 450, 100.
	if len(plan.Chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(plan.Chunks))
	}
	checkContiguous(t, plan.Chunks, 1000)
	if plan.Chunks[2].PageCount() != 100 {
		t.Errorf("final chunk has %d pages, want 100", plan.Chunks[2].PageCount())
	}
	for _, c := range plan.Chunks {
		if c.PageCount() > 450 {
			t.Errorf("chunk %d has %d pages, exceeds ceiling", c.Index, c.PageCount())
		}
	}
}

func TestChunkByTOC_BoundaryAligned(t *testing.T) {
	p := NewPlanner(500, 500, nil)
	toc := []TOCEntry{
		{Level: 1, Title: "Introduction", Page: 0},
		{Level: 1, Title: "Methods", Page: 300},
		{Level: 1, Title: "Results", Page: 600},
		{Level: 1, Title: "Discussion", Page: 900},
	}
	plan := p.BuildPlan("doc.pdf", 1200, toc)

	want := []Chunk{
		{Index: 0, StartPage: 0, EndPage: 300, Title: "Introduction"},
		{Index: 1, StartPage: 300, EndPage: 600, Title: "Methods"},
		{Index: 2, StartPage: 600, EndPage: 900, Title: "Results"},
		{Index: 3, StartPage: 900, EndPage: 1200, Title: "Discussion"},
	}
	if len(plan.Chunks) != len(want) {
		t.Fatalf("expected %d chunks, got %d: %+v", len(want), len(plan.Chunks), plan.Chunks)
	}
	for i, w := range want {
		got := plan.Chunks[i]
		if got.StartPage != w.StartPage || got.EndPage != w.EndPage || got.Title != w.Title {
			t.Errorf("chunk %d = [%d,%d) %q, want [%d,%d) %q",
				i, got.StartPage, got.EndPage, got.Title, w.StartPage, w.EndPage, w.Title)
		}
	}
	checkContiguous(t, plan.Chunks, 1200)
}

func TestChunkByTOC_LargestBoundaryWins(t *testing.T) {
	// Multiple boundaries fit in the first window; the last one in range
	// must be chosen to maximize chunk size.
	p := NewPlanner(100, 100, nil)
	toc := []TOCEntry{
		{Level: 1, Title: "A", Page: 20},
		{Level: 1, Title: "B", Page: 60},
		{Level: 1, Title: "C", Page: 95},
		{Level: 1, Title: "D", Page: 150},
	}
	plan := p.BuildPlan("doc.pdf", 220, toc)

	if plan.Chunks[0].EndPage != 95 {
		t.Errorf("first chunk ends at %d, want 95", plan.Chunks[0].EndPage)
	}
	checkContiguous(t, plan.Chunks, 220)
}

func TestChunkByTOC_TailFitsWithoutBoundary(t *testing.T) {
	// After page 95 there is no usable boundary, but the tail fits within
	// the ceiling, so the plan closes at the end of the document.
	p := NewPlanner(100, 100, nil)
	toc := []TOCEntry{{Level: 1, Title: "A", Page: 95}}
	plan := p.BuildPlan("doc.pdf", 180, toc)

	if len(plan.Chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %+v", len(plan.Chunks), plan.Chunks)
	}
	if plan.Chunks[1].StartPage != 95 || plan.Chunks[1].EndPage != 180 {
		t.Errorf("tail chunk = [%d,%d), want [95,180)",
			plan.Chunks[1].StartPage, plan.Chunks[1].EndPage)
	}
}

func TestChunkByTOC_FixedSplitWhenNoBoundaryInWindow(t *testing.T) {
	// The only boundary sits beyond the window and the remainder does not
	// fit, forcing a fixed cut at the window edge.
	p := NewPlanner(100, 100, nil)
	toc := []TOCEntry{{Level: 1, Title: "Late", Page: 250}}
	plan := p.BuildPlan("doc.pdf", 300, toc)

	if plan.Chunks[0].EndPage != 100 {
		t.Errorf("first chunk ends at %d, want fixed cut at 100", plan.Chunks[0].EndPage)
	}
	checkContiguous(t, plan.Chunks, 300)
	for _, c := range plan.Chunks {
		if c.PageCount() > 100 {
			t.Errorf("chunk %d has %d pages, exceeds ceiling", c.Index, c.PageCount())
		}
	}
}

func TestChunkByTOC_UnsortedBoundaries(t *testing.T) {
	p := NewPlanner(100, 100, nil)
	toc := []TOCEntry{
		{Level: 1, Title: "B", Page: 90},
		{Level: 1, Title: "A", Page: 40},
	}
	plan := p.BuildPlan("doc.pdf", 150, toc)

	if plan.Chunks[0].EndPage != 90 {
		t.Errorf("first chunk ends at %d, want 90", plan.Chunks[0].EndPage)
	}
	checkContiguous(t, plan.Chunks, 150)
}

func TestSectionTitle(t *testing.T) {
	toc := []TOCEntry{
		{Title: "One", Page: 0},
		{Title: "Two", Page: 50},
		{Title: "Three", Page: 120},
	}
	cases := []struct {
		page int
		want string
	}{
		{0, "One"},
		{49, "One"},
		{50, "Two"},
		{119, "Two"},
		{500, "Three"},
	}
	for _, tc := range cases {
		if got := sectionTitle(toc, tc.page); got != tc.want {
			t.Errorf("sectionTitle(page %d) = %q, want %q", tc.page, got, tc.want)
		}
	}
}

func TestSectionTitle_BeforeFirstBoundary(t *testing.T) {
	toc := []TOCEntry{{Title: "Late", Page: 100}}
	if got := sectionTitle(toc, 10); got != "" {
		t.Errorf("expected empty title before first boundary, got %q", got)
	}
}
