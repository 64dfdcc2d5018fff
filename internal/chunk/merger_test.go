package chunk

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/refstack/ocrbridge/internal/ocr"
)

func TestMerge_SingleChunkPassthrough(t *testing.T) {
	r := &ocr.Result{
		Markdown:       "# Title\n\ncontent ![fig](img-0.jpeg)",
		Images:         map[string][]byte{"img-0.jpeg": {0xff, 0xd8, 0x01}},
		Tables:         map[string]string{"tbl-0": "| a |"},
		PagesProcessed: 3,
		SourceFile:     "chunk label",
	}
	merged := Merge([]ChunkResult{{Chunk: Chunk{Index: 0, StartPage: 0, EndPage: 3}, Result: r}}, "paper.pdf")

	if merged.Markdown != r.Markdown {
		t.Error("single chunk markdown must pass through untouched")
	}
	if merged.SourceFile != "paper.pdf" {
		t.Errorf("source file = %q, want paper.pdf", merged.SourceFile)
	}
	if _, ok := merged.Images["img-0.jpeg"]; !ok {
		t.Error("single chunk image names must not be prefixed")
	}
	if merged.PagesProcessed != 3 {
		t.Errorf("pages = %d, want 3", merged.PagesProcessed)
	}
}

func TestMerge_PageRenumbering(t *testing.T) {
	a := &ocr.Result{
		Markdown:       "<!-- Page 1 -->\nfirst\n\n---\n<!-- Page 50 -->\nmiddle",
		PagesProcessed: 100,
	}
	b := &ocr.Result{
		Markdown:       "<!-- Page 1 -->\nresumed\n\n---\n<!-- Page 50 -->\nlater",
		PagesProcessed: 80,
	}
	merged := Merge([]ChunkResult{
		{Chunk: Chunk{Index: 0, StartPage: 0, EndPage: 100}, Result: a},
		{Chunk: Chunk{Index: 1, StartPage: 100, EndPage: 180}, Result: b},
	}, "doc.pdf")

	// Second chunk pages shift by the first chunk's processed count.
	for _, want := range []string{
		"<!-- Page 1 -->\nfirst",
		"<!-- Page 50 -->\nmiddle",
		"<!-- Page 101 -->\nresumed",
		"<!-- Page 150 -->\nlater",
	} {
		if !strings.Contains(merged.Markdown, want) {
			t.Errorf("merged output missing %q", want)
		}
	}
	if merged.PagesProcessed != 180 {
		t.Errorf("pages = %d, want 180", merged.PagesProcessed)
	}
}

func TestMerge_ThreeChunkOffsetsAccumulate(t *testing.T) {
	var results []ChunkResult
	for i := range 3 {
		results = append(results, ChunkResult{
			Chunk: Chunk{Index: i, StartPage: i * 10, EndPage: (i + 1) * 10},
			Result: &ocr.Result{
				Markdown:       "<!-- Page 1 -->\nbody",
				PagesProcessed: 10,
			},
		})
	}
	merged := Merge(results, "doc.pdf")

	for _, want := range []string{"<!-- Page 1 -->", "<!-- Page 11 -->", "<!-- Page 21 -->"} {
		if !strings.Contains(merged.Markdown, want) {
			t.Errorf("merged output missing %q", want)
		}
	}
}

func TestMerge_AssetPrefixing(t *testing.T) {
	var results []ChunkResult
	for i := range 3 {
		results = append(results, ChunkResult{
			Chunk: Chunk{Index: i, StartPage: i * 10, EndPage: (i + 1) * 10},
			Result: &ocr.Result{
				Markdown:       `![fig](img-001.jpeg) and <img src="images/img-002.png"> and [tbl-1]`,
				Images:         map[string][]byte{"img-001.jpeg": {byte(i)}, "img-002.png": {0x10, byte(i)}},
				Tables:         map[string]string{"tbl-1": fmt.Sprintf("table %d", i)},
				PagesProcessed: 10,
			},
		})
	}
	merged := Merge(results, "doc.pdf")

	// Identically named assets from different chunks must not collide.
	if len(merged.Images) != 6 {
		t.Fatalf("expected 6 images, got %d", len(merged.Images))
	}
	if len(merged.Tables) != 3 {
		t.Fatalf("expected 3 tables, got %d", len(merged.Tables))
	}
	for i := range 3 {
		name := fmt.Sprintf("chunk%02d_img-001.jpeg", i)
		data, ok := merged.Images[name]
		if !ok {
			t.Errorf("missing image %q", name)
			continue
		}
		if !bytes.Equal(data, []byte{byte(i)}) {
			t.Errorf("image %q bytes do not match original chunk data", name)
		}
	}

	for _, want := range []string{
		"![fig](chunk00_img-001.jpeg)",
		`src="images/chunk01_img-002.png"`,
		"[chunk02_tbl-1]",
	} {
		if !strings.Contains(merged.Markdown, want) {
			t.Errorf("merged output missing rewritten reference %q", want)
		}
	}
}

func TestMerge_ProvenanceHeaders(t *testing.T) {
	merged := Merge([]ChunkResult{
		{
			Chunk:  Chunk{Index: 0, StartPage: 0, EndPage: 300, Title: "Part I"},
			Result: &ocr.Result{Markdown: "alpha", PagesProcessed: 300},
		},
		{
			Chunk:  Chunk{Index: 1, StartPage: 300, EndPage: 450},
			Result: &ocr.Result{Markdown: "beta", PagesProcessed: 150},
		},
	}, "book.pdf")

	if !strings.HasPrefix(merged.Markdown, "<!-- Merged from 2 chunks -->\n") {
		t.Error("merged document must start with the merge header")
	}
	for _, want := range []string{
		"<!-- Chunk 1 of 2 (original pages 1-300) -->",
		"<!-- Section: Part I -->",
		"<!-- Chunk 2 of 2 (original pages 301-450) -->",
	} {
		if !strings.Contains(merged.Markdown, want) {
			t.Errorf("merged output missing provenance header %q", want)
		}
	}
	// Untitled chunks get no section comment.
	if strings.Count(merged.Markdown, "<!-- Section:") != 1 {
		t.Error("expected exactly one section header")
	}
	if merged.SourceFile != "book.pdf" {
		t.Errorf("source file = %q, want book.pdf", merged.SourceFile)
	}
}

func TestRewriteMarkdown_LeavesUnknownPatternsAlone(t *testing.T) {
	in := "plain text ![other](photo.jpeg) [note-3] <!-- comment -->"
	out := rewriteMarkdown(in, 10, "chunk01_")
	if out != in {
		t.Errorf("non-matching content was modified:\n%s", out)
	}
}
