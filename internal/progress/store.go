// Package progress persists per-chunk OCR results so an interrupted
// multi-chunk job can resume from the last committed chunk instead of
// reprocessing everything.
package progress

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/refstack/ocrbridge/internal/chunk"
	"github.com/refstack/ocrbridge/internal/ocr"
)

// Store is a filesystem-backed chunk result store. Records are keyed by
// (jobID, chunkIndex); one directory per record holding the markdown,
// binary assets, table fragments and a descriptor. The single-writer-per-key
// assumption holds because only one job drives a given jobID.
type Store struct {
	root string
}

func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create progress dir: %w", err)
	}
	return &Store{root: root}, nil
}

type descriptor struct {
	Chunk          chunk.Chunk `json:"chunk"`
	PagesProcessed int         `json:"pages_processed"`
	SourceFile     string      `json:"source_file,omitempty"`
	SavedAt        time.Time   `json:"saved_at"`
}

func (s *Store) jobDir(jobID string) string {
	return filepath.Join(s.root, jobID)
}

func (s *Store) chunkDir(jobID string, index int) string {
	return filepath.Join(s.jobDir(jobID), fmt.Sprintf("chunk_%03d", index))
}

// Save persists one chunk's result atomically: the record is assembled in a
// temp directory and renamed into place, overwriting any prior record for
// the same key.
func (s *Store) Save(jobID string, c chunk.Chunk, result *ocr.Result) error {
	jobDir := s.jobDir(jobID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return fmt.Errorf("create job dir: %w", err)
	}

	tmp, err := os.MkdirTemp(jobDir, ".tmp-chunk-")
	if err != nil {
		return fmt.Errorf("create temp record: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := os.WriteFile(filepath.Join(tmp, "document.md"), []byte(result.Markdown), 0o644); err != nil {
		return fmt.Errorf("write markdown: %w", err)
	}

	if len(result.Images) > 0 {
		imagesDir := filepath.Join(tmp, "images")
		if err := os.MkdirAll(imagesDir, 0o755); err != nil {
			return fmt.Errorf("create images dir: %w", err)
		}
		for name, data := range result.Images {
			if err := os.WriteFile(filepath.Join(imagesDir, filepath.Base(name)), data, 0o644); err != nil {
				return fmt.Errorf("write image %s: %w", name, err)
			}
		}
	}

	if len(result.Tables) > 0 {
		tablesDir := filepath.Join(tmp, "tables")
		if err := os.MkdirAll(tablesDir, 0o755); err != nil {
			return fmt.Errorf("create tables dir: %w", err)
		}
		for id, content := range result.Tables {
			if err := os.WriteFile(filepath.Join(tablesDir, filepath.Base(id)), []byte(content), 0o644); err != nil {
				return fmt.Errorf("write table %s: %w", id, err)
			}
		}
	}

	desc := descriptor{
		Chunk:          c,
		PagesProcessed: result.PagesProcessed,
		SourceFile:     result.SourceFile,
		SavedAt:        time.Now().UTC(),
	}
	data, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal descriptor: %w", err)
	}
	if err := os.WriteFile(filepath.Join(tmp, "descriptor.json"), data, 0o644); err != nil {
		return fmt.Errorf("write descriptor: %w", err)
	}

	final := s.chunkDir(jobID, c.Index)
	if err := os.RemoveAll(final); err != nil {
		return fmt.Errorf("replace record: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("commit record: %w", err)
	}
	return nil
}

// Load reads a committed chunk record. A missing record returns (zero, nil,
// false, nil).
func (s *Store) Load(jobID string, index int) (chunk.Chunk, *ocr.Result, bool, error) {
	dir := s.chunkDir(jobID, index)

	data, err := os.ReadFile(filepath.Join(dir, "descriptor.json"))
	if os.IsNotExist(err) {
		return chunk.Chunk{}, nil, false, nil
	}
	if err != nil {
		return chunk.Chunk{}, nil, false, fmt.Errorf("read descriptor: %w", err)
	}

	var desc descriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return chunk.Chunk{}, nil, false, fmt.Errorf("decode descriptor: %w", err)
	}

	md, err := os.ReadFile(filepath.Join(dir, "document.md"))
	if err != nil {
		return chunk.Chunk{}, nil, false, fmt.Errorf("read markdown: %w", err)
	}

	images := make(map[string][]byte)
	if entries, err := os.ReadDir(filepath.Join(dir, "images")); err == nil {
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			b, err := os.ReadFile(filepath.Join(dir, "images", e.Name()))
			if err != nil {
				return chunk.Chunk{}, nil, false, fmt.Errorf("read image %s: %w", e.Name(), err)
			}
			images[e.Name()] = b
		}
	}

	tables := make(map[string]string)
	if entries, err := os.ReadDir(filepath.Join(dir, "tables")); err == nil {
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			b, err := os.ReadFile(filepath.Join(dir, "tables", e.Name()))
			if err != nil {
				return chunk.Chunk{}, nil, false, fmt.Errorf("read table %s: %w", e.Name(), err)
			}
			tables[e.Name()] = string(b)
		}
	}

	result := &ocr.Result{
		Markdown:       string(md),
		Images:         images,
		Tables:         tables,
		PagesProcessed: desc.PagesProcessed,
		SourceFile:     desc.SourceFile,
	}
	return desc.Chunk, result, true, nil
}

// SavedIndices enumerates which chunk indices of a job have committed
// records, so the orchestrator can skip completed chunks on resume.
func (s *Store) SavedIndices(jobID string) (map[int]bool, error) {
	saved := make(map[int]bool)

	entries, err := os.ReadDir(s.jobDir(jobID))
	if os.IsNotExist(err) {
		return saved, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list job records: %w", err)
	}

	for _, e := range entries {
		var idx int
		if !e.IsDir() {
			continue
		}
		if _, err := fmt.Sscanf(e.Name(), "chunk_%03d", &idx); err != nil {
			continue
		}
		// Only count fully committed records.
		if _, err := os.Stat(filepath.Join(s.jobDir(jobID), e.Name(), "descriptor.json")); err == nil {
			saved[idx] = true
		}
	}
	return saved, nil
}

// Clear removes every record for a job. Called only after the merger has
// produced the final document.
func (s *Store) Clear(jobID string) error {
	if err := os.RemoveAll(s.jobDir(jobID)); err != nil {
		return fmt.Errorf("clear job %s: %w", jobID, err)
	}
	return nil
}
