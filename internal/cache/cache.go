// Package cache stores whole-document OCR results on disk so repeated
// conversions of an unchanged PDF skip the provider entirely.
package cache

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/refstack/ocrbridge/internal/ocr"
)

// Cache is constructed once and passed to the orchestrator; there is no
// package-level instance.
type Cache struct {
	dir     string
	enabled bool
	log     *slog.Logger
}

func New(dir string, enabled bool, log *slog.Logger) (*Cache, error) {
	if enabled {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}
	return &Cache{dir: dir, enabled: enabled, log: log}, nil
}

type metadata struct {
	SourceFile     string    `json:"source_file,omitempty"`
	PagesProcessed int       `json:"pages_processed"`
	CachedAt       time.Time `json:"cached_at"`
	OriginalPath   string    `json:"original_path"`
}

// key derives the cache key from the file's absolute path, size and mtime,
// so edits to the PDF invalidate the entry.
func (c *Cache) key(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	h := sha256.Sum256(fmt.Appendf(nil, "%s:%d:%d", abs, info.Size(), info.ModTime().UnixNano()))
	return fmt.Sprintf("%x", h[:8]), nil
}

// Get returns the cached result for a PDF, or nil on a miss. Read failures
// degrade to a miss with a warning; the document is simply re-processed.
func (c *Cache) Get(path string) *ocr.Result {
	if !c.enabled {
		return nil
	}

	key, err := c.key(path)
	if err != nil {
		return nil
	}
	dir := filepath.Join(c.dir, key)

	metaRaw, err := os.ReadFile(filepath.Join(dir, "metadata.json"))
	if err != nil {
		return nil
	}
	var meta metadata
	if err := json.Unmarshal(metaRaw, &meta); err != nil {
		c.warn("invalid cache metadata", key, err)
		return nil
	}

	md, err := os.ReadFile(filepath.Join(dir, "document.md"))
	if err != nil {
		c.warn("cache read failed", key, err)
		return nil
	}

	images := make(map[string][]byte)
	if entries, err := os.ReadDir(filepath.Join(dir, "images")); err == nil {
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			b, err := os.ReadFile(filepath.Join(dir, "images", e.Name()))
			if err != nil {
				c.warn("cache image read failed", key, err)
				return nil
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
				c.warn("cache table read failed", key, err)
				return nil
			}
			tables[e.Name()] = string(b)
		}
	}

	if c.log != nil {
		c.log.Info("cache hit", "path", filepath.Base(path), "key", key)
	}
	return &ocr.Result{
		Markdown:       string(md),
		Images:         images,
		Tables:         tables,
		PagesProcessed: meta.PagesProcessed,
		SourceFile:     meta.SourceFile,
	}
}

// Put stores a result. Failures are logged and swallowed; caching is best
// effort.
func (c *Cache) Put(path string, result *ocr.Result) {
	if !c.enabled {
		return
	}

	key, err := c.key(path)
	if err != nil {
		return
	}
	dir := filepath.Join(c.dir, key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		c.warn("cache write failed", key, err)
		return
	}

	if err := os.WriteFile(filepath.Join(dir, "document.md"), []byte(result.Markdown), 0o644); err != nil {
		c.warn("cache write failed", key, err)
		return
	}

	if len(result.Images) > 0 {
		imagesDir := filepath.Join(dir, "images")
		if err := os.MkdirAll(imagesDir, 0o755); err == nil {
			for name, data := range result.Images {
				if err := os.WriteFile(filepath.Join(imagesDir, filepath.Base(name)), data, 0o644); err != nil {
					c.warn("cache image write failed", key, err)
				}
			}
		}
	}

	if len(result.Tables) > 0 {
		tablesDir := filepath.Join(dir, "tables")
		if err := os.MkdirAll(tablesDir, 0o755); err == nil {
			for id, content := range result.Tables {
				if err := os.WriteFile(filepath.Join(tablesDir, filepath.Base(id)), []byte(content), 0o644); err != nil {
					c.warn("cache table write failed", key, err)
				}
			}
		}
	}

	abs, _ := filepath.Abs(path)
	meta := metadata{
		SourceFile:     result.SourceFile,
		PagesProcessed: result.PagesProcessed,
		CachedAt:       time.Now().UTC(),
		OriginalPath:   abs,
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err == nil {
		err = os.WriteFile(filepath.Join(dir, "metadata.json"), data, 0o644)
	}
	if err != nil {
		c.warn("cache metadata write failed", key, err)
	}
}

func (c *Cache) warn(msg, key string, err error) {
	if c.log != nil {
		c.log.Warn(msg, "key", key, "error", err)
	}
}
