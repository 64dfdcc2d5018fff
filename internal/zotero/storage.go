package zotero

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/refstack/ocrbridge/internal/ocr"
)

// AttachmentMarker tags attachment titles created by this service, so
// existing conversions are detected idempotently.
const AttachmentMarker = "[Mistral-OCR]"

// Zotero notes cap out around 1MB; stay well below.
const maxNoteSize = 500000

// Storage persists converted documents locally and registers them in the
// library as linked-file attachments (local mode) or notes (web mode).
// Reads may go through the local API; writes always use the web API because
// the local API is read-only.
type Storage struct {
	read    *Client
	write   *Client
	dataDir string
	local   bool
	log     *slog.Logger
}

func NewStorage(read, write *Client, dataDir string, local bool, log *slog.Logger) (*Storage, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Storage{read: read, write: write, dataDir: dataDir, local: local, log: log}, nil
}

// StoredAttachment describes the library entry created for a conversion.
type StoredAttachment struct {
	Key         string `json:"key"`
	Type        string `json:"type"` // "linked_file" or "note"
	LocalPath   string `json:"local_path"`
	ImagesCount int    `json:"images_count"`
}

// OCRAttachment finds an existing conversion attachment for an item, or nil.
func (s *Storage) OCRAttachment(ctx context.Context, itemKey string) (*Item, error) {
	children, err := s.read.Children(ctx, itemKey)
	if err != nil {
		return nil, err
	}
	for i := range children {
		data := &children[i].Data
		if data.ItemType == "attachment" || data.ItemType == "note" {
			if strings.Contains(data.Title, AttachmentMarker) ||
				(data.ItemType == "note" && strings.Contains(data.Note, AttachmentMarker)) {
				return &children[i], nil
			}
		}
	}
	return nil, nil
}

// HasConversion reports whether an item already has a conversion. Lookup
// errors degrade to false with a warning so a flaky check never blocks
// processing.
func (s *Storage) HasConversion(ctx context.Context, itemKey string) bool {
	att, err := s.OCRAttachment(ctx, itemKey)
	if err != nil {
		s.log.Warn("conversion check failed", "item_key", itemKey, "error", err)
		return false
	}
	return att != nil
}

// ItemDir returns the local storage directory for an item's results.
func (s *Storage) ItemDir(itemKey string) string {
	return filepath.Join(s.dataDir, itemKey)
}

var imageRefRe = regexp.MustCompile(`\]\(((?:chunk\d+_)?img-\d+\.[a-z]+)\)`)

// StoreResult writes the converted document and its images under the item's
// local directory and creates the corresponding library entry.
func (s *Storage) StoreResult(ctx context.Context, itemKey string, result *ocr.Result, pdfFilename string) (*StoredAttachment, error) {
	itemDir := s.ItemDir(itemKey)
	if err := os.MkdirAll(itemDir, 0o755); err != nil {
		return nil, fmt.Errorf("create item dir: %w", err)
	}

	baseName := itemKey
	if pdfFilename != "" {
		baseName = strings.TrimSuffix(filepath.Base(pdfFilename), filepath.Ext(pdfFilename))
	}
	mdPath := filepath.Join(itemDir, baseName+"_ocr.md")

	source := result.SourceFile
	if source == "" {
		source = "Unknown"
	}
	header := fmt.Sprintf("<!--\nMistral OCR Conversion\nSource: %s\nPages: %d\nConverted: %s\n-->\n\n",
		source, result.PagesProcessed, time.Now().Format(time.RFC3339))

	content := result.Markdown
	if len(result.Images) > 0 {
		// Point image references at the images/ subdirectory.
		content = imageRefRe.ReplaceAllString(content, "](images/${1})")
	}
	content = inlineTables(content, result.Tables)
	fullMarkdown := header + content

	if err := os.WriteFile(mdPath, []byte(fullMarkdown), 0o644); err != nil {
		return nil, fmt.Errorf("write markdown: %w", err)
	}

	if len(result.Images) > 0 {
		imagesDir := filepath.Join(itemDir, "images")
		if err := os.MkdirAll(imagesDir, 0o755); err != nil {
			return nil, fmt.Errorf("create images dir: %w", err)
		}
		for name, data := range result.Images {
			if err := os.WriteFile(filepath.Join(imagesDir, filepath.Base(name)), data, 0o644); err != nil {
				return nil, fmt.Errorf("write image %s: %w", name, err)
			}
		}
	}

	meta := map[string]any{
		"source_file":     result.SourceFile,
		"pages_processed": result.PagesProcessed,
		"images_count":    len(result.Images),
		"converted_at":    time.Now().Format(time.RFC3339),
		"markdown_path":   mdPath,
		"item_key":        itemKey,
	}
	if data, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(itemDir, "metadata.json"), data, 0o644)
	}

	title := AttachmentMarker + " " + baseName
	if s.local {
		return s.createLinkedAttachment(ctx, itemKey, mdPath, title, len(result.Images))
	}
	return s.createNoteAttachment(ctx, itemKey, fullMarkdown, title, mdPath)
}

// inlineTables replaces table link references with the table content
// itself. Merged documents carry chunk-prefixed ids while the link target
// keeps the provider's raw id, so both spellings are handled.
func inlineTables(markdown string, tables map[string]string) string {
	for id, content := range tables {
		replacement := "\n\n" + content + "\n\n"
		markdown = strings.ReplaceAll(markdown, "["+id+"]("+id+")", replacement)
		if i := strings.Index(id, "_"); i >= 0 && strings.HasPrefix(id, "chunk") {
			raw := id[i+1:]
			markdown = strings.ReplaceAll(markdown, "["+id+"]("+raw+")", replacement)
		}
	}
	return markdown
}

func (s *Storage) createLinkedAttachment(ctx context.Context, itemKey, mdPath, title string, imagesCount int) (*StoredAttachment, error) {
	abs, err := filepath.Abs(mdPath)
	if err != nil {
		abs = mdPath
	}
	result, err := s.write.CreateItems(ctx, []ItemData{{
		ItemType:    "attachment",
		ParentItem:  itemKey,
		LinkMode:    "linked_file",
		Title:       title,
		Path:        abs,
		ContentType: "text/markdown",
		Tags:        []Tag{{Tag: "mistral-ocr"}, {Tag: "ocr-converted"}},
	}})
	if err != nil {
		return nil, fmt.Errorf("create linked attachment: %w", err)
	}
	key, ok := result.FirstKey()
	if !ok {
		return nil, fmt.Errorf("create linked attachment: rejected: %v", result.Failed)
	}
	s.log.Info("created linked attachment", "key", key, "path", mdPath)
	return &StoredAttachment{Key: key, Type: "linked_file", LocalPath: mdPath, ImagesCount: imagesCount}, nil
}

func (s *Storage) createNoteAttachment(ctx context.Context, itemKey, fullMarkdown, title, mdPath string) (*StoredAttachment, error) {
	if len(fullMarkdown) > maxNoteSize {
		fullMarkdown = fullMarkdown[:maxNoteSize] +
			fmt.Sprintf("\n\n---\n*[Content truncated. Full version: %s]*", mdPath)
	}

	noteHTML, err := markdownToHTML(fullMarkdown)
	if err != nil {
		return nil, err
	}

	result, err := s.write.CreateItems(ctx, []ItemData{{
		ItemType:   "note",
		ParentItem: itemKey,
		Note:       fmt.Sprintf("<h1>%s</h1>\n%s", title, noteHTML),
		Tags:       []Tag{{Tag: "mistral-ocr"}, {Tag: "ocr-converted"}},
	}})
	if err != nil {
		return nil, fmt.Errorf("create note: %w", err)
	}
	key, ok := result.FirstKey()
	if !ok {
		return nil, fmt.Errorf("create note: rejected: %v", result.Failed)
	}
	s.log.Info("created note attachment", "key", key)
	return &StoredAttachment{Key: key, Type: "note", LocalPath: mdPath}, nil
}

// GetContent retrieves stored conversion markdown for an item: local files
// first, then the note attachment.
func (s *Storage) GetContent(ctx context.Context, itemKey string) (string, error) {
	itemDir := s.ItemDir(itemKey)
	matches, _ := filepath.Glob(filepath.Join(itemDir, "*_ocr.md"))
	if len(matches) > 0 {
		data, err := os.ReadFile(matches[0])
		if err == nil {
			return string(data), nil
		}
		s.log.Warn("local conversion unreadable", "path", matches[0], "error", err)
	}

	att, err := s.OCRAttachment(ctx, itemKey)
	if err != nil {
		return "", err
	}
	if att != nil && att.Data.ItemType == "note" {
		return htmlToText(att.Data.Note), nil
	}
	return "", nil
}
