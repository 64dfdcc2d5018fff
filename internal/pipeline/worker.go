package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/refstack/ocrbridge/internal/cache"
	"github.com/refstack/ocrbridge/internal/chunk"
	"github.com/refstack/ocrbridge/internal/config"
	"github.com/refstack/ocrbridge/internal/ocr"
	"github.com/refstack/ocrbridge/internal/pdftext"
	"github.com/refstack/ocrbridge/internal/progress"
	"github.com/refstack/ocrbridge/internal/zotero"
)

// ErrNoPDF means the item has no PDF attachment to convert.
var ErrNoPDF = errors.New("no pdf attachment")

// Worker drives the full conversion flow for one job: item selection,
// attachment lookup, chunk planning, remote processing with resume, merge,
// and storage.
type Worker struct {
	zot       *zotero.Client
	storage   *zotero.Storage
	processor *ChunkProcessor
	planner   *chunk.Planner
	progress  *progress.Store
	cache     *cache.Cache
	cfg       config.Config
	log       *slog.Logger
}

func NewWorker(zot *zotero.Client, storage *zotero.Storage, processor *ChunkProcessor, planner *chunk.Planner, store *progress.Store, c *cache.Cache, cfg config.Config, log *slog.Logger) *Worker {
	return &Worker{
		zot:       zot,
		storage:   storage,
		processor: processor,
		planner:   planner,
		progress:  store,
		cache:     c,
		cfg:       cfg,
		log:       log,
	}
}

// ProcessJob runs a job to completion. Item failures are recorded and the
// batch continues; only cancellation aborts the loop.
func (w *Worker) ProcessJob(ctx context.Context, job *Job) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	job.setCancel(cancel)

	log := w.log.With("job_id", job.ID)

	// A job cancelled while still queued is already terminal; the monotonic
	// status transition fails and the job must not run.
	job.SetStatus(StatusProcessing)
	if job.Status() != StatusProcessing {
		log.Info("skipping job cancelled while queued", "status", job.Status())
		return
	}

	items, err := w.resolveItems(jobCtx, job)
	if err != nil {
		log.Error("item selection failed", "error", err)
		job.AddError("general", err.Error())
		job.SetStatus(StatusFailed)
		return
	}
	job.SetTotal(len(items))
	log.Info("job started", "items", len(items), "force", job.Force)

	for i, itemKey := range items {
		if jobCtx.Err() != nil {
			job.AddError("general", "job cancelled")
			job.SetStatus(StatusFailed)
			return
		}

		job.SetCurrentItem(itemKey)
		result := w.ProcessItem(jobCtx, itemKey, job.Force)
		job.AddResult(result)

		switch result.Status {
		case "processed":
			log.Info("item converted", "item_key", itemKey, "pages", result.Pages, "chunks", result.Chunks, "source", result.Source)
		case "skipped":
			log.Info("item skipped", "item_key", itemKey, "reason", result.Reason)
		default:
			log.Error("item failed", "item_key", itemKey, "error", result.Error)
		}

		// Small delay between items to respect provider rate limits.
		if i < len(items)-1 {
			select {
			case <-time.After(w.cfg.ItemDelay):
			case <-jobCtx.Done():
			}
		}
	}

	if job.HasErrors() {
		job.SetStatus(StatusFailed)
	} else {
		job.SetStatus(StatusCompleted)
	}
	snap := job.Snapshot()
	log.Info("job finished", "status", snap.Status, "completed", snap.Completed, "total", snap.Total)
}

// resolveItems selects the items a job covers: explicit keys, a
// collection's items, or the most recently added items. Attachment and note
// entries are never processed directly.
func (w *Worker) resolveItems(ctx context.Context, job *Job) ([]string, error) {
	limit := job.Limit
	if limit <= 0 {
		limit = 50
	}

	if len(job.ItemKeys) > 0 {
		keys := job.ItemKeys
		if len(keys) > limit {
			keys = keys[:limit]
		}
		return keys, nil
	}

	var items []zotero.Item
	var err error
	if job.CollectionKey != "" {
		items, err = w.zot.CollectionItems(ctx, job.CollectionKey, limit)
	} else {
		items, err = w.zot.RecentItems(ctx, limit)
	}
	if err != nil {
		return nil, err
	}

	var keys []string
	for _, item := range items {
		if t := item.Data.ItemType; t == "attachment" || t == "note" {
			continue
		}
		keys = append(keys, item.Key)
	}
	return keys, nil
}

// ProcessItem converts a single item's PDF. All failure modes come back as
// an ItemResult value.
func (w *Worker) ProcessItem(ctx context.Context, itemKey string, force bool) ItemResult {
	if !force && w.storage.HasConversion(ctx, itemKey) {
		return ItemResult{ItemKey: itemKey, Status: "skipped", Reason: "already converted"}
	}

	children, err := w.zot.Children(ctx, itemKey)
	if err != nil {
		return ItemResult{ItemKey: itemKey, Status: "failed", Error: fmt.Sprintf("list children: %s", err)}
	}
	att := findPDFAttachment(children)
	if att == nil {
		return ItemResult{ItemKey: itemKey, Status: "skipped", Reason: ErrNoPDF.Error()}
	}

	filename := w.resolveFilename(ctx, itemKey, att)

	pdfPath, cleanup, err := w.materializePDF(ctx, att, filename)
	if err != nil {
		return ItemResult{ItemKey: itemKey, Status: "failed", Error: err.Error()}
	}
	defer cleanup()

	result, source, chunks, err := w.convert(ctx, itemKey, pdfPath, filename)
	if err != nil {
		return ItemResult{ItemKey: itemKey, Status: "failed", Error: err.Error()}
	}

	if _, err := w.storage.StoreResult(ctx, itemKey, result, filename); err != nil {
		return ItemResult{ItemKey: itemKey, Status: "failed", Error: fmt.Sprintf("store result: %s", err)}
	}

	return ItemResult{
		ItemKey: itemKey,
		Status:  "processed",
		Source:  source,
		Pages:   result.PagesProcessed,
		Images:  len(result.Images),
		Tables:  len(result.Tables),
		Chunks:  chunks,
	}
}

func findPDFAttachment(children []zotero.Item) *zotero.Item {
	for i := range children {
		data := &children[i].Data
		if data.ItemType == "attachment" && data.ContentType == "application/pdf" {
			return &children[i]
		}
	}
	return nil
}

var unsafeTitleRe = regexp.MustCompile(`[<>:"/\\|?*]`)

// resolveFilename picks a meaningful name for the PDF: attachment filename,
// attachment title, parent citation key, sanitized parent title, then a
// generic default.
func (w *Worker) resolveFilename(ctx context.Context, itemKey string, att *zotero.Item) string {
	filename := att.Data.Filename
	if filename == "" {
		filename = att.Data.Title
	}
	if filename != "" && filename != "document.pdf" {
		return filename
	}

	parent, err := w.zot.Item(ctx, itemKey)
	if err == nil {
		if ck := parent.Data.CitationKey; ck != "" {
			return ck + ".pdf"
		}
		if title := parent.Data.Title; title != "" {
			clean := unsafeTitleRe.ReplaceAllString(title, "")
			if len(clean) > 80 {
				clean = clean[:80]
			}
			if clean != "" {
				return clean + ".pdf"
			}
		}
	} else {
		w.log.Warn("parent lookup for filename failed", "item_key", itemKey, "error", err)
	}
	return "document.pdf"
}

// materializePDF makes the attachment available as a local file. Linked
// files are probed for accessibility and used in place; stored attachments
// are downloaded to a temp dir.
func (w *Worker) materializePDF(ctx context.Context, att *zotero.Item, filename string) (string, func(), error) {
	noop := func() {}

	if att.Data.LinkMode == "linked_file" && filepath.IsAbs(att.Data.Path) {
		if err := zotero.ProbeFile(ctx, att.Data.Path, w.cfg.ProbeTimeout); err != nil {
			return "", noop, err
		}
		return att.Data.Path, noop, nil
	}

	data, err := w.zot.DownloadAttachment(ctx, att.Key)
	if err != nil {
		return "", noop, fmt.Errorf("download attachment: %w", err)
	}

	dir, err := os.MkdirTemp("", "ocrbridge-pdf-")
	if err != nil {
		return "", noop, fmt.Errorf("create temp dir: %w", err)
	}
	path := filepath.Join(dir, filepath.Base(filename))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		os.RemoveAll(dir)
		return "", noop, fmt.Errorf("write temp pdf: %w", err)
	}
	return path, func() { os.RemoveAll(dir) }, nil
}

// convert turns a local PDF into a single merged result: cache first, then
// remote OCR (chunked when over the page limit), then the local extraction
// fallback for terminal single-document failures.
func (w *Worker) convert(ctx context.Context, itemKey, pdfPath, filename string) (*ocr.Result, string, int, error) {
	if cached := w.cache.Get(pdfPath); cached != nil {
		return cached, "cache", cachedChunks(cached), nil
	}

	plan, err := w.planner.Analyze(pdfPath)
	if err != nil {
		return nil, "", 0, err
	}

	if !plan.NeedsChunking() {
		result, err := w.processor.ProcessFile(ctx, pdfPath, filename)
		if err != nil {
			if w.cfg.FallbackExtraction && ctx.Err() == nil {
				w.log.Warn("ocr failed, falling back to local extraction", "item_key", itemKey, "error", err)
				fallback, ferr := w.fallbackExtract(pdfPath, filename)
				if ferr != nil {
					return nil, "", 0, fmt.Errorf("ocr failed (%s); fallback failed: %w", err, ferr)
				}
				return fallback, "local_extraction", 1, nil
			}
			return nil, "", 0, err
		}
		w.cache.Put(pdfPath, result)
		return result, "mistral_ocr", 1, nil
	}

	result, err := w.processChunked(ctx, itemKey, plan, filename)
	if err != nil {
		return nil, "", 0, err
	}
	w.cache.Put(pdfPath, result)
	return result, "mistral_ocr", len(plan.Chunks), nil
}

// processChunked processes a multi-chunk plan with resume: chunks already
// committed to the progress store are loaded instead of reprocessed; each
// newly processed chunk is committed before the next begins. A chunk
// failure leaves committed results in place for the next attempt. The
// progress store is cleared only after a successful merge.
func (w *Worker) processChunked(ctx context.Context, jobKey string, plan *chunk.Plan, filename string) (*ocr.Result, error) {
	log := w.log.With("item_key", jobKey)

	saved, err := w.progress.SavedIndices(jobKey)
	if err != nil {
		return nil, fmt.Errorf("list saved chunks: %w", err)
	}
	if len(saved) > 0 {
		log.Info("resuming chunked job", "saved_chunks", len(saved), "total_chunks", len(plan.Chunks))
	}

	var pending []chunk.Chunk
	for _, c := range plan.Chunks {
		if !saved[c.Index] {
			pending = append(pending, c)
		}
	}

	paths := make(map[int]string, len(pending))
	if len(pending) > 0 {
		materialized, chunkDir, err := chunk.MaterializeChunks(plan.SourcePath, pending, "")
		if chunkDir != "" {
			defer os.RemoveAll(chunkDir)
		}
		if err != nil {
			return nil, err
		}
		for _, c := range materialized {
			paths[c.Index] = c.Path
		}
	}

	results := make([]chunk.ChunkResult, 0, len(plan.Chunks))
	remoteCalls := 0

	for _, c := range plan.Chunks {
		if saved[c.Index] {
			desc, res, ok, err := w.progress.Load(jobKey, c.Index)
			if err != nil {
				return nil, fmt.Errorf("load chunk %d: %w", c.Index, err)
			}
			if !ok {
				return nil, fmt.Errorf("load chunk %d: record vanished", c.Index)
			}
			results = append(results, chunk.ChunkResult{Chunk: desc, Result: res})
			continue
		}

		// Delay between outbound calls; the provider is rate limited.
		if remoteCalls > 0 {
			select {
			case <-time.After(w.cfg.ChunkDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		label := fmt.Sprintf("%s (pages %d-%d)", filename, c.StartPage+1, c.EndPage)
		log.Info("processing chunk", "chunk", c.Index, "pages", c.PageCount(), "title", c.Title)
		res, err := w.processor.ProcessFile(ctx, paths[c.Index], label)
		if err != nil {
			return nil, fmt.Errorf("chunk %d (pages %d-%d): %w", c.Index, c.StartPage+1, c.EndPage, err)
		}
		remoteCalls++

		if err := w.progress.Save(jobKey, c, res); err != nil {
			return nil, fmt.Errorf("save chunk %d: %w", c.Index, err)
		}
		results = append(results, chunk.ChunkResult{Chunk: c, Result: res})
	}

	merged := chunk.Merge(results, filename)
	log.Info("merged chunks", "chunks", len(results), "pages", merged.PagesProcessed,
		"images", len(merged.Images), "tables", len(merged.Tables))

	if err := w.progress.Clear(jobKey); err != nil {
		log.Warn("progress cleanup failed", "error", err)
	}
	return merged, nil
}

func (w *Worker) fallbackExtract(pdfPath, filename string) (*ocr.Result, error) {
	text, pages, err := pdftext.ExtractText(pdfPath)
	if err != nil {
		return nil, err
	}
	return &ocr.Result{
		Markdown:       text,
		Images:         map[string][]byte{},
		Tables:         map[string]string{},
		PagesProcessed: pages,
		SourceFile:     filename,
	}, nil
}

// Content returns stored conversion markdown for an item, falling back to
// Zotero's own full-text index.
func (w *Worker) Content(ctx context.Context, itemKey string) (string, error) {
	content, err := w.storage.GetContent(ctx, itemKey)
	if err != nil {
		return "", err
	}
	if content != "" {
		return content, nil
	}

	children, err := w.zot.Children(ctx, itemKey)
	if err != nil {
		return "", err
	}
	att := findPDFAttachment(children)
	if att == nil {
		return "", fmt.Errorf("item %s: %w", itemKey, ErrNoPDF)
	}

	text, err := w.zot.Fulltext(ctx, att.Key)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", fmt.Errorf("no content available for item %s", itemKey)
	}
	return text, nil
}

var mergedHeaderRe = regexp.MustCompile(`^<!-- Merged from (\d+) chunks -->`)

// cachedChunks recovers the chunk count from a cached document's merge
// header, purely informational for the item result.
func cachedChunks(r *ocr.Result) int {
	m := mergedHeaderRe.FindStringSubmatch(r.Markdown)
	if m == nil {
		return 1
	}
	n := 1
	fmt.Sscanf(m[1], "%d", &n)
	return n
}
