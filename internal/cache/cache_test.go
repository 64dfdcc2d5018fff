package cache

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refstack/ocrbridge/internal/ocr"
)

func testCache(t *testing.T, enabled bool) *Cache {
	t.Helper()
	c, err := New(t.TempDir(), enabled, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return c
}

func writePDF(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func sampleResult() *ocr.Result {
	return &ocr.Result{
		Markdown:       "# cached doc",
		Images:         map[string][]byte{"img-0.jpeg": {0xff, 0xd8, 0x09}},
		Tables:         map[string]string{"tbl-0": "| t |"},
		PagesProcessed: 7,
		SourceFile:     "doc.pdf",
	}
}

func TestCache_PutGetRoundTrip(t *testing.T) {
	c := testCache(t, true)
	path := writePDF(t, "%PDF-1.4 original")

	c.Put(path, sampleResult())

	got := c.Get(path)
	require.NotNil(t, got)
	assert.Equal(t, "# cached doc", got.Markdown)
	assert.Equal(t, 7, got.PagesProcessed)
	assert.Equal(t, "doc.pdf", got.SourceFile)
	assert.Equal(t, []byte{0xff, 0xd8, 0x09}, got.Images["img-0.jpeg"])
	assert.Equal(t, "| t |", got.Tables["tbl-0"])
}

func TestCache_MissForUnknownFile(t *testing.T) {
	c := testCache(t, true)
	assert.Nil(t, c.Get(writePDF(t, "%PDF-1.4 never cached")))
}

func TestCache_ModifiedFileInvalidates(t *testing.T) {
	c := testCache(t, true)
	path := writePDF(t, "%PDF-1.4 v1")
	c.Put(path, sampleResult())

	// Change both content size and mtime.
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 v2 with more bytes"), 0o644))
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, future, future))

	assert.Nil(t, c.Get(path), "edited file must miss the cache")
}

func TestCache_DisabledIsInert(t *testing.T) {
	c := testCache(t, false)
	path := writePDF(t, "%PDF-1.4")

	c.Put(path, sampleResult())
	assert.Nil(t, c.Get(path))
}

func TestCache_MissingSourceFileIsMiss(t *testing.T) {
	c := testCache(t, true)
	assert.Nil(t, c.Get(filepath.Join(t.TempDir(), "gone.pdf")))
}
