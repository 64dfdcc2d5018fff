package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refstack/ocrbridge/internal/chunk"
	"github.com/refstack/ocrbridge/internal/ocr"
)

func testResult(markdown string, pages int) *ocr.Result {
	return &ocr.Result{
		Markdown:       markdown,
		Images:         map[string][]byte{"img-0.jpeg": {0xff, 0xd8, 0x01}},
		Tables:         map[string]string{"tbl-0": "| x |"},
		PagesProcessed: pages,
		SourceFile:     "doc.pdf (pages 1-100)",
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	c := chunk.Chunk{Index: 2, StartPage: 100, EndPage: 200, Title: "Methods"}
	require.NoError(t, store.Save("JOB1", c, testResult("# Methods", 100)))

	gotChunk, gotResult, found, err := store.Load("JOB1", 2)
	require.NoError(t, err)
	require.True(t, found)

	assert.Equal(t, c, gotChunk)
	assert.Equal(t, "# Methods", gotResult.Markdown)
	assert.Equal(t, 100, gotResult.PagesProcessed)
	assert.Equal(t, "doc.pdf (pages 1-100)", gotResult.SourceFile)
	assert.Equal(t, []byte{0xff, 0xd8, 0x01}, gotResult.Images["img-0.jpeg"])
	assert.Equal(t, "| x |", gotResult.Tables["tbl-0"])
}

func TestStore_LoadMissing(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, _, found, err := store.Load("NOPE", 0)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_SaveOverwrites(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	c := chunk.Chunk{Index: 0, StartPage: 0, EndPage: 50}
	require.NoError(t, store.Save("JOB1", c, testResult("first attempt", 50)))
	require.NoError(t, store.Save("JOB1", c, &ocr.Result{Markdown: "second attempt", PagesProcessed: 50}))

	_, got, found, err := store.Load("JOB1", 0)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "second attempt", got.Markdown)
	// Assets from the first attempt must not leak into the new record.
	assert.Empty(t, got.Images)
}

func TestStore_SavedIndices(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	saved, err := store.SavedIndices("JOB1")
	require.NoError(t, err)
	assert.Empty(t, saved)

	require.NoError(t, store.Save("JOB1", chunk.Chunk{Index: 0, EndPage: 10}, testResult("a", 10)))
	require.NoError(t, store.Save("JOB1", chunk.Chunk{Index: 3, StartPage: 30, EndPage: 40}, testResult("d", 10)))

	saved, err = store.SavedIndices("JOB1")
	require.NoError(t, err)
	assert.Equal(t, map[int]bool{0: true, 3: true}, saved)
}

func TestStore_JobsAreIsolated(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Save("JOB1", chunk.Chunk{Index: 0, EndPage: 10}, testResult("a", 10)))

	saved, err := store.SavedIndices("JOB2")
	require.NoError(t, err)
	assert.Empty(t, saved)
}

func TestStore_Clear(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Save("JOB1", chunk.Chunk{Index: 0, EndPage: 10}, testResult("a", 10)))
	require.NoError(t, store.Clear("JOB1"))

	saved, err := store.SavedIndices("JOB1")
	require.NoError(t, err)
	assert.Empty(t, saved)

	// Clearing an unknown job is not an error.
	require.NoError(t, store.Clear("JOB1"))
}
