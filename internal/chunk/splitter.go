package chunk

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// MaterializeChunks extracts each chunk's page range into a standalone PDF
// under outDir (a fresh temp dir when empty) and returns the chunks with
// Path set. Pages inside a chunk PDF are re-indexed to start at 0.
func MaterializeChunks(srcPath string, chunks []Chunk, outDir string) ([]Chunk, string, error) {
	if outDir == "" {
		d, err := os.MkdirTemp("", "pdf_chunks_")
		if err != nil {
			return nil, "", fmt.Errorf("create chunk dir: %w", err)
		}
		outDir = d
	}

	out := make([]Chunk, len(chunks))
	copy(out, chunks)

	for i := range out {
		name := fmt.Sprintf("chunk_%03d.pdf", out[i].Index)
		path := filepath.Join(outDir, name)
		// pdfcpu page selections are 1-indexed and inclusive.
		selection := []string{fmt.Sprintf("%d-%d", out[i].StartPage+1, out[i].EndPage)}
		if err := api.TrimFile(srcPath, path, selection, nil); err != nil {
			return nil, outDir, fmt.Errorf("extract chunk %d (pages %d-%d): %w",
				out[i].Index, out[i].StartPage+1, out[i].EndPage, err)
		}
		out[i].Path = path
	}

	return out, outDir, nil
}
