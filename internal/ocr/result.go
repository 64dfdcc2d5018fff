package ocr

import "bytes"

// Result is the outcome of OCR processing for one document or one chunk of a
// document. Image and table keys are only guaranteed unique within a single
// Result; the merger prefixes them before combining chunks.
type Result struct {
	// Markdown is the combined markdown content from all pages.
	Markdown string

	// Images maps asset filename to decoded binary content.
	Images map[string][]byte

	// Tables maps table id to its content fragment.
	Tables map[string]string

	// PagesProcessed is the page count reported by the provider.
	PagesProcessed int

	// SourceFile is the originating file name, if known.
	SourceFile string
}

var (
	jpegSOI = []byte{0xff, 0xd8}
	pngSig  = []byte{0x89, 'P', 'N', 'G'}
)

// repairImageData strips malformed leading bytes from decoded image data.
// The provider occasionally prepends garbage before the real payload; scan
// for the earliest JPEG start-of-image or PNG signature and discard
// everything before it. Data with neither signature is returned unchanged.
func repairImageData(data []byte) []byte {
	jpeg := bytes.Index(data, jpegSOI)
	png := bytes.Index(data, pngSig)

	if jpeg > 0 && (png < 0 || jpeg < png) {
		return data[jpeg:]
	}
	if png > 0 {
		return data[png:]
	}
	return data
}
