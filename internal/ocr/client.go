package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client calls the Mistral OCR API to convert documents to markdown.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

func NewClient(apiKey, model, baseURL string) *Client {
	return &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 300 * time.Second,
		},
	}
}

// Options controls a single OCR request.
type Options struct {
	ExtractImages bool
	// TableFormat is "markdown" or "html".
	TableFormat string
}

type ocrDocument struct {
	Type        string `json:"type"`
	DocumentURL string `json:"document_url"`
}

type ocrRequest struct {
	Model              string      `json:"model"`
	Document           ocrDocument `json:"document"`
	IncludeImageBase64 bool        `json:"include_image_base64"`
	TableFormat        string      `json:"table_format,omitempty"`
}

// The response schema is validated once here; downstream code only ever sees
// the fully-typed Result. Optional provider fields decode to zero values.
type ocrImage struct {
	ID          string `json:"id"`
	ImageBase64 string `json:"image_base64"`
}

type ocrTable struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

type ocrPage struct {
	Index    int        `json:"index"`
	Markdown string     `json:"markdown"`
	Images   []ocrImage `json:"images"`
	Tables   []ocrTable `json:"tables"`
}

type ocrResponse struct {
	Pages     []ocrPage `json:"pages"`
	UsageInfo struct {
		PagesProcessed int `json:"pages_processed"`
	} `json:"usage_info"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Process submits one document payload and returns the parsed result. It
// issues exactly one request; retrying transient failures is the caller's
// responsibility.
func (c *Client) Process(ctx context.Context, document []byte, sourceFile string, opts Options) (*Result, error) {
	reqBody := ocrRequest{
		Model: c.model,
		Document: ocrDocument{
			Type:        "document_url",
			DocumentURL: "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(document),
		},
		IncludeImageBase64: opts.ExtractImages,
		TableFormat:        opts.TableFormat,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/ocr", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ocr api: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 512<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if isTransientStatus(resp.StatusCode, respBody) {
		return nil, &RetryableError{
			StatusCode: resp.StatusCode,
			Message:    truncate(string(respBody), 500),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ocr api status %d: %s", resp.StatusCode, truncate(string(respBody), 500))
	}

	var apiResp ocrResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("ocr error: %s: %s", apiResp.Error.Type, apiResp.Error.Message)
	}
	if len(apiResp.Pages) == 0 {
		return nil, fmt.Errorf("empty response from ocr api")
	}

	return parseResponse(&apiResp, sourceFile), nil
}

// isTransientStatus reports whether a response indicates temporary service
// unavailability. Auth, malformed-input and quota errors are terminal.
func isTransientStatus(status int, body []byte) bool {
	if status == http.StatusInternalServerError || status == http.StatusServiceUnavailable {
		return true
	}
	return status != http.StatusOK && bytes.Contains(bytes.ToLower(body), []byte("service unavailable"))
}

// parseResponse flattens per-page results into a single Result. A page
// marker comment precedes every page after the first so the merger can
// renumber pages across chunks.
func parseResponse(resp *ocrResponse, sourceFile string) *Result {
	var parts []string
	images := make(map[string][]byte)
	tables := make(map[string]string)
	imageCounter := 0

	for _, page := range resp.Pages {
		if page.Index > 0 {
			parts = append(parts, fmt.Sprintf("\n\n---\n<!-- Page %d -->\n\n", page.Index+1))
		}
		parts = append(parts, page.Markdown)

		for _, img := range page.Images {
			if img.ImageBase64 == "" {
				continue
			}
			imageCounter++
			name := img.ID
			if name == "" {
				name = fmt.Sprintf("image_%03d_%03d.png", page.Index, imageCounter)
			}
			data, err := base64.StdEncoding.DecodeString(img.ImageBase64)
			if err != nil {
				continue
			}
			images[name] = repairImageData(data)
		}

		for _, tbl := range page.Tables {
			if tbl.ID != "" {
				tables[tbl.ID] = tbl.Content
			}
		}
	}

	return &Result{
		Markdown:       strings.Join(parts, "\n"),
		Images:         images,
		Tables:         tables,
		PagesProcessed: resp.UsageInfo.PagesProcessed,
		SourceFile:     sourceFile,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// RetryableError indicates a transient provider failure worth retrying.
type RetryableError struct {
	StatusCode int
	Message    string
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error (status %d): %s", e.StatusCode, truncate(e.Message, 200))
}

// Close releases resources.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
