// Package zotero talks to the Zotero item store: listing child attachments,
// downloading attachment content, and creating attachment or note items.
package zotero

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client communicates with a Zotero HTTP API (web or local).
type Client struct {
	baseURL     string
	apiKey      string
	libraryID   string
	libraryType string
	httpClient  *http.Client
}

func NewClient(baseURL, apiKey, libraryID, libraryType string) *Client {
	return &Client{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		apiKey:      apiKey,
		libraryID:   libraryID,
		libraryType: libraryType,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Item is one library entry (parent item, attachment or note).
type Item struct {
	Key  string   `json:"key"`
	Data ItemData `json:"data"`
}

// ItemData carries the fields this service reads and writes. The API
// returns far more; unknown fields are ignored.
type ItemData struct {
	Key         string `json:"key,omitempty"`
	ItemType    string `json:"itemType"`
	ParentItem  string `json:"parentItem,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Filename    string `json:"filename,omitempty"`
	Title       string `json:"title,omitempty"`
	LinkMode    string `json:"linkMode,omitempty"`
	Path        string `json:"path,omitempty"`
	Note        string `json:"note,omitempty"`
	CitationKey string `json:"citationKey,omitempty"`
	Tags        []Tag  `json:"tags,omitempty"`
}

type Tag struct {
	Tag string `json:"tag"`
}

// WriteResult is the write acknowledgment for a create-items call,
// reporting per-item success or failure.
type WriteResult struct {
	Success map[string]string       `json:"success"`
	Failed  map[string]WriteFailure `json:"failed"`
}

type WriteFailure struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// FirstKey returns the key of the first successfully created item.
func (r *WriteResult) FirstKey() (string, bool) {
	for _, key := range r.Success {
		return key, true
	}
	return "", false
}

func (c *Client) prefix() string {
	return fmt.Sprintf("/%ss/%s", c.libraryType, c.libraryID)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("get %s: status %d: %s", path, resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Zotero-API-Version", "3")
	if c.apiKey != "" {
		req.Header.Set("Zotero-API-Key", c.apiKey)
	}
}

// Children lists an item's child items (attachments and notes).
func (c *Client) Children(ctx context.Context, itemKey string) ([]Item, error) {
	var items []Item
	if err := c.get(ctx, c.prefix()+"/items/"+itemKey+"/children", &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Item fetches a single item by key.
func (c *Client) Item(ctx context.Context, key string) (*Item, error) {
	var item Item
	if err := c.get(ctx, c.prefix()+"/items/"+key, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// DownloadAttachment fetches an attachment's binary content.
func (c *Client) DownloadAttachment(ctx context.Context, key string) ([]byte, error) {
	path := c.prefix() + "/items/" + key + "/file"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("attachment %s: %w", key, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("download %s: status %d: %s", key, resp.StatusCode, string(respBody))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read attachment %s: %w", key, err)
	}
	return data, nil
}

// CreateItems creates child items (attachments or notes) and returns the
// per-item write acknowledgment.
func (c *Client) CreateItems(ctx context.Context, items []ItemData) (*WriteResult, error) {
	body, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("marshal items: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.prefix()+"/items", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("create items: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("create items: status %d: %s", resp.StatusCode, string(respBody))
	}

	var result WriteResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode write result: %w", err)
	}
	return &result, nil
}

// CollectionItems lists the items of a collection.
func (c *Client) CollectionItems(ctx context.Context, collectionKey string, limit int) ([]Item, error) {
	path := c.prefix() + "/collections/" + collectionKey + "/items"
	if limit > 0 {
		path += "?limit=" + url.QueryEscape(fmt.Sprintf("%d", limit))
	}
	var items []Item
	if err := c.get(ctx, path, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// RecentItems lists the most recently added items.
func (c *Client) RecentItems(ctx context.Context, limit int) ([]Item, error) {
	path := fmt.Sprintf("%s/items?limit=%d&sort=dateAdded&direction=desc", c.prefix(), limit)
	var items []Item
	if err := c.get(ctx, path, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Fulltext returns Zotero's indexed full text for an attachment, or "" when
// no index entry exists.
func (c *Client) Fulltext(ctx context.Context, attachmentKey string) (string, error) {
	path := c.prefix() + "/items/" + attachmentKey + "/fulltext"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("get %s: status %d: %s", path, resp.StatusCode, string(respBody))
	}

	var result struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode %s: %w", path, err)
	}
	return result.Content, nil
}

// Close releases any resources.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
