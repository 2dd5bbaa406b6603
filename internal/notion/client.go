// Package notion pulls tasks and logs out of Notion databases and
// refreshes the local repositories from them.
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/errors"
)

const (
	defaultBaseURL = "https://api.notion.com/v1"
	apiVersion     = "2022-06-28"

	maxAttempts    = 5
	baseBackoff    = 2 * time.Second
	defaultTimeout = 15 * time.Second
)

// Client is a thin wrapper around the Notion HTTP API with retry and
// backoff, shared by every sync path.
type Client struct {
	apiKey  string
	baseURL string
	httpc   *http.Client
	mapper  errors.ErrorMapper
}

func NewClient(apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		httpc:   &http.Client{Timeout: timeout},
		mapper:  errors.NewDefaultErrorMapper(),
	}
}

// SetBaseURL overrides the API endpoint, used by tests.
func (c *Client) SetBaseURL(url string) {
	c.baseURL = url
}

// RichText is one span of a Notion rich-text value.
type RichText struct {
	Type string `json:"type"`
	Text struct {
		Content string `json:"content"`
	} `json:"text"`
	PlainText   string `json:"plain_text"`
	Annotations struct {
		Bold          bool `json:"bold"`
		Italic        bool `json:"italic"`
		Strikethrough bool `json:"strikethrough"`
		Code          bool `json:"code"`
	} `json:"annotations"`
}

type SelectOption struct {
	Name string `json:"name"`
}

type DateValue struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type Relation struct {
	ID string `json:"id"`
}

// Property carries every value shape the bot reads; only the field
// matching Type is populated.
type Property struct {
	Type     string       `json:"type"`
	Title    []RichText   `json:"title"`
	RichText []RichText   `json:"rich_text"`
	Select   *SelectOption `json:"select"`
	Status   *SelectOption `json:"status"`
	Date     *DateValue   `json:"date"`
	Relation []Relation   `json:"relation"`
}

type Page struct {
	ID         string              `json:"id"`
	URL        string              `json:"url"`
	Properties map[string]Property `json:"properties"`
}

// BlockContent is the payload common to the block types the bot renders.
type BlockContent struct {
	RichText []RichText `json:"rich_text"`
	Checked  bool       `json:"checked"`
	Language string     `json:"language"`
}

type Block struct {
	ID      string
	Type    string
	Content BlockContent
}

// UnmarshalJSON pulls the typed payload out of its keyed wrapper: a
// paragraph block stores its rich text under "paragraph", and so on.
func (b *Block) UnmarshalJSON(data []byte) error {
	var shadow struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &shadow); err != nil {
		return err
	}
	b.ID = shadow.ID
	b.Type = shadow.Type

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if payload, ok := raw[b.Type]; ok {
		if err := json.Unmarshal(payload, &b.Content); err != nil {
			return err
		}
	}
	return nil
}

type listResponse struct {
	Results    json.RawMessage `json:"results"`
	HasMore    bool            `json:"has_more"`
	NextCursor string          `json:"next_cursor"`
}

// QueryDatabase returns every page of the database, following
// pagination cursors.
func (c *Client) QueryDatabase(ctx context.Context, databaseID string) ([]Page, error) {
	var pages []Page
	cursor := ""
	for {
		body := map[string]interface{}{"page_size": 100}
		if cursor != "" {
			body["start_cursor"] = cursor
		}
		var resp listResponse
		if err := c.do(ctx, http.MethodPost, "/databases/"+databaseID+"/query", body, &resp); err != nil {
			return nil, errors.Wrap(err, "failed to query database "+databaseID)
		}
		var batch []Page
		if err := json.Unmarshal(resp.Results, &batch); err != nil {
			return nil, errors.Wrap(err, "failed to decode database results")
		}
		pages = append(pages, batch...)
		if !resp.HasMore || resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}
	return pages, nil
}

// FetchBlockChildren returns the direct child blocks of a page.
func (c *Client) FetchBlockChildren(ctx context.Context, blockID string) ([]Block, error) {
	var blocks []Block
	cursor := ""
	for {
		path := "/blocks/" + blockID + "/children?page_size=100"
		if cursor != "" {
			path += "&start_cursor=" + cursor
		}
		var resp listResponse
		if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
			return nil, errors.Wrap(err, "failed to fetch block children")
		}
		var batch []Block
		if err := json.Unmarshal(resp.Results, &batch); err != nil {
			return nil, errors.Wrap(err, "failed to decode block children")
		}
		blocks = append(blocks, batch...)
		if !resp.HasMore || resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}
	return blocks, nil
}

// FetchPage returns a single page with its properties.
func (c *Client) FetchPage(ctx context.Context, pageID string) (Page, error) {
	var page Page
	if err := c.do(ctx, http.MethodGet, "/pages/"+pageID, nil, &page); err != nil {
		return Page{}, errors.Wrap(err, "failed to fetch page "+pageID)
	}
	return page, nil
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Notion-Version", apiVersion)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpc.Do(req)
		if err != nil {
			lastErr = err
		} else {
			data, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			switch {
			case readErr != nil:
				lastErr = readErr
			case resp.StatusCode == http.StatusOK:
				return json.Unmarshal(data, out)
			case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
				lastErr = fmt.Errorf("notion %s %s: status %d", method, path, resp.StatusCode)
				if wait := retryAfter(resp); wait > 0 {
					lastErr = fmt.Errorf("%w (retry after %s)", lastErr, wait)
				}
			default:
				// Non-retryable client error, classified for the caller.
				return c.mapper.MapError(fmt.Errorf("notion %s %s: status %d: %s", method, path, resp.StatusCode, string(data)))
			}
		}

		if attempt < maxAttempts {
			wait := baseBackoff * time.Duration(attempt)
			slog.Warn("Notion request failed, retrying", "path", path, "attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	return errors.Wrap(c.mapper.MapError(lastErr), "notion request exhausted retries")
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}
