// Package api talks to the chat server's REST endpoints: message history and
// file uploads.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"erpchat/internal/protocol"
)

// DefaultTimeout bounds every request made by a Client built without an
// explicit *http.Client.
const DefaultTimeout = 15 * time.Second

// Client is a thin REST client. UserID, when set, is sent with uploads so the
// server can record the uploader.
type Client struct {
	base     string
	http     *http.Client
	UserID   string
	PageSize int
}

// New returns a client for baseURL (scheme and host, no trailing slash
// required). A nil httpClient gets DefaultTimeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// BaseFromSocketURL turns ws://host:port/socket into http://host:port.
func BaseFromSocketURL(wsURL string) (string, error) {
	parsed, err := url.Parse(wsURL)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "ws":
		parsed.Scheme = "http"
	case "wss":
		parsed.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	parsed.Path = ""
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return strings.TrimRight(parsed.String(), "/"), nil
}

// FetchHistory loads one page of room history. beforeID of zero asks for the
// newest page.
func (c *Client) FetchHistory(ctx context.Context, room protocol.RoomKey, beforeID int64) (protocol.HistoryPage, error) {
	query := url.Values{}
	query.Set("type", string(room.Kind))
	if beforeID > 0 {
		query.Set("beforeId", strconv.FormatInt(beforeID, 10))
	}
	if c.PageSize > 0 {
		query.Set("limit", strconv.Itoa(c.PageSize))
	}
	endpoint := fmt.Sprintf("%s/api/chats/%d/messages?%s", c.base, room.TargetID, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return protocol.HistoryPage{}, err
	}
	var page protocol.HistoryPage
	if err := c.do(req, &page); err != nil {
		return protocol.HistoryPage{}, fmt.Errorf("fetch history for %s: %w", room, err)
	}
	return page, nil
}

// UploadFile sends a local file and returns the durable reference the server
// assigned to it.
func (c *Client) UploadFile(ctx context.Context, path string) (protocol.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return protocol.File{}, err
	}
	defer f.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return protocol.File{}, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return protocol.File{}, fmt.Errorf("read %s: %w", path, err)
	}
	if c.UserID != "" {
		if err := writer.WriteField("userId", c.UserID); err != nil {
			return protocol.File{}, err
		}
	}
	if err := writer.Close(); err != nil {
		return protocol.File{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/upload", body)
	if err != nil {
		return protocol.File{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var resp protocol.UploadResponse
	if err := c.do(req, &resp); err != nil {
		return protocol.File{}, fmt.Errorf("upload %s: %w", filepath.Base(path), err)
	}
	if !resp.Success || resp.File == nil || resp.File.ID == 0 {
		reason := resp.Error
		if reason == "" {
			reason = "no file id returned"
		}
		return protocol.File{}, fmt.Errorf("upload %s: %s", filepath.Base(path), reason)
	}
	return *resp.File, nil
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, readResponseError(resp.Body))
	}
	if out == nil {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func readResponseError(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(data) == 0 {
		return "request failed"
	}
	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err == nil {
		if msg, ok := parsed["error"].(string); ok && msg != "" {
			return msg
		}
	}
	return strings.TrimSpace(string(data))
}
