package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/doctalk/internal/models"
)

// ErrReplyFailed is returned by Chat when the server ended the stream with an error.
var ErrReplyFailed = errors.New("reply failed")

// Client talks to a running doctalk server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the server at baseURL. A nil httpClient uses
// http.DefaultClient; streamed replies need a client without an overall timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), http: httpClient}
}

// Upload sends the file at path as the current document.
func (c *Client) Upload(ctx context.Context, path string) (*models.UploadResponse, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(content); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	var out models.UploadResponse
	if err := c.do(ctx, http.MethodPost, "/api/upload", mw.FormDataContentType(), &body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Chat sends prompt to the streaming endpoint and copies the reply to out as it arrives.
// It returns the reply text; when the stream ended with an error the error
// wraps ErrReplyFailed.
func (c *Client) Chat(ctx context.Context, prompt string, out io.Writer) (string, error) {
	body, err := json.Marshal(models.ChatRequest{Prompt: prompt})
	if err != nil {
		return "", err
	}
	resp, err := c.send(ctx, http.MethodPost, "/api/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", apiError(resp)
	}

	var reply strings.Builder
	if _, err := io.Copy(io.MultiWriter(out, &reply), resp.Body); err != nil {
		return reply.String(), fmt.Errorf("read reply: %w", err)
	}
	text := reply.String()
	msg := resp.Trailer.Get(models.StreamErrorTrailer)
	if msg == "" {
		return text, nil
	}
	// The marker is the last thing written, preceded by a newline when text came first.
	if i := strings.LastIndex(text, models.StreamErrorMarker); i >= 0 {
		text = text[:i]
		if i > 0 {
			text = strings.TrimSuffix(text, "\n")
		}
	}
	return text, fmt.Errorf("%w: %s", ErrReplyFailed, msg)
}

// Complete sends prompt to the buffered endpoint and returns the whole reply.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(models.ChatRequest{Prompt: prompt})
	if err != nil {
		return "", err
	}
	var out models.ChatResponse
	if err := c.do(ctx, http.MethodPost, "/api/chat/complete", "application/json", bytes.NewReader(body), &out); err != nil {
		return "", err
	}
	return out.Response, nil
}

// History returns the server's conversation history.
func (c *Client) History(ctx context.Context) ([]models.Turn, error) {
	var out models.HistoryResponse
	if err := c.do(ctx, http.MethodGet, "/api/history", "", nil, &out); err != nil {
		return nil, err
	}
	return out.Turns, nil
}

// Reset clears the server's conversation history.
func (c *Client) Reset(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/history", "", nil, nil)
}

// Document returns the current document metadata, or nil when none was uploaded.
func (c *Client) Document(ctx context.Context) (*models.Document, error) {
	resp, err := c.send(ctx, http.MethodGet, "/api/document", "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}
	var doc models.Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &doc, nil
}

// Status returns the server status document.
func (c *Client) Status(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := c.do(ctx, http.MethodGet, "/api/status", "", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// WatchDirectories lists the server's inbox directories.
func (c *Client) WatchDirectories(ctx context.Context) ([]string, error) {
	var out struct {
		Directories []string `json:"directories"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/watch/directories", "", nil, &out); err != nil {
		return nil, err
	}
	return out.Directories, nil
}

// AddWatchDirectory adds an inbox directory on the server.
func (c *Client) AddWatchDirectory(ctx context.Context, path string) error {
	body, _ := json.Marshal(map[string]string{"path": path})
	return c.do(ctx, http.MethodPost, "/api/watch/directories", "application/json", bytes.NewReader(body), nil)
}

// RemoveWatchDirectory removes an inbox directory on the server.
func (c *Client) RemoveWatchDirectory(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, "/api/watch/directories?path="+url.QueryEscape(path), "", nil, nil)
}

func (c *Client) send(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// do sends a request and decodes a 2xx JSON response into out (when non-nil).
func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out interface{}) error {
	resp, err := c.send(ctx, method, path, contentType, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apiError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func apiError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	var e models.ErrorResponse
	if json.Unmarshal(b, &e) == nil && e.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
}
