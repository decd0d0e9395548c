package apiclient

import (
	"bufio"
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
	"strconv"
	"strings"
	"syscall"

	"imagepipe/internal/api"
	"imagepipe/internal/config"
	"imagepipe/internal/history"
	"imagepipe/internal/progress"
	"imagepipe/internal/services/captioner"
)

// HTTPDoer describes the HTTP client used to reach the daemon.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// APIError is a non-2xx response from the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon returned %d", e.StatusCode)
	}
	return fmt.Sprintf("daemon returned %d: %s", e.StatusCode, e.Message)
}

// IsUnavailable reports whether err means no daemon is listening.
func IsUnavailable(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ENOENT)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(doer HTTPDoer) Option {
	return func(c *Client) {
		if doer != nil {
			c.http = doer
		}
	}
}

// Client calls the imagepipe HTTP API.
type Client struct {
	baseURL string
	token   string
	http    HTTPDoer
}

// New constructs a client for baseURL. token may be empty.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		http:    http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FromConfig constructs a client for the configured daemon. A non-empty
// server overrides the address derived from paths.api_bind.
func FromConfig(cfg *config.Config, server string, opts ...Option) *Client {
	base := strings.TrimSpace(server)
	if base == "" {
		base = cfg.ServerURL()
	}
	return New(base, cfg.Paths.APIToken, opts...)
}

// BaseURL returns the daemon address the client targets.
func (c *Client) BaseURL() string { return c.baseURL }

// Health checks that the daemon is answering.
func (c *Client) Health(ctx context.Context) error {
	return c.getJSON(ctx, "/healthz", nil)
}

// Status fetches the daemon status snapshot.
func (c *Client) Status(ctx context.Context) (*api.DaemonStatus, error) {
	var status api.DaemonStatus
	if err := c.getJSON(ctx, "/api/status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Batches lists recent batches, newest first. limit <= 0 uses the server default.
func (c *Client) Batches(ctx context.Context, limit int) ([]history.Batch, error) {
	path := "/api/batches"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp api.BatchListResponse
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Batches, nil
}

// Batch fetches one batch with its items.
func (c *Client) Batch(ctx context.Context, id string) (*history.Batch, error) {
	var resp api.BatchResponse
	if err := c.getJSON(ctx, "/api/batches/"+url.PathEscape(id), &resp); err != nil {
		return nil, err
	}
	return &resp.Batch, nil
}

// Upload sends the files as one batch and waits for it to finish.
func (c *Client) Upload(ctx context.Context, paths []string) (*api.UploadResponse, error) {
	var resp api.UploadResponse
	if err := c.postFiles(ctx, "/images/upload", paths, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Captions runs the caption search over the files.
func (c *Client) Captions(ctx context.Context, paths []string, params captioner.Params) (*api.CaptionResponse, error) {
	query := url.Values{}
	if params.BatchSize > 0 {
		query.Set("batchSize", strconv.Itoa(params.BatchSize))
	}
	if params.Samples > 0 {
		query.Set("numberOfAnnotations", strconv.Itoa(params.Samples))
	}
	if params.Results > 0 {
		query.Set("numberOfResults", strconv.Itoa(params.Results))
	}
	path := "/images/captions"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	var resp api.CaptionResponse
	if err := c.postFiles(ctx, path, paths, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Events streams progress events to fn until ctx is cancelled or the daemon
// closes the stream. connected is called once the stream is established.
func (c *Client) Events(ctx context.Context, connected func(), fn func(progress.Event)) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/images/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	var eventName string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			eventName = ""
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if eventName == "" && data == "Connected" {
				if connected != nil {
					connected()
				}
				continue
			}
			if eventName != "progress" {
				continue
			}
			var evt progress.Event
			if err := json.Unmarshal([]byte(data), &evt); err != nil {
				return fmt.Errorf("decode progress event: %w", err)
			}
			fn(evt)
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// postFiles streams the files as multipart "images" parts without buffering
// them in memory.
func (c *Client) postFiles(ctx context.Context, path string, paths []string, out any) error {
	if len(paths) == 0 {
		return errors.New("no files to upload")
	}
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return err
		}
		if info.IsDir() {
			return fmt.Errorf("%s is a directory", p)
		}
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeParts(mw, paths))
	}()

	req, err := c.newRequest(ctx, http.MethodPost, path, pr)
	if err != nil {
		_ = pr.Close()
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	err = c.do(req, out)
	_ = pr.Close()
	return err
}

func writeParts(mw *multipart.Writer, paths []string) error {
	for _, p := range paths {
		part, err := mw.CreateFormFile("images", filepath.Base(p))
		if err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		_, err = io.Copy(part, f)
		_ = f.Close()
		if err != nil {
			return err
		}
	}
	return mw.Close()
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload struct {
		Error string `json:"error"`
	}
	message := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		message = payload.Error
	}
	return &APIError{StatusCode: resp.StatusCode, Message: message}
}
