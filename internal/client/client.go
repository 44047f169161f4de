// Package client performs the analysis call against the profiling service.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/dataprofiler/dashboard/internal/models"
)

// DefaultUploadPath is the analysis endpoint on the profiling service.
const DefaultUploadPath = "/api/upload"

// ErrFileUnreadable means the selected file could not be opened locally;
// nothing was sent.
var ErrFileUnreadable = errors.New("selected file cannot be read")

// maxBodySize caps how much of a response is buffered.
const maxBodySize = 256 << 20

// Response is a completed exchange. A non-2xx status is still a Response;
// only a call that never completed is an error.
type Response struct {
	StatusCode int
	Status     string
	Body       []byte
}

// OK reports whether the server signalled success.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Diagnostic returns the server's human readable failure text.
func (r *Response) Diagnostic() string {
	msg := strings.TrimSpace(string(r.Body))
	if msg == "" {
		return r.Status
	}
	return msg
}

// Client posts files to the analysis service. It never retries.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// New creates a client for the service at baseURL. The http.Client must not
// carry its own Timeout; deadlines come from the caller's context.
func New(baseURL, uploadPath string, httpClient *http.Client) (*Client, error) {
	if uploadPath == "" {
		uploadPath = DefaultUploadPath
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse analysis url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("analysis url %q must be absolute", baseURL)
	}
	u = u.JoinPath(uploadPath)
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{endpoint: u.String(), httpClient: httpClient}, nil
}

// Endpoint returns the full upload URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Analyze uploads file as multipart field "file" and returns the raw response.
func (c *Client) Analyze(ctx context.Context, file *models.FileInfo) (*Response, error) {
	src, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFileUnreadable, file.Name, err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		defer src.Close()
		part, err := mw.CreateFormFile("file", file.Name)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, src); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, pr)
	if err != nil {
		pr.CloseWithError(err)
		return nil, fmt.Errorf("build analysis request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		pr.CloseWithError(err)
		return nil, fmt.Errorf("post %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read analysis response: %w", err)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       body,
	}, nil
}
