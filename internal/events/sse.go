package events

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrStreamClosed is returned when the server ends the event stream.
var ErrStreamClosed = errors.New("event stream closed by server")

// SSETransport subscribes to a text/event-stream endpoint.
type SSETransport struct {
	URL    string
	Client *http.Client
	Header http.Header

	mu          sync.Mutex
	lastEventID string
}

// Connect issues the GET and validates the response.
func (t *SSETransport) Connect(ctx context.Context) (Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build events request: %w", err)
	}
	for k, vs := range t.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	t.mu.Lock()
	if t.lastEventID != "" {
		req.Header.Set("Last-Event-ID", t.lastEventID)
	}
	t.mu.Unlock()

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect events stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("events stream returned %s", resp.Status)
	}
	if mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err != nil || mt != "text/event-stream" {
		resp.Body.Close()
		return nil, fmt.Errorf("events stream has content type %q", resp.Header.Get("Content-Type"))
	}

	return &sseStream{
		body:      resp.Body,
		reader:    bufio.NewReader(resp.Body),
		transport: t,
	}, nil
}

func (t *SSETransport) setLastEventID(id string) {
	t.mu.Lock()
	t.lastEventID = id
	t.mu.Unlock()
}

type sseStream struct {
	body      io.ReadCloser
	reader    *bufio.Reader
	transport *SSETransport

	mu    sync.Mutex
	retry time.Duration
}

// Next returns the data of the next dispatched event.
func (s *sseStream) Next() ([]byte, error) {
	var data bytes.Buffer
	hasData := false

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, ErrStreamClosed
			}
			return nil, fmt.Errorf("read events stream: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if hasData {
				return data.Bytes(), nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		case "id":
			s.transport.setLastEventID(value)
		case "retry":
			if ms, err := strconv.Atoi(value); err == nil && ms > 0 {
				s.mu.Lock()
				s.retry = time.Duration(ms) * time.Millisecond
				s.mu.Unlock()
			}
		}
	}
}

// RetryDelay is the reconnect delay requested by the server, zero if none.
func (s *sseStream) RetryDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retry
}

func (s *sseStream) Close() error {
	return s.body.Close()
}
