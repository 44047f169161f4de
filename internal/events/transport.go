package events

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Stream is one live connection to the push stream.
type Stream interface {
	// Next blocks until the next message payload arrives.
	Next() ([]byte, error)
	Close() error
}

// Transport opens push-stream connections.
type Transport interface {
	Connect(ctx context.Context) (Stream, error)
}

// retryHinter is implemented by streams whose server can suggest a reconnect delay.
type retryHinter interface {
	RetryDelay() time.Duration
}

// TransportOptions configures NewTransport.
type TransportOptions struct {
	Header         http.Header
	HTTPClient     *http.Client
	MaxMessageSize int64
}

// NewTransport picks Server-Sent Events for http(s) URLs and WebSocket for ws(s) URLs.
func NewTransport(rawURL string, opts TransportOptions) (Transport, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse events url: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
		return &SSETransport{URL: u.String(), Client: opts.HTTPClient, Header: opts.Header}, nil
	case "ws", "wss":
		return &WebSocketTransport{URL: u.String(), Header: opts.Header, MaxMessageSize: opts.MaxMessageSize}, nil
	}
	return nil, fmt.Errorf("unsupported events url scheme %q", u.Scheme)
}
