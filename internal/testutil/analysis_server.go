// analysis_server.go - httptest stand-in for the profiling service
package testutil

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

// UploadedFile is what the fake service received on its upload endpoint.
type UploadedFile struct {
	FileName string
	Content  []byte
}

// AnalysisServer serves POST /api/upload, an SSE stream at /events and a
// WebSocket stream at /ws.
type AnalysisServer struct {
	*httptest.Server

	mu         sync.Mutex
	status     int
	body       string
	uploads    []UploadedFile
	subs       map[chan string]struct{}
	wsUpgrader websocket.Upgrader
}

// NewAnalysisServer starts the server and closes it with the test.
func NewAnalysisServer(t *testing.T) *AnalysisServer {
	t.Helper()
	s := &AnalysisServer{
		status: http.StatusOK,
		body:   SampleReportJSON,
		subs:   make(map[chan string]struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/upload", s.handleUpload)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/ws", s.handleWebSocket)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(func() {
		s.CloseStreams()
		s.Server.Close()
	})
	return s
}

// EventsURL is the SSE endpoint.
func (s *AnalysisServer) EventsURL() string {
	return s.URL + "/events"
}

// WebSocketURL is the WebSocket endpoint.
func (s *AnalysisServer) WebSocketURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
}

// Respond sets the upload endpoint's answer.
func (s *AnalysisServer) Respond(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.body = body
}

// Uploads returns every file received so far.
func (s *AnalysisServer) Uploads() []UploadedFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]UploadedFile(nil), s.uploads...)
}

// Subscribers returns the number of connected stream clients.
func (s *AnalysisServer) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Broadcast sends a raw payload to every stream client.
func (s *AnalysisServer) Broadcast(payload string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- payload:
		default:
		}
	}
}

// BroadcastStatus sends the profiler's status message shape; progress < 0 omits it.
func (s *AnalysisServer) BroadcastStatus(status string, progress float64) {
	if progress < 0 {
		s.Broadcast(fmt.Sprintf(`{"status":%q}`, status))
		return
	}
	s.Broadcast(fmt.Sprintf(`{"status":%q,"progress":%g}`, status, progress))
}

// CloseStreams ends every stream connection from the server side.
func (s *AnalysisServer) CloseStreams() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		delete(s.subs, ch)
		close(ch)
	}
}

func (s *AnalysisServer) subscribe() chan string {
	ch := make(chan string, 64)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

func (s *AnalysisServer) unsubscribe(ch chan string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[ch]; ok {
		delete(s.subs, ch)
		close(ch)
	}
}

func (s *AnalysisServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "No file uploaded", http.StatusBadRequest)
		return
	}
	defer file.Close()
	data, _ := io.ReadAll(file)

	s.mu.Lock()
	s.uploads = append(s.uploads, UploadedFile{FileName: header.Filename, Content: data})
	status, body := s.status, s.body
	s.mu.Unlock()

	if status == http.StatusOK {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func (s *AnalysisServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, ": connected\n\n")
	flusher.Flush()

	ch := s.subscribe()
	defer s.unsubscribe(ch)
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (s *AnalysisServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := s.subscribe()
	defer s.unsubscribe(ch)

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}
