package integration

import (
	"net/http"
	"net/http/httptest"
	"path"
	"strconv"
	"sync"
)

// MediaServer simulates the CDN side of a scan: deterministic bytes per
// path, per-path error overrides, and request counting.
type MediaServer struct {
	server *httptest.Server

	mu       sync.Mutex
	media    map[string][]byte
	errors   map[string]int
	requests map[string]int
	total    int
}

// NewMediaServer starts a media server with no registered files. Requests
// for unknown paths answer 404, which the pipeline treats as a permanent
// failure.
func NewMediaServer() *MediaServer {
	m := &MediaServer{
		media:    make(map[string][]byte),
		errors:   make(map[string]int),
		requests: make(map[string]int),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// AddMedia registers a file at path with size deterministic bytes and
// returns its absolute URL.
func (m *MediaServer) AddMedia(p string, size int) string {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}

	m.mu.Lock()
	m.media[p] = data
	m.mu.Unlock()
	return m.server.URL + p
}

// SetError makes every request to path answer with the given status code
// until ClearError.
func (m *MediaServer) SetError(p string, code int) {
	m.mu.Lock()
	m.errors[p] = code
	m.mu.Unlock()
}

// ClearError restores normal serving for path.
func (m *MediaServer) ClearError(p string) {
	m.mu.Lock()
	delete(m.errors, p)
	m.mu.Unlock()
}

// URL returns the server's base URL.
func (m *MediaServer) URL() string {
	return m.server.URL
}

// Close shuts the server down.
func (m *MediaServer) Close() {
	m.server.Close()
}

// Requests returns the total request count.
func (m *MediaServer) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// RequestsFor returns how many requests path has received.
func (m *MediaServer) RequestsFor(p string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[p]
}

func (m *MediaServer) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.total++
	m.requests[r.URL.Path]++
	code := m.errors[r.URL.Path]
	data, ok := m.media[r.URL.Path]
	m.mu.Unlock()

	if code != 0 {
		if code == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", "1")
		}
		http.Error(w, http.StatusText(code), code)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", contentTypeFor(r.URL.Path))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

func contentTypeFor(p string) string {
	switch path.Ext(p) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	default:
		return "application/octet-stream"
	}
}
