package fetch

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/poiesic/imgembed/core"
)

// TestHub is an in-process hub serving the resolve layout, for tests.
// It counts every request it receives.
type TestHub struct {
	Server *httptest.Server

	requests atomic.Int64

	mu       sync.Mutex
	files    map[string][]byte
	failures map[string][]int
	perFile  map[string]int
	latency  time.Duration
}

// NewTestHub starts a hub. Caller must call Close.
func NewTestHub() *TestHub {
	h := &TestHub{
		files:    make(map[string][]byte),
		failures: make(map[string][]int),
		perFile:  make(map[string]int),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{namespace}/{name}/resolve/{revision}/{file...}", h.serveFile)
	h.Server = httptest.NewServer(mux)
	return h
}

// URL returns the hub base URL.
func (h *TestHub) URL() *url.URL {
	u, _ := url.Parse(h.Server.URL)
	return u
}

// AddModel publishes files for id.
func (h *TestHub) AddModel(id core.ModelID, files map[string][]byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for name, data := range files {
		h.files[hubKey(id, name)] = data
	}
}

// FailNext makes the next requests for a file answer with the given statuses,
// in order. Status 0 drops the connection without a response.
func (h *TestHub) FailNext(id core.ModelID, file string, statuses ...int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := hubKey(id, file)
	h.failures[key] = append(h.failures[key], statuses...)
}

// SetLatency delays every response.
func (h *TestHub) SetLatency(d time.Duration) {
	h.mu.Lock()
	h.latency = d
	h.mu.Unlock()
}

// Requests returns the total number of requests served.
func (h *TestHub) Requests() int64 {
	return h.requests.Load()
}

// FileRequests returns the number of requests for one file.
func (h *TestHub) FileRequests(id core.ModelID, file string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.perFile[hubKey(id, file)]
}

// Close shuts the hub down.
func (h *TestHub) Close() {
	h.Server.Close()
}

func (h *TestHub) serveFile(w http.ResponseWriter, r *http.Request) {
	h.requests.Add(1)

	id := core.ModelID{
		Namespace: r.PathValue("namespace"),
		Name:      r.PathValue("name"),
		Revision:  r.PathValue("revision"),
	}
	key := hubKey(id, r.PathValue("file"))

	h.mu.Lock()
	h.perFile[key]++
	latency := h.latency
	status := -1
	if queue := h.failures[key]; len(queue) > 0 {
		status = queue[0]
		h.failures[key] = queue[1:]
	}
	data, ok := h.files[key]
	h.mu.Unlock()

	if latency > 0 {
		time.Sleep(latency)
	}

	switch {
	case status == 0:
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				conn.Close()
				return
			}
		}
		w.WriteHeader(http.StatusBadGateway)
		return
	case status > 0:
		http.Error(w, http.StatusText(status), status)
		return
	case !ok:
		http.NotFound(w, r)
		return
	}

	sum := sha256.Sum256(data)
	w.Header().Set(linkedEtagHeader, `"`+hex.EncodeToString(sum[:])+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func hubKey(id core.ModelID, file string) string {
	rev := id.Revision
	if rev == "" {
		rev = core.DefaultRevision
	}
	return path.Join(id.Namespace, id.Name, rev, file)
}
