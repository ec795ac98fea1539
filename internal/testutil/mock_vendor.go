// Package testutil provides testing utilities for vendor integrations.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock vendor endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockVendor is a configurable mock advertising-platform API for testing.
type MockVendor struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	queued   map[string][]MockResponse

	// Tracking
	RequestCount      int
	PathCounts        map[string]int
	RequestTimes      []time.Time
	LastRequestHeader http.Header
}

// NewMockVendor creates a new mock vendor server.
func NewMockVendor() *MockVendor {
	mock := &MockVendor{
		handlers:   make(map[string]func(w http.ResponseWriter, r *http.Request)),
		queued:     make(map[string][]MockResponse),
		PathCounts: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.PathCounts[r.URL.Path]++
		mock.RequestTimes = append(mock.RequestTimes, time.Now())
		mock.LastRequestHeader = r.Header.Clone()

		// queued responses take precedence over handlers
		if q := mock.queued[r.URL.Path]; len(q) > 0 {
			resp := q[0]
			mock.queued[r.URL.Path] = q[1:]
			mock.mu.Unlock()
			writeResponse(w, resp)
			return
		}
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockVendor) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockVendor) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockVendor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.PathCounts = make(map[string]int)
	m.RequestTimes = nil
	m.LastRequestHeader = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockVendor) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockVendor) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, resp)
	})
}

// QueueResponses makes the next requests to path answer with resps in order.
// Once the queue is drained the path handler (or the default) answers.
func (m *MockVendor) QueueResponses(path string, resps ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued[path] = append(m.queued[path], resps...)
}

// SetPagedResponse serves pages of a cursor-paginated endpoint. The page is
// selected by the "page_token" query parameter; every page but the last one
// carries {"paging":{"next":"<n>"}}.
func (m *MockVendor) SetPagedResponse(path string, pages []string) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		idx := 0
		if tok := r.URL.Query().Get("page_token"); tok != "" {
			n, err := strconv.Atoi(tok)
			if err != nil || n < 0 || n >= len(pages) {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			idx = n
		}

		paging := `{}`
		if idx+1 < len(pages) {
			paging = fmt.Sprintf(`{"next":"%d"}`, idx+1)
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"data":%s,"paging":%s}`, pages[idx], paging)
	})
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockVendor) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetPathCount returns the number of requests made to path.
func (m *MockVendor) GetPathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.PathCounts[path]
}

// GetRequestTimes returns the arrival times of all requests.
func (m *MockVendor) GetRequestTimes() []time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]time.Time(nil), m.RequestTimes...)
}

// GetLastRequestHeader returns the headers of the most recent request.
func (m *MockVendor) GetLastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequestHeader
}

// defaultHandler provides a healthy empty response.
func (m *MockVendor) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Rate-Usage", "10")
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"data": []}`))
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// NewHealthyResponse creates a standard 200 OK response with low utilization.
func NewHealthyResponse(data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers: map[string]string{
			"X-Rate-Usage": "10",
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewUtilizationResponse creates a 200 OK response reporting pct utilization
// with the given seconds until reset.
func NewUtilizationResponse(data string, pct float64, resetSeconds int) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers: map[string]string{
			"X-Rate-Usage": strconv.FormatFloat(pct, 'f', -1, 64),
			"X-Rate-Reset": strconv.Itoa(resetSeconds),
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response with a Retry-After hint.
func NewRateLimitResponse(retryAfter string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Rate limit exceeded"}`,
		Headers: map[string]string{
			"Retry-After":  retryAfter,
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewClientErrorResponse creates a 400 Bad Request response.
func NewClientErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusBadRequest,
		Body:       `{"error": "Invalid parameter"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}
