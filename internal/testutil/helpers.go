package testutil

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/goccy/go-json"
)

// Call is one request received by a MockServer.
type Call struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte
}

// JSON decodes the recorded request body into v.
func (c Call) JSON(v any) error {
	return json.Unmarshal(c.Body, v)
}

// MockServerBuilder provides a fluent interface for creating a mock Commcell
// web service. Routes are keyed by method and URL path; the query string is
// ignored for matching and recorded on the Call.
type MockServerBuilder struct {
	routes map[string]http.HandlerFunc
	useTLS bool
}

// NewMockServer creates a new MockServerBuilder.
func NewMockServer() *MockServerBuilder {
	return &MockServerBuilder{routes: make(map[string]http.HandlerFunc)}
}

func routeKey(method, path string) string {
	return method + " " + path
}

// WithTLS enables TLS for the mock server.
func (b *MockServerBuilder) WithTLS() *MockServerBuilder {
	b.useTLS = true
	return b
}

// WithHandler registers a custom handler for method and path.
func (b *MockServerBuilder) WithHandler(method, path string, handler http.HandlerFunc) *MockServerBuilder {
	b.routes[routeKey(method, path)] = handler
	return b
}

// WithJSON answers method and path with body. A string or []byte body is
// written verbatim; anything else is JSON encoded.
func (b *MockServerBuilder) WithJSON(method, path string, body any) *MockServerBuilder {
	return b.WithHandler(method, path, func(w http.ResponseWriter, _ *http.Request) {
		writeBody(w, ContentTypeJSON, http.StatusOK, body)
	})
}

// WithXML answers method and path with a verbatim XML body.
func (b *MockServerBuilder) WithXML(method, path, body string) *MockServerBuilder {
	return b.WithHandler(method, path, func(w http.ResponseWriter, _ *http.Request) {
		writeBody(w, ContentTypeXML, http.StatusOK, body)
	})
}

// WithStatus answers method and path with a fixed status and body.
func (b *MockServerBuilder) WithStatus(method, path string, status int, body string) *MockServerBuilder {
	return b.WithHandler(method, path, func(w http.ResponseWriter, _ *http.Request) {
		writeBody(w, "text/plain", status, body)
	})
}

// WithSequence answers successive calls to method and path with bodies in
// order. Once exhausted the last body is repeated.
func (b *MockServerBuilder) WithSequence(method, path string, bodies ...any) *MockServerBuilder {
	var (
		mu   sync.Mutex
		next int
	)
	return b.WithHandler(method, path, func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		i := next
		if next < len(bodies)-1 {
			next++
		}
		mu.Unlock()
		if len(bodies) == 0 {
			writeBody(w, ContentTypeJSON, http.StatusOK, Empty)
			return
		}
		writeBody(w, ContentTypeJSON, http.StatusOK, bodies[i])
	})
}

// Build starts the configured server.
func (b *MockServerBuilder) Build() *MockServer {
	m := &MockServer{}
	routes := make(map[string]http.HandlerFunc, len(b.routes))
	for k, v := range b.routes {
		routes[k] = v
	}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))
		m.record(Call{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Header: r.Header.Clone(),
			Body:   body,
		})

		if h, ok := routes[routeKey(r.Method, r.URL.Path)]; ok {
			h(w, r)
			return
		}
		writeBody(w, ContentTypeJSON, http.StatusNotFound, map[string]string{
			"errorMessage": ErrEndpointNotFound,
		})
	})

	if b.useTLS {
		m.Server = httptest.NewTLSServer(handler)
	} else {
		m.Server = httptest.NewServer(handler)
	}
	return m
}

// MockServer is a running mock Commcell web service.
type MockServer struct {
	*httptest.Server

	mu    sync.Mutex
	calls []Call
}

// BaseURL returns the server URL with a trailing slash, the form the SDK
// expects for the web-service base.
func (m *MockServer) BaseURL() string {
	return m.URL + "/"
}

func (m *MockServer) record(c Call) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, c)
}

// Calls returns every request received so far.
func (m *MockServer) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallsTo returns the requests received for method and path.
func (m *MockServer) CallsTo(method, path string) []Call {
	var out []Call
	for _, c := range m.Calls() {
		if c.Method == method && c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

// Count returns the number of requests received for method and path.
func (m *MockServer) Count(method, path string) int {
	return len(m.CallsTo(method, path))
}

// LastCall returns the most recent request for method and path and fails the
// test when there was none.
func (m *MockServer) LastCall(t testing.TB, method, path string) Call {
	t.Helper()
	calls := m.CallsTo(method, path)
	if len(calls) == 0 {
		t.Fatalf("no %s request to %s", method, path)
	}
	return calls[len(calls)-1]
}

// LoadTestData loads test data from a file.
func LoadTestData(t *testing.T, filename string) []byte {
	t.Helper()
	data, err := os.ReadFile(filename)
	if err != nil {
		t.Fatalf("Failed to read test data file %s: %v", filename, err)
	}
	return data
}

func writeBody(w http.ResponseWriter, contentType string, status int, body any) {
	var data []byte
	switch v := body.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			http.Error(w, fmt.Sprintf("encode mock body: %v", err), http.StatusInternalServerError)
			return
		}
		data = encoded
	}
	w.Header().Set(ContentTypeHeader, contentType)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
