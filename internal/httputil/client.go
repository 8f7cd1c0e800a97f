// Package httputil provides HTTP client abstractions for testability.
package httputil

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// Client abstracts the HTTP operations the sensor control channel needs.
// Use NewStandardClient for production; MockClient for testing.
type Client interface {
	// Get issues a GET to the specified URL.
	Get(url string) (*http.Response, error)
	// PostForm issues a POST with form-encoded values to the specified URL.
	PostForm(url string, data url.Values) (*http.Response, error)
}

// StandardClient wraps *http.Client to implement Client.
type StandardClient struct {
	*http.Client
}

// NewStandardClient creates a StandardClient wrapping the given http.Client.
// A nil argument falls back to http.DefaultClient.
func NewStandardClient(c *http.Client) *StandardClient {
	if c == nil {
		c = http.DefaultClient
	}
	return &StandardClient{Client: c}
}

// MockClient records requests and replays canned responses in order.
type MockClient struct {
	mu          sync.Mutex
	Requests    []RecordedRequest
	Responses   []*MockResponse
	responseIdx int
}

// RecordedRequest captures the parts of a request the control-channel tests
// assert on.
type RecordedRequest struct {
	Method string
	URL    string
	Body   string
}

// MockResponse defines a canned HTTP response for testing.
type MockResponse struct {
	StatusCode int
	Body       string
	Error      error
}

// NewMockClient creates a new mock HTTP client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// AddResponse queues a response to be returned by a subsequent request.
func (m *MockClient) AddResponse(statusCode int, body string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = append(m.Responses, &MockResponse{StatusCode: statusCode, Body: body})
	return m
}

// AddErrorResponse queues a transport-level error.
func (m *MockClient) AddErrorResponse(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = append(m.Responses, &MockResponse{Error: err})
	return m
}

func (m *MockClient) next(method, url, body string) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, RecordedRequest{Method: method, URL: url, Body: body})

	if m.responseIdx < len(m.Responses) {
		resp := m.Responses[m.responseIdx]
		m.responseIdx++
		if resp.Error != nil {
			return nil, resp.Error
		}
		return &http.Response{
			StatusCode: resp.StatusCode,
			Body:       io.NopCloser(bytes.NewBufferString(resp.Body)),
			Header:     make(http.Header),
		}, nil
	}

	// Default: empty 200 once the queue is exhausted.
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("")),
		Header:     make(http.Header),
	}, nil
}

// Get records the request and returns the next queued response.
func (m *MockClient) Get(url string) (*http.Response, error) {
	return m.next(http.MethodGet, url, "")
}

// PostForm records the request and returns the next queued response.
func (m *MockClient) PostForm(url string, data url.Values) (*http.Response, error) {
	return m.next(http.MethodPost, url, data.Encode())
}

// RequestCount returns the number of recorded requests.
func (m *MockClient) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

// Request returns the nth recorded request, or a zero value if out of range.
func (m *MockClient) Request(n int) RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 0 || n >= len(m.Requests) {
		return RecordedRequest{}
	}
	return m.Requests[n]
}
