// Package testutil provides shared test utilities for the admin routes.
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// LoopbackAddr is the remote address given to test requests. The tsweb
// debugger only serves loopback and tailnet clients.
const LoopbackAddr = "127.0.0.1:12345"

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// NewTestRequest creates a test HTTP request from a loopback client.
func NewTestRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = LoopbackAddr
	return req
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

// Serve runs a loopback request through h and returns the recorded response.
func Serve(h http.Handler, method, path string) *httptest.ResponseRecorder {
	w := NewTestRecorder()
	h.ServeHTTP(w, NewTestRequest(method, path))
	return w
}

// ReadBody returns the response body as a string.
func ReadBody(t *testing.T, body io.Reader) string {
	t.Helper()
	b, err := io.ReadAll(body)
	AssertNoError(t, err)
	return string(b)
}

// AssertContains fails the test if s does not contain substr.
func AssertContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("%q does not contain %q", s, substr)
	}
}
