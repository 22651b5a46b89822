package testutil

import (
	"errors"
	"net/http"
	"strings"
	"testing"
)

func TestAssertStatusCode(t *testing.T) {
	t.Parallel()

	fakeT := &testing.T{}
	AssertStatusCode(fakeT, http.StatusOK, http.StatusOK)
	if fakeT.Failed() {
		t.Error("expected no failure for matching status codes")
	}
}

func TestAssertNoError(t *testing.T) {
	t.Parallel()

	AssertNoError(t, nil)
}

func TestAssertError(t *testing.T) {
	t.Parallel()

	fakeT := &testing.T{}
	AssertError(fakeT, errors.New("something wrong"))
	if fakeT.Failed() {
		t.Error("expected no failure when error is present")
	}
}

func TestNewTestRequest(t *testing.T) {
	req := NewTestRequest(http.MethodPost, "/debug/restart")
	if req.Method != http.MethodPost {
		t.Errorf("method = %s, want POST", req.Method)
	}
	if req.URL.Path != "/debug/restart" {
		t.Errorf("path = %s, want /debug/restart", req.URL.Path)
	}
	if req.RemoteAddr != LoopbackAddr {
		t.Errorf("remote addr = %s, want %s", req.RemoteAddr, LoopbackAddr)
	}
}

func TestServe(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte(r.RemoteAddr))
	})
	w := Serve(h, http.MethodGet, "/")
	AssertStatusCode(t, w.Code, http.StatusTeapot)
	AssertContains(t, ReadBody(t, w.Body), "127.0.0.1")
}

func TestReadBody(t *testing.T) {
	if got := ReadBody(t, strings.NewReader("hello")); got != "hello" {
		t.Errorf("ReadBody = %q, want hello", got)
	}
}
