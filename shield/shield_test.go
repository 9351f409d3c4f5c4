package shield

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/fouille/idgen"
	"github.com/hazyhaar/fouille/kit"
)

func newRouter(h http.HandlerFunc) http.Handler {
	r := chi.NewRouter()
	for _, mw := range APIStack(nil) {
		r.Use(mw)
	}
	r.Get("/x", h)
	r.Post("/x", h)
	return r
}

func TestAPIStack_SecurityHeaders(t *testing.T) {
	// WHAT: Responses carry the JSON API security headers and a request ID.
	// WHY: The API must never be framed or sniffed, and callers correlate logs by request ID.
	h := newRouter(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/x", nil))

	checks := map[string]string{
		"X-Frame-Options":        "DENY",
		"X-Content-Type-Options": "nosniff",
		"Cache-Control":          "no-store",
	}
	for header, expected := range checks {
		if got := w.Header().Get(header); got != expected {
			t.Errorf("%s: got %q, want %q", header, got, expected)
		}
	}
	if id := w.Header().Get("X-Request-ID"); !strings.HasPrefix(id, "req_") {
		t.Errorf("X-Request-ID = %q, want req_ prefix", id)
	}
}

func TestRequestID_PropagatesToContext(t *testing.T) {
	// WHAT: An incoming X-Request-ID is kept and visible through kit.
	// WHY: Service logs must share the caller's correlation ID.
	var gotID, gotTransport string
	h := RequestID(nil, idgen.Sequence("t_"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = kit.GetRequestID(r.Context())
		gotTransport = kit.GetTransport(r.Context())
		if GetLogger(r.Context()) == nil {
			t.Error("no request logger")
		}
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "abc123")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if gotID != "abc123" {
		t.Errorf("request id = %q, want abc123", gotID)
	}
	if gotTransport != "http" {
		t.Errorf("transport = %q, want http", gotTransport)
	}

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	if !strings.HasPrefix(gotID, "t_") {
		t.Errorf("generated id = %q, want t_ prefix", gotID)
	}
}

func TestHeadToGet(t *testing.T) {
	// WHAT: HEAD on a GET route answers 200.
	// WHY: Health probes often use HEAD; chi would otherwise reply 405.
	h := newRouter(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("HEAD", "/x", nil))
	if w.Code != 200 {
		t.Errorf("HEAD status = %d, want 200", w.Code)
	}
}

func TestMaxBody(t *testing.T) {
	// WHAT: Bodies over the limit fail to read.
	// WHY: A single oversized ingest call must not exhaust memory.
	h := MaxBody(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(200)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/", strings.NewReader("0123456789abcdef")))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/", strings.NewReader("small")))
	if w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}
}
