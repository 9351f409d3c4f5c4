package apifetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetch_RootArray(t *testing.T) {
	// WHAT: a root JSON array maps with default field names.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"title": "Item 1", "snippet": "Description 1", "url": "https://example.com/1"},
			"not an object",
			{"title": "Item 2", "snippet": "Description 2", "url": "https://example.com/2"}
		]`))
	}))
	defer srv.Close()

	results, err := Fetch(context.Background(), srv.Client(), srv.URL, Config{})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results: got %d, want 2", len(results))
	}
	if results[1].URL != "https://example.com/2" || results[0].Snippet != "Description 1" {
		t.Errorf("results: %+v", results)
	}
}

func TestFetch_NestedPathsAndHeaders(t *testing.T) {
	// WHAT: result path and field paths are dot-notation; headers expand env.
	// WHY: search APIs nest hits ("web.results") and take keys from env.
	t.Setenv("FOUILLE_TEST_KEY", "secret-123")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "secret-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"web": {"results": [
			{"name": "Found It", "meta": {"desc": "Found via search"}, "link": "https://found.com"}
		]}}`))
	}))
	defer srv.Close()

	cfg := Config{
		Headers:    map[string]string{"X-Api-Key": "${FOUILLE_TEST_KEY}"},
		ResultPath: "web.results",
		Fields:     map[string]string{"title": "name", "snippet": "meta.desc", "url": "link"},
	}
	results, err := Fetch(context.Background(), srv.Client(), srv.URL, cfg)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results: got %d", len(results))
	}
	r := results[0]
	if r.Title != "Found It" || r.Snippet != "Found via search" || r.URL != "https://found.com" {
		t.Errorf("result: %+v", r)
	}
}

func TestFetch_MissingPathIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"searchInformation": {"totalResults": "0"}}`))
	}))
	defer srv.Close()

	results, err := Fetch(context.Background(), srv.Client(), srv.URL, Config{ResultPath: "items"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("results: got %d, want 0", len(results))
	}
}

func TestFetch_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			w.Write([]byte(`{not json`))
			return
		}
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	if _, err := Fetch(context.Background(), srv.Client(), srv.URL, Config{}); err == nil {
		t.Error("expected error on 429")
	}
	if _, err := Fetch(context.Background(), srv.Client(), srv.URL+"/bad", Config{}); err == nil {
		t.Error("expected error on invalid JSON")
	}
}
