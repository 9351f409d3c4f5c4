package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/hazyhaar/fouille/horosafe"
)

func allowLoopback(raw string) error {
	_, err := horosafe.ValidateScheme(raw)
	return err
}

func serve(t *testing.T, contentType string, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

const articlePage = `<html><head><title>Soil Notes</title>
<meta name="description" content="meta text"></head>
<body><nav><a href="/">Home</a></nav>
<article><h1>Composting basics</h1>
<p>Composting turns kitchen scraps into rich soil. Keep the pile moist and turn it weekly for best results.</p>
</article></body></html>`

func TestFetch_MainContentTier(t *testing.T) {
	// WHAT: readable pages produce a markdown extract and keep <title>.
	// WHY: tier 1 must win whenever it finds text; the snippet stays empty.
	srv := serve(t, "text/html; charset=utf-8", 200, articlePage)
	f := New(Config{URLValidator: allowLoopback}, nil)

	p := f.Fetch(context.Background(), srv.URL+"/a")
	if p.Title != "Soil Notes" {
		t.Errorf("Title = %q", p.Title)
	}
	if !strings.Contains(p.Extract, "Composting basics") || !strings.Contains(p.Extract, "kitchen scraps") {
		t.Errorf("Extract = %q", p.Extract)
	}
	if strings.Contains(p.Extract, "Home") {
		t.Errorf("Extract contains navigation: %q", p.Extract)
	}
	if p.Snippet != "" {
		t.Errorf("Snippet = %q, want empty when tier 1 succeeds", p.Snippet)
	}
}

func TestFetch_MetadataTier(t *testing.T) {
	// WHAT: without main content, description then og then first paragraph.
	cases := []struct {
		name, body, want string
	}{
		{"meta", `<html><head><title>T</title><meta name="description" content="from meta"><meta property="og:description" content="from og"></head><body><p>para</p></body></html>`, "from meta"},
		{"og", `<html><head><title>T</title><meta property="og:description" content="from og"></head><body><p>para</p></body></html>`, "from og"},
		{"paragraph", `<html><head><title>T</title></head><body><p>short para</p></body></html>`, "short para"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := serve(t, "text/html", 200, tc.body)
			p := New(Config{URLValidator: allowLoopback}, nil).Fetch(context.Background(), srv.URL)
			if p.Snippet != tc.want {
				t.Errorf("Snippet = %q, want %q", p.Snippet, tc.want)
			}
			if p.Extract != "" {
				t.Errorf("Extract = %q, want empty", p.Extract)
			}
			if p.Title != "T" {
				t.Errorf("Title = %q", p.Title)
			}
		})
	}
}

func TestFetch_ErrorMarker(t *testing.T) {
	// WHAT: HTTP errors and blocked URLs become an ERROR_FETCH extract.
	// WHY: fetch failures never propagate as errors.
	srv := serve(t, "text/html", 500, "boom")
	p := New(Config{URLValidator: allowLoopback}, nil).Fetch(context.Background(), srv.URL)
	if !p.Failed() || !strings.Contains(p.Extract, "500") {
		t.Errorf("Extract = %q", p.Extract)
	}

	blocked := New(Config{}, nil).Fetch(context.Background(), srv.URL)
	if !blocked.Failed() {
		t.Errorf("loopback should be blocked by default validator, got %q", blocked.Extract)
	}
}

func TestFetch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	start := time.Now()
	p := New(Config{Timeout: 100 * time.Millisecond, URLValidator: allowLoopback}, nil).Fetch(context.Background(), srv.URL)
	if !p.Failed() {
		t.Fatalf("expected failure, got %+v", p)
	}
	if el := time.Since(start); el > time.Second {
		t.Fatalf("fetch took %v, timeout not honoured", el)
	}
}

func TestFetch_TruncatesToMaxChars(t *testing.T) {
	long := `<html><body><article><p>` + strings.Repeat("é lorem ipsum ", 200) + `</p></article></body></html>`
	srv := serve(t, "text/html", 200, long)
	p := New(Config{MaxChars: 100, URLValidator: allowLoopback}, nil).Fetch(context.Background(), srv.URL)
	if n := utf8.RuneCountInString(p.Extract); n == 0 || n > 100 {
		t.Fatalf("extract runes = %d, want 1..100", n)
	}
}

func TestFetch_PlainText(t *testing.T) {
	srv := serve(t, "text/plain", 200, "just   some\ntext")
	p := New(Config{URLValidator: allowLoopback}, nil).Fetch(context.Background(), srv.URL)
	if p.Extract != "just some text" {
		t.Fatalf("Extract = %q", p.Extract)
	}
}
