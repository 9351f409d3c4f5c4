package feedback

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "feedback.jsonl"), nil)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestRecordThenCounts(t *testing.T) {
	// WHAT: one dislike shows up in both the URL and the domain counts.
	// WHY: the reranker and strict block read exactly these maps.
	s := openStore(t)
	r, err := s.Record(Record{URL: "https://a.example/x", Label: "dislike"})
	if err != nil {
		t.Fatal(err)
	}
	if r.Domain != "a.example" || !strings.HasPrefix(r.ID, "fb_") || r.CreatedAt.IsZero() {
		t.Errorf("record = %+v", r)
	}

	c, err := s.Counts()
	if err != nil {
		t.Fatal(err)
	}
	if c.DislikesByURL["https://a.example/x"] != 1 {
		t.Errorf("DislikesByURL = %v", c.DislikesByURL)
	}
	if c.DislikesByDomain["a.example"] != 1 {
		t.Errorf("DislikesByDomain = %v", c.DislikesByDomain)
	}
	if len(c.LikesByURL) != 0 || len(c.LikesByDomain) != 0 {
		t.Errorf("unexpected likes: %v %v", c.LikesByURL, c.LikesByDomain)
	}
}

func TestRecord_Validation(t *testing.T) {
	s := openStore(t)
	if _, err := s.Record(Record{URL: "https://a.example/", Label: "meh"}); !errors.Is(err, ErrInvalidLabel) {
		t.Errorf("bad label: %v", err)
	}
	if _, err := s.Record(Record{URL: "  ", Label: "like"}); !errors.Is(err, ErrMissingURL) {
		t.Errorf("missing url: %v", err)
	}
	r, err := s.Record(Record{URL: "https://B.Example/p", Label: "👍"})
	if err != nil || r.Label != Like || r.Domain != "b.example" {
		t.Errorf("synonym label: %+v, %v", r, err)
	}
}

func TestStats(t *testing.T) {
	s := openStore(t)
	if st, _ := s.Stats(); st.Total != 0 || st.LikeRatio != 0 {
		t.Fatalf("empty stats = %+v", st)
	}
	s.Record(Record{URL: "https://a.example/1", Label: Like})
	s.Record(Record{URL: "https://a.example/2", Label: Like})
	s.Record(Record{URL: "https://b.example/1", Label: Dislike})
	s.Record(Record{URL: "https://b.example/2", Label: Like})

	st, err := s.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if st.Total != 4 || st.Likes != 3 || st.LikeRatio != 0.75 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestRecords_LimitAndLegacyLines(t *testing.T) {
	// WHAT: numeric labels and missing domains from older lines are
	// accepted; corrupt lines are skipped; limit takes the first records.
	path := filepath.Join(t.TempDir(), "feedback.jsonl")
	os.WriteFile(path, []byte(`{"url":"https://old.example/a","title":"Old","label":1}
not json
{"url":"https://old.example/b","label":0.2,"query":"q"}
{"url":"","label":"like"}
{"url":"https://new.example/c","domain":"new.example","label":"like"}
`), 0o644)
	s, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}

	all, err := s.Records(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("records = %d, want 3", len(all))
	}
	if all[0].Label != Like || all[0].Domain != "old.example" || all[1].Label != Dislike {
		t.Errorf("legacy decode: %+v", all[:2])
	}
	first, _ := s.Records(2)
	if len(first) != 2 || first[1].URL != "https://old.example/b" {
		t.Errorf("limit 2: %+v", first)
	}
}

func TestTrainingText(t *testing.T) {
	r := Record{Title: "Go", Summary: "", URL: "https://go.dev", Query: "golang"}
	if got := r.TrainingText(); got != "Go | https://go.dev | golang" {
		t.Fatalf("TrainingText = %q", got)
	}
}
