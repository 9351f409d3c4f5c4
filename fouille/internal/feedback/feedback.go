// CLAUDE:SUMMARY Append-only like/dislike log with full-scan aggregate counts per URL and domain, stats, and training-record reads.
// Package feedback stores like/dislike events on search results.
//
// Aggregates are never maintained incrementally: Counts and Stats scan the
// whole log, which keeps them trivially consistent with what is on disk.
package feedback

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/fouille/fouille/internal/jsonl"
	"github.com/hazyhaar/fouille/horosafe"
	"github.com/hazyhaar/fouille/idgen"
)

// Labels.
const (
	Like    = "like"
	Dislike = "dislike"
)

var (
	ErrInvalidLabel = errors.New("feedback: label must be like or dislike")
	ErrMissingURL   = errors.New("feedback: url is required")
)

// Record is one feedback event, one JSON line on disk.
type Record struct {
	ID        string    `json:"id,omitempty"`
	URL       string    `json:"url"`
	Domain    string    `json:"domain"`
	Title     string    `json:"title,omitempty"`
	Summary   string    `json:"summary,omitempty"`
	Query     string    `json:"query,omitempty"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"createdAt"`
}

// Liked reports whether the record is a like.
func (r Record) Liked() bool { return r.Label == Like }

// TrainingText is the text the preference model learns from: the
// non-empty title, summary, url and query joined with " | ".
func (r Record) TrainingText() string {
	var parts []string
	for _, s := range []string{r.Title, r.Summary, r.URL, r.Query} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " | ")
}

// Counts are like/dislike totals keyed by domain and by URL.
type Counts struct {
	LikesByDomain    map[string]int
	DislikesByDomain map[string]int
	LikesByURL       map[string]int
	DislikesByURL    map[string]int
}

// Stats summarises the log.
type Stats struct {
	Total     int     `json:"total"`
	Likes     int     `json:"likes"`
	LikeRatio float64 `json:"like_ratio"`
}

// Store is an append-only feedback log. Safe for concurrent use.
type Store struct {
	log    *jsonl.Log
	newID  idgen.Generator
	now    func() time.Time
	logger *slog.Logger
}

// Open returns a Store on the log at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l, err := jsonl.Open(path, logger)
	if err != nil {
		return nil, err
	}
	return &Store{
		log:    l,
		newID:  idgen.Prefixed("fb_", idgen.Default),
		now:    time.Now,
		logger: logger,
	}, nil
}

// NormalizeLabel maps accepted spellings to Like/Dislike.
func NormalizeLabel(label string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "like", "up", "good", "1", "👍":
		return Like, nil
	case "dislike", "down", "bad", "0", "👎":
		return Dislike, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidLabel, label)
}

// Record validates and appends r. Domain is derived from URL, ID and
// CreatedAt are assigned.
func (s *Store) Record(r Record) (Record, error) {
	r.URL = strings.TrimSpace(r.URL)
	if r.URL == "" {
		return Record{}, ErrMissingURL
	}
	label, err := NormalizeLabel(r.Label)
	if err != nil {
		return Record{}, err
	}
	r.Label = label
	r.Domain = horosafe.Domain(r.URL)
	r.ID = s.newID()
	r.CreatedAt = s.now().UTC()
	if err := s.log.Append(r); err != nil {
		return Record{}, fmt.Errorf("feedback: append: %w", err)
	}
	return r, nil
}

// rawRecord tolerates numeric labels and a missing domain in older lines.
type rawRecord struct {
	Record
	Label any `json:"label"`
}

func decodeRecord(line []byte) (Record, error) {
	var raw rawRecord
	if err := json.Unmarshal(line, &raw); err != nil {
		return Record{}, err
	}
	r := raw.Record
	switch v := raw.Label.(type) {
	case string:
		label, err := NormalizeLabel(v)
		if err != nil {
			return Record{}, err
		}
		r.Label = label
	case float64:
		r.Label = Dislike
		if v >= 0.5 {
			r.Label = Like
		}
	default:
		return Record{}, fmt.Errorf("%w: %v", ErrInvalidLabel, raw.Label)
	}
	if r.URL == "" {
		return Record{}, ErrMissingURL
	}
	if r.Domain == "" {
		r.Domain = horosafe.Domain(r.URL)
	}
	r.Domain = strings.ToLower(r.Domain)
	return r, nil
}

// scan calls fn with each valid record in log order; returning false stops.
func (s *Store) scan(fn func(Record) bool) error {
	stopped := false
	return s.log.Scan(func(line []byte) error {
		if stopped {
			return nil
		}
		r, err := decodeRecord(line)
		if err != nil {
			return err
		}
		if !fn(r) {
			stopped = true
		}
		return nil
	})
}

// Counts aggregates likes and dislikes per domain and per URL.
func (s *Store) Counts() (Counts, error) {
	c := Counts{
		LikesByDomain:    map[string]int{},
		DislikesByDomain: map[string]int{},
		LikesByURL:       map[string]int{},
		DislikesByURL:    map[string]int{},
	}
	err := s.scan(func(r Record) bool {
		if r.Liked() {
			c.LikesByDomain[r.Domain]++
			c.LikesByURL[r.URL]++
		} else {
			c.DislikesByDomain[r.Domain]++
			c.DislikesByURL[r.URL]++
		}
		return true
	})
	return c, err
}

// Stats counts valid records and likes.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	err := s.scan(func(r Record) bool {
		st.Total++
		if r.Liked() {
			st.Likes++
		}
		return true
	})
	if st.Total > 0 {
		st.LikeRatio = float64(st.Likes) / float64(st.Total)
	}
	return st, err
}

// Records returns the first limit valid records in log order; limit <= 0
// returns all of them.
func (s *Store) Records(limit int) ([]Record, error) {
	var out []Record
	err := s.scan(func(r Record) bool {
		out = append(out, r)
		return limit <= 0 || len(out) < limit
	})
	return out, err
}
