// CLAUDE:SUMMARY Append-only JSONL memory with term-frequency cosine search, metadata filters, text dedup and atomic compaction by metadata.
// Package memory is a single-user, file-backed memory of free-text items
// (ingested documents, saved texts, generated proposals) searchable by
// bag-of-words similarity.
//
// Items are only appended; the single removal path is RemoveByMeta, a
// snapshot-filter-replace of the whole log.
package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/hazyhaar/fouille/fouille/internal/jsonl"
)

// Item kinds.
const (
	TypeText     = "text"
	TypeProposal = "proposal"
)

// DefaultTopK is used when a search asks for topK <= 0.
const DefaultTopK = 5

var (
	ErrEmptyText   = errors.New("memory: empty text")
	ErrEmptyFilter = errors.New("memory: removal filter must not be empty")
	errBadType     = errors.New("memory: unknown item type")
)

// Item is one memory record, one JSON line on disk.
type Item struct {
	Type      string         `json:"type"`
	Text      string         `json:"text"`
	Meta      map[string]any `json:"meta"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Input is a text to store with its own metadata.
type Input struct {
	Text string         `json:"text"`
	Meta map[string]any `json:"meta,omitempty"`
}

// Hit is one search result.
type Hit struct {
	Text  string         `json:"text"`
	Score float64        `json:"score"`
	Meta  map[string]any `json:"meta"`
}

type entry struct {
	item Item
	vec  tfVector
}

// Store is safe for concurrent use. Reads are served from an in-memory
// copy loaded at Open and kept in step with every write.
type Store struct {
	log    *jsonl.Log
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	entries []entry
	keys    map[string]struct{} // dedup keys of text items
}

// Open loads the memory log at path, skipping corrupt records.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l, err := jsonl.Open(path, logger)
	if err != nil {
		return nil, err
	}
	s := &Store{
		log:    l,
		logger: logger,
		now:    time.Now,
		keys:   make(map[string]struct{}),
	}
	err = l.Scan(func(line []byte) error {
		it, err := decodeItem(line)
		if err != nil {
			return err
		}
		s.add(it)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("memory: load: %w", err)
	}
	logger.Debug("memory: loaded", "items", len(s.entries), "path", path)
	return s, nil
}

func decodeItem(line []byte) (Item, error) {
	var it Item
	if err := json.Unmarshal(line, &it); err != nil {
		return Item{}, err
	}
	if it.Type != TypeText && it.Type != TypeProposal {
		return Item{}, fmt.Errorf("%w: %q", errBadType, it.Type)
	}
	if it.Meta == nil {
		it.Meta = map[string]any{}
	}
	return it, nil
}

// add must be called with mu held (or before the store is shared).
func (s *Store) add(it Item) {
	s.entries = append(s.entries, entry{item: it, vec: termFrequencies(it.Text)})
	if it.Type == TypeText {
		s.keys[dedupKey(it.Text)] = struct{}{}
	}
}

func (s *Store) newItem(typ, text string, meta map[string]any) Item {
	m := make(map[string]any, len(meta))
	for k, v := range meta {
		m[k] = v
	}
	return Item{Type: typ, Text: Normalize(text), Meta: m, CreatedAt: s.now().UTC()}
}

// Append stores one text item.
func (s *Store) Append(text string, meta map[string]any) (Item, error) {
	it := s.newItem(TypeText, text, meta)
	if it.Text == "" {
		return Item{}, ErrEmptyText
	}
	return it, s.persist(it)
}

// SaveProposal stores a generated patch with its objective.
func (s *Store) SaveProposal(patch, objective string) (Item, error) {
	it := s.newItem(TypeProposal, patch, map[string]any{"kind": "patch", "objective": objective})
	if it.Text == "" {
		return Item{}, ErrEmptyText
	}
	return it, s.persist(it)
}

func (s *Store) persist(items ...Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked(items...)
}

func (s *Store) persistLocked(items ...Item) error {
	recs := make([]any, len(items))
	for i := range items {
		recs[i] = items[i]
	}
	if err := s.log.Append(recs...); err != nil {
		return fmt.Errorf("memory: append: %w", err)
	}
	for _, it := range items {
		s.add(it)
	}
	return nil
}

// AppendUnique stores every input whose normalized, case-folded text is not
// already present (in the store or earlier in inputs). baseMeta keys
// override the input's own meta. Empty texts are skipped. Returns the number
// of items stored.
func (s *Store) AppendUnique(inputs []Input, baseMeta map[string]any) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := make(map[string]struct{})
	var fresh []Item
	for _, in := range inputs {
		it := s.newItem(TypeText, in.Text, in.Meta)
		for k, v := range baseMeta {
			it.Meta[k] = v
		}
		if it.Text == "" {
			continue
		}
		key := dedupKey(it.Text)
		if _, ok := s.keys[key]; ok {
			continue
		}
		if _, ok := batch[key]; ok {
			continue
		}
		batch[key] = struct{}{}
		fresh = append(fresh, it)
	}
	if len(fresh) == 0 {
		return 0, nil
	}
	if err := s.persistLocked(fresh...); err != nil {
		return 0, err
	}
	return len(fresh), nil
}

// Search ranks items by TF cosine similarity to query. Items with zero
// similarity are excluded; equal scores keep log order. filter keeps only
// items whose meta holds every filter key with an equal value. topK <= 0
// uses DefaultTopK.
func (s *Store) Search(query string, topK int, filter map[string]any) []Hit {
	if topK <= 0 {
		topK = DefaultTopK
	}
	q := termFrequencies(Normalize(query))
	if q.norm == 0 {
		return nil
	}
	match := newMetaMatcher(filter)

	s.mu.RLock()
	var hits []Hit
	for _, e := range s.entries {
		if e.item.Text == "" || !match(e.item.Meta) {
			continue
		}
		score := cosine(q, e.vec)
		if score <= 0 {
			continue
		}
		hits = append(hits, Hit{Text: e.item.Text, Score: score, Meta: e.item.Meta})
	}
	s.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

// SearchText is Search returning only the texts.
func (s *Store) SearchText(query string, topK int, filter map[string]any) []string {
	hits := s.Search(query, topK, filter)
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Text
	}
	return out
}

// RemoveByMeta deletes every item whose meta matches filter and returns how
// many were removed. The log is rewritten through a temporary file and an
// atomic rename; the in-memory copy changes only after the rename.
func (s *Store) RemoveByMeta(filter map[string]any) (int, error) {
	if len(filter) == 0 {
		return 0, ErrEmptyFilter
	}
	match := newMetaMatcher(filter)

	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.log.Rewrite(func(line []byte) (bool, error) {
		it, err := decodeItem(line)
		if err != nil {
			return false, err
		}
		return !match(it.Meta), nil
	})
	if err != nil {
		return 0, fmt.Errorf("memory: rewrite: %w", err)
	}
	if n == 0 {
		return 0, nil
	}

	kept := s.entries[:0:0]
	s.keys = make(map[string]struct{})
	for _, e := range s.entries {
		if match(e.item.Meta) {
			continue
		}
		kept = append(kept, e)
		if e.item.Type == TypeText {
			s.keys[dedupKey(e.item.Text)] = struct{}{}
		}
	}
	s.entries = kept
	s.logger.Info("memory: removed items", "count", n, "filter", filter)
	return n, nil
}

// Items returns a snapshot of all items in log order.
func (s *Store) Items() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Item, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.item
	}
	return out
}

// Len returns the number of stored items.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// newMetaMatcher returns a predicate testing that meta holds every filter
// key with an equal value. Filter values go through a JSON round-trip once
// so Go-typed values (int, []string) compare equal to decoded meta
// (float64, []any).
func newMetaMatcher(filter map[string]any) func(map[string]any) bool {
	if len(filter) == 0 {
		return func(map[string]any) bool { return true }
	}
	norm := filter
	if data, err := json.Marshal(filter); err == nil {
		var m map[string]any
		if json.Unmarshal(data, &m) == nil {
			norm = m
		}
	}
	return func(meta map[string]any) bool {
		for k, want := range norm {
			got, ok := meta[k]
			if !ok || !reflect.DeepEqual(normalizeValue(got), want) {
				return false
			}
		}
		return true
	}
}

// normalizeValue round-trips values that did not come from JSON decoding
// (items appended in this process still hold Go-typed meta).
func normalizeValue(v any) any {
	switch v.(type) {
	case string, bool, float64, nil:
		return v
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if json.Unmarshal(data, &out) != nil {
		return v
	}
	return out
}
