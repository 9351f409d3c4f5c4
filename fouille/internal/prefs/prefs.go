// CLAUDE:SUMMARY SQLite-backed singleton user preferences (domain/keyword sets, weights, strict block) and served-result query history.
// Package prefs persists the single UserPreferences row and the query
// history log in SQLite.
package prefs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/hazyhaar/fouille/dbopen"
	"github.com/hazyhaar/fouille/idgen"
	"github.com/hazyhaar/fouille/horosafe"

	_ "modernc.org/sqlite"
)

// Schema creates the preferences singleton and the history table, then
// guarantees the singleton row exists.
const Schema = `
CREATE TABLE IF NOT EXISTS prefs (
    id                 INTEGER PRIMARY KEY CHECK (id = 1),
    preferred_domains  TEXT NOT NULL DEFAULT '',
    blocked_domains    TEXT NOT NULL DEFAULT '',
    preferred_keywords TEXT NOT NULL DEFAULT '',
    blocked_keywords   TEXT NOT NULL DEFAULT '',
    like_weight        REAL NOT NULL DEFAULT 1.0,
    dislike_weight     REAL NOT NULL DEFAULT -1.0,
    domain_boost       REAL NOT NULL DEFAULT 0.6,
    keyword_boost      REAL NOT NULL DEFAULT 0.4,
    strict_block       INTEGER NOT NULL DEFAULT 0,
    updated_at         INTEGER NOT NULL DEFAULT 0
);
INSERT OR IGNORE INTO prefs (id) VALUES (1);

CREATE TABLE IF NOT EXISTS history (
    id         TEXT PRIMARY KEY,
    created_at INTEGER NOT NULL,
    query      TEXT NOT NULL,
    url        TEXT NOT NULL,
    domain     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_history_time ON history(created_at DESC);
`

// Preferences is the user's static ranking profile. Sets are lower-cased
// and deduplicated.
type Preferences struct {
	PreferredDomains  []string `json:"preferred_domains"`
	BlockedDomains    []string `json:"blocked_domains"`
	PreferredKeywords []string `json:"preferred_keywords"`
	BlockedKeywords   []string `json:"blocked_keywords"`
	LikeWeight        float64  `json:"like_weight"`
	DislikeWeight     float64  `json:"dislike_weight"`
	DomainBoost       float64  `json:"domain_boost"`
	KeywordBoost      float64  `json:"keyword_boost"`
	StrictBlock       bool     `json:"strict_block"`
}

// Defaults returns the preferences a fresh deployment starts with.
func Defaults() Preferences {
	return Preferences{
		PreferredDomains:  []string{},
		BlockedDomains:    []string{},
		PreferredKeywords: []string{},
		BlockedKeywords:   []string{},
		LikeWeight:        1.0,
		DislikeWeight:     -1.0,
		DomainBoost:       0.6,
		KeywordBoost:      0.4,
	}
}

// ParseList splits a comma-separated list, trimming, lower-casing and
// dropping empty and duplicate entries.
func ParseList(csv string) []string {
	return normalizeList(strings.Split(csv, ","))
}

// encodeList stores a set as a JSON array so entries may contain commas.
func encodeList(list []string) string {
	if len(list) == 0 {
		return ""
	}
	b, _ := json.Marshal(list)
	return string(b)
}

// decodeList reads a stored set. Rows written before JSON storage hold a
// comma-separated list.
func decodeList(stored string) []string {
	stored = strings.TrimSpace(stored)
	if strings.HasPrefix(stored, "[") {
		var list []string
		if err := json.Unmarshal([]byte(stored), &list); err == nil {
			return normalizeList(list)
		}
	}
	return ParseList(stored)
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || slices.Contains(out, s) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Normalize lower-cases and deduplicates every set.
func (p Preferences) Normalize() Preferences {
	p.PreferredDomains = normalizeList(p.PreferredDomains)
	p.BlockedDomains = normalizeList(p.BlockedDomains)
	p.PreferredKeywords = normalizeList(p.PreferredKeywords)
	p.BlockedKeywords = normalizeList(p.BlockedKeywords)
	return p
}

// HistoryEntry is one served result.
type HistoryEntry struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Query     string    `json:"query"`
	URL       string    `json:"url"`
	Domain    string    `json:"domain"`
}

// Store reads and writes preferences and history.
type Store struct {
	DB    *sql.DB
	newID idgen.Generator
	now   func() time.Time
}

// Open opens (creating if needed) the SQLite database at path. opts tune the
// connection pragmas.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	opts = append([]dbopen.Option{dbopen.WithMkdirAll(), dbopen.WithSchema(Schema)}, opts...)
	db, err := dbopen.Open(path, opts...)
	if err != nil {
		return nil, fmt.Errorf("prefs: %w", err)
	}
	return NewStore(db), nil
}

// NewStore wraps a database on which Schema has been applied.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db, newID: idgen.Prefixed("h_", idgen.Default), now: time.Now}
}

// Close closes the database.
func (s *Store) Close() error { return s.DB.Close() }

// Get returns the current preferences.
func (s *Store) Get(ctx context.Context) (Preferences, error) {
	var (
		pd, bd, pk, bk string
		strict         int
		p              Preferences
	)
	err := s.DB.QueryRowContext(ctx,
		`SELECT preferred_domains, blocked_domains, preferred_keywords, blocked_keywords,
		like_weight, dislike_weight, domain_boost, keyword_boost, strict_block
		FROM prefs WHERE id = 1`).Scan(&pd, &bd, &pk, &bk,
		&p.LikeWeight, &p.DislikeWeight, &p.DomainBoost, &p.KeywordBoost, &strict)
	if err == sql.ErrNoRows {
		return Defaults(), nil
	}
	if err != nil {
		return Preferences{}, fmt.Errorf("prefs: get: %w", err)
	}
	p.PreferredDomains = decodeList(pd)
	p.BlockedDomains = decodeList(bd)
	p.PreferredKeywords = decodeList(pk)
	p.BlockedKeywords = decodeList(bk)
	p.StrictBlock = strict != 0
	return p, nil
}

// Update replaces the preferences row.
func (s *Store) Update(ctx context.Context, p Preferences) error {
	p = p.Normalize()
	strict := 0
	if p.StrictBlock {
		strict = 1
	}
	_, err := dbopen.Exec(ctx, s.DB,
		`INSERT INTO prefs (id, preferred_domains, blocked_domains, preferred_keywords, blocked_keywords,
		like_weight, dislike_weight, domain_boost, keyword_boost, strict_block, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		preferred_domains = excluded.preferred_domains,
		blocked_domains = excluded.blocked_domains,
		preferred_keywords = excluded.preferred_keywords,
		blocked_keywords = excluded.blocked_keywords,
		like_weight = excluded.like_weight,
		dislike_weight = excluded.dislike_weight,
		domain_boost = excluded.domain_boost,
		keyword_boost = excluded.keyword_boost,
		strict_block = excluded.strict_block,
		updated_at = excluded.updated_at`,
		encodeList(p.PreferredDomains), encodeList(p.BlockedDomains),
		encodeList(p.PreferredKeywords), encodeList(p.BlockedKeywords),
		p.LikeWeight, p.DislikeWeight, p.DomainBoost, p.KeywordBoost, strict,
		s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("prefs: update: %w", err)
	}
	return nil
}

// AppendHistory records served URLs for query in one transaction. The domain
// is derived from each URL.
func (s *Store) AppendHistory(ctx context.Context, query string, urls []string) error {
	if len(urls) == 0 {
		return nil
	}
	now := s.now().UnixMilli()
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO history (id, created_at, query, url, domain) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prefs: prepare history: %w", err)
		}
		defer stmt.Close()
		for _, u := range urls {
			if _, err := stmt.ExecContext(ctx, s.newID(), now, query, u, horosafe.Domain(u)); err != nil {
				return fmt.Errorf("prefs: insert history: %w", err)
			}
		}
		return nil
	})
}

// RecentHistory returns up to limit entries, newest first. limit <= 0
// defaults to 50.
func (s *Store) RecentHistory(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, created_at, query, url, domain FROM history
		ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("prefs: history: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var (
			e  HistoryEntry
			ms int64
		)
		if err := rows.Scan(&e.ID, &ms, &e.Query, &e.URL, &e.Domain); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.CreatedAt = time.UnixMilli(ms).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
