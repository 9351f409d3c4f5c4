// Package idgen provides pluggable ID generation for fouille records.
//
// Feedback records, history rows and request IDs all draw from a Generator,
// so tests can swap in a deterministic sequence.
package idgen

import (
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
// Time-sortable, so log records sort by creation order.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID
// (e.g. "fb_", "hist_", "req_").
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Sequence returns a Generator producing prefix-1, prefix-2, ... in order.
// Intended for tests that assert on IDs.
func Sequence(prefix string) Generator {
	var n atomic.Int64
	return func() string {
		return prefix + "-" + strconv.FormatInt(n.Add(1), 10)
	}
}

// Default is UUIDv7.
var Default Generator = UUIDv7()

// New produces an ID using the Default generator.
func New() string {
	return Default()
}

// Parse validates a UUID string and returns its canonical form.
func Parse(s string) (string, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("idgen: invalid UUID: %w", err)
	}
	return u.String(), nil
}
