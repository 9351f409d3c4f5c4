// CLAUDE:SUMMARY Sentinel errors for the fouille service: invalid caller input, closed service, missing ingest root.
package fouille

import (
	"errors"

	"github.com/hazyhaar/fouille/fouille/internal/ingest"
)

// ErrInvalidInput is returned when caller input fails validation (query too
// short, bad feedback label, malformed URL, empty filter).
var ErrInvalidInput = errors.New("fouille: invalid input")

// ErrClosed is returned by operations on a closed Service.
var ErrClosed = errors.New("fouille: service closed")

// ErrNoIngestRoot is returned by IngestDir and WatchDir when ingest.root is
// not configured.
var ErrNoIngestRoot = ingest.ErrNoRoot
