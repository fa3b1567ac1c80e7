// Package audit reads the worker's audit-trail document.
//
// The worker rewrites logs/audit-trail.json wholesale as a single JSON
// document rather than appending lines, so every read re-parses the
// entire file. That caps practical entry counts but keeps the format
// compatible with the worker.
package audit

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/poidh-tools/bountydeck/pkg/core"
)

// Entry is one immutable audit record. Entries carry no intrinsic ID;
// position in the parsed sequence identifies them. Timestamp is kept
// as the worker's own string formatting (RFC 3339 in practice) so an
// oddly formatted record never poisons the whole document.
type Entry struct {
	Timestamp string `json:"timestamp"`
	Action    string `json:"action"`
	Outcome   string `json:"outcome,omitempty"`
}

type document struct {
	Entries []Entry `json:"entries"`
}

// Reader exposes bounded views of one audit document.
type Reader struct {
	path string
}

// NewReader creates a reader for the document at path.
func NewReader(path string) *Reader {
	return &Reader{path: path}
}

// Recent returns the most recent limit entries, oldest first. A limit
// of zero or less returns all entries. A missing or unparsable file
// yields ErrAuditUnavailable; treat it as "no data yet", since the
// worker only creates the file with its first entry.
func (r *Reader) Recent(limit int) ([]Entry, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrAuditUnavailable, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", core.ErrAuditUnavailable, r.path, err)
	}

	entries := doc.Entries
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}
