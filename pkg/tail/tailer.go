// Package tail reads newly appended lines from growing log files.
//
// A Tailer owns exactly one cursor into one file. Polling returns only
// whole lines appended since the previous poll; a trailing partial line
// stays unread until a later poll sees its terminator. If the file
// shrinks between polls (rotation or truncation) the cursor resets to
// zero and content is re-delivered from the start.
package tail

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Cursor tracks the read position within one watched file.
type Cursor struct {
	Path     string    `json:"path"`
	Offset   int64     `json:"offset"`
	LastRead time.Time `json:"last_read"`
}

// Tailer incrementally reads one append-only text file. Not safe for
// concurrent use; each Tailer belongs to a single polling goroutine.
type Tailer struct {
	cursor Cursor
	logger *slog.Logger
}

// New creates a tailer positioned at the start of path. The file does
// not need to exist yet.
func New(path string, logger *slog.Logger) *Tailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tailer{cursor: Cursor{Path: path}, logger: logger}
}

// Cursor returns a snapshot of the current read position.
func (t *Tailer) Cursor() Cursor { return t.cursor }

// Poll returns whole lines appended since the last poll. A missing
// file yields an empty result and no error. Once the cursor has caught
// up to end-of-file, further polls without intervening writes return
// nothing.
func (t *Tailer) Poll() ([]string, error) {
	info, err := os.Stat(t.cursor.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat %s: %w", t.cursor.Path, err)
	}

	size := info.Size()
	if size < t.cursor.Offset {
		t.logger.Info("file shrank, resetting cursor", "path", t.cursor.Path, "offset", t.cursor.Offset, "size", size)
		t.cursor.Offset = 0
	}
	if size == t.cursor.Offset {
		t.cursor.LastRead = time.Now()
		return nil, nil
	}

	f, err := os.Open(t.cursor.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", t.cursor.Path, err)
	}
	defer f.Close()

	if _, err := f.Seek(t.cursor.Offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek %s: %w", t.cursor.Path, err)
	}

	// Bounded read: only the bytes that existed at stat time, so a
	// writer racing us cannot extend this poll indefinitely.
	data, err := io.ReadAll(io.LimitReader(f, size-t.cursor.Offset))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", t.cursor.Path, err)
	}

	idx := bytes.LastIndexByte(data, '\n')
	if idx < 0 {
		// Partial line only; leave the cursor where it was.
		t.cursor.LastRead = time.Now()
		return nil, nil
	}

	complete := data[:idx]
	t.cursor.Offset += int64(idx + 1)
	t.cursor.LastRead = time.Now()

	if len(complete) == 0 {
		return []string{""}, nil
	}
	return strings.Split(string(complete), "\n"), nil
}

// LastN reads the whole file and returns its final n lines, for the
// initial view before incremental tailing begins. The cursor is moved
// to end-of-file so the next Poll delivers only subsequent appends.
func (t *Tailer) LastN(n int) ([]string, error) {
	data, err := os.ReadFile(t.cursor.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", t.cursor.Path, err)
	}

	idx := bytes.LastIndexByte(data, '\n')
	if idx < 0 {
		t.cursor.LastRead = time.Now()
		return nil, nil
	}
	t.cursor.Offset = int64(idx + 1)
	t.cursor.LastRead = time.Now()

	lines := strings.Split(string(data[:idx]), "\n")
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}
