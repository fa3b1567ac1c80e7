// Package envfile reads and writes the worker's .env configuration.
//
// The worker process (a Node.js agent) loads its own settings from a
// flat KEY=value file; the panel edits that file on its behalf. The
// format is deliberately minimal: one assignment per line, # comments
// and blank lines ignored, optional single or double quotes around
// values. Files are rewritten wholesale on save with key order
// preserved, which matches how the worker's own tooling treats it.
package envfile

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// File is an ordered set of KEY=value pairs bound to a path.
type File struct {
	path   string
	keys   []string
	values map[string]string
}

// Load reads the file at path. A missing file is not an error; it
// yields an empty File that Save will create.
func Load(path string) (*File, error) {
	f := &File{path: path, values: make(map[string]string)}

	src, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer src.Close()

	scanner := bufio.NewScanner(src)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"'`)
		if key == "" {
			continue
		}
		f.Set(key, value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return f, nil
}

// Path returns the backing file path.
func (f *File) Path() string { return f.path }

// Get returns the value for key and whether it is present.
func (f *File) Get(key string) (string, bool) {
	v, ok := f.values[key]
	return v, ok
}

// Set stores key=value, keeping first-seen key order for new keys.
func (f *File) Set(key, value string) {
	if _, exists := f.values[key]; !exists {
		f.keys = append(f.keys, key)
	}
	f.values[key] = value
}

// Keys returns all keys in file order.
func (f *File) Keys() []string {
	return append([]string(nil), f.keys...)
}

// Save rewrites the file. Mode 0600: the file holds the wallet key.
func (f *File) Save() error {
	var b strings.Builder
	for _, key := range f.keys {
		fmt.Fprintf(&b, "%s=%s\n", key, f.values[key])
	}
	if err := os.WriteFile(f.path, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("write %s: %w", f.path, err)
	}
	return nil
}

// MaskSecret shortens values of key-like secrets for display. Keys
// containing KEY, PRIVATE, SECRET, or TOKEN show only a short prefix.
func MaskSecret(key, value string) string {
	if value == "" {
		return value
	}
	upper := strings.ToUpper(key)
	for _, marker := range []string{"KEY", "PRIVATE", "SECRET", "TOKEN"} {
		if strings.Contains(upper, marker) {
			if len(value) <= 4 {
				return "..."
			}
			return value[:4] + "..."
		}
	}
	return value
}
