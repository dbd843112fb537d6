// Package source provides the file registry and span types used to anchor
// diagnostics to the Eiko source a user wrote.
package source

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Position is a 1-based line/column location inside a file.
type Position struct {
	Line int `json:"line"`
	Col  int `json:"col"`
}

// Span references a contiguous region of a registered source file.
type Span struct {
	File      string `json:"file"`
	StartLine int    `json:"start_line"`
	StartCol  int    `json:"start_col"`
	EndLine   int    `json:"end_line"`
	EndCol    int    `json:"end_col"`
}

// NewSpan builds a span covering a single point.
func NewSpan(file string, line, col int) Span {
	return Span{File: file, StartLine: line, StartCol: col, EndLine: line, EndCol: col + 1}
}

// String renders the span in the file:line:col form editors understand.
func (s Span) String() string {
	return fmt.Sprintf("%s:%d:%d", s.File, s.StartLine, s.StartCol)
}

// IsZero reports whether the span was never filled in.
func (s Span) IsZero() bool {
	return s.File == "" && s.StartLine == 0
}

// To extends the span to cover everything up to and including other.
func (s Span) To(other Span) Span {
	out := s
	out.EndLine = other.EndLine
	out.EndCol = other.EndCol
	return out
}

// File is a single registered source file.
type File struct {
	// Path is the canonical absolute path of the file.
	Path string

	// Content is the full file content, read exactly once.
	Content string

	lines []string
}

// Line returns the 1-based line, or "" when out of range.
func (f *File) Line(n int) string {
	if n < 1 || n > len(f.lines) {
		return ""
	}
	return f.lines[n-1]
}

// Map is the registry of all files taking part in a compilation.
// Each absolute path is read from disk at most once.
type Map struct {
	mu    sync.Mutex
	files map[string]*File
}

// NewMap creates an empty source map.
func NewMap() *Map {
	return &Map{files: make(map[string]*File)}
}

// Load reads the file at path, registering it under its canonical absolute
// path. Repeated loads of the same path return the already registered file.
func (m *Map) Load(path string) (*File, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	abs = filepath.Clean(abs)

	m.mu.Lock()
	defer m.mu.Unlock()

	if f, ok := m.files[abs]; ok {
		return f, nil
	}

	raw, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	f := newFile(abs, string(raw))
	m.files[abs] = f
	return f, nil
}

// Add registers in-memory content under path without touching disk.
// An already registered path is returned unchanged.
func (m *Map) Add(path, content string) *File {
	m.mu.Lock()
	defer m.mu.Unlock()

	if f, ok := m.files[path]; ok {
		return f
	}
	f := newFile(path, content)
	m.files[path] = f
	return f
}

// Get returns the registered file for path, or nil.
func (m *Map) Get(path string) *File {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.files[path]
}

// Snippet renders the first line of span with a caret marker underneath,
// for inclusion in error output.
func (m *Map) Snippet(span Span) string {
	f := m.Get(span.File)
	if f == nil {
		return ""
	}
	line := f.Line(span.StartLine)
	if line == "" {
		return ""
	}
	caret := strings.Repeat(" ", max(span.StartCol-1, 0)) + "^"
	return line + "\n" + caret
}

func newFile(path, content string) *File {
	return &File{
		Path:    path,
		Content: content,
		lines:   strings.Split(content, "\n"),
	}
}
