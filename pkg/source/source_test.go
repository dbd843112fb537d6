package source

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadReadsOncePerPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.eiko")
	if err := os.WriteFile(path, []byte("a = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := NewMap()
	first, err := m.Load(path)
	if err != nil {
		t.Fatal(err)
	}

	// Changing the file on disk must not affect further loads.
	if err := os.WriteFile(path, []byte("changed"), 0o644); err != nil {
		t.Fatal(err)
	}
	second, err := m.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("the same path should return the same file")
	}
	if second.Content != "a = 1\n" {
		t.Errorf("content re-read from disk: %q", second.Content)
	}
}

func TestSnippet(t *testing.T) {
	m := NewMap()
	m.Add("test.eiko", "a = 1\nbb = 2\n")

	snippet := m.Snippet(Span{File: "test.eiko", StartLine: 2, StartCol: 1})
	want := "bb = 2\n^"
	if snippet != want {
		t.Errorf("got %q, want %q", snippet, want)
	}
}

func TestSpanString(t *testing.T) {
	span := NewSpan("a.eiko", 3, 7)
	if span.String() != "a.eiko:3:7" {
		t.Errorf("got %q", span.String())
	}
}

func TestSpanTo(t *testing.T) {
	a := Span{File: "f", StartLine: 1, StartCol: 1, EndLine: 1, EndCol: 2}
	b := Span{File: "f", StartLine: 2, StartCol: 5, EndLine: 2, EndCol: 9}
	merged := a.To(b)
	if merged.StartLine != 1 || merged.EndLine != 2 || merged.EndCol != 9 {
		t.Errorf("merged: %+v", merged)
	}
}
