package handlers

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNormalizedTaskID(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"File-web1-/etc/motd", "File-web1--etc-motd"},
		{"Cmd-host:22-ls -la", "Cmd-host.22-ls-la"},
		{"Win-C:\\temp", "Win-C.-temp"},
	}
	for _, tt := range tests {
		c := NewContext(tt.id, nil, nil, nil)
		if got := c.NormalizedTaskID(); got != tt.want {
			t.Errorf("NormalizedTaskID(%q) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestScratchDirCreatedLazily(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(cwd)

	c := NewContext("Wheel-Toyota", nil, nil, nil)
	if _, err := os.Stat(filepath.Join(dir, CacheDir)); err == nil {
		t.Fatalf("scratch dir must not exist before first use")
	}

	scratch, err := c.ScratchDir()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(scratch, filepath.Join(CacheDir, "Wheel-Toyota")) {
		t.Errorf("scratch path: %q", scratch)
	}
	if info, err := os.Stat(scratch); err != nil || !info.IsDir() {
		t.Errorf("scratch dir should exist after first use: %v", err)
	}

	// Stable across calls.
	again, err := c.ScratchDir()
	if err != nil || again != scratch {
		t.Errorf("scratch dir should be stable: %q vs %q", scratch, again)
	}
}

func TestChangesAndPromises(t *testing.T) {
	resolved := make(map[string]any)
	c := NewContext("t", nil, nil, func(property string, value any) error {
		resolved[property] = value
		return nil
	})

	c.AddChange("content", "new")
	if c.Changes["content"] != "new" {
		t.Errorf("changes: %v", c.Changes)
	}

	if err := c.SetPromise("ip", "10.0.0.7"); err != nil {
		t.Fatal(err)
	}
	if resolved["ip"] != "10.0.0.7" {
		t.Errorf("resolved: %v", resolved)
	}

	bare := NewContext("t", nil, nil, nil)
	if err := bare.SetPromise("ip", "x"); err == nil {
		t.Errorf("a resource without promises must reject SetPromise")
	}
}

func TestCRUDBaseNotImplemented(t *testing.T) {
	var base CRUDBase
	for name, fn := range map[string]func() error{
		"create": func() error { return base.Create(nil, nil) },
		"read":   func() error { return base.Read(nil, nil) },
		"update": func() error { return base.Update(nil, nil) },
		"delete": func() error { return base.Delete(nil, nil) },
	} {
		if err := fn(); err != ErrNotImplemented {
			t.Errorf("%s: got %v", name, err)
		}
	}
}
