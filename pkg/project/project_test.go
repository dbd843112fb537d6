package project

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeToml(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	settings, err := Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if settings.Exists {
		t.Errorf("Exists should be false without a file")
	}
	if settings.SSHTimeout != 3 {
		t.Errorf("default ssh_timeout: %d", settings.SSHTimeout)
	}
}

func TestLoadFullFile(t *testing.T) {
	dir := writeToml(t, `
[eiko]
version = ">=0.1.0"

[eiko.project]
entry_point = "model.eiko"
dry_run = true
ssh_timeout = 10
requires = ["GH://eikobot/std-extras", "monitoring@1.2.0"]
`)
	settings, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !settings.Exists || !settings.DryRun {
		t.Errorf("settings: %+v", settings)
	}
	if settings.SSHTimeout != 10 {
		t.Errorf("ssh_timeout: %d", settings.SSHTimeout)
	}
	if len(settings.Requires) != 2 {
		t.Errorf("requires: %v", settings.Requires)
	}
	if settings.EntryPoint != "model.eiko" {
		t.Errorf("entry_point: %q", settings.EntryPoint)
	}
}

func TestLoadVersionMismatchFails(t *testing.T) {
	dir := writeToml(t, `
[eiko]
version = ">=99.0.0"

[eiko.project]
dry_run = false
`)
	_, err := Load(dir)
	if err == nil || !strings.Contains(err.Error(), "requires eikobot") {
		t.Fatalf("expected a version mismatch error, got %v", err)
	}
}

func TestLoadBareVersionMeansMinimum(t *testing.T) {
	dir := writeToml(t, `
[eiko]
version = "0.1.0"
`)
	if _, err := Load(dir); err != nil {
		t.Fatalf("a bare version is a minimum constraint: %v", err)
	}
}

func TestLoadInvalidTomlFails(t *testing.T) {
	dir := writeToml(t, "not [valid toml")
	if _, err := Load(dir); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestLoadInvalidEntryPointFails(t *testing.T) {
	dir := writeToml(t, `
[eiko.project]
entry_point = "model.yaml"
`)
	if _, err := Load(dir); err == nil {
		t.Fatal("expected a validation error for a non-.eiko entry point")
	}
}

func TestInitScaffoldsProject(t *testing.T) {
	dir := t.TempDir()
	if err := Init(dir); err != nil {
		t.Fatal(err)
	}
	settings, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !settings.Exists {
		t.Errorf("eiko.toml should exist after init")
	}
	if _, err := os.Stat(filepath.Join(dir, "main.eiko")); err != nil {
		t.Errorf("main.eiko should exist after init")
	}

	if err := Init(dir); err == nil {
		t.Errorf("a second init must fail")
	}
}
