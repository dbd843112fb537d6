package stdlib

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/eikobot/eikobot/pkg/errs"
	"github.com/eikobot/eikobot/pkg/eval"
	"github.com/eikobot/eikobot/pkg/plugin"
	"github.com/eikobot/eikobot/pkg/source"
)

func compileWithStd(t *testing.T, src string) (*eval.Result, error) {
	t.Helper()
	stdRoot, err := Materialize()
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "main.eiko")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	return eval.Compile(source.NewMap(), path, plugin.Default, []string{stdRoot})
}

func TestMaterializeWritesModuleTree(t *testing.T) {
	root, err := Materialize()
	if err != nil {
		t.Fatal(err)
	}
	for _, rel := range []string{
		filepath.Join("std", "__init__.eiko"),
		filepath.Join("std", "ssh.eiko"),
		filepath.Join("std", "file.eiko"),
	} {
		if _, err := os.Stat(filepath.Join(root, rel)); err != nil {
			t.Errorf("%s missing: %v", rel, err)
		}
	}
}

func TestIPv4Typedef(t *testing.T) {
	result, err := compileWithStd(t, `
import std

ip: std.IPv4
ip = "10.0.0.7"
`)
	if err != nil {
		t.Fatalf("a valid IPv4 should coerce: %v", err)
	}
	_ = result

	_, err = compileWithStd(t, `
import std

ip: std.IPv4
ip = "not-an-ip"
`)
	if !errs.IsKind(err, errs.KindRefinement) {
		t.Fatalf("expected RefinementError, got %v", err)
	}
}

func TestSSHHostAndCmdCompile(t *testing.T) {
	result, err := compileWithStd(t, `
import std.ssh

web = std.ssh.Host("web1.example.com", "admin")
std.ssh.Cmd(web, "systemctl restart nginx")
`)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}

	cmd, ok := result.Table.Get("std.ssh.Cmd", "Cmd-web1.example.com-systemctl restart nginx")
	if !ok {
		var ids []string
		for _, r := range result.Table.All() {
			ids = append(ids, r.Definition().QualifiedName()+"/"+r.Index())
		}
		t.Fatalf("cmd resource not found, have %v", ids)
	}
	if cmd.Definition().Handler == nil {
		t.Errorf("Cmd should have a linked handler")
	}
	if cmd.Definition().Model == "" {
		t.Errorf("Cmd should have a linked model")
	}
}

func TestHostPortRefinement(t *testing.T) {
	_, err := compileWithStd(t, `
import std.ssh

std.ssh.Host("web1", "admin", 99999)
`)
	if !errs.IsKind(err, errs.KindRefinement) {
		t.Fatalf("expected RefinementError for the port, got %v", err)
	}
}

func TestRenderTemplatePlugin(t *testing.T) {
	out, err := renderTemplate([]any{
		"Hello {{.name}}!",
		map[string]any{"name": "world"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if out != "Hello world!" {
		t.Errorf("got %q", out)
	}

	_, err = renderTemplate([]any{"{{.missing}}", map[string]any{}})
	if err == nil {
		t.Errorf("missing keys must fail")
	}
}

func TestCmdModelConversion(t *testing.T) {
	result, err := compileWithStd(t, `
import std.ssh

web = std.ssh.Host("web1.example.com", "admin")
std.ssh.Cmd(web, "uptime")
`)
	if err != nil {
		t.Fatal(err)
	}
	cmd, ok := result.Table.Get("std.ssh.Cmd", "Cmd-web1.example.com-uptime")
	if !ok {
		t.Fatal("cmd resource not found")
	}

	model, err := result.Evaluator.LinkedModel(cmd)
	if err != nil {
		t.Fatal(err)
	}
	cmdModel, ok := model.(*CmdModel)
	if !ok {
		t.Fatalf("expected *CmdModel, got %T", model)
	}
	if cmdModel.Cmd != "uptime" {
		t.Errorf("cmd: %q", cmdModel.Cmd)
	}
	if cmdModel.Host == nil || cmdModel.Host.Hostname != "web1.example.com" {
		t.Errorf("host: %+v", cmdModel.Host)
	}
	if cmdModel.Host.Port != 22 {
		t.Errorf("default port: %d", cmdModel.Host.Port)
	}

	// Identity is preserved across conversions.
	again, err := result.Evaluator.LinkedModel(cmd)
	if err != nil {
		t.Fatal(err)
	}
	if again.(*CmdModel) != cmdModel {
		t.Errorf("model conversion should cache the instance")
	}
}
