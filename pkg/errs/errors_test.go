package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/eikobot/eikobot/pkg/source"
)

func TestErrorRendering(t *testing.T) {
	err := Newf(KindType, "a value of type %s cannot be coerced to %s", "str", "int").
		WithCode(CodeNotCoercible).
		WithSpan(source.NewSpan("model.eiko", 4, 9))

	text := err.Error()
	for _, want := range []string{"TypeError", "NOT_COERCIBLE", "model.eiko:4:9"} {
		if !strings.Contains(text, want) {
			t.Errorf("error text %q should contain %q", text, want)
		}
	}
}

func TestKindAndCodePredicates(t *testing.T) {
	err := New(KindImport, "module not found").WithCode(CodeNotFound)
	wrapped := fmt.Errorf("while compiling: %w", err)

	if !IsKind(wrapped, KindImport) {
		t.Errorf("IsKind should see through wrapping")
	}
	if !HasCode(wrapped, CodeNotFound) {
		t.Errorf("HasCode should see through wrapping")
	}
	if IsKind(wrapped, KindDeploy) {
		t.Errorf("kind mismatch must not match")
	}
}

func TestErrorsIsMatching(t *testing.T) {
	err := New(KindDeploy, "boom").WithCode(CodePromiseUnresolved)
	target := &Error{Kind: KindDeploy, Code: CodePromiseUnresolved}
	if !errors.Is(err, target) {
		t.Errorf("errors.Is should match by kind and code")
	}
	if errors.Is(err, &Error{Kind: KindDeploy, Code: CodeTimeout}) {
		t.Errorf("different codes must not match")
	}
	if !errors.Is(err, &Error{Kind: KindDeploy}) {
		t.Errorf("a target without a code matches any code of the kind")
	}
}

func TestCompileVsDeploy(t *testing.T) {
	if !IsCompile(New(KindSyntax, "x")) {
		t.Errorf("syntax errors are compile errors")
	}
	if IsCompile(New(KindDeploy, "x")) {
		t.Errorf("deploy errors are not compile errors")
	}
	if !IsDeploy(New(KindDeploy, "x")) {
		t.Errorf("IsDeploy should match")
	}
}

func TestUnwrap(t *testing.T) {
	inner := errors.New("inner")
	err := Wrap(KindPlugin, "plugin failed", inner)
	if !errors.Is(err, inner) {
		t.Errorf("wrapped errors unwrap to their cause")
	}
}
