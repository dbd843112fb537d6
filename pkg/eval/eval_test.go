package eval

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/eikobot/eikobot/pkg/errs"
	"github.com/eikobot/eikobot/pkg/plugin"
	"github.com/eikobot/eikobot/pkg/source"
	"github.com/eikobot/eikobot/pkg/types"
)

// compileFiles writes the given files into a temp dir and compiles
// main.eiko with a fresh plugin registry.
func compileFiles(t *testing.T, registry *plugin.Registry, files map[string]string) (*Result, error) {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if registry == nil {
		registry = plugin.NewRegistry()
	}
	return Compile(source.NewMap(), filepath.Join(dir, "main.eiko"), registry, nil)
}

func compileSrc(t *testing.T, src string) (*Result, error) {
	t.Helper()
	return compileFiles(t, nil, map[string]string{"main.eiko": src})
}

func mustCompile(t *testing.T, src string) *Result {
	t.Helper()
	result, err := compileSrc(t, src)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	return result
}

func lookup(t *testing.T, result *Result, name string) Value {
	t.Helper()
	v, ok := result.Module.Env.LookupLocal(name)
	if !ok {
		t.Fatalf("name %q not bound", name)
	}
	return v
}

func TestReassignmentFails(t *testing.T) {
	_, err := compileSrc(t, "a = 1\na = 2\n")
	if !errs.IsKind(err, errs.KindReassign) {
		t.Fatalf("expected ReassignError, got %v", err)
	}
	var e *errs.Error
	if !asErr(err, &e) {
		t.Fatal("expected *errs.Error")
	}
	if e.Span().StartLine != 2 || e.Span().StartCol != 1 {
		t.Errorf("error should point at line 2 column 1, got %s", e.Span())
	}
}

func asErr(err error, target **errs.Error) bool {
	e, ok := err.(*errs.Error)
	if ok {
		*target = e
	}
	return ok
}

func TestForwardDeclaration(t *testing.T) {
	result := mustCompile(t, "a: float\na = 5\n")
	if v := lookup(t, result, "a"); v.Type().Kind != types.KindFloat {
		t.Errorf("declared type should coerce the value, got %s", v.Type())
	}

	_, err := compileSrc(t, "a: int\na = 1\na = 2\n")
	if !errs.IsKind(err, errs.KindReassign) {
		t.Errorf("second write must fail, got %v", err)
	}
}

func TestArithmetic(t *testing.T) {
	result := mustCompile(t, `
exact = 4 / 2
inexact = 5 / 2
floored = 5 // 2
repeated = "ab" * 2
joined = "a" + "b"
power = 2 ** 10
`)
	if v := lookup(t, result, "exact").(*IntVal); v.V != 2 {
		t.Errorf("4 / 2 = %d", v.V)
	}
	if v := lookup(t, result, "inexact").(*FloatVal); v.V != 2.5 {
		t.Errorf("5 / 2 = %v", v.V)
	}
	if v := lookup(t, result, "floored").(*IntVal); v.V != 2 {
		t.Errorf("5 // 2 = %d", v.V)
	}
	if v := lookup(t, result, "repeated").(*StrVal); v.V != "abab" {
		t.Errorf("string repeat = %q", v.V)
	}
	if v := lookup(t, result, "joined").(*StrVal); v.V != "ab" {
		t.Errorf("string concat = %q", v.V)
	}
	if v := lookup(t, result, "power").(*IntVal); v.V != 1024 {
		t.Errorf("2 ** 10 = %d", v.V)
	}
}

func TestNoneComparesOnlyToItself(t *testing.T) {
	result := mustCompile(t, `
a = None == None
b = None == 0
c = None == False
`)
	if v := lookup(t, result, "a").(*BoolVal); !v.V {
		t.Errorf("None == None should be True")
	}
	for _, name := range []string{"b", "c"} {
		if v := lookup(t, result, name).(*BoolVal); v.V {
			t.Errorf("%s: None should not equal a non-None value", name)
		}
	}
}

func TestFString(t *testing.T) {
	result := mustCompile(t, "port = 8080\nmsg = f\"port is {port}!\"\n")
	if v := lookup(t, result, "msg").(*StrVal); v.V != "port is 8080!" {
		t.Errorf("got %q", v.V)
	}
}

func TestIfElifElse(t *testing.T) {
	result := mustCompile(t, `
x = 7
r: str
if x < 5:
    r = "low"
elif x < 10:
    r = "mid"
else:
    r = "high"
`)
	if v := lookup(t, result, "r").(*StrVal); v.V != "mid" {
		t.Errorf("got %q", v.V)
	}
}

func TestForLoopAndMembership(t *testing.T) {
	result := mustCompile(t, `
names = ["a", "b", "c"]
found = "b" in names
missing = "z" in names
`)
	if v := lookup(t, result, "found").(*BoolVal); !v.V {
		t.Errorf("'b' should be in names")
	}
	if v := lookup(t, result, "missing").(*BoolVal); v.V {
		t.Errorf("'z' should not be in names")
	}
}

func TestDictInsertionOrder(t *testing.T) {
	result := mustCompile(t, `
d = {"one": 1, "two": 2, "three": 3}
v = d["two"]
`)
	dict := lookup(t, result, "d").(*DictVal)
	var order []string
	for _, key := range dict.Keys() {
		order = append(order, key.(*StrVal).V)
	}
	want := []string{"one", "two", "three"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("key order: got %v, want %v", order, want)
		}
	}
	if v := lookup(t, result, "v").(*IntVal); v.V != 2 {
		t.Errorf("d[\"two\"] = %d", v.V)
	}
}

func TestDictInvalidKeyTypeFails(t *testing.T) {
	_, err := compileSrc(t, "d = {1.5: \"a\"}\n")
	if !errs.IsKind(err, errs.KindType) {
		t.Fatalf("float dict keys must fail, got %v", err)
	}
}

func TestTypedefRefinement(t *testing.T) {
	src := `
typedef Port int if 1 <= self and self <= 65535

resource S:
    port: Port

S(8080)
`
	result, err := compileSrc(t, src)
	if err != nil {
		t.Fatalf("S(8080) should compile: %v", err)
	}
	if _, ok := result.Table.Get("__main__.S", "S-8080"); !ok {
		t.Errorf("expected S-8080 in the resource table")
	}

	bad := `
typedef Port int if 1 <= self and self <= 65535

resource S:
    port: Port

S(-1)
`
	_, err = compileSrc(t, bad)
	if !errs.IsKind(err, errs.KindRefinement) {
		t.Fatalf("S(-1) should fail with RefinementError, got %v", err)
	}
}

func TestDefaultIndex(t *testing.T) {
	src := `
resource Wheel:
    brand: str
    age: int

w = Wheel("Toyota", 7)
`
	result := mustCompile(t, src)
	resource := lookup(t, result, "w").(*ResourceVal)
	if resource.Index() != "Wheel-Toyota" {
		t.Errorf("index: got %q, want %q", resource.Index(), "Wheel-Toyota")
	}
}

func TestUnindexableFirstPropertyFails(t *testing.T) {
	src := `
resource Bad:
    flag: bool

Bad(True)
`
	_, err := compileSrc(t, src)
	if !errs.IsKind(err, errs.KindIndex) || !errs.HasCode(err, errs.CodeUnindexable) {
		t.Fatalf("expected IndexError(Unindexable), got %v", err)
	}
}

func TestDuplicateIndexFails(t *testing.T) {
	src := `
resource Wheel:
    brand: str

Wheel("X")
Wheel("X")
`
	_, err := compileSrc(t, src)
	if !errs.IsKind(err, errs.KindIndex) || !errs.HasCode(err, errs.CodeDuplicate) {
		t.Fatalf("expected IndexError(Duplicate), got %v", err)
	}
}

func TestIndexDecoratorPaths(t *testing.T) {
	src := `
resource Host:
    hostname: str

@index(["host.hostname", "path"])
resource File:
    host: Host
    path: str

h = Host("web1")
f = File(h, "/etc/motd")
`
	result := mustCompile(t, src)
	resource := lookup(t, result, "f").(*ResourceVal)
	if resource.Index() != "File-web1-/etc/motd" {
		t.Errorf("index: got %q", resource.Index())
	}
}

func TestConstructorDispatchAmbiguity(t *testing.T) {
	base := `
resource Host:
    hostname: str

resource Debian(Host):
    ...

resource Windows(Host):
    ...

`
	ambiguous := base + `
resource WebServer:
    hostname: str

    implement a(self, h: Host):
        self.hostname = h.hostname

    implement b(self, h: Host):
        self.hostname = h.hostname

WebServer(Debian("web1"))
`
	_, err := compileSrc(t, ambiguous)
	if !errs.IsKind(err, errs.KindType) || !errs.HasCode(err, errs.CodeAmbiguous) {
		t.Fatalf("expected TypeError(Ambiguous), got %v", err)
	}

	constrained := base + `
resource WebServer:
    hostname: str

    @constraint(isinstance(h, Debian))
    implement a(self, h: Host):
        self.hostname = h.hostname + "-deb"

    @constraint(isinstance(h, Windows))
    implement b(self, h: Host):
        self.hostname = h.hostname + "-win"

w = WebServer(Debian("web1"))
`
	result, err := compileSrc(t, constrained)
	if err != nil {
		t.Fatalf("constrained dispatch should compile: %v", err)
	}
	resource := lookup(t, result, "w").(*ResourceVal)
	hostname, _ := resource.Get("hostname")
	if hostname.(*StrVal).V != "web1-deb" {
		t.Errorf("the Debian overload should have run, got %q", hostname.(*StrVal).V)
	}
}

func TestConstructorMissingPropertyFails(t *testing.T) {
	src := `
resource S:
    name: str
    port: int

    implement build(self, name: str):
        self.name = name

S("x")
`
	_, err := compileSrc(t, src)
	if !errs.IsKind(err, errs.KindConstructor) {
		t.Fatalf("expected ConstructorError for unassigned property, got %v", err)
	}
}

func TestConstructorDefaults(t *testing.T) {
	src := `
resource S:
    name: str
    port: int = 8080

s = S("web")
`
	result := mustCompile(t, src)
	resource := lookup(t, result, "s").(*ResourceVal)
	port, _ := resource.Get("port")
	if port.(*IntVal).V != 8080 {
		t.Errorf("default port: got %d", port.(*IntVal).V)
	}
}

func TestInheritanceTightensTypes(t *testing.T) {
	src := `
typedef Port int if 1 <= self and self <= 65535

resource Base:
    name: str
    port: int

resource Derived(Base):
    port: Port

d = Derived("x", 443)
`
	result := mustCompile(t, src)
	resource := lookup(t, result, "d").(*ResourceVal)
	port, _ := resource.Get("port")
	if port.Type().Kind != types.KindTypedef {
		t.Errorf("port should carry the typedef type, got %s", port.Type())
	}

	widened := `
resource Base:
    port: int

resource Derived(Base):
    port: str
`
	_, err := compileSrc(t, widened)
	if !errs.IsKind(err, errs.KindType) {
		t.Errorf("widening a property must fail, got %v", err)
	}
}

func TestPropertyWriteOutsideConstructorFails(t *testing.T) {
	src := `
resource Wheel:
    brand: str

w = Wheel("X")
w.brand = "Y"
`
	_, err := compileSrc(t, src)
	if !errs.IsKind(err, errs.KindReassign) {
		t.Fatalf("expected ReassignError, got %v", err)
	}
}

func TestListFreezesWithResource(t *testing.T) {
	src := `
l = ["a"]
l.append("b")

resource R:
    name: str
    items: list[str]

R("x", l)
l.append("c")
`
	_, err := compileSrc(t, src)
	if !errs.IsKind(err, errs.KindReassign) {
		t.Fatalf("append after construction must fail, got %v", err)
	}
}

func TestEnum(t *testing.T) {
	src := `
enum Color:
    red
    green

c = Color.red
same = c == Color.red
other = c == Color.green
`
	result := mustCompile(t, src)
	if v := lookup(t, result, "same").(*BoolVal); !v.V {
		t.Errorf("enum members should compare equal to themselves")
	}
	if v := lookup(t, result, "other").(*BoolVal); v.V {
		t.Errorf("different enum members should not be equal")
	}
}

func TestIsInstanceTypedef(t *testing.T) {
	src := `
typedef Port int if 1 <= self and self <= 65535

p = Port(8080)
a = isinstance(p, int)
b = isinstance(p, Port)
c = isinstance(8080, Port)
d = isinstance(99999, Port)
`
	result := mustCompile(t, src)
	for _, name := range []string{"a", "b", "c"} {
		if v := lookup(t, result, name).(*BoolVal); !v.V {
			t.Errorf("%s should be True", name)
		}
	}
	if v := lookup(t, result, "d").(*BoolVal); v.V {
		t.Errorf("a value outside the refinement is not a Port")
	}
}

func TestProtectedStrRedaction(t *testing.T) {
	src := `
resource Secret:
    name: str
    token: ProtectedStr

s = Secret("api", "hunter2")
shown = f"token: {s.token}"
`
	result := mustCompile(t, src)
	if v := lookup(t, result, "shown").(*StrVal); v.V != "token: ********" {
		t.Errorf("protected strings must render redacted, got %q", v.V)
	}
	resource := lookup(t, result, "s").(*ResourceVal)
	raw := ToGo(resource).(map[string]any)
	if raw["token"] != "hunter2" {
		t.Errorf("the deployable value keeps its content, got %v", raw["token"])
	}
}

func TestPromiseReadDuringEvaluation(t *testing.T) {
	src := `
resource VM:
    name: str
    promise ip: str

resource App:
    tag: str
    ip: str

vm = VM("vm1")
app = App("a", vm.ip)
`
	result := mustCompile(t, src)
	app := lookup(t, result, "app").(*ResourceVal)
	ip, _ := app.Get("ip")
	promise, ok := ip.(*PromiseVal)
	if !ok {
		t.Fatalf("reading an unresolved promise should yield the promise, got %T", ip)
	}
	if promise.Owner().Index() != "VM-vm1" || promise.Property() != "ip" {
		t.Errorf("promise identity: %s.%s", promise.Owner().Index(), promise.Property())
	}
	if len(app.ExternalPromises()) != 1 {
		t.Errorf("App should hold one external promise")
	}
}

func TestPromiseAssignInConstructorFails(t *testing.T) {
	src := `
resource VM:
    name: str
    promise ip: str

    implement build(self, name: str):
        self.name = name
        self.ip = "10.0.0.1"

VM("vm1")
`
	_, err := compileSrc(t, src)
	if !errs.IsKind(err, errs.KindConstructor) {
		t.Fatalf("assigning a promise during compile must fail, got %v", err)
	}
}

func TestImportEvaluatesOnce(t *testing.T) {
	registry := plugin.NewRegistry()
	count := 0
	registry.RegisterPlugin(&plugin.Plugin{
		Name:   "tick",
		Module: "util",
		Fn: func(args []any) (any, error) {
			count++
			return nil, nil
		},
	})

	files := map[string]string{
		"util.eiko": "tick()\nvalue = 42\n",
		"a.eiko":    "import util\nx = util.value\n",
		"b.eiko":    "import util\ny = util.value\n",
		"main.eiko": "import a\nimport b\nimport util\nz = util.value\n",
	}
	result, err := compileFiles(t, registry, files)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if count != 1 {
		t.Errorf("module evaluated %d times, want 1", count)
	}
	if v := lookup(t, result, "z").(*IntVal); v.V != 42 {
		t.Errorf("z = %d", v.V)
	}
}

func TestCyclicImportFails(t *testing.T) {
	files := map[string]string{
		"a.eiko":    "import b\n",
		"b.eiko":    "import a\n",
		"main.eiko": "import a\n",
	}
	_, err := compileFiles(t, nil, files)
	if !errs.IsKind(err, errs.KindImport) || !errs.HasCode(err, errs.CodeCyclic) {
		t.Fatalf("expected ImportError(Cyclic), got %v", err)
	}
}

func TestMissingImportFails(t *testing.T) {
	_, err := compileSrc(t, "import nonexistent\n")
	if !errs.IsKind(err, errs.KindImport) || !errs.HasCode(err, errs.CodeNotFound) {
		t.Fatalf("expected ImportError(NotFound), got %v", err)
	}
}

func TestPackageRelativeImport(t *testing.T) {
	files := map[string]string{
		"mypkg/__init__.eiko": "",
		"mypkg/sub.eiko":      "value = 7\n",
		"mypkg/other.eiko":    "from .sub import value\ndoubled = value * 2\n",
		"main.eiko":           "import mypkg.other\nresult = mypkg.other.doubled\n",
	}
	result, err := compileFiles(t, nil, files)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if v := lookup(t, result, "result").(*IntVal); v.V != 14 {
		t.Errorf("result = %d", v.V)
	}
}

func TestPluginUserError(t *testing.T) {
	registry := plugin.NewRegistry()
	registry.RegisterPlugin(&plugin.Plugin{
		Name:   "boom",
		Module: "__main__",
		Fn: func(args []any) (any, error) {
			return nil, plugin.NewUserError("user facing message")
		},
	})
	_, err := compileFiles(t, registry, map[string]string{"main.eiko": "boom()\n"})
	if !errs.IsKind(err, errs.KindPlugin) || !errs.HasCode(err, errs.CodeUser) {
		t.Fatalf("expected PluginError(User), got %v", err)
	}
	var e *errs.Error
	if asErr(err, &e) && e.Message != "user facing message" {
		t.Errorf("message: %q", e.Message)
	}
}

func TestPluginPanicIsInternal(t *testing.T) {
	registry := plugin.NewRegistry()
	registry.RegisterPlugin(&plugin.Plugin{
		Name:   "crash",
		Module: "__main__",
		Fn: func(args []any) (any, error) {
			panic("boom")
		},
	})
	_, err := compileFiles(t, registry, map[string]string{"main.eiko": "crash()\n"})
	if !errs.IsKind(err, errs.KindPlugin) || !errs.HasCode(err, errs.CodeInternal) {
		t.Fatalf("expected PluginError(Internal), got %v", err)
	}
	var e *errs.Error
	if asErr(err, &e) && e.Trace == "" {
		t.Errorf("internal plugin errors carry the host stack trace")
	}
}

func TestPluginTypedCall(t *testing.T) {
	registry := plugin.NewRegistry()
	registry.RegisterPlugin(&plugin.Plugin{
		Name:   "shout",
		Module: "__main__",
		Params: []plugin.Param{{Name: "value", Type: types.Str}},
		Return: types.Str,
		Fn: func(args []any) (any, error) {
			return args[0].(string) + "!", nil
		},
	})
	result, err := compileFiles(t, registry, map[string]string{"main.eiko": "a = shout(\"hi\")\n"})
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if v := lookup(t, result, "a").(*StrVal); v.V != "hi!" {
		t.Errorf("got %q", v.V)
	}
}

func TestSharedChildSingleRegistration(t *testing.T) {
	src := `
resource Host:
    hostname: str

@index(["host.hostname", "cmd"])
resource Cmd:
    host: Host
    cmd: str

h = Host("web1")
Cmd(h, "ls")
Cmd(h, "pwd")
`
	result := mustCompile(t, src)
	if result.Table.Len() != 3 {
		t.Errorf("expected 3 resources (1 host, 2 cmds), got %d", result.Table.Len())
	}
}
