package exporter

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/eikobot/eikobot/pkg/errs"
	"github.com/eikobot/eikobot/pkg/eval"
	"github.com/eikobot/eikobot/pkg/handlers"
	"github.com/eikobot/eikobot/pkg/plugin"
	"github.com/eikobot/eikobot/pkg/source"
)

type noopHandler struct {
	tag string
}

func (h *noopHandler) EikoResource() string { return h.tag }

func (h *noopHandler) Execute(ctx context.Context, c *handlers.Context) error {
	c.Deployed = true
	return nil
}

func registryWithHandlers(tags ...string) *plugin.Registry {
	registry := plugin.NewRegistry()
	for _, tag := range tags {
		registry.RegisterHandler(func() handlers.Handler { return &noopHandler{tag: tag} })
	}
	return registry
}

func compile(t *testing.T, registry *plugin.Registry, src string) *eval.Result {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "main.eiko")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	result, err := eval.Compile(source.NewMap(), path, registry, nil)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	return result
}

const layeredModel = `
resource BotRes:
    name: str

resource MidRes:
    name: str
    bot: BotRes

resource TopRes:
    name: str
    mid: MidRes

resource Collector:
    name: str
    tops: list[TopRes]

bot = BotRes("bot")
m1 = MidRes("m1", bot)
m2 = MidRes("m2", bot)
t1 = TopRes("t1", m1)
t2 = TopRes("t2", m2)
Collector("all", [t1, t2])
`

func hasEdge(graph *TaskGraph, from, to string) bool {
	for _, edge := range graph.Edges {
		if edge.From == from && edge.To == to {
			return true
		}
	}
	return false
}

func TestExportLayeredGraph(t *testing.T) {
	registry := registryWithHandlers("BotRes", "MidRes", "TopRes", "Collector")
	result := compile(t, registry, layeredModel)

	graph, err := New().Export(result)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	if graph.Total != 6 {
		t.Fatalf("expected 6 tasks, got %d", graph.Total)
	}

	wantEdges := [][2]string{
		{"BotRes-bot", "MidRes-m1"},
		{"BotRes-bot", "MidRes-m2"},
		{"MidRes-m1", "TopRes-t1"},
		{"MidRes-m2", "TopRes-t2"},
		{"TopRes-t1", "Collector-all"},
		{"TopRes-t2", "Collector-all"},
	}
	for _, edge := range wantEdges {
		if !hasEdge(graph, edge[0], edge[1]) {
			t.Errorf("missing edge %s -> %s", edge[0], edge[1])
		}
	}
	if len(graph.Edges) != len(wantEdges) {
		t.Errorf("expected %d edges, got %d", len(wantEdges), len(graph.Edges))
	}

	if len(graph.Roots) != 1 || graph.Roots[0] != "BotRes-bot" {
		t.Errorf("roots: %v", graph.Roots)
	}
	if len(graph.Levels) != 4 {
		t.Errorf("expected 4 levels, got %d", len(graph.Levels))
	}
}

func TestExportDeduplicatesSharedChildren(t *testing.T) {
	registry := registryWithHandlers("Host", "Cmd")
	result := compile(t, registry, `
resource Host:
    hostname: str

@index(["host.hostname", "cmd"])
resource Cmd:
    host: Host
    cmd: str

h = Host("web1")
Cmd(h, "ls")
Cmd(h, "pwd")
`)

	graph, err := New().Export(result)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if graph.Total != 3 {
		t.Fatalf("expected 3 tasks, got %d", graph.Total)
	}
	if !hasEdge(graph, "Host-web1", "Cmd-web1-ls") || !hasEdge(graph, "Host-web1", "Cmd-web1-pwd") {
		t.Errorf("edges: %v", graph.Edges)
	}
}

func TestExportHoistsHandlerlessResources(t *testing.T) {
	// Mid has no handler: Top must depend directly on Bot.
	registry := registryWithHandlers("BotRes", "TopRes")
	result := compile(t, registry, `
resource BotRes:
    name: str

resource MidRes:
    name: str
    bot: BotRes

resource TopRes:
    name: str
    mid: MidRes

bot = BotRes("bot")
mid = MidRes("mid", bot)
TopRes("top", mid)
`)

	graph, err := New().Export(result)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if graph.Total != 2 {
		t.Fatalf("expected 2 tasks, got %d", graph.Total)
	}
	if !hasEdge(graph, "BotRes-bot", "TopRes-top") {
		t.Errorf("dependency should hoist through the handler-less resource: %v", graph.Edges)
	}
}

func TestExportPromiseDependency(t *testing.T) {
	registry := registryWithHandlers("VM", "App")
	result := compile(t, registry, `
resource VM:
    name: str
    promise ip: str

resource App:
    tag: str
    ip: str

vm = VM("vm1")
App("a", vm.ip)
`)

	graph, err := New().Export(result)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if !hasEdge(graph, "VM-vm1", "App-a") {
		t.Errorf("a promise read must induce a dependency edge: %v", graph.Edges)
	}
}

func TestExportPromiseWithoutHandlerFails(t *testing.T) {
	registry := registryWithHandlers("App")
	result := compile(t, registry, `
resource VM:
    name: str
    promise ip: str

resource App:
    tag: str
    ip: str

vm = VM("vm1")
App("a", vm.ip)
`)

	_, err := New().Export(result)
	if !errs.IsKind(err, errs.KindExport) {
		t.Fatalf("expected ExportError, got %v", err)
	}
}

func TestComputeLevelsRejectsCycles(t *testing.T) {
	a := &Task{ID: "a", State: StatePending}
	b := &Task{ID: "b", State: StatePending}
	a.DependsOn = []*Task{b}
	a.Dependants = []*Task{b}
	b.DependsOn = []*Task{a}
	b.Dependants = []*Task{a}

	graph := &TaskGraph{Nodes: map[string]*Task{"a": a, "b": b}}
	err := graph.computeLevels()
	if !errs.IsKind(err, errs.KindExport) || !errs.HasCode(err, errs.CodeCycle) {
		t.Fatalf("expected ExportError(Cycle), got %v", err)
	}
}

func TestToDOT(t *testing.T) {
	registry := registryWithHandlers("BotRes", "MidRes", "TopRes", "Collector")
	result := compile(t, registry, layeredModel)
	graph, err := New().Export(result)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	dot := graph.ToDOT()
	if dot == "" || dot[:7] != "digraph" {
		t.Errorf("unexpected DOT output: %q", dot)
	}
}
