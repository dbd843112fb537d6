package deployer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/eikobot/eikobot/pkg/errs"
	"github.com/eikobot/eikobot/pkg/eval"
	"github.com/eikobot/eikobot/pkg/exporter"
	"github.com/eikobot/eikobot/pkg/handlers"
	"github.com/eikobot/eikobot/pkg/plugin"
	"github.com/eikobot/eikobot/pkg/source"
)

// recorder captures handler activity across tasks.
type recorder struct {
	mu       sync.Mutex
	calls    map[string][]string
	started  map[string]time.Time
	finished map[string]time.Time
	cleanups map[string]int
}

func newRecorder() *recorder {
	return &recorder{
		calls:    make(map[string][]string),
		started:  make(map[string]time.Time),
		finished: make(map[string]time.Time),
		cleanups: make(map[string]int),
	}
}

func (r *recorder) record(taskID, call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[taskID] = append(r.calls[taskID], call)
	if _, ok := r.started[taskID]; !ok {
		r.started[taskID] = time.Now()
	}
	r.finished[taskID] = time.Now()
}

func (r *recorder) callsFor(taskID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls[taskID]...)
}

// fakeCRUD is a configurable CRUD handler for tests.
type fakeCRUD struct {
	handlers.CRUDBase
	tag string
	rec *recorder

	// exists makes Read report the resource as already deployed.
	exists bool
	// changed makes Read record a change when the resource exists.
	changed bool
	// failCreate makes Create fail.
	failCreate bool
	// resolve maps promise properties to values resolved during Create.
	resolve map[string]any
}

func (h *fakeCRUD) EikoResource() string { return h.tag }

func (h *fakeCRUD) Read(ctx context.Context, c *handlers.Context) error {
	h.rec.record(c.TaskID, "read")
	if h.exists {
		c.Deployed = true
		if h.changed {
			c.AddChange("content", "desired")
		}
	}
	return nil
}

func (h *fakeCRUD) Create(ctx context.Context, c *handlers.Context) error {
	h.rec.record(c.TaskID, "create")
	if h.failCreate {
		c.Failed = true
		return nil
	}
	for property, value := range h.resolve {
		if err := c.SetPromise(property, value); err != nil {
			return err
		}
	}
	c.Deployed = true
	return nil
}

func (h *fakeCRUD) Update(ctx context.Context, c *handlers.Context) error {
	h.rec.record(c.TaskID, "update")
	c.Deployed = true
	c.Updated = true
	return nil
}

func (h *fakeCRUD) Cleanup(ctx context.Context, c *handlers.Context) error {
	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()
	h.rec.cleanups[c.TaskID]++
	return nil
}

func compileAndExport(t *testing.T, registry *plugin.Registry, src string) (*eval.Result, *exporter.TaskGraph) {
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
	graph, err := exporter.New().Export(result)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	return result, graph
}

const chainModel = `
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
`

func TestDeployHonoursDependencyOrder(t *testing.T) {
	rec := newRecorder()
	registry := plugin.NewRegistry()
	for _, tag := range []string{"BotRes", "MidRes", "TopRes"} {
		registry.RegisterCRUDHandler(func() handlers.CRUDHandler {
			return &fakeCRUD{tag: tag, rec: rec}
		})
	}

	result, graph := compileAndExport(t, registry, chainModel)
	report, err := New(result.Evaluator, nil, Options{MaxParallel: 4}).
		Deploy(context.Background(), graph)
	if err != nil {
		t.Fatalf("deploy failed: %v", err)
	}
	if report.Summary.Deployed != 3 || report.Failed() {
		t.Fatalf("summary: %+v", report.Summary)
	}

	// A task never starts before its predecessors completed.
	pairs := [][2]string{
		{"BotRes-bot", "MidRes-mid"},
		{"MidRes-mid", "TopRes-top"},
	}
	for _, pair := range pairs {
		if rec.started[pair[1]].Before(rec.finished[pair[0]]) {
			t.Errorf("%s started before %s finished", pair[1], pair[0])
		}
	}
}

func TestDeployPromiseResolution(t *testing.T) {
	rec := newRecorder()
	var observed any
	var observedMu sync.Mutex

	registry := plugin.NewRegistry()
	registry.RegisterCRUDHandler(func() handlers.CRUDHandler {
		return &fakeCRUD{tag: "VM", rec: rec, resolve: map[string]any{"ip": "10.0.0.7"}}
	})
	registry.RegisterHandler(func() handlers.Handler {
		return handlerFunc{tag: "App", fn: func(ctx context.Context, c *handlers.Context) error {
			observedMu.Lock()
			observed = c.Raw["ip"]
			observedMu.Unlock()
			c.Deployed = true
			return nil
		}}
	})

	result, graph := compileAndExport(t, registry, `
resource VM:
    name: str
    promise ip: str

resource App:
    tag: str
    ip: str

vm = VM("vm1")
App("a", vm.ip)
`)
	report, err := New(result.Evaluator, nil, Options{}).Deploy(context.Background(), graph)
	if err != nil {
		t.Fatalf("deploy failed: %v", err)
	}
	if report.Failed() {
		t.Fatalf("summary: %+v", report.Summary)
	}
	if observed != "10.0.0.7" {
		t.Errorf("downstream observed %v, want 10.0.0.7", observed)
	}
}

type handlerFunc struct {
	tag string
	fn  func(context.Context, *handlers.Context) error
}

func (h handlerFunc) EikoResource() string { return h.tag }

func (h handlerFunc) Execute(ctx context.Context, c *handlers.Context) error {
	return h.fn(ctx, c)
}

func TestDeployFailureCascadesToSkipped(t *testing.T) {
	rec := newRecorder()
	registry := plugin.NewRegistry()
	registry.RegisterCRUDHandler(func() handlers.CRUDHandler {
		return &fakeCRUD{tag: "BotRes", rec: rec, failCreate: true}
	})
	for _, tag := range []string{"MidRes", "TopRes"} {
		registry.RegisterCRUDHandler(func() handlers.CRUDHandler {
			return &fakeCRUD{tag: tag, rec: rec}
		})
	}

	result, graph := compileAndExport(t, registry, chainModel)
	report, err := New(result.Evaluator, nil, Options{}).Deploy(context.Background(), graph)
	if err != nil {
		t.Fatalf("deploy failed: %v", err)
	}

	if report.Results["BotRes-bot"].State != exporter.StateFailed {
		t.Errorf("bot state: %s", report.Results["BotRes-bot"].State)
	}
	for _, id := range []string{"MidRes-mid", "TopRes-top"} {
		if report.Results[id].State != exporter.StateSkipped {
			t.Errorf("%s state: %s", id, report.Results[id].State)
		}
		if len(rec.callsFor(id)) != 0 {
			t.Errorf("%s handler should never run", id)
		}
	}
	if !report.Failed() {
		t.Errorf("the run must report failure")
	}
}

func TestDeployFailedPromiseOwnerFailsConsumer(t *testing.T) {
	rec := newRecorder()
	registry := plugin.NewRegistry()
	// VM fails during create and never resolves its promise.
	registry.RegisterCRUDHandler(func() handlers.CRUDHandler {
		return &fakeCRUD{tag: "VM", rec: rec, failCreate: true}
	})
	registry.RegisterCRUDHandler(func() handlers.CRUDHandler {
		return &fakeCRUD{tag: "App", rec: rec}
	})

	result, graph := compileAndExport(t, registry, `
resource VM:
    name: str
    promise ip: str

resource App:
    tag: str
    ip: str

vm = VM("vm1")
App("a", vm.ip)
`)
	report, err := New(result.Evaluator, nil, Options{}).Deploy(context.Background(), graph)
	if err != nil {
		t.Fatalf("deploy failed: %v", err)
	}

	app := report.Results["App-a"]
	if app.State != exporter.StateSkipped {
		t.Fatalf("app state: %s", app.State)
	}
	if !errs.HasCode(app.Err, errs.CodePromiseUnresolved) {
		t.Errorf("expected DeployError(PromiseUnresolved), got %v", app.Err)
	}
}

func TestDeployUnfulfilledPromiseFailsOwner(t *testing.T) {
	rec := newRecorder()
	registry := plugin.NewRegistry()
	// The handler deploys but never resolves the promise.
	registry.RegisterCRUDHandler(func() handlers.CRUDHandler {
		return &fakeCRUD{tag: "VM", rec: rec}
	})

	result, graph := compileAndExport(t, registry, `
resource VM:
    name: str
    promise ip: str

VM("vm1")
`)
	report, err := New(result.Evaluator, nil, Options{}).Deploy(context.Background(), graph)
	if err != nil {
		t.Fatalf("deploy failed: %v", err)
	}

	vm := report.Results["VM-vm1"]
	if vm.State != exporter.StateFailed {
		t.Fatalf("vm state: %s", vm.State)
	}
	if !errs.HasCode(vm.Err, errs.CodePromiseUnresolved) {
		t.Errorf("expected DeployError(PromiseUnresolved), got %v", vm.Err)
	}
}

func TestDeployIdempotence(t *testing.T) {
	rec := newRecorder()
	registry := plugin.NewRegistry()
	registry.RegisterCRUDHandler(func() handlers.CRUDHandler {
		return &fakeCRUD{tag: "Wheel", rec: rec, exists: true}
	})

	result, graph := compileAndExport(t, registry, `
resource Wheel:
    brand: str

Wheel("Toyota")
`)
	report, err := New(result.Evaluator, nil, Options{}).Deploy(context.Background(), graph)
	if err != nil {
		t.Fatalf("deploy failed: %v", err)
	}
	if report.Failed() {
		t.Fatalf("summary: %+v", report.Summary)
	}

	calls := rec.callsFor("Wheel-Toyota")
	if len(calls) != 1 || calls[0] != "read" {
		t.Errorf("an unchanged resource runs read only, got %v", calls)
	}
}

func TestDeployUpdateOnChanges(t *testing.T) {
	rec := newRecorder()
	registry := plugin.NewRegistry()
	registry.RegisterCRUDHandler(func() handlers.CRUDHandler {
		return &fakeCRUD{tag: "Wheel", rec: rec, exists: true, changed: true}
	})

	result, graph := compileAndExport(t, registry, `
resource Wheel:
    brand: str

Wheel("Toyota")
`)
	report, err := New(result.Evaluator, nil, Options{}).Deploy(context.Background(), graph)
	if err != nil {
		t.Fatalf("deploy failed: %v", err)
	}

	calls := rec.callsFor("Wheel-Toyota")
	if len(calls) != 2 || calls[0] != "read" || calls[1] != "update" {
		t.Errorf("expected read then update, got %v", calls)
	}
	if !report.Results["Wheel-Toyota"].Updated {
		t.Errorf("result should report the update")
	}
}

func TestDeployDryRunOnlyReads(t *testing.T) {
	rec := newRecorder()
	registry := plugin.NewRegistry()
	registry.RegisterCRUDHandler(func() handlers.CRUDHandler {
		return &fakeCRUD{tag: "Wheel", rec: rec, exists: true, changed: true}
	})

	result, graph := compileAndExport(t, registry, `
resource Wheel:
    brand: str

Wheel("Toyota")
`)
	report, err := New(result.Evaluator, nil, Options{DryRun: true}).
		Deploy(context.Background(), graph)
	if err != nil {
		t.Fatalf("deploy failed: %v", err)
	}
	if report.Failed() {
		t.Fatalf("summary: %+v", report.Summary)
	}

	calls := rec.callsFor("Wheel-Toyota")
	if len(calls) != 1 || calls[0] != "read" {
		t.Errorf("dry-run dispatches only read, got %v", calls)
	}
	if len(report.Results["Wheel-Toyota"].Changes) != 1 {
		t.Errorf("dry-run should report the accumulated changes")
	}
}

func TestDeployCleanupRunsOncePerTask(t *testing.T) {
	rec := newRecorder()
	registry := plugin.NewRegistry()
	for _, tag := range []string{"BotRes", "MidRes", "TopRes"} {
		registry.RegisterCRUDHandler(func() handlers.CRUDHandler {
			return &fakeCRUD{tag: tag, rec: rec}
		})
	}

	result, graph := compileAndExport(t, registry, chainModel)
	if _, err := New(result.Evaluator, nil, Options{}).Deploy(context.Background(), graph); err != nil {
		t.Fatalf("deploy failed: %v", err)
	}

	for _, id := range []string{"BotRes-bot", "MidRes-mid", "TopRes-top"} {
		if rec.cleanups[id] != 1 {
			t.Errorf("cleanup for %s ran %d times, want 1", id, rec.cleanups[id])
		}
	}
}
