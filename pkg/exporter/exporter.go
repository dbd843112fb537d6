// Package exporter lowers the compiled object graph into a frozen DAG of
// deployable tasks, one per resource with a handler.
package exporter

import (
	"github.com/eikobot/eikobot/pkg/errs"
	"github.com/eikobot/eikobot/pkg/eval"
	"github.com/eikobot/eikobot/pkg/plugin"
	"github.com/rs/zerolog/log"
)

// State is the lifecycle state of a task.
type State string

const (
	StatePending  State = "pending"
	StateReady    State = "ready"
	StateRunning  State = "running"
	StateDeployed State = "deployed"
	StateFailed   State = "failed"
	StateSkipped  State = "skipped"
)

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateDeployed || s == StateFailed || s == StateSkipped
}

// Task is one unit of deployment work, bound 1-to-1 to a resource.
// Tasks without a handler exist only during export; their dependencies
// are hoisted onto dependants and they never reach the deployer.
type Task struct {
	// ID is the resource index, stable across compilations.
	ID string

	Resource *eval.ResourceVal
	Handler  *plugin.HandlerBinding

	State State

	// DependsOn holds handler-bearing predecessor tasks.
	DependsOn []*Task

	// Dependants holds handler-bearing successor tasks.
	Dependants []*Task

	// Level is the task's topological level; tasks sharing a level have
	// no ordering between them.
	Level int
}

func (t *Task) addDependsOn(dep *Task) {
	for _, existing := range t.DependsOn {
		if existing == dep {
			return
		}
	}
	t.DependsOn = append(t.DependsOn, dep)
}

func (t *Task) addDependant(dep *Task) {
	for _, existing := range t.Dependants {
		if existing == dep {
			return
		}
	}
	t.Dependants = append(t.Dependants, dep)
}

// Edge is one dependency edge of the exported graph; From must reach a
// terminal successful state before To may start.
type Edge struct {
	From string
	To   string
}

// TaskGraph is the frozen output of the exporter.
type TaskGraph struct {
	// Nodes maps task id to deployable tasks.
	Nodes map[string]*Task

	Edges []Edge

	// Roots lists tasks without predecessors.
	Roots []string

	// Levels groups task ids by topological level.
	Levels [][]string

	// Total is the number of deployable tasks.
	Total int
}

// Exporter walks resources and builds the task graph.
type Exporter struct {
	tasks map[string]*Task
	total int
}

// New creates an exporter.
func New() *Exporter {
	return &Exporter{tasks: make(map[string]*Task)}
}

// Export builds the task DAG for every resource registered during
// compilation, deduplicating by resource index and rejecting cycles.
func (ex *Exporter) Export(result *eval.Result) (*TaskGraph, error) {
	log.Debug().Msg("constructing task dependency graph")

	for _, resource := range result.Table.All() {
		if _, err := ex.taskFor(resource); err != nil {
			return nil, err
		}
	}

	graph := &TaskGraph{Nodes: make(map[string]*Task)}
	for id, task := range ex.tasks {
		if task.Handler == nil {
			continue
		}
		graph.Nodes[id] = task
		for _, dep := range task.DependsOn {
			graph.Edges = append(graph.Edges, Edge{From: dep.ID, To: task.ID})
		}
	}
	graph.Total = len(graph.Nodes)

	if err := graph.computeLevels(); err != nil {
		return nil, err
	}

	log.Debug().
		Int("tasks", graph.Total).
		Int("edges", len(graph.Edges)).
		Int("depth", len(graph.Levels)).
		Msg("task graph ready")
	return graph, nil
}

// taskFor returns the task of a resource, building it and its dependency
// closure on first sight.
func (ex *Exporter) taskFor(resource *eval.ResourceVal) (*Task, error) {
	if existing, ok := ex.tasks[resource.Index()]; ok {
		return existing, nil
	}

	task := &Task{
		ID:       resource.Index(),
		Resource: resource,
		Handler:  resource.Definition().Handler,
		State:    StatePending,
	}
	// Register before walking properties so shared children terminate.
	ex.tasks[task.ID] = task
	if task.Handler != nil {
		ex.total++
	}

	// Dependencies through the property graph: a nested resource gets
	// its own task and an edge; containers are walked element-wise.
	for _, name := range resource.PropNames() {
		value, _ := resource.Get(name)
		if err := ex.walkValue(task, value); err != nil {
			return nil, err
		}
	}

	// Promises held in properties tie this task to the resolving task.
	for _, promise := range resource.ExternalPromises() {
		ownerTask, err := ex.taskFor(promise.Owner())
		if err != nil {
			return nil, err
		}
		if ownerTask.Handler == nil {
			return nil, errs.Newf(errs.KindExport,
				"task '%s' depends on promise '%s.%s', but that resource has no handler",
				task.ID, promise.Owner().Index(), promise.Property())
		}
		ex.link(task, ownerTask)
	}

	return task, nil
}

func (ex *Exporter) walkValue(task *Task, value eval.Value) error {
	switch v := value.(type) {
	case *eval.ResourceVal:
		sub, err := ex.taskFor(v)
		if err != nil {
			return err
		}
		ex.link(task, sub)
	case *eval.ListVal:
		for _, elem := range v.Elems {
			if err := ex.walkValue(task, elem); err != nil {
				return err
			}
		}
	case *eval.DictVal:
		for _, key := range v.Keys() {
			elem, _ := v.Get(key)
			if err := ex.walkValue(task, elem); err != nil {
				return err
			}
		}
	}
	return nil
}

// link records that task depends on sub. A handler-less sub contributes
// its own dependencies instead of itself.
func (ex *Exporter) link(task, sub *Task) {
	if sub == task {
		return
	}
	if sub.Handler != nil {
		task.addDependsOn(sub)
		if task.Handler != nil {
			sub.addDependant(task)
		}
		return
	}
	for _, inherited := range sub.DependsOn {
		task.addDependsOn(inherited)
		if task.Handler != nil {
			inherited.addDependant(task)
		}
	}
}

// computeLevels runs Kahn's algorithm over the deployable tasks,
// assigning topological levels and rejecting cycles.
func (g *TaskGraph) computeLevels() error {
	inDegree := make(map[string]int, len(g.Nodes))
	for id, task := range g.Nodes {
		inDegree[id] = len(task.DependsOn)
	}

	var current []string
	for id, degree := range inDegree {
		if degree == 0 {
			current = append(current, id)
		}
	}
	g.Roots = append([]string(nil), current...)

	processed := 0
	for len(current) > 0 {
		level := len(g.Levels)
		g.Levels = append(g.Levels, current)
		processed += len(current)

		var next []string
		for _, id := range current {
			task := g.Nodes[id]
			task.Level = level
			for _, dependant := range task.Dependants {
				inDegree[dependant.ID]--
				if inDegree[dependant.ID] == 0 {
					next = append(next, dependant.ID)
				}
			}
		}
		current = next
	}

	if processed != len(g.Nodes) {
		return errs.Newf(errs.KindExport,
			"the task graph contains a dependency cycle (%d of %d tasks unreachable)",
			len(g.Nodes)-processed, len(g.Nodes)).
			WithCode(errs.CodeCycle)
	}
	return nil
}
