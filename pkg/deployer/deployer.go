// Package deployer executes an exported task graph with bounded
// concurrency, driving every task through the CRUD state machine and
// resolving promises along the way.
package deployer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/eikobot/eikobot/pkg/errs"
	"github.com/eikobot/eikobot/pkg/eval"
	"github.com/eikobot/eikobot/pkg/exporter"
	"github.com/eikobot/eikobot/pkg/handlers"
	"github.com/eikobot/eikobot/pkg/telemetry"
)

// DefaultMaxParallel caps in-flight tasks when no limit is configured.
const DefaultMaxParallel = 10

// Options configures a deployment run.
type Options struct {
	// MaxParallel caps the number of tasks in flight at once.
	MaxParallel int

	// DryRun dispatches only read steps and reports would-be changes.
	DryRun bool
}

// TaskResult is the outcome of a single task.
type TaskResult struct {
	TaskID      string
	State       exporter.State
	Err         error
	Changes     map[string]any
	Created     bool
	Updated     bool
	StartedAt   time.Time
	CompletedAt time.Time
}

// Summary aggregates terminal task states of a run.
type Summary struct {
	Total    int
	Deployed int
	Failed   int
	Skipped  int
}

// Report is the result of a whole deployment run.
type Report struct {
	RunID    string
	DryRun   bool
	Summary  Summary
	Results  map[string]*TaskResult
	Duration time.Duration
}

// Failed reports whether any task did not deploy.
func (r *Report) Failed() bool {
	return r.Summary.Failed > 0 || r.Summary.Skipped > 0
}

// Deployer schedules tasks on a cooperative runtime, bounded by a
// semaphore. Per-task state is owned by the executing goroutine; the
// shared maps below are the only cross-task state and sit behind mu.
type Deployer struct {
	maxParallel int
	dryRun      bool
	evaluator   *eval.Evaluator
	metrics     *telemetry.Metrics

	mu       sync.Mutex
	states   map[string]exporter.State
	results  map[string]*TaskResult
	pending  map[string]int
	handlers map[string]handlerState
}

// New creates a deployer for one run.
func New(evaluator *eval.Evaluator, metrics *telemetry.Metrics, opts Options) *Deployer {
	maxParallel := opts.MaxParallel
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel
	}
	return &Deployer{
		maxParallel: maxParallel,
		dryRun:      opts.DryRun,
		evaluator:   evaluator,
		metrics:     metrics,
		states:      make(map[string]exporter.State),
		results:     make(map[string]*TaskResult),
		pending:     make(map[string]int),
		handlers:    make(map[string]handlerState),
	}
}

// Deploy executes the graph. It returns a report covering every task;
// the error is non-nil only for scheduler-level failures, not for
// individual task failures.
func (d *Deployer) Deploy(ctx context.Context, graph *exporter.TaskGraph) (*Report, error) {
	run := &Report{
		RunID:   uuid.New().String(),
		DryRun:  d.dryRun,
		Results: make(map[string]*TaskResult),
	}
	started := time.Now()

	log.Info().
		Str("run_id", run.RunID).
		Int("tasks", graph.Total).
		Bool("dry_run", d.dryRun).
		Msg("starting deployment")
	if d.metrics != nil {
		d.metrics.RunStarted()
	}

	for id, task := range graph.Nodes {
		d.states[id] = exporter.StatePending
		d.pending[id] = len(task.DependsOn)
	}

	sem := semaphore.NewWeighted(int64(d.maxParallel))
	var wg sync.WaitGroup

	var schedule func(task *exporter.Task)
	schedule = func(task *exporter.Task) {
		wg.Add(1)
		go func() {
			defer wg.Done()

			if !d.predecessorsSucceeded(task) {
				d.skipTask(task, schedule)
				return
			}

			if err := sem.Acquire(ctx, 1); err != nil {
				d.cancelTask(task, err)
				return
			}
			d.runTask(ctx, task)
			sem.Release(1)

			d.finishTask(task, schedule)
		}()
	}

	for _, id := range graph.Roots {
		schedule(graph.Nodes[id])
	}
	wg.Wait()

	// Anything still pending was stranded by cancellation.
	d.mu.Lock()
	for id, state := range d.states {
		if !state.IsTerminal() {
			d.states[id] = exporter.StateSkipped
			d.results[id] = &TaskResult{TaskID: id, State: exporter.StateSkipped}
			d.failPromises(graph.Nodes[id], errs.New(errs.KindDeploy, "deployment cancelled").
				WithCode(errs.CodeCancelled))
		}
	}
	d.mu.Unlock()

	d.runCleanup(ctx, graph)

	run.Duration = time.Since(started)
	d.mu.Lock()
	for id, result := range d.results {
		run.Results[id] = result
		switch result.State {
		case exporter.StateDeployed:
			run.Summary.Deployed++
		case exporter.StateFailed:
			run.Summary.Failed++
		case exporter.StateSkipped:
			run.Summary.Skipped++
		}
	}
	d.mu.Unlock()
	run.Summary.Total = graph.Total

	if d.metrics != nil {
		d.metrics.RunCompleted(run.Summary.Failed == 0, run.Duration)
	}
	log.Info().
		Str("run_id", run.RunID).
		Int("deployed", run.Summary.Deployed).
		Int("failed", run.Summary.Failed).
		Int("skipped", run.Summary.Skipped).
		Dur("duration", run.Duration).
		Msg("deployment finished")

	return run, nil
}

// finishTask wakes up dependants whose predecessors all reached a
// terminal state.
func (d *Deployer) finishTask(task *exporter.Task, schedule func(*exporter.Task)) {
	d.mu.Lock()
	var ready []*exporter.Task
	for _, dependant := range task.Dependants {
		d.pending[dependant.ID]--
		if d.pending[dependant.ID] == 0 {
			ready = append(ready, dependant)
		}
	}
	d.mu.Unlock()

	for _, next := range ready {
		schedule(next)
	}
}

func (d *Deployer) predecessorsSucceeded(task *exporter.Task) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, dep := range task.DependsOn {
		if d.states[dep.ID] != exporter.StateDeployed {
			return false
		}
	}
	return true
}

// skipTask marks a task skipped because a predecessor failed, and
// cascades to its dependants. A task stranded on an unresolved promise
// reports that specifically.
func (d *Deployer) skipTask(task *exporter.Task, schedule func(*exporter.Task)) {
	cause := errs.New(errs.KindDeploy, "skipped: a dependency failed").
		WithCode(errs.CodeHandlerFailed)
	for _, promise := range task.Resource.ExternalPromises() {
		if !promise.Resolved() {
			cause = errs.Newf(errs.KindDeploy,
				"promise '%s.%s' was never resolved",
				promise.Owner().Index(), promise.Property()).
				WithCode(errs.CodePromiseUnresolved)
			break
		}
	}

	d.mu.Lock()
	d.states[task.ID] = exporter.StateSkipped
	d.results[task.ID] = &TaskResult{TaskID: task.ID, State: exporter.StateSkipped, Err: cause}
	d.mu.Unlock()

	log.Warn().Str("task", task.ID).Msg("skipping task, dependency failed")
	if d.metrics != nil {
		d.metrics.TaskFinished(string(exporter.StateSkipped), 0)
	}
	d.failPromises(task, errs.Newf(errs.KindDeploy,
		"promise owner '%s' was skipped", task.ID).
		WithCode(errs.CodePromiseUnresolved))

	d.finishTask(task, schedule)
}

func (d *Deployer) cancelTask(task *exporter.Task, cause error) {
	d.mu.Lock()
	d.states[task.ID] = exporter.StateSkipped
	d.results[task.ID] = &TaskResult{TaskID: task.ID, State: exporter.StateSkipped,
		Err: errs.Wrap(errs.KindDeploy, "deployment cancelled", cause).
			WithCode(errs.CodeCancelled)}
	d.mu.Unlock()
	d.failPromises(task, errs.New(errs.KindDeploy, "deployment cancelled").
		WithCode(errs.CodeCancelled))
}

// failPromises unblocks waiters on every unresolved promise the task
// owns.
func (d *Deployer) failPromises(task *exporter.Task, cause error) {
	for _, promise := range task.Resource.Promises() {
		if !promise.Resolved() {
			promise.Fail(cause)
		}
	}
}

// runTask drives one task through Ready -> Running -> terminal.
func (d *Deployer) runTask(ctx context.Context, task *exporter.Task) {
	d.setState(task.ID, exporter.StateRunning)
	started := time.Now()

	result := &TaskResult{TaskID: task.ID, StartedAt: started}
	log.Info().Str("task", task.ID).Msg("starting task")

	hctx, err := d.buildContext(task)
	var execErr error
	if err != nil {
		execErr = err
	} else {
		execErr = d.executeHandler(ctx, task, hctx)
		result.Changes = hctx.Changes
		result.Updated = hctx.Updated
	}

	result.CompletedAt = time.Now()

	// A deployed resource must have fulfilled all of its promises.
	if execErr == nil && !d.dryRun {
		for name, promise := range task.Resource.Promises() {
			if !promise.Resolved() {
				execErr = errs.Newf(errs.KindDeploy,
					"resource '%s' was deployed, but promise '%s' was not fulfilled",
					task.ID, name).WithCode(errs.CodePromiseUnresolved)
				break
			}
		}
	}

	if execErr != nil {
		result.State = exporter.StateFailed
		result.Err = execErr
		d.setState(task.ID, exporter.StateFailed)
		log.Error().Str("task", task.ID).Err(execErr).Msg("task failed")
		d.failPromises(task, errs.Newf(errs.KindDeploy,
			"promise owner '%s' failed", task.ID).
			WithCode(errs.CodePromiseUnresolved))
	} else {
		result.State = exporter.StateDeployed
		d.setState(task.ID, exporter.StateDeployed)
		log.Info().
			Str("task", task.ID).
			Dur("duration", result.CompletedAt.Sub(started)).
			Msg("task deployed")
	}

	if d.metrics != nil {
		d.metrics.TaskFinished(string(result.State), result.CompletedAt.Sub(started))
	}

	d.mu.Lock()
	d.results[task.ID] = result
	d.mu.Unlock()
}

// buildContext assembles the handler context: the linked model when one
// is registered, the raw property map otherwise, and the promise writer.
func (d *Deployer) buildContext(task *exporter.Task) (*handlers.Context, error) {
	resource := task.Resource
	raw, ok := eval.ToGo(resource).(map[string]any)
	if !ok {
		return nil, errs.Newf(errs.KindInternal,
			"resource '%s' did not convert to a property map", task.ID)
	}

	var bound any = raw
	if resource.Definition().Model != "" {
		model, err := d.evaluator.LinkedModel(resource)
		if err != nil {
			return nil, err
		}
		bound = model
	}

	writer := func(property string, value any) error {
		return resource.ResolvePromise(property, value)
	}
	return handlers.NewContext(task.ID, bound, raw, writer), nil
}

// executeHandler runs the pre hook, the handler steps, and the post hook.
func (d *Deployer) executeHandler(ctx context.Context, task *exporter.Task, hctx *handlers.Context) error {
	instance := d.instantiate(task)

	d.mu.Lock()
	d.handlers[task.ID] = handlerState{instance: instance, ctx: hctx}
	d.mu.Unlock()

	if pre, ok := instance.(handlers.PreHook); ok {
		if err := pre.Pre(ctx, hctx); err != nil || hctx.Failed {
			return errs.Wrap(errs.KindDeploy,
				fmt.Sprintf("pre hook of '%s' failed", task.ID), err).
				WithCode(errs.CodeHandlerFailed)
		}
	}

	stepErr := d.executeSteps(ctx, task, hctx, instance)

	if post, ok := instance.(handlers.PostHook); ok {
		if err := post.Post(ctx, hctx); err != nil {
			log.Error().Str("task", task.ID).Err(err).Msg("post hook failed")
			if stepErr == nil {
				stepErr = errs.Wrap(errs.KindDeploy,
					fmt.Sprintf("post hook of '%s' failed", task.ID), err).
					WithCode(errs.CodeHandlerFailed)
			}
		}
	}
	return stepErr
}

func (d *Deployer) executeSteps(ctx context.Context, task *exporter.Task, hctx *handlers.Context, instance any) error {
	switch h := instance.(type) {
	case handlers.CRUDHandler:
		if d.dryRun {
			return d.dryRunCRUD(ctx, task, hctx, h)
		}
		return d.executeCRUD(ctx, task, hctx, h)

	case handlers.Handler:
		if d.dryRun {
			log.Info().Str("task", task.ID).Msg("task would execute")
			return nil
		}
		if err := h.Execute(ctx, hctx); err != nil {
			return errs.Wrap(errs.KindDeploy,
				fmt.Sprintf("handler of '%s' failed", task.ID), err).
				WithCode(errs.CodeHandlerFailed)
		}
		if hctx.Failed || !hctx.Deployed {
			return errs.Newf(errs.KindDeploy,
				"handler of '%s' did not report success", task.ID).
				WithCode(errs.CodeHandlerFailed)
		}
		return nil

	default:
		return errs.Newf(errs.KindInternal,
			"task '%s' has no runnable handler", task.ID)
	}
}

// executeCRUD is the read -> create-or-update loop.
func (d *Deployer) executeCRUD(ctx context.Context, task *exporter.Task, hctx *handlers.Context, h handlers.CRUDHandler) error {
	hctx.Deployed = false
	hctx.Failed = false

	if err := h.Read(ctx, hctx); err != nil && !errors.Is(err, handlers.ErrNotImplemented) {
		return errs.Wrap(errs.KindDeploy,
			fmt.Sprintf("read of '%s' failed", task.ID), err).
			WithCode(errs.CodeHandlerFailed)
	}

	if !hctx.Deployed {
		log.Debug().Str("task", task.ID).Msg("creating resource")
		if err := h.Create(ctx, hctx); err != nil {
			if errors.Is(err, handlers.ErrNotImplemented) {
				return errs.Newf(errs.KindDeploy,
					"handler of '%s' is missing a create method", task.ID).
					WithCode(errs.CodeHandlerFailed)
			}
			return errs.Wrap(errs.KindDeploy,
				fmt.Sprintf("create of '%s' failed", task.ID), err).
				WithCode(errs.CodeHandlerFailed)
		}
	} else if len(hctx.Changes) > 0 {
		log.Debug().Str("task", task.ID).Msg("updating resource")
		hctx.Deployed = false
		if err := h.Update(ctx, hctx); err != nil {
			if errors.Is(err, handlers.ErrNotImplemented) {
				log.Warn().Str("task", task.ID).
					Msg("read returned changes for a handler without an update method")
			} else {
				return errs.Wrap(errs.KindDeploy,
					fmt.Sprintf("update of '%s' failed", task.ID), err).
					WithCode(errs.CodeHandlerFailed)
			}
		}
	} else {
		log.Debug().Str("task", task.ID).Msg("resource is in its desired state")
	}

	if hctx.Failed || !hctx.Deployed {
		return errs.Newf(errs.KindDeploy,
			"handler of '%s' did not report success", task.ID).
			WithCode(errs.CodeHandlerFailed)
	}
	return nil
}

// dryRunCRUD dispatches only read and reports the would-be operation.
func (d *Deployer) dryRunCRUD(ctx context.Context, task *exporter.Task, hctx *handlers.Context, h handlers.CRUDHandler) error {
	if err := h.Read(ctx, hctx); err != nil && !errors.Is(err, handlers.ErrNotImplemented) {
		log.Error().Str("task", task.ID).Err(err).Msg("resource is in a failed state")
		return nil
	}
	switch {
	case hctx.Deployed && len(hctx.Changes) == 0:
		log.Info().Str("task", task.ID).Msg("resource is in its desired state")
	case hctx.Deployed:
		log.Info().Str("task", task.ID).
			Interface("changes", hctx.Changes).
			Msg("resource would be updated")
	default:
		log.Info().Str("task", task.ID).Msg("resource would be created")
	}
	hctx.Deployed = true
	hctx.Failed = false
	return nil
}

type handlerState struct {
	instance any
	ctx      *handlers.Context
}

// instantiate builds a fresh handler instance for a task.
func (d *Deployer) instantiate(task *exporter.Task) any {
	if task.Handler == nil {
		return nil
	}
	if task.Handler.Plain != nil {
		return task.Handler.Plain()
	}
	return task.Handler.CRUD()
}

// runCleanup invokes each executed handler's cleanup hook exactly once,
// after every task reached a terminal state. Cleanup failures are logged
// and never change a task's outcome.
func (d *Deployer) runCleanup(ctx context.Context, graph *exporter.TaskGraph) {
	d.mu.Lock()
	states := make(map[string]handlerState, len(d.handlers))
	for id, state := range d.handlers {
		states[id] = state
	}
	d.mu.Unlock()

	for id, state := range states {
		cleanup, ok := state.instance.(handlers.CleanupHook)
		if !ok {
			continue
		}
		if err := cleanup.Cleanup(ctx, state.ctx); err != nil {
			log.Error().Str("task", id).Err(err).Msg("cleanup hook failed")
		}
	}
}

func (d *Deployer) setState(id string, state exporter.State) {
	d.mu.Lock()
	d.states[id] = state
	d.mu.Unlock()
}
