// Package handlers defines the ABI between the deployer and host-native
// resource handlers: the handler interfaces and the per-task context they
// receive.
package handlers

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// CacheDir is the workspace cache root holding per-task scratch
// directories.
const CacheDir = ".eikobot_cache"

// ErrNotImplemented is returned by CRUD methods a handler does not
// provide. The execute loop treats it as "skip this step".
var ErrNotImplemented = errors.New("handler method not implemented")

// Tagged is implemented by handlers and models to name the resource
// definition they bind to, the host equivalent of `__eiko_resource__`.
type Tagged interface {
	EikoResource() string
}

// Handler is the plain single-step handler: read/update/create collapse
// into one user-supplied step that reports success by setting
// Context.Deployed.
type Handler interface {
	Execute(ctx context.Context, c *Context) error
}

// CRUDHandler drives a resource through the create/read/update/delete
// state machine. Methods run on the deployer's scheduler and are expected
// to honour ctx for all I/O, which also covers the asynchronous handler
// flavour.
type CRUDHandler interface {
	Create(ctx context.Context, c *Context) error
	Read(ctx context.Context, c *Context) error
	Update(ctx context.Context, c *Context) error
	Delete(ctx context.Context, c *Context) error
}

// CRUDBase provides not-implemented defaults so handlers only write the
// methods they need.
type CRUDBase struct{}

func (CRUDBase) Create(context.Context, *Context) error { return ErrNotImplemented }
func (CRUDBase) Read(context.Context, *Context) error   { return ErrNotImplemented }
func (CRUDBase) Update(context.Context, *Context) error { return ErrNotImplemented }
func (CRUDBase) Delete(context.Context, *Context) error { return ErrNotImplemented }

// PreHook runs before the handler's CRUD steps.
type PreHook interface {
	Pre(ctx context.Context, c *Context) error
}

// PostHook runs after the handler's CRUD steps, even when they failed.
type PostHook interface {
	Post(ctx context.Context, c *Context) error
}

// CleanupHook runs exactly once after every task reached a terminal
// state. Failures are logged but never mark the task failed.
type CleanupHook interface {
	Cleanup(ctx context.Context, c *Context) error
}

// PromiseWriter fills one promise slot on the bound resource.
type PromiseWriter func(property string, value any) error

// Context carries everything a handler needs for one task.
type Context struct {
	// TaskID is the bound resource's index.
	TaskID string

	// Resource is the linked model instance when the resource definition
	// has a registered model, otherwise a map[string]any of properties.
	Resource any

	// Raw always holds the plain property map.
	Raw map[string]any

	// Changes is written by Read and consumed by Update.
	Changes map[string]any

	// Deployed is set by the handler to signal success.
	Deployed bool

	// Updated is set by Update when it changed the real resource.
	Updated bool

	// Failed marks the task failed regardless of Deployed.
	Failed bool

	// Extras is scratch state shared between a handler's own steps.
	Extras map[string]any

	logger       zerolog.Logger
	setPromise   PromiseWriter
	scratchOnce  sync.Once
	scratchDir   string
	scratchErr   error
}

// NewContext builds a handler context for a task. promises may be nil for
// resources without promise properties.
func NewContext(taskID string, resource any, raw map[string]any, promises PromiseWriter) *Context {
	return &Context{
		TaskID:     taskID,
		Resource:   resource,
		Raw:        raw,
		Changes:    make(map[string]any),
		Extras:     make(map[string]any),
		logger:     log.With().Str("task", taskID).Logger(),
		setPromise: promises,
	}
}

// AddChange records a difference between desired and observed state.
func (c *Context) AddChange(key string, value any) {
	c.Changes[key] = value
}

// SetPromise resolves a promise slot on the bound resource. Only the
// owning task may call this.
func (c *Context) SetPromise(property string, value any) error {
	if c.setPromise == nil {
		return errors.New("resource has no promise properties")
	}
	return c.setPromise(property, value)
}

// NormalizedTaskID strips separators from the task id so it can be used
// as a directory name on any platform.
func (c *Context) NormalizedTaskID() string {
	n := strings.ReplaceAll(c.TaskID, "\\", "-")
	n = strings.ReplaceAll(n, "/", "-")
	n = strings.ReplaceAll(n, " ", "")
	return strings.ReplaceAll(n, ":", ".")
}

// ScratchDir returns the task's scratch directory, creating it lazily.
func (c *Context) ScratchDir() (string, error) {
	c.scratchOnce.Do(func() {
		dir := filepath.Join(CacheDir, c.NormalizedTaskID())
		c.scratchErr = os.MkdirAll(dir, 0o755)
		c.scratchDir = dir
	})
	return c.scratchDir, c.scratchErr
}

func (c *Context) Debug(msg string)   { c.logger.Debug().Msg(msg) }
func (c *Context) Info(msg string)    { c.logger.Info().Msg(msg) }
func (c *Context) Warning(msg string) { c.logger.Warn().Msg(msg) }
func (c *Context) Error(msg string)   { c.logger.Error().Msg(msg) }
