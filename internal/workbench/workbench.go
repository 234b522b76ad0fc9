// Package workbench is the orchestration core. It owns the artifact
// registry, routes the action-event stream into the serialized execution
// queue, keeps documents in step with the file table, and exposes the
// project-level operations: saving, snapshots, export and push.
package workbench

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zjrosen/kiln/internal/alert"
	"github.com/zjrosen/kiln/internal/clock"
	"github.com/zjrosen/kiln/internal/document"
	"github.com/zjrosen/kiln/internal/filetable"
	"github.com/zjrosen/kiln/internal/github"
	"github.com/zjrosen/kiln/internal/history"
	"github.com/zjrosen/kiln/internal/log"
	"github.com/zjrosen/kiln/internal/preview"
	"github.com/zjrosen/kiln/internal/processor"
	"github.com/zjrosen/kiln/internal/pubsub"
	"github.com/zjrosen/kiln/internal/runtime"
)

// DefaultWorkdir is the project root inside the runtime.
const DefaultWorkdir = "/home/project"

var (
	// ErrUnsupported is returned by operations the workbench does not
	// implement.
	ErrUnsupported = errors.New("operation not supported")
	// ErrForeignWorkdir is returned when a snapshot contains paths rooted
	// outside the working directory.
	ErrForeignWorkdir = errors.New("snapshot belongs to a different working directory")
	// ErrNoDocument is returned when saving a path with no open document.
	ErrNoDocument = errors.New("no document for path")
	// ErrUnknownEvent is returned by HandleEvent for unrecognized kinds.
	ErrUnknownEvent = errors.New("unknown event kind")
)

// Options configures a Workbench. Every field is optional.
type Options struct {
	Workdir string
	// Runtime defaults to an unavailable handle.
	Runtime  *runtime.Handle
	Previews *preview.Registry
	// History defaults to history.NopStore.
	History history.Store
	Pusher  *github.Pusher
	Clock   clock.Clock

	// SampleInterval is the streaming sampler window.
	SampleInterval time.Duration
	QueueCapacity  int
	// Middleware wraps every queued command, inside the workbench's own
	// logging middleware.
	Middleware []processor.Middleware
	// EventBus receives processor result and error events.
	EventBus *pubsub.Broker[any]
}

// Workbench is one editing session.
type Workbench struct {
	workdir  string
	files    *filetable.Table
	docs     *document.Store
	runtime  *runtime.Handle
	previews *preview.Registry
	history  history.Store
	pusher   *github.Pusher
	clock    clock.Clock
	proc     *processor.CommandProcessor
	sampler  *Sampler
	alerts   *pubsub.Broker[alert.Alert]

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu          sync.Mutex
	artifacts   map[string]*Artifact
	artifactIDs []string
	unsaved     map[string]bool
}

// New creates a workbench and starts its execution queue.
func New(opts Options) *Workbench {
	if opts.Workdir == "" {
		opts.Workdir = DefaultWorkdir
	}
	if opts.Runtime == nil {
		opts.Runtime = runtime.NewHandle(nil, runtime.WithAvailable(false))
	}
	if opts.History == nil {
		opts.History = history.NopStore{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Pusher == nil {
		opts.Pusher = github.NewPusher(github.PusherConfig{Clock: opts.Clock})
	}

	procOpts := []processor.Option{
		processor.WithQueueCapacity(opts.QueueCapacity),
		processor.WithMiddleware(processor.NewLoggingMiddleware(), processor.NewSlowCommandMiddleware(processor.DefaultSlowThreshold)),
		processor.WithMiddleware(opts.Middleware...),
	}
	if opts.EventBus != nil {
		procOpts = append(procOpts, processor.WithEventBus(opts.EventBus))
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Workbench{
		workdir:   opts.Workdir,
		docs:      document.NewStore(),
		runtime:   opts.Runtime,
		previews:  opts.Previews,
		history:   opts.History,
		pusher:    opts.Pusher,
		clock:     opts.Clock,
		proc:      processor.NewCommandProcessor(procOpts...),
		sampler:   NewSampler(opts.Clock, opts.SampleInterval),
		alerts:    pubsub.NewBroker[alert.Alert](),
		ctx:       ctx,
		cancel:    cancel,
		artifacts: make(map[string]*Artifact),
		unsaved:   make(map[string]bool),
	}
	w.files = filetable.New(filetable.WithMirror(&runtimeMirror{handle: w.runtime, workdir: w.workdir}))

	w.proc.RegisterHandler(cmdAddAction, processor.HandlerFunc(w.handleAddAction))
	w.proc.RegisterHandler(cmdRunAction, processor.HandlerFunc(w.handleRunAction))
	w.proc.RegisterHandler(cmdStream, processor.HandlerFunc(w.handleStreamAction))
	w.proc.RegisterHandler(cmdFile, processor.HandlerFunc(w.handleFile))
	w.proc.RegisterHandler(cmdRestore, processor.HandlerFunc(w.handleRestore))

	go w.proc.Run(ctx)
	_ = w.proc.WaitForReady(ctx)

	log.Info(log.CatWorkbench, "workbench started", "workdir", w.workdir, "runtime_available", w.runtime.Available())
	return w
}

// Workdir returns the project root.
func (w *Workbench) Workdir() string { return w.workdir }

// Files returns a copy of the file table.
func (w *Workbench) Files() filetable.FileMap { return w.files.Files() }

// Documents returns the document projection.
func (w *Workbench) Documents() *document.Store { return w.docs }

// Previews returns the preview registry, or nil.
func (w *Workbench) Previews() *preview.Registry { return w.previews }

// Alerts publishes every alert raised by the session.
func (w *Workbench) Alerts() *pubsub.Broker[alert.Alert] { return w.alerts }

// Boot starts the runtime, forwards preview errors into the alert broker,
// and feeds runtime events to the preview registry.
func (w *Workbench) Boot(ctx context.Context) error {
	inst, err := w.runtime.Get(ctx)
	if err != nil {
		return err
	}
	if err := w.runtime.AttachErrorListener(ctx, w.raise); err != nil {
		return err
	}
	if w.previews != nil {
		w.previews.Watch(w.ctx, inst.Events())
	}
	return nil
}

// Metrics describes the execution queue.
type Metrics struct {
	Processed   int64
	Errors      int64
	QueueLength int
	// AlertsDropped counts alerts a slow subscriber missed.
	AlertsDropped uint64
}

// Metrics returns queue counters.
func (w *Workbench) Metrics() Metrics {
	return Metrics{
		Processed:     w.proc.ProcessedCount(),
		Errors:        w.proc.ErrorCount(),
		QueueLength:   w.proc.QueueLength(),
		AlertsDropped: w.alerts.Dropped(),
	}
}

// AbortAllActions is not supported: running actions cannot be cancelled.
func (w *Workbench) AbortAllActions() error {
	return ErrUnsupported
}

// Close runs the queued commands to completion and ends the session.
// Later calls are no-ops.
func (w *Workbench) Close() {
	w.closeOnce.Do(func() {
		w.proc.Drain()
		w.cancel()
		w.alerts.Close()
		log.Info(log.CatWorkbench, "workbench closed", "processed", w.proc.ProcessedCount(), "errors", w.proc.ErrorCount())
	})
}

func (w *Workbench) raise(a alert.Alert) {
	log.Warn(log.CatWorkbench, "alert", "channel", string(a.Channel), "title", a.Title, "description", a.Description)
	w.alerts.Publish(pubsub.UpdatedEvent, a)
}

func (w *Workbench) raiseError(title, description string, err error) {
	w.raise(alert.Alert{
		Channel:     alert.ChannelAction,
		Level:       alert.LevelError,
		Title:       title,
		Description: description,
		Content:     err.Error(),
		Source:      alert.SourceWorkbench,
	})
}

// submit runs cmd on the queue and returns the handler's error.
func (w *Workbench) submit(ctx context.Context, cmd processor.Command) (*processor.CommandResult, error) {
	result, err := w.proc.SubmitAndWait(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("queueing %s: %w", cmd.Type(), err)
	}
	if result.Error != nil {
		return result, result.Error
	}
	return result, nil
}

// syncDocuments rebuilds documents from the file table, keeping unsaved
// edits. Must run on the queue.
func (w *Workbench) syncDocuments() {
	w.mu.Lock()
	keep := make(map[string]bool, len(w.unsaved))
	for p := range w.unsaved {
		keep[p] = true
	}
	w.mu.Unlock()
	w.docs.Sync(w.files.Files(), keep)
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
