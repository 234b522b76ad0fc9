// Package runtime is the boundary to the sandboxed execution environment:
// a filesystem rooted at a working directory, a process model, and a
// stream of lifecycle events (ports opening, servers becoming ready,
// messages posted from running previews, files changing on disk).
package runtime

import (
	"context"
	"errors"

	"github.com/zjrosen/kiln/internal/pubsub"
)

// ErrCapabilityUnavailable is returned by Handle.Get when the runtime is
// disabled for this process (e.g. headless rendering or batch export).
var ErrCapabilityUnavailable = errors.New("runtime capability unavailable")

// ErrOutsideWorkdir is returned when a path escapes the working directory.
var ErrOutsideWorkdir = errors.New("path outside working directory")

// EventType identifies a runtime event.
type EventType string

const (
	EventServerReady    EventType = "server-ready"
	EventPort           EventType = "port"
	EventPreviewMessage EventType = "preview-message"
	EventFileChange     EventType = "file-change"
)

// PortType distinguishes port open from port close.
type PortType string

const (
	PortOpen  PortType = "open"
	PortClose PortType = "close"
)

// Preview message types posted by the instrumented preview page.
const (
	MessageUncaughtException  = "PREVIEW_UNCAUGHT_EXCEPTION"
	MessageUnhandledRejection = "PREVIEW_UNHANDLED_REJECTION"
)

// PreviewMessage is posted by a running preview.
type PreviewMessage struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	Stack    string `json:"stack"`
	Pathname string `json:"pathname"`
	Search   string `json:"search"`
	Hash     string `json:"hash"`
	Port     int    `json:"port"`
}

// Event is a runtime lifecycle event. Which fields are set depends on
// Type.
type Event struct {
	Type     EventType
	Port     int
	PortType PortType
	URL      string
	Message  *PreviewMessage
	Path     string
}

// FS is the runtime filesystem. Paths are absolute and must lie within
// the instance's working directory.
type FS interface {
	Mkdir(ctx context.Context, path string) error
	WriteFile(ctx context.Context, path string, data []byte) error
	ReadFile(ctx context.Context, path string) ([]byte, error)
	Remove(ctx context.Context, path string) error
}

// ProcessResult is the outcome of a finished command.
type ProcessResult struct {
	ExitCode int
	Output   string
}

// Instance is a booted runtime.
type Instance interface {
	// Workdir is the absolute path every project file lives under.
	Workdir() string
	FS() FS
	// Run executes command to completion.
	Run(ctx context.Context, command string) (*ProcessResult, error)
	// Start launches a long-running command (a dev server) and returns
	// once it is running.
	Start(ctx context.Context, command string) error
	// Events publishes lifecycle events for the lifetime of the instance.
	Events() *pubsub.Broker[Event]
	Close() error
}

// Booter boots a runtime instance.
type Booter interface {
	Boot(ctx context.Context) (Instance, error)
}

// BootFunc adapts a function to Booter.
type BootFunc func(ctx context.Context) (Instance, error)

func (f BootFunc) Boot(ctx context.Context) (Instance, error) { return f(ctx) }
