package runtime

import (
	"context"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/zjrosen/kiln/internal/pubsub"
)

// MemoryInstance is an in-process runtime with a map-backed filesystem.
// Commands are recorded and answered by a configurable function. It
// backs dry runs and tests.
type MemoryInstance struct {
	workdir string
	events  *pubsub.Broker[Event]

	mu       sync.Mutex
	files    map[string][]byte
	dirs     map[string]bool
	commands []string
	runFunc  func(command string) (*ProcessResult, error)
}

// MemoryOption configures a MemoryInstance.
type MemoryOption func(*MemoryInstance)

// WithRunFunc answers Run and Start calls. The default succeeds with
// empty output.
func WithRunFunc(fn func(command string) (*ProcessResult, error)) MemoryOption {
	return func(m *MemoryInstance) {
		m.runFunc = fn
	}
}

// NewMemory creates an in-memory runtime rooted at workdir.
func NewMemory(workdir string, opts ...MemoryOption) *MemoryInstance {
	m := &MemoryInstance{
		workdir: path.Clean(workdir),
		events:  pubsub.NewBroker[Event](),
		files:   make(map[string][]byte),
		dirs:    map[string]bool{path.Clean(workdir): true},
		runFunc: func(string) (*ProcessResult, error) { return &ProcessResult{}, nil },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Booter returns a Booter that yields m.
func (m *MemoryInstance) Booter() Booter {
	return BootFunc(func(context.Context) (Instance, error) { return m, nil })
}

func (m *MemoryInstance) Workdir() string               { return m.workdir }
func (m *MemoryInstance) FS() FS                        { return memoryFS{m} }
func (m *MemoryInstance) Events() *pubsub.Broker[Event] { return m.events }

func (m *MemoryInstance) Run(_ context.Context, command string) (*ProcessResult, error) {
	m.mu.Lock()
	m.commands = append(m.commands, command)
	fn := m.runFunc
	m.mu.Unlock()
	return fn(command)
}

func (m *MemoryInstance) Start(ctx context.Context, command string) error {
	res, err := m.Run(ctx, command)
	if err != nil {
		return err
	}
	if res != nil && res.ExitCode != 0 {
		return fmt.Errorf("start %q: exit code %d", command, res.ExitCode)
	}
	return nil
}

func (m *MemoryInstance) Close() error {
	m.events.Close()
	return nil
}

// Emit publishes ev as if the sandbox had raised it.
func (m *MemoryInstance) Emit(ev Event) {
	m.events.Publish(pubsub.UpdatedEvent, ev)
}

// Commands returns every command run so far, in order.
func (m *MemoryInstance) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commands...)
}

// Paths returns every file and directory path, sorted.
func (m *MemoryInstance) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for p := range m.files {
		out = append(out, p)
	}
	for p := range m.dirs {
		out = append(out, p+"/")
	}
	sort.Strings(out)
	return out
}

type memoryFS struct{ m *MemoryInstance }

func (f memoryFS) Mkdir(_ context.Context, p string) error {
	p, err := withinWorkdir(f.m.workdir, p)
	if err != nil {
		return err
	}
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	for dir := p; dir != f.m.workdir && dir != "/"; dir = path.Dir(dir) {
		if _, isFile := f.m.files[dir]; isFile {
			return fmt.Errorf("mkdir %s: not a directory", dir)
		}
		f.m.dirs[dir] = true
	}
	return nil
}

func (f memoryFS) WriteFile(_ context.Context, p string, data []byte) error {
	p, err := withinWorkdir(f.m.workdir, p)
	if err != nil {
		return err
	}
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if !f.m.dirs[path.Dir(p)] {
		return fmt.Errorf("write %s: %w", p, os.ErrNotExist)
	}
	f.m.files[p] = append([]byte(nil), data...)
	return nil
}

func (f memoryFS) ReadFile(_ context.Context, p string) ([]byte, error) {
	p, err := withinWorkdir(f.m.workdir, p)
	if err != nil {
		return nil, err
	}
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	data, ok := f.m.files[p]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", p, os.ErrNotExist)
	}
	return append([]byte(nil), data...), nil
}

func (f memoryFS) Remove(_ context.Context, p string) error {
	p, err := withinWorkdir(f.m.workdir, p)
	if err != nil {
		return err
	}
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	delete(f.m.files, p)
	delete(f.m.dirs, p)
	for key := range f.m.files {
		if strings.HasPrefix(key, p+"/") {
			delete(f.m.files, key)
		}
	}
	for key := range f.m.dirs {
		if strings.HasPrefix(key, p+"/") {
			delete(f.m.dirs, key)
		}
	}
	return nil
}

// withinWorkdir cleans p and verifies it lies within workdir.
func withinWorkdir(workdir, p string) (string, error) {
	if !strings.HasPrefix(p, "/") {
		p = path.Join(workdir, p)
	}
	p = path.Clean(p)
	if p != workdir && !strings.HasPrefix(p, workdir+"/") {
		return "", fmt.Errorf("%s: %w", p, ErrOutsideWorkdir)
	}
	return p, nil
}
