package runtime

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/zjrosen/kiln/internal/log"
	"github.com/zjrosen/kiln/internal/pubsub"
	"github.com/zjrosen/kiln/internal/watcher"
)

// HostConfig configures a runtime backed by a real directory.
type HostConfig struct {
	// Root is the host directory that backs Workdir.
	Root string
	// Workdir is the absolute path the project sees, e.g. /home/project.
	Workdir string
	// Shell runs commands; defaults to "sh".
	Shell string
	// WatchDebounce batches file-change events. Zero disables watching.
	WatchDebounce time.Duration
}

var serverURL = regexp.MustCompile(`https?://(?:localhost|127\.0\.0\.1|0\.0\.0\.0|\[::\]):(\d+)`)

// HostInstance runs commands with os/exec inside a host directory and
// reports dev servers it sees announced on stdout.
type HostInstance struct {
	cfg     HostConfig
	events  *pubsub.Broker[Event]
	watcher *watcher.Watcher
	done    chan struct{}

	closeOnce sync.Once
	closeErr  error

	mu    sync.Mutex
	procs []*exec.Cmd
}

// HostBooter returns a Booter that creates the root directory and starts
// a HostInstance.
func HostBooter(cfg HostConfig) Booter {
	return BootFunc(func(ctx context.Context) (Instance, error) {
		return BootHost(ctx, cfg)
	})
}

// BootHost starts a HostInstance.
func BootHost(_ context.Context, cfg HostConfig) (*HostInstance, error) {
	if cfg.Shell == "" {
		cfg.Shell = "sh"
	}
	cfg.Workdir = path.Clean(cfg.Workdir)
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("creating runtime root: %w", err)
	}

	h := &HostInstance{
		cfg:    cfg,
		events: pubsub.NewBroker[Event](),
		done:   make(chan struct{}),
	}

	if cfg.WatchDebounce > 0 {
		w, err := watcher.New(watcher.Config{
			Root:        cfg.Root,
			DebounceDur: cfg.WatchDebounce,
			Ignore:      []string{".git", "node_modules"},
		})
		if err != nil {
			return nil, err
		}
		changes, err := w.Start()
		if err != nil {
			_ = w.Stop()
			return nil, err
		}
		h.watcher = w
		go h.forwardChanges(changes)
	}
	return h, nil
}

func (h *HostInstance) Workdir() string               { return h.cfg.Workdir }
func (h *HostInstance) FS() FS                        { return hostFS{h} }
func (h *HostInstance) Events() *pubsub.Broker[Event] { return h.events }

// Run executes command through the shell and waits for it.
func (h *HostInstance) Run(ctx context.Context, command string) (*ProcessResult, error) {
	cmd := exec.CommandContext(ctx, h.cfg.Shell, "-c", command) //nolint:gosec // G204: commands come from the action stream by design
	cmd.Dir = h.cfg.Root
	out, err := cmd.CombinedOutput()
	result := &ProcessResult{Output: string(out)}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("running %q: %w", command, err)
	}
	return result, nil
}

// Start launches command in the background. Server URLs printed on its
// stdout produce port-open and server-ready events; when the process
// exits the ports it announced are reported closed.
func (h *HostInstance) Start(_ context.Context, command string) error {
	cmd := exec.Command(h.cfg.Shell, "-c", command) //nolint:gosec // G204: commands come from the action stream by design
	cmd.Dir = h.cfg.Root
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("starting %q: %w", command, err)
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %q: %w", command, err)
	}

	h.mu.Lock()
	h.procs = append(h.procs, cmd)
	h.mu.Unlock()

	go h.watchProcess(cmd, stdout)
	return nil
}

func (h *HostInstance) watchProcess(cmd *exec.Cmd, stdout io.Reader) {
	ports := make(map[int]bool)
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		m := serverURL.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		port, err := strconv.Atoi(m[1])
		if err != nil || ports[port] {
			continue
		}
		ports[port] = true
		url := fmt.Sprintf("http://localhost:%d", port)
		log.Info(log.CatRuntime, "server announced", "port", port)
		h.events.Publish(pubsub.UpdatedEvent, Event{Type: EventPort, Port: port, PortType: PortOpen, URL: url})
		h.events.Publish(pubsub.UpdatedEvent, Event{Type: EventServerReady, Port: port, URL: url})
	}

	err := cmd.Wait()
	log.Debug(log.CatRuntime, "process exited", "command", cmd.String(), "error", err)
	for port := range ports {
		h.events.Publish(pubsub.UpdatedEvent, Event{Type: EventPort, Port: port, PortType: PortClose})
	}
}

func (h *HostInstance) forwardChanges(changes <-chan []string) {
	for {
		select {
		case <-h.done:
			return
		case paths, ok := <-changes:
			if !ok {
				return
			}
			for _, hostPath := range paths {
				rel, err := filepath.Rel(h.cfg.Root, hostPath)
				if err != nil {
					continue
				}
				h.events.Publish(pubsub.UpdatedEvent, Event{
					Type: EventFileChange,
					Path: path.Join(h.cfg.Workdir, filepath.ToSlash(rel)),
				})
			}
		}
	}
}

// Close stops the watcher, kills background processes, and closes the
// event broker. Later calls return the first call's result.
func (h *HostInstance) Close() error {
	h.closeOnce.Do(func() {
		close(h.done)
		if h.watcher != nil {
			h.closeErr = h.watcher.Stop()
		}

		h.mu.Lock()
		for _, cmd := range h.procs {
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
		}
		h.procs = nil
		h.mu.Unlock()

		h.events.Close()
	})
	return h.closeErr
}

func (h *HostInstance) hostPath(p string) (string, error) {
	p, err := withinWorkdir(h.cfg.Workdir, p)
	if err != nil {
		return "", err
	}
	rel := p[len(h.cfg.Workdir):]
	return filepath.Join(h.cfg.Root, filepath.FromSlash(rel)), nil
}

type hostFS struct{ h *HostInstance }

func (f hostFS) Mkdir(_ context.Context, p string) error {
	hp, err := f.h.hostPath(p)
	if err != nil {
		return err
	}
	return os.MkdirAll(hp, 0o755)
}

func (f hostFS) WriteFile(_ context.Context, p string, data []byte) error {
	hp, err := f.h.hostPath(p)
	if err != nil {
		return err
	}
	return os.WriteFile(hp, data, 0o644) //nolint:gosec // G306: project files are meant to be readable
}

func (f hostFS) ReadFile(_ context.Context, p string) ([]byte, error) {
	hp, err := f.h.hostPath(p)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(hp) //nolint:gosec // G304: path confined to the runtime root
}

func (f hostFS) Remove(_ context.Context, p string) error {
	hp, err := f.h.hostPath(p)
	if err != nil {
		return err
	}
	return os.RemoveAll(hp)
}
