package action

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/zjrosen/kiln/internal/alert"
	"github.com/zjrosen/kiln/internal/document"
	"github.com/zjrosen/kiln/internal/log"
	"github.com/zjrosen/kiln/internal/runtime"
)

// FileWriter is the part of the file table a runner writes through.
type FileWriter interface {
	CreateFile(ctx context.Context, p string, content []byte, isBinary bool) error
	ResetModifications()
}

// Editor is the part of the document projection a runner drives.
type Editor interface {
	SetSelectedFile(p string)
	SelectedFile() string
	SetView(v document.View)
	View() document.View
	UpdateFile(p, value string) bool
}

// Runtime hands out the booted execution runtime.
type Runtime interface {
	Get(ctx context.Context) (runtime.Instance, error)
}

// Alerts are the sinks a runner reports to.
type Alerts struct {
	Action   alert.Sink
	Database alert.Sink
	Deploy   alert.Sink
}

// Config wires a Runner to its collaborators.
type Config struct {
	Workdir string
	Files   FileWriter
	Editor  Editor
	Runtime Runtime
	Alerts  Alerts
}

// Runner owns the ordered actions of one artifact. Callers serialize
// AddAction and non-streaming RunAction calls.
type Runner struct {
	artifactID string
	cfg        Config

	mu      sync.Mutex
	actions map[string]*State
	order   []string
}

// NewRunner creates a runner for artifactID.
func NewRunner(artifactID string, cfg Config) *Runner {
	if cfg.Alerts.Action == nil {
		cfg.Alerts.Action = alert.Discard
	}
	if cfg.Alerts.Database == nil {
		cfg.Alerts.Database = alert.Discard
	}
	if cfg.Alerts.Deploy == nil {
		cfg.Alerts.Deploy = alert.Discard
	}
	return &Runner{
		artifactID: artifactID,
		cfg:        cfg,
		actions:    make(map[string]*State),
	}
}

// ArtifactID returns the artifact this runner belongs to.
func (r *Runner) ArtifactID() string { return r.artifactID }

// AddAction registers a pending action. Registering an id twice keeps
// the first registration.
func (r *Runner) AddAction(data Data) error {
	if data.Action == nil {
		return fmt.Errorf("action %s: %w", data.ActionID, ErrNilAction)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.actions[data.ActionID]; ok {
		return nil
	}
	r.actions[data.ActionID] = &State{
		ID:         data.ActionID,
		ArtifactID: r.artifactID,
		Action:     data.Action,
		Status:     StatusPending,
	}
	r.order = append(r.order, data.ActionID)
	return nil
}

// Runnable reports whether RunAction with the same arguments would do
// any work.
func (r *Runner) Runnable(data Data, streaming bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.actions[data.ActionID]
	if !ok || state.Executed {
		return false
	}
	act := state.Action
	if data.Action != nil {
		act = data.Action
	}
	_, isFile := act.(FileAction)
	return isFile || !streaming
}

// States returns every action in registration order.
func (r *Runner) States() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.actions[id])
	}
	return out
}

// State returns one action.
func (r *Runner) State(actionID string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.actions[actionID]
	if !ok {
		return State{}, false
	}
	return *s, true
}

// RunAction executes the action. Unknown and already executed actions
// are ignored. While streaming, file actions only update the editor and
// every other action waits for the final, non-streaming call.
func (r *Runner) RunAction(ctx context.Context, data Data, streaming bool) error {
	r.mu.Lock()
	state, ok := r.actions[data.ActionID]
	if !ok || state.Executed {
		r.mu.Unlock()
		return nil
	}
	if data.Action != nil {
		state.Action = data.Action
	}
	act := state.Action
	if _, isFile := act.(FileAction); !isFile && streaming {
		r.mu.Unlock()
		return nil
	}
	state.Status = StatusRunning
	if !streaming {
		state.Executed = true
	}
	r.mu.Unlock()

	log.Debug(log.CatRunner, "running action",
		"artifact", r.artifactID, "action", data.ActionID, "type", act.Type(), "streaming", streaming)

	var err error
	switch a := act.(type) {
	case FileAction:
		err = r.runFile(ctx, a, streaming)
	case ShellAction:
		err = r.runCommand(ctx, a.Command, false)
	case StartAction:
		err = r.runCommand(ctx, a.Command, true)
	case BuildAction:
		err = r.runBuild(ctx, a)
	case DatabaseAction:
		r.runDatabase(a)
	default:
		panic(fmt.Sprintf("action: unhandled type %T", act))
	}

	if streaming && err == nil {
		return nil
	}
	r.finish(data.ActionID, err)
	if err != nil {
		return fmt.Errorf("action %s: %w", data.ActionID, err)
	}
	return nil
}

func (r *Runner) finish(actionID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state := r.actions[actionID]
	if err != nil {
		state.Status = StatusFailed
		state.Error = err.Error()
		return
	}
	state.Status = StatusComplete
}

func (r *Runner) runFile(ctx context.Context, a FileAction, streaming bool) error {
	fullPath := ResolvePath(r.cfg.Workdir, a.FilePath)

	if r.cfg.Editor.SelectedFile() != fullPath {
		r.cfg.Editor.SetSelectedFile(fullPath)
	}
	if r.cfg.Editor.View() != document.ViewCode {
		r.cfg.Editor.SetView(document.ViewCode)
	}
	r.cfg.Editor.UpdateFile(fullPath, a.Content)

	if streaming {
		return nil
	}
	if err := r.cfg.Files.CreateFile(ctx, fullPath, []byte(a.Content), false); err != nil {
		log.ErrorErr(log.CatRunner, "file action failed", err, "path", fullPath)
		r.cfg.Alerts.Action(alert.Alert{
			Channel:     alert.ChannelAction,
			Level:       alert.LevelError,
			Title:       "File write failed",
			Description: fullPath,
			Content:     err.Error(),
			Source:      alert.SourceWorkbench,
		})
		return err
	}
	r.cfg.Files.ResetModifications()
	return nil
}

// ResolvePath places p under workdir unless it already lies there.
func ResolvePath(workdir, p string) string {
	if strings.HasPrefix(p, workdir+"/") {
		return path.Clean(p)
	}
	return path.Join(workdir, p)
}

func (r *Runner) runCommand(ctx context.Context, command string, background bool) error {
	inst, err := r.cfg.Runtime.Get(ctx)
	if err != nil {
		r.alertCommand(r.cfg.Alerts.Action, alert.ChannelAction, "Runtime unavailable", command, err.Error())
		return err
	}

	if background {
		if err := inst.Start(ctx, command); err != nil {
			r.alertCommand(r.cfg.Alerts.Action, alert.ChannelAction, "Dev Server Failed", command, err.Error())
			return err
		}
		return nil
	}

	res, err := inst.Run(ctx, command)
	if err != nil {
		r.alertCommand(r.cfg.Alerts.Action, alert.ChannelAction, "Command Failed", command, err.Error())
		return err
	}
	if res.ExitCode != 0 {
		r.alertCommand(r.cfg.Alerts.Action, alert.ChannelAction, "Command Failed", command, res.Output)
		return fmt.Errorf("command %q exited with code %d", command, res.ExitCode)
	}
	return nil
}

func (r *Runner) runBuild(ctx context.Context, a BuildAction) error {
	inst, err := r.cfg.Runtime.Get(ctx)
	if err != nil {
		r.alertCommand(r.cfg.Alerts.Deploy, alert.ChannelDeploy, "Build Failed", a.Command, err.Error())
		return err
	}
	res, err := inst.Run(ctx, a.Command)
	if err != nil {
		r.alertCommand(r.cfg.Alerts.Deploy, alert.ChannelDeploy, "Build Failed", a.Command, err.Error())
		return err
	}
	if res.ExitCode != 0 {
		r.alertCommand(r.cfg.Alerts.Deploy, alert.ChannelDeploy, "Build Failed", a.Command, res.Output)
		return fmt.Errorf("build %q exited with code %d", a.Command, res.ExitCode)
	}
	r.cfg.Alerts.Deploy(alert.Alert{
		Channel:     alert.ChannelDeploy,
		Level:       alert.LevelInfo,
		Title:       "Build Complete",
		Description: a.Command,
		Source:      alert.SourceTerminal,
		Stage:       "building",
	})
	return nil
}

func (r *Runner) runDatabase(a DatabaseAction) {
	r.cfg.Alerts.Database(alert.Alert{
		Channel:     alert.ChannelDatabase,
		Level:       alert.LevelInfo,
		Title:       "Database " + a.Operation,
		Description: a.FilePath,
		Content:     a.Content,
		Source:      alert.SourceWorkbench,
	})
}

func (r *Runner) alertCommand(sink alert.Sink, ch alert.Channel, title, command, output string) {
	log.Warn(log.CatRunner, title, "artifact", r.artifactID, "command", command)
	sink(alert.Alert{
		Channel:     ch,
		Level:       alert.LevelError,
		Title:       title,
		Description: command,
		Content:     output,
		Source:      alert.SourceTerminal,
	})
}
