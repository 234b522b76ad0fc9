package action

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/kiln/internal/alert"
	"github.com/zjrosen/kiln/internal/document"
	"github.com/zjrosen/kiln/internal/filetable"
	"github.com/zjrosen/kiln/internal/runtime"
)

const workdir = "/home/project"

type alertLog struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (l *alertLog) sink(a alert.Alert) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.alerts = append(l.alerts, a)
}

func (l *alertLog) all() []alert.Alert {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]alert.Alert(nil), l.alerts...)
}

type fixture struct {
	t      *testing.T
	runner *Runner
	table  *filetable.Table
	docs   *document.Store
	mem    *runtime.MemoryInstance
	alerts *alertLog
}

func newFixture(t *testing.T, opts ...runtime.MemoryOption) *fixture {
	t.Helper()
	mem := runtime.NewMemory(workdir, opts...)
	handle := runtime.NewHandle(mem.Booter())
	t.Cleanup(func() { _ = handle.Close() })

	table := filetable.New(filetable.WithMirror(mem.FS()))
	docs := document.NewStore()
	alerts := &alertLog{}

	runner := NewRunner("artifact-1", Config{
		Workdir: workdir,
		Files:   table,
		Editor:  docs,
		Runtime: handle,
		Alerts:  Alerts{Action: alerts.sink, Database: alerts.sink, Deploy: alerts.sink},
	})
	return &fixture{t: t, runner: runner, table: table, docs: docs, mem: mem, alerts: alerts}
}

func (f *fixture) add(id string, a Action) Data {
	data := Data{MessageID: "msg-1", ArtifactID: "artifact-1", ActionID: id, Action: a}
	require.NoError(f.t, f.runner.AddAction(data))
	return data
}

func TestRunAction_FileWritesTableAndDocument(t *testing.T) {
	f := newFixture(t)
	f.docs.SetView(document.ViewPreview)
	data := f.add("a1", FileAction{FilePath: "src/main.ts", Content: "console.log(1)"})

	require.NoError(t, f.runner.RunAction(context.Background(), data, false))

	file, ok := f.table.GetFile(workdir + "/src/main.ts")
	require.True(t, ok)
	require.Equal(t, "console.log(1)", file.Text())
	require.Equal(t, workdir+"/src/main.ts", f.docs.SelectedFile())
	require.Equal(t, document.ViewCode, f.docs.View())
	require.Empty(t, f.table.ModifiedFiles())

	state, _ := f.runner.State("a1")
	require.Equal(t, StatusComplete, state.Status)
	require.True(t, state.Executed)
}

func TestRunAction_StreamingFileOnlyTouchesEditor(t *testing.T) {
	f := newFixture(t)
	data := f.add("a1", FileAction{FilePath: "index.html", Content: "<h"})

	require.NoError(t, f.runner.RunAction(context.Background(), data, true))

	_, ok := f.table.GetFile(workdir + "/index.html")
	require.False(t, ok)
	doc, ok := f.docs.Document(workdir + "/index.html")
	require.True(t, ok)
	require.Equal(t, "<h", doc.Value)

	state, _ := f.runner.State("a1")
	require.False(t, state.Executed)

	data.Action = FileAction{FilePath: "index.html", Content: "<html></html>"}
	require.NoError(t, f.runner.RunAction(context.Background(), data, false))
	file, ok := f.table.GetFile(workdir + "/index.html")
	require.True(t, ok)
	require.Equal(t, "<html></html>", file.Text())
}

func TestRunAction_ExecutedActionIsNoop(t *testing.T) {
	f := newFixture(t)
	data := f.add("a1", ShellAction{Command: "npm install"})

	require.NoError(t, f.runner.RunAction(context.Background(), data, false))
	require.NoError(t, f.runner.RunAction(context.Background(), data, false))
	require.NoError(t, f.runner.RunAction(context.Background(), data, true))

	require.Equal(t, []string{"npm install"}, f.mem.Commands())
}

func TestRunAction_StreamingCommandWaitsForFinalCall(t *testing.T) {
	f := newFixture(t)
	data := f.add("a1", ShellAction{Command: "ls"})

	for range 5 {
		require.NoError(t, f.runner.RunAction(context.Background(), data, true))
	}
	require.Empty(t, f.mem.Commands())

	require.NoError(t, f.runner.RunAction(context.Background(), data, false))
	require.Equal(t, []string{"ls"}, f.mem.Commands())
}

func TestRunAction_UnknownActionIsNoop(t *testing.T) {
	f := newFixture(t)
	err := f.runner.RunAction(context.Background(), Data{ActionID: "missing", Action: ShellAction{Command: "ls"}}, false)
	require.NoError(t, err)
	require.Empty(t, f.mem.Commands())
}

func TestRunAction_FailedCommandAlerts(t *testing.T) {
	f := newFixture(t, runtime.WithRunFunc(func(string) (*runtime.ProcessResult, error) {
		return &runtime.ProcessResult{ExitCode: 1, Output: "npm ERR! missing script"}, nil
	}))
	data := f.add("a1", ShellAction{Command: "npm run lint"})

	err := f.runner.RunAction(context.Background(), data, false)
	require.Error(t, err)

	state, _ := f.runner.State("a1")
	require.Equal(t, StatusFailed, state.Status)
	require.NotEmpty(t, state.Error)

	alerts := f.alerts.all()
	require.Len(t, alerts, 1)
	require.Equal(t, alert.ChannelAction, alerts[0].Channel)
	require.Equal(t, "npm ERR! missing script", alerts[0].Content)
}

func TestRunAction_LockedFileFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.table.CreateFile(ctx, workdir+"/README.md", []byte("keep"), false))
	require.NoError(t, f.table.LockFile(workdir+"/README.md"))

	data := f.add("a1", FileAction{FilePath: "README.md", Content: "overwrite"})
	err := f.runner.RunAction(ctx, data, false)
	require.ErrorIs(t, err, filetable.ErrLocked)

	file, _ := f.table.GetFile(workdir + "/README.md")
	require.Equal(t, "keep", file.Text())
	require.Len(t, f.alerts.all(), 1)
}

func TestRunAction_StartAndBuildAndDatabase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	start := f.add("a1", StartAction{Command: "npm run dev"})
	build := f.add("a2", BuildAction{Command: "npm run build"})
	db := f.add("a3", DatabaseAction{Operation: "migration", FilePath: "db/001.sql", Content: "create table t(id int);"})

	require.NoError(t, f.runner.RunAction(ctx, start, false))
	require.NoError(t, f.runner.RunAction(ctx, build, false))
	require.NoError(t, f.runner.RunAction(ctx, db, false))

	require.Equal(t, []string{"npm run dev", "npm run build"}, f.mem.Commands())

	alerts := f.alerts.all()
	require.Len(t, alerts, 2)
	require.Equal(t, alert.ChannelDeploy, alerts[0].Channel)
	require.Equal(t, alert.ChannelDatabase, alerts[1].Channel)
	require.Equal(t, "create table t(id int);", alerts[1].Content)

	for _, s := range f.runner.States() {
		require.Equal(t, StatusComplete, s.Status, s.ID)
	}
}

func TestRunAction_UnavailableRuntime(t *testing.T) {
	alerts := &alertLog{}
	runner := NewRunner("artifact-1", Config{
		Workdir: workdir,
		Files:   filetable.New(),
		Editor:  document.NewStore(),
		Runtime: runtime.NewHandle(runtime.NewMemory(workdir).Booter(), runtime.WithAvailable(false)),
		Alerts:  Alerts{Action: alerts.sink},
	})
	data := Data{ActionID: "a1", Action: ShellAction{Command: "ls"}}
	require.NoError(t, runner.AddAction(data))

	err := runner.RunAction(context.Background(), data, false)
	require.ErrorIs(t, err, runtime.ErrCapabilityUnavailable)
	require.Len(t, alerts.all(), 1)
}

func TestAddAction_KeepsFirstRegistration(t *testing.T) {
	f := newFixture(t)
	f.add("a1", ShellAction{Command: "first"})
	f.add("a1", ShellAction{Command: "second"})
	f.add("a2", ShellAction{Command: "third"})

	states := f.runner.States()
	require.Len(t, states, 2)
	require.Equal(t, ShellAction{Command: "first"}, states[0].Action)
	require.Equal(t, "a2", states[1].ID)
}

func TestResolvePath(t *testing.T) {
	require.Equal(t, workdir+"/a.txt", ResolvePath(workdir, "a.txt"))
	require.Equal(t, workdir+"/a.txt", ResolvePath(workdir, "/a.txt"))
	require.Equal(t, workdir+"/src/a.txt", ResolvePath(workdir, workdir+"/src/a.txt"))
}

func TestAddAction_RejectsNilAction(t *testing.T) {
	f := newFixture(t)

	err := f.runner.AddAction(Data{ActionID: "a1"})
	require.ErrorIs(t, err, ErrNilAction)
	require.Empty(t, f.runner.States())
	require.NoError(t, f.runner.RunAction(context.Background(), Data{ActionID: "a1"}, true))
}

func TestRunnable(t *testing.T) {
	f := newFixture(t)
	file := f.add("a1", FileAction{FilePath: "a.txt", Content: "a"})
	shell := f.add("a2", ShellAction{Command: "ls"})

	require.True(t, f.runner.Runnable(file, true))
	require.True(t, f.runner.Runnable(file, false))
	require.False(t, f.runner.Runnable(shell, true))
	require.True(t, f.runner.Runnable(shell, false))
	require.False(t, f.runner.Runnable(Data{ActionID: "missing"}, false))

	require.NoError(t, f.runner.RunAction(context.Background(), shell, false))
	require.False(t, f.runner.Runnable(shell, false))
}
