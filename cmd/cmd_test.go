package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/kiln/internal/filetable"
	"github.com/zjrosen/kiln/internal/history"
	"github.com/zjrosen/kiln/internal/runtime"
	"github.com/zjrosen/kiln/internal/workbench"
)

const todoEvents = `// recorded from a chat
{"kind": "artifact-open", "messageId": "a1", "artifactId": "todo", "payload": {"title": "Todo App"}}
{"kind": "action-append", "messageId": "a1", "actionId": "1", "payload": {"type": "file", "filePath": "index.js", "content": "console.log('todo')"}}
{"kind": "action-run", "messageId": "a1", "actionId": "1"}
{"kind": "action-append", "messageId": "a1", "actionId": "2", "payload": {"type": "shell", "command": "npm install",},}
{"kind": "action-run", "messageId": "a1", "actionId": "2"}
{"kind": "artifact-update", "messageId": "a1", "payload": {"closed": true}}
`

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	require.NoError(t, err, out.String())
	return out.String()
}

func TestApplyEvents(t *testing.T) {
	mem := runtime.NewMemory(workbench.DefaultWorkdir)
	w := workbench.New(workbench.Options{Runtime: runtime.NewHandle(mem.Booter())})
	t.Cleanup(w.Close)

	applied, failed, err := applyEvents(context.Background(), w, strings.NewReader(todoEvents))
	require.NoError(t, err)
	require.Equal(t, 6, applied)
	require.Zero(t, failed)

	f, ok := w.Files()["/home/project/index.js"].(*filetable.File)
	require.True(t, ok)
	require.Equal(t, "console.log('todo')", f.Text())
	require.Equal(t, []string{"npm install"}, mem.Commands())
}

func TestApplyEvents_CountsFailures(t *testing.T) {
	w := workbench.New(workbench.Options{})
	t.Cleanup(w.Close)

	events := `{"kind": "action-append", "messageId": "missing", "actionId": "1", "payload": {"type": "shell", "command": "ls"}}
{"kind": "artifact-open", "messageId": "m1"}
`
	applied, failed, err := applyEvents(context.Background(), w, strings.NewReader(events))
	require.NoError(t, err)
	require.Equal(t, 1, applied)
	require.Equal(t, 1, failed)
}

func TestApplyEvents_MalformedLineStops(t *testing.T) {
	w := workbench.New(workbench.Options{})
	t.Cleanup(w.Close)

	_, _, err := applyEvents(context.Background(), w, strings.NewReader("{\"kind\": \"artifact-open\"}\nnot json\n"))
	require.ErrorContains(t, err, "line 2")
}

func TestCLI_ImportRunExport(t *testing.T) {
	t.Cleanup(viper.Reset)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	t.Setenv("KILN_HISTORY_DB_PATH", filepath.Join(dir, "history.db"))

	execute(t, "config", "init", cfgPath)
	execute(t, "--config", cfgPath, "config", "set", "runtime.kind", "memory")

	chatFile := filepath.Join(dir, "chat.json")
	require.NoError(t, os.WriteFile(chatFile, []byte(`{
		// exported by hand
		"description": "Todo App",
		"messages": [
			{"id": "u1", "role": "user", "content": "Build a todo app"},
			{"id": "a1", "role": "assistant", "content": "Here it is"},
		],
	}`), 0o600))
	out := execute(t, "--config", cfgPath, "history", "import", chatFile)
	require.Contains(t, out, "imported chat 1")

	eventsFile := filepath.Join(dir, "events.jsonl")
	require.NoError(t, os.WriteFile(eventsFile, []byte(todoEvents), 0o600))
	out = execute(t, "--config", cfgPath, "run", "--chat", "1", "--snapshot", eventsFile)
	require.Contains(t, out, "events")

	syncDir := filepath.Join(dir, "site")
	out = execute(t, "--config", cfgPath, "export", "--chat", "1", "--sync", syncDir)
	require.Contains(t, out, "wrote 1 files")
	data, err := os.ReadFile(filepath.Join(syncDir, "index.js"))
	require.NoError(t, err)
	require.Equal(t, "console.log('todo')", string(data))

	out = execute(t, "--config", cfgPath, "history", "show", "1")
	require.Contains(t, out, "Restored project")
	require.Contains(t, out, "/home/project/index.js")

	out = execute(t, "--config", cfgPath, "history", "list")
	require.Contains(t, out, "Todo App")
}

func newRestoreSession(t *testing.T, anchor string) *session {
	t.Helper()
	ctx := context.Background()
	store, err := history.OpenSQLite(ctx, filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.SetMessages(ctx, history.ChatHistoryItem{
		ID: "1",
		Messages: []history.Message{
			{ID: "m1", Role: history.RoleUser, Content: "build it"},
			{ID: "m2", Role: history.RoleAssistant, Content: "built"},
		},
	}))
	require.NoError(t, store.SetSnapshot(ctx, "1", history.Snapshot{
		ChatIndex: anchor,
		Files: filetable.FileMap{
			"/home/project":          &filetable.Folder{},
			"/home/project/index.js": &filetable.File{Content: []byte("restored")},
		},
	}))

	mem := runtime.NewMemory(workbench.DefaultWorkdir)
	w := workbench.New(workbench.Options{Runtime: runtime.NewHandle(mem.Booter()), History: store})
	t.Cleanup(w.Close)
	return &session{bench: w, store: store}
}

func TestRestoreChat_WritesSnapshotThroughLoader(t *testing.T) {
	s := newRestoreSession(t, "m2")

	res, err := s.restoreChat(context.Background(), "1", "")
	require.NoError(t, err)
	require.Len(t, res.Archived, 2)

	f, ok := s.bench.Files()["/home/project/index.js"].(*filetable.File)
	require.True(t, ok)
	require.Equal(t, "restored", f.Text())
}

func TestRestoreChat_DanglingAnchorIsNoSnapshot(t *testing.T) {
	s := newRestoreSession(t, "gone")

	res, err := s.restoreChat(context.Background(), "1", "")
	require.ErrorIs(t, err, errNoSnapshot)
	require.Len(t, res.Messages, 2)
	require.NotContains(t, s.bench.Files(), "/home/project/index.js")
}

func TestRestoreChat_RewindBeforeAnchorIsNoSnapshot(t *testing.T) {
	s := newRestoreSession(t, "m2")

	_, err := s.restoreChat(context.Background(), "1", "m1")
	require.ErrorIs(t, err, errNoSnapshot)
	require.NotContains(t, s.bench.Files(), "/home/project/index.js")
}

func TestRestoreChat_AnchorAtFirstMessageRestores(t *testing.T) {
	s := newRestoreSession(t, "m1")

	res, err := s.restoreChat(context.Background(), "1", "")
	require.NoError(t, err)
	require.Len(t, res.Archived, 1)
	require.Contains(t, s.bench.Files(), "/home/project/index.js")
}
