package workbench

import (
	"archive/zip"
	"bytes"
	"context"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/kiln/internal/filetable"
	"github.com/zjrosen/kiln/internal/history"
	"github.com/zjrosen/kiln/internal/runtime"
)

func seedProject(t *testing.T, b *testBench) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, b.CreateFile(ctx, "/home/project/a.txt", []byte("alpha"), false))
	require.NoError(t, b.CreateFile(ctx, "/home/project/sub/b.txt", []byte("beta"), false))
	require.NoError(t, b.CreateFile(ctx, "/home/project/bin.png", []byte{0x89, 'P', 'N', 'G', 0x00}, true))
	require.NoError(t, b.CreateFolder(ctx, "/home/project/empty"))
}

func TestExportProjectArchive_ExcludesBinary(t *testing.T) {
	b := newTestBench(t, Options{})
	seedProject(t, b)

	a, err := b.ExportProjectArchive("My Project")
	require.NoError(t, err)
	require.Regexp(t, `^my_project_[0-9a-f]{6}\.zip$`, a.Name)

	zr, err := zip.NewReader(bytes.NewReader(a.Data), int64(len(a.Data)))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	require.Equal(t, []string{"a.txt", "sub/b.txt"}, names)
}

func TestSyncToLocalDirectory(t *testing.T) {
	b := newTestBench(t, Options{})
	seedProject(t, b)

	dir := t.TempDir()
	written, err := b.SyncToLocalDirectory(dir)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a.txt", "sub/b.txt"}, written)
	require.FileExists(t, filepath.Join(dir, "sub", "b.txt"))
	require.NoFileExists(t, filepath.Join(dir, "bin.png"))
}

func TestSnapshot_RoundTripThroughStore(t *testing.T) {
	ctx := context.Background()
	store, err := history.OpenSQLite(ctx, filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	source := newTestBench(t, Options{History: store})
	seedProject(t, source)
	require.NoError(t, source.TakeSnapshot(ctx, "chat-1", "msg-4", "a small project"))

	snap, err := store.GetSnapshot(ctx, "chat-1")
	require.NoError(t, err)
	require.Equal(t, "msg-4", snap.ChatIndex)

	target := newTestBench(t, Options{History: store})
	require.NoError(t, target.RestoreSnapshot(ctx, snap.Files))

	require.Equal(t, source.Files(), target.Files())

	png, err := target.mem.FS().ReadFile(ctx, "/home/project/bin.png")
	require.NoError(t, err)
	require.Equal(t, []byte{0x89, 'P', 'N', 'G', 0x00}, png)

	doc, ok := target.Documents().Document("/home/project/sub/b.txt")
	require.True(t, ok)
	require.Equal(t, "beta", doc.Value)
	_, ok = target.Documents().Document("/home/project/bin.png")
	require.False(t, ok, "binary files have no document")
}

func TestRestoreSnapshot_RelativeKeysRootedUnderWorkdir(t *testing.T) {
	ctx := context.Background()
	b := newTestBench(t, Options{})

	require.NoError(t, b.RestoreSnapshot(ctx, filetable.FileMap{
		"src":        &filetable.Folder{},
		"src/app.js": &filetable.File{Content: []byte("app")},
		"/home":      &filetable.Folder{},
	}))

	f, ok := b.Files()["/home/project/src/app.js"].(*filetable.File)
	require.True(t, ok)
	require.Equal(t, "app", f.Text())
}

func TestRestoreSnapshot_ForeignWorkdirRejected(t *testing.T) {
	ctx := context.Background()
	b := newTestBench(t, Options{})
	alerts := collectAlerts(t, b.Workbench)

	err := b.RestoreSnapshot(ctx, filetable.FileMap{
		"/home/project/ok.txt":   &filetable.File{Content: []byte("ok")},
		"/home/other/secret.txt": &filetable.File{Content: []byte("no")},
	})
	require.ErrorIs(t, err, ErrForeignWorkdir)
	require.Empty(t, b.Files(), "nothing is written when validation fails")
	require.Len(t, alerts(), 1)
}

func TestRestoreSnapshot_ClearsUnsaved(t *testing.T) {
	ctx := context.Background()
	b := newTestBench(t, Options{})
	require.NoError(t, b.CreateFile(ctx, appPath, []byte("v1"), false))
	b.SetSelectedFile(appPath)
	b.SetCurrentDocumentContent("draft")

	require.NoError(t, b.RestoreSnapshot(ctx, filetable.FileMap{appPath: &filetable.File{Content: []byte("restored")}}))
	require.Empty(t, b.UnsavedFiles())
	doc, _ := b.Documents().Document(appPath)
	require.Equal(t, "restored", doc.Value)
}

func TestLoaderRestoresIntoWorkbench(t *testing.T) {
	ctx := context.Background()
	store, err := history.OpenSQLite(ctx, filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.SetMessages(ctx, history.ChatHistoryItem{
		ID: "1",
		Messages: []history.Message{
			{ID: "u1", Role: history.RoleUser, Content: "build"},
			{ID: "a1", Role: history.RoleAssistant, Content: "built"},
			{ID: "u2", Role: history.RoleUser, Content: "more"},
		},
	}))
	require.NoError(t, store.SetSnapshot(ctx, "1", history.Snapshot{
		ChatIndex: "a1",
		Files:     filetable.FileMap{"/home/project/index.html": &filetable.File{Content: []byte("<h1>hi</h1>")}},
	}))

	mem := runtime.NewMemory(DefaultWorkdir)
	b := newTestBench(t, Options{History: store, Runtime: runtime.NewHandle(mem.Booter())})

	res, err := history.NewLoader(store, b.Workbench, b.Workdir()).Load(ctx, "1", "")
	require.NoError(t, err)
	require.NotNil(t, res.Restore)
	require.NoError(t, <-res.Restore)

	onDisk, err := mem.FS().ReadFile(ctx, "/home/project/index.html")
	require.NoError(t, err)
	require.Equal(t, "<h1>hi</h1>", string(onDisk))
}
