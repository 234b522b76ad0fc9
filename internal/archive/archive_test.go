package archive

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/kiln/internal/filetable"
)

func sampleFiles() filetable.FileMap {
	return filetable.FileMap{
		"/home":                     &filetable.Folder{},
		"/home/project":             &filetable.Folder{},
		"/home/project/a.txt":       &filetable.File{Content: []byte("alpha")},
		"/home/project/sub":         &filetable.Folder{},
		"/home/project/sub/b.txt":   &filetable.File{Content: []byte("beta")},
		"/home/project/bin.png":     &filetable.File{Content: []byte{0x89, 0x50}, IsBinary: true},
		"/home/elsewhere/stray.txt": &filetable.File{Content: []byte("outside")},
	}
}

func TestBuild_IncludesOnlyTextFilesUnderRoot(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a, err := Build(sampleFiles(), "/home/project", "My Cool App!", now)
	require.NoError(t, err)
	require.Regexp(t, `^my_cool_app_[0-9a-f]{6}\.zip$`, a.Name)

	zr, err := zip.NewReader(bytes.NewReader(a.Data), int64(len(a.Data)))
	require.NoError(t, err)

	got := make(map[string]string)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		got[f.Name] = string(data)
	}
	require.Equal(t, map[string]string{"a.txt": "alpha", "sub/b.txt": "beta"}, got)
}

func TestName_StableForSameInstant(t *testing.T) {
	now := time.Unix(1700000000, 0)
	require.Equal(t, Name("x", now), Name("x", now))
	require.NotEqual(t, Name("x", now), Name("x", now.Add(time.Millisecond)))
	require.Regexp(t, `^project_[0-9a-f]{6}\.zip$`, Name("  ***  ", now))
}

func TestSlug(t *testing.T) {
	require.Equal(t, "todo_app", Slug("Todo App"))
	require.Equal(t, "a_b", Slug("--a..b--"))
	require.Equal(t, DefaultSlug, Slug(""))
}

func TestSyncToDirectory(t *testing.T) {
	dir := t.TempDir()
	written, err := SyncToDirectory(sampleFiles(), "/home/project", dir)
	require.NoError(t, err)

	sort.Strings(written)
	require.Equal(t, []string{"a.txt", "sub/b.txt"}, written)

	data, err := os.ReadFile(filepath.Join(dir, "sub", "b.txt"))
	require.NoError(t, err)
	require.Equal(t, "beta", string(data))

	_, err = os.Stat(filepath.Join(dir, "bin.png"))
	require.True(t, os.IsNotExist(err))
}

func TestTextFiles_RootSlash(t *testing.T) {
	files := TextFiles(filetable.FileMap{"/x.txt": &filetable.File{Content: []byte("x")}}, "/")
	require.Equal(t, map[string]string{"x.txt": "x"}, files)
}
