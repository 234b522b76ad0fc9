package runtime

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryFS_WriteRequiresParent(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory("/home/project")
	fs := mem.FS()

	err := fs.WriteFile(ctx, "/home/project/src/a.ts", []byte("a"))
	require.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, fs.Mkdir(ctx, "/home/project/src"))
	require.NoError(t, fs.WriteFile(ctx, "/home/project/src/a.ts", []byte("a")))

	data, err := fs.ReadFile(ctx, "/home/project/src/a.ts")
	require.NoError(t, err)
	require.Equal(t, "a", string(data))
}

func TestMemoryFS_RejectsPathsOutsideWorkdir(t *testing.T) {
	ctx := context.Background()
	fs := NewMemory("/home/project").FS()

	require.ErrorIs(t, fs.Mkdir(ctx, "/etc"), ErrOutsideWorkdir)
	require.ErrorIs(t, fs.WriteFile(ctx, "/home/project/../x", nil), ErrOutsideWorkdir)
	require.ErrorIs(t, fs.WriteFile(ctx, "/home/projectx/a", nil), ErrOutsideWorkdir)
}

func TestMemoryFS_RemoveIsRecursive(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory("/home/project")
	fs := mem.FS()

	require.NoError(t, fs.Mkdir(ctx, "/home/project/src/lib"))
	require.NoError(t, fs.WriteFile(ctx, "/home/project/src/lib/a.ts", nil))
	require.NoError(t, fs.Mkdir(ctx, "/home/project/srcx"))

	require.NoError(t, fs.Remove(ctx, "/home/project/src"))
	require.Equal(t, []string{"/home/project/", "/home/project/srcx/"}, mem.Paths())
}

func TestMemory_RecordsCommands(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory("/home/project", WithRunFunc(func(cmd string) (*ProcessResult, error) {
		if cmd == "false" {
			return &ProcessResult{ExitCode: 1}, nil
		}
		return &ProcessResult{Output: "ok"}, nil
	}))

	res, err := mem.Run(ctx, "npm install")
	require.NoError(t, err)
	require.Equal(t, "ok", res.Output)

	require.Error(t, mem.Start(ctx, "false"))
	require.Equal(t, []string{"npm install", "false"}, mem.Commands())
}
