package workbench

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/zjrosen/kiln/internal/runtime"
)

// runtimeMirror replays file table mutations into the runtime
// filesystem, booting it on first use. Paths outside the working
// directory and an unavailable runtime are skipped.
type runtimeMirror struct {
	handle  *runtime.Handle
	workdir string
}

func (m *runtimeMirror) fs(ctx context.Context, p string) (runtime.FS, error) {
	p = path.Clean(p)
	if p == m.workdir || !strings.HasPrefix(p, m.workdir+"/") {
		return nil, nil
	}
	inst, err := m.handle.Get(ctx)
	if errors.Is(err, runtime.ErrCapabilityUnavailable) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return inst.FS(), nil
}

func (m *runtimeMirror) Mkdir(ctx context.Context, p string) error {
	fs, err := m.fs(ctx, p)
	if fs == nil {
		return err
	}
	return fs.Mkdir(ctx, p)
}

func (m *runtimeMirror) WriteFile(ctx context.Context, p string, data []byte) error {
	fs, err := m.fs(ctx, p)
	if fs == nil {
		return err
	}
	return fs.WriteFile(ctx, p, data)
}

func (m *runtimeMirror) Remove(ctx context.Context, p string) error {
	fs, err := m.fs(ctx, p)
	if fs == nil {
		return err
	}
	return fs.Remove(ctx, p)
}
