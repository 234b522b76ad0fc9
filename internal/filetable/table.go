package filetable

import (
	"context"
	"fmt"
	"sync"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Mirror receives every mutation applied to the table. The runtime
// filesystem implements it so the table and the sandbox stay in step.
type Mirror interface {
	Mkdir(ctx context.Context, path string) error
	WriteFile(ctx context.Context, path string, data []byte) error
	Remove(ctx context.Context, path string) error
}

// Option configures a Table.
type Option func(*Table)

// WithMirror attaches a Mirror. Mirror failures abort the mutation and
// leave the table unchanged.
func WithMirror(m Mirror) Option {
	return func(t *Table) {
		t.mirror = m
	}
}

// Table is the virtual file table.
//
// The table is safe for concurrent reads; writers are expected to be
// serialized by the caller (the workbench routes them through its
// execution queue).
type Table struct {
	mu     sync.RWMutex
	files  FileMap
	mirror Mirror

	// original holds the content a file had when it was first
	// overwritten after the last ResetModifications.
	original map[string][]byte
}

// New creates an empty table.
func New(opts ...Option) *Table {
	t := &Table{
		files:    make(FileMap),
		original: make(map[string][]byte),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// GetFile returns a copy of the file at p.
func (t *Table) GetFile(p string) (*File, bool) {
	p, err := CleanPath(p)
	if err != nil {
		return nil, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	f, ok := t.files[p].(*File)
	if !ok {
		return nil, false
	}
	return f.clone(), true
}

// Get returns the entry at p.
func (t *Table) Get(p string) (Entry, bool) {
	p, err := CleanPath(p)
	if err != nil {
		return nil, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.files[p]
	if !ok {
		return nil, false
	}
	return FileMap{p: e}.Clone()[p], true
}

// Files returns a deep copy of every entry.
func (t *Table) Files() FileMap {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.files.Clone()
}

// Len returns the number of entries.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.files)
}

// CreateFolder creates p and any missing ancestors.
func (t *Table) CreateFolder(ctx context.Context, p string) error {
	p, err := CleanPath(p)
	if err != nil {
		return err
	}
	if t.IsLocked(p) {
		return fmt.Errorf("create folder %s: %w", p, ErrLocked)
	}
	if _, isFile := t.entry(p).(*File); isFile {
		return fmt.Errorf("create folder %s: %w", p, ErrNotFolder)
	}
	if f, ok := t.fileAncestor(p); ok {
		return fmt.Errorf("create folder %s: %s: %w", p, f, ErrNotFolder)
	}
	if t.mirror != nil {
		if err := t.mirror.Mkdir(ctx, p); err != nil {
			return fmt.Errorf("create folder %s: %w", p, err)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.ensureFoldersLocked(append(ancestors(p), p))
	return nil
}

// CreateFile writes content to p, creating missing ancestor folders. An
// existing file is overwritten and its pre-write content is remembered
// for modification tracking.
func (t *Table) CreateFile(ctx context.Context, p string, content []byte, isBinary bool) error {
	p, err := CleanPath(p)
	if err != nil {
		return err
	}
	if t.IsLocked(p) {
		return fmt.Errorf("write %s: %w", p, ErrLocked)
	}
	if _, isFolder := t.entry(p).(*Folder); isFolder {
		return fmt.Errorf("write %s: %w", p, ErrIsFolder)
	}
	if f, ok := t.fileAncestor(p); ok {
		return fmt.Errorf("write %s: %s: %w", p, f, ErrNotFolder)
	}
	if t.mirror != nil {
		if dirs := ancestors(p); len(dirs) > 0 {
			if err := t.mirror.Mkdir(ctx, dirs[len(dirs)-1]); err != nil {
				return fmt.Errorf("write %s: %w", p, err)
			}
		}
		if err := t.mirror.WriteFile(ctx, p, content); err != nil {
			return fmt.Errorf("write %s: %w", p, err)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.ensureFoldersLocked(ancestors(p))

	data := append([]byte(nil), content...)
	if prev, ok := t.files[p].(*File); ok {
		if _, tracked := t.original[p]; !tracked && !prev.IsBinary && string(prev.Content) != string(data) {
			t.original[p] = prev.Content
		}
		t.files[p] = &File{Content: data, IsBinary: isBinary, Locked: prev.Locked}
		return nil
	}
	t.files[p] = &File{Content: data, IsBinary: isBinary}
	return nil
}

// DeleteFile removes the file at p.
func (t *Table) DeleteFile(ctx context.Context, p string) error {
	p, err := CleanPath(p)
	if err != nil {
		return err
	}
	switch t.entry(p).(type) {
	case nil:
		return fmt.Errorf("delete %s: %w", p, ErrNotFound)
	case *Folder:
		return fmt.Errorf("delete %s: %w", p, ErrIsFolder)
	}
	if t.IsLocked(p) {
		return fmt.Errorf("delete %s: %w", p, ErrLocked)
	}
	if t.mirror != nil {
		if err := t.mirror.Remove(ctx, p); err != nil {
			return fmt.Errorf("delete %s: %w", p, err)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.files, p)
	delete(t.original, p)
	return nil
}

// DeleteFolder removes the folder at p and every descendant. Fails if
// the folder or any descendant is locked.
func (t *Table) DeleteFolder(ctx context.Context, p string) error {
	p, err := CleanPath(p)
	if err != nil {
		return err
	}
	switch t.entry(p).(type) {
	case nil:
		return fmt.Errorf("delete folder %s: %w", p, ErrNotFound)
	case *File:
		return fmt.Errorf("delete folder %s: %w", p, ErrNotFolder)
	}
	if t.IsLocked(p) || t.hasLockedDescendant(p) {
		return fmt.Errorf("delete folder %s: %w", p, ErrLocked)
	}
	if t.mirror != nil {
		if err := t.mirror.Remove(ctx, p); err != nil {
			return fmt.Errorf("delete folder %s: %w", p, err)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for key := range t.files {
		if isWithin(key, p) {
			delete(t.files, key)
			delete(t.original, key)
		}
	}
	return nil
}

// ModifiedFiles returns the pre-modification content of every file
// overwritten since the last reset, keyed by path. Files whose content
// has since returned to the original are omitted.
func (t *Table) ModifiedFiles() map[string][]byte {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string][]byte, len(t.original))
	for p, orig := range t.original {
		f, ok := t.files[p].(*File)
		if !ok || string(f.Content) == string(orig) {
			continue
		}
		out[p] = append([]byte(nil), orig...)
	}
	return out
}

// Modifications returns a textual patch per modified file describing the
// change from its original content to its current content.
func (t *Table) Modifications() map[string]string {
	originals := t.ModifiedFiles()
	if len(originals) == 0 {
		return nil
	}

	dmp := diffmatchpatch.New()
	out := make(map[string]string, len(originals))
	for p, orig := range originals {
		f, ok := t.GetFile(p)
		if !ok {
			continue
		}
		patches := dmp.PatchMake(string(orig), f.Text())
		out[p] = dmp.PatchToText(patches)
	}
	return out
}

// ResetModifications forgets all tracked originals.
func (t *Table) ResetModifications() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.original = make(map[string][]byte)
}

func (t *Table) entry(p string) Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.files[p]
}

// fileAncestor returns the nearest ancestor of p that is a file.
func (t *Table) fileAncestor(p string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, dir := range ancestors(p) {
		if _, isFile := t.files[dir].(*File); isFile {
			return dir, true
		}
	}
	return "", false
}

// ensureFoldersLocked creates folder entries for dirs that do not exist.
// Must be called with t.mu held.
func (t *Table) ensureFoldersLocked(dirs []string) {
	for _, dir := range dirs {
		if _, ok := t.files[dir]; !ok {
			t.files[dir] = &Folder{}
		}
	}
}
