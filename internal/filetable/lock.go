package filetable

import "fmt"

// LockFile marks the file at p read-only.
func (t *Table) LockFile(p string) error {
	return t.setFileLock(p, true)
}

// UnlockFile clears the lock on the file at p.
func (t *Table) UnlockFile(p string) error {
	return t.setFileLock(p, false)
}

// LockFolder marks the folder at p read-only. Every descendant,
// including ones created later, is treated as locked.
func (t *Table) LockFolder(p string) error {
	return t.setFolderLock(p, true)
}

// UnlockFolder clears the lock on the folder at p. Locks set directly on
// descendants are kept.
func (t *Table) UnlockFolder(p string) error {
	return t.setFolderLock(p, false)
}

// IsLocked reports whether p is locked directly or through a locked
// ancestor folder.
func (t *Table) IsLocked(p string) bool {
	p, err := CleanPath(p)
	if err != nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	if e, ok := t.files[p]; ok && e.IsLocked() {
		return true
	}
	for _, dir := range ancestors(p) {
		if e, ok := t.files[dir]; ok && e.IsLocked() {
			return true
		}
	}
	return false
}

func (t *Table) hasLockedDescendant(p string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for key, e := range t.files {
		if key != p && isWithin(key, p) && e.IsLocked() {
			return true
		}
	}
	return false
}

func (t *Table) setFileLock(p string, locked bool) error {
	p, err := CleanPath(p)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	switch e := t.files[p].(type) {
	case *File:
		e.Locked = locked
		return nil
	case *Folder:
		return fmt.Errorf("lock %s: %w", p, ErrIsFolder)
	default:
		return fmt.Errorf("lock %s: %w", p, ErrNotFound)
	}
}

func (t *Table) setFolderLock(p string, locked bool) error {
	p, err := CleanPath(p)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	switch e := t.files[p].(type) {
	case *Folder:
		e.Locked = locked
		return nil
	case *File:
		return fmt.Errorf("lock folder %s: %w", p, ErrNotFolder)
	default:
		return fmt.Errorf("lock folder %s: %w", p, ErrNotFound)
	}
}
