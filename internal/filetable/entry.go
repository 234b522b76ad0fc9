// Package filetable is the authoritative path → entry mapping of the
// project filesystem. It tracks locks and unsaved modifications and
// mirrors every mutation into the execution runtime's filesystem.
package filetable

import (
	"path"
	"sort"
	"strings"
)

// Entry is either a *File or a *Folder.
type Entry interface {
	isEntry()
	// IsLocked reports whether the entry itself is locked.
	IsLocked() bool
}

// File is a regular file. Content is raw bytes for binary files and
// UTF-8 text otherwise.
type File struct {
	Content  []byte
	IsBinary bool
	Locked   bool
}

// Folder is a directory entry.
type Folder struct {
	Locked bool
}

func (*File) isEntry()   {}
func (*Folder) isEntry() {}

func (f *File) IsLocked() bool   { return f.Locked }
func (f *Folder) IsLocked() bool { return f.Locked }

// Text returns the file content as a string.
func (f *File) Text() string { return string(f.Content) }

func (f *File) clone() *File {
	c := *f
	c.Content = append([]byte(nil), f.Content...)
	return &c
}

// FileMap maps absolute paths to entries.
type FileMap map[string]Entry

// Paths returns the map's keys sorted so that every folder precedes its
// descendants.
func (m FileMap) Paths() []string {
	paths := make([]string, 0, len(m))
	for p := range m {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Clone returns a deep copy of the map.
func (m FileMap) Clone() FileMap {
	out := make(FileMap, len(m))
	for p, e := range m {
		switch v := e.(type) {
		case *File:
			out[p] = v.clone()
		case *Folder:
			f := *v
			out[p] = &f
		}
	}
	return out
}

// CleanPath validates that p is absolute and returns it in canonical form.
func CleanPath(p string) (string, error) {
	if p == "" || !strings.HasPrefix(p, "/") {
		return "", ErrInvalidPath
	}
	return path.Clean(p), nil
}

// ancestors returns every proper ancestor of p, root excluded, shallowest
// first.
func ancestors(p string) []string {
	var out []string
	for dir := path.Dir(p); dir != "/" && dir != "."; dir = path.Dir(dir) {
		out = append([]string{dir}, out...)
	}
	return out
}

// isWithin reports whether p equals dir or lies beneath it.
func isWithin(p, dir string) bool {
	if p == dir {
		return true
	}
	if dir == "/" {
		return true
	}
	return strings.HasPrefix(p, dir+"/")
}
