// Package document holds the editor-facing projection of the file table:
// one Document per text file, the selected file, and the active view.
package document

import (
	"sort"
	"sync"

	"github.com/zjrosen/kiln/internal/filetable"
)

// ScrollPosition is the editor viewport offset for a document.
type ScrollPosition struct {
	Top  int `json:"top"`
	Left int `json:"left"`
}

// Document is the in-editor state of a text file. Value may diverge from
// the file table content while an edit is unsaved.
type Document struct {
	FilePath       string         `json:"file_path"`
	Value          string         `json:"value"`
	ScrollPosition ScrollPosition `json:"scroll_position"`
}

// View is the workbench pane currently shown.
type View string

const (
	ViewCode    View = "code"
	ViewDiff    View = "diff"
	ViewPreview View = "preview"
)

// Store is the document projection. Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	docs     map[string]*Document
	selected string
	view     View
}

// NewStore creates an empty store showing the code view.
func NewStore() *Store {
	return &Store{
		docs: make(map[string]*Document),
		view: ViewCode,
	}
}

// Sync rebuilds documents from files. Binary files and folders get no
// document. Documents for paths in keep retain their current value;
// every document retains its scroll position.
func (s *Store) Sync(files filetable.FileMap, keep map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]*Document, len(files))
	for p, entry := range files {
		f, ok := entry.(*filetable.File)
		if !ok || f.IsBinary {
			continue
		}
		doc := &Document{FilePath: p, Value: f.Text()}
		if prev, ok := s.docs[p]; ok {
			doc.ScrollPosition = prev.ScrollPosition
			if keep[p] {
				doc.Value = prev.Value
			}
		}
		next[p] = doc
	}
	s.docs = next
	if _, ok := s.docs[s.selected]; !ok {
		s.selected = ""
	}
}

// Document returns a copy of the document at p.
func (s *Store) Document(p string) (Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[p]
	if !ok {
		return Document{}, false
	}
	return *doc, true
}

// Paths returns every document path in sorted order.
func (s *Store) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.docs))
	for p := range s.docs {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// SetSelectedFile makes p the current document. An empty path clears
// the selection.
func (s *Store) SetSelectedFile(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = p
}

// SelectedFile returns the current document path.
func (s *Store) SelectedFile() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// CurrentDocument returns the selected document, if any.
func (s *Store) CurrentDocument() (Document, bool) {
	return s.Document(s.SelectedFile())
}

// UpdateFile sets the value of the document at p, creating the document
// if the file has none yet. Returns true when the value changed.
func (s *Store) UpdateFile(p, value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[p]
	if !ok {
		s.docs[p] = &Document{FilePath: p, Value: value}
		return true
	}
	if doc.Value == value {
		return false
	}
	doc.Value = value
	return true
}

// UpdateScrollPosition records the viewport offset of the document at p.
func (s *Store) UpdateScrollPosition(p string, pos ScrollPosition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok := s.docs[p]; ok {
		doc.ScrollPosition = pos
	}
}

// SetView switches the active pane.
func (s *Store) SetView(v View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view = v
}

// View returns the active pane.
func (s *Store) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}
