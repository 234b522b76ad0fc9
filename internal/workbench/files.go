package workbench

import (
	"context"
	"errors"
	"fmt"

	"github.com/zjrosen/kiln/internal/log"
)

// SetSelectedFile selects p in the editor.
func (w *Workbench) SetSelectedFile(p string) {
	w.docs.SetSelectedFile(p)
}

// SetCurrentDocumentContent replaces the selected document's value and
// tracks whether it now differs from the saved file.
func (w *Workbench) SetCurrentDocumentContent(value string) {
	doc, ok := w.docs.CurrentDocument()
	if !ok {
		return
	}
	w.docs.UpdateFile(doc.FilePath, value)

	saved := ""
	if f, ok := w.files.GetFile(doc.FilePath); ok {
		saved = f.Text()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if value != saved {
		w.unsaved[doc.FilePath] = true
	} else {
		delete(w.unsaved, doc.FilePath)
	}
}

// ResetCurrentDocument discards unsaved edits of the selected document.
func (w *Workbench) ResetCurrentDocument() {
	doc, ok := w.docs.CurrentDocument()
	if !ok {
		return
	}
	f, ok := w.files.GetFile(doc.FilePath)
	if !ok {
		return
	}
	w.docs.UpdateFile(doc.FilePath, f.Text())
	w.mu.Lock()
	delete(w.unsaved, doc.FilePath)
	w.mu.Unlock()
}

// UnsavedFiles returns the paths with unsaved edits, sorted.
func (w *Workbench) UnsavedFiles() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return sortedKeys(w.unsaved)
}

// SaveFile writes the document at p to the file table.
func (w *Workbench) SaveFile(ctx context.Context, p string) error {
	doc, ok := w.docs.Document(p)
	if !ok {
		return fmt.Errorf("save %s: %w", p, ErrNoDocument)
	}
	return w.fileOp(ctx, "Failed to save file", newFileCommand(opSaveFile, p, []byte(doc.Value), false))
}

// SaveAllUnsaved saves every unsaved document, continuing past failures.
func (w *Workbench) SaveAllUnsaved(ctx context.Context) error {
	var errs []error
	for _, p := range w.UnsavedFiles() {
		if err := w.SaveFile(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CreateFile writes a file through the queue.
func (w *Workbench) CreateFile(ctx context.Context, p string, content []byte, isBinary bool) error {
	return w.fileOp(ctx, "Failed to create file", newFileCommand(opCreateFile, p, content, isBinary))
}

// CreateFolder creates a folder through the queue.
func (w *Workbench) CreateFolder(ctx context.Context, p string) error {
	return w.fileOp(ctx, "Failed to create folder", newFileCommand(opCreateFolder, p, nil, false))
}

// DeleteFile removes a file through the queue.
func (w *Workbench) DeleteFile(ctx context.Context, p string) error {
	return w.fileOp(ctx, "Failed to delete file", newFileCommand(opDeleteFile, p, nil, false))
}

// DeleteFolder removes a folder and its contents through the queue.
func (w *Workbench) DeleteFolder(ctx context.Context, p string) error {
	return w.fileOp(ctx, "Failed to delete folder", newFileCommand(opDeleteFolder, p, nil, false))
}

func (w *Workbench) fileOp(ctx context.Context, title string, cmd *fileCommand) error {
	if _, err := w.submit(ctx, cmd); err != nil {
		log.ErrorErr(log.CatWorkbench, title, err, "path", cmd.path)
		w.raiseError(title, cmd.path, err)
		return err
	}
	return nil
}

func (w *Workbench) LockFile(p string) error     { return w.files.LockFile(p) }
func (w *Workbench) UnlockFile(p string) error   { return w.files.UnlockFile(p) }
func (w *Workbench) LockFolder(p string) error   { return w.files.LockFolder(p) }
func (w *Workbench) UnlockFolder(p string) error { return w.files.UnlockFolder(p) }

// IsLocked reports whether p or one of its ancestors is locked.
func (w *Workbench) IsLocked(p string) bool { return w.files.IsLocked(p) }

// FileModifications returns unified diffs of files changed since the
// last reset, keyed by path.
func (w *Workbench) FileModifications() map[string]string {
	return w.files.Modifications()
}

// ResetAllFileModifications starts a new modification window.
func (w *Workbench) ResetAllFileModifications() {
	w.files.ResetModifications()
}
