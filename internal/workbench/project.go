package workbench

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/zjrosen/kiln/internal/alert"
	"github.com/zjrosen/kiln/internal/archive"
	"github.com/zjrosen/kiln/internal/filetable"
	"github.com/zjrosen/kiln/internal/github"
	"github.com/zjrosen/kiln/internal/history"
	"github.com/zjrosen/kiln/internal/log"
	"github.com/zjrosen/kiln/internal/processor"
)

// ExportProjectArchive zips the project's text files.
func (w *Workbench) ExportProjectArchive(description string) (*archive.Archive, error) {
	a, err := archive.Build(w.files.Files(), w.workdir, description, w.clock.Now())
	if err != nil {
		log.ErrorErr(log.CatWorkbench, "archive export failed", err)
		w.raiseError("Export failed", description, err)
		return nil, err
	}
	return a, nil
}

// SyncToLocalDirectory writes the project's text files under dir and
// returns the relative paths written.
func (w *Workbench) SyncToLocalDirectory(dir string) ([]string, error) {
	written, err := archive.SyncToDirectory(w.files.Files(), w.workdir, dir)
	if err != nil {
		log.ErrorErr(log.CatWorkbench, "local sync failed", err, "dir", dir)
		w.raiseError("Sync failed", dir, err)
		return written, err
	}
	return written, nil
}

// PushRequest names the target repository. Owner and Token fall back to
// the pusher's configuration.
type PushRequest struct {
	Name    string
	Message string
	Owner   string
	Token   string
	Private bool
}

// PushToRepository commits the project's text files to a hosted
// repository and returns its web URL.
func (w *Workbench) PushToRepository(ctx context.Context, req PushRequest) (string, error) {
	url, err := w.pusher.Push(ctx, github.PushRequest{
		Name:    req.Name,
		Message: req.Message,
		Owner:   req.Owner,
		Token:   req.Token,
		Private: req.Private,
		Files:   archive.TextFiles(w.files.Files(), w.workdir),
	})
	if err != nil {
		w.raise(alert.Alert{
			Channel:     alert.ChannelDeploy,
			Level:       alert.LevelError,
			Title:       "Push failed",
			Description: req.Name,
			Content:     err.Error(),
			Source:      alert.SourceWorkbench,
			Stage:       "failed",
		})
		return "", err
	}
	w.raise(alert.Alert{
		Channel:     alert.ChannelDeploy,
		Level:       alert.LevelInfo,
		Title:       "Pushed to repository",
		Description: url,
		Source:      alert.SourceWorkbench,
		Stage:       "complete",
	})
	return url, nil
}

// TakeSnapshot persists the current file table for chatID, anchored at
// the message chatIndex.
func (w *Workbench) TakeSnapshot(ctx context.Context, chatID, chatIndex, summary string) error {
	err := w.history.SetSnapshot(ctx, chatID, history.Snapshot{
		ChatIndex: chatIndex,
		Files:     w.files.Files(),
		Summary:   summary,
	})
	if err != nil {
		log.ErrorErr(log.CatWorkbench, "snapshot failed", err, "chat", chatID)
		w.raiseError("Snapshot failed", chatID, err)
		return err
	}
	return nil
}

// RestoreSnapshot writes files into the file table: every folder first,
// then every file. Keys relative to the working directory are placed
// under it; absolute keys outside it, other than its own ancestors,
// reject the whole snapshot with ErrForeignWorkdir.
func (w *Workbench) RestoreSnapshot(ctx context.Context, files filetable.FileMap) error {
	rooted, err := w.rootSnapshot(files)
	if err != nil {
		log.ErrorErr(log.CatWorkbench, "snapshot rejected", err)
		w.raiseError("Restore failed", w.workdir, err)
		return err
	}
	cmd := &restoreCommand{
		BaseCommand: processor.NewBaseCommand(cmdRestore, processor.SourceInternal),
		files:       rooted,
	}
	if _, err := w.submit(ctx, cmd); err != nil {
		log.ErrorErr(log.CatWorkbench, "snapshot restore failed", err)
		w.raiseError("Restore failed", w.workdir, err)
		return err
	}
	return nil
}

func (w *Workbench) rootSnapshot(files filetable.FileMap) (filetable.FileMap, error) {
	out := make(filetable.FileMap, len(files))
	for key, entry := range files {
		p := key
		if !strings.HasPrefix(p, "/") {
			p = path.Join(w.workdir, p)
		}
		p = path.Clean(p)
		switch {
		case p == w.workdir || strings.HasPrefix(p, w.workdir+"/"):
			out[p] = entry
		case p == "/" || strings.HasPrefix(w.workdir, p+"/"):
			// Ancestor folders of the workdir are implied.
			if _, isFolder := entry.(*filetable.Folder); !isFolder {
				return nil, fmt.Errorf("%s: %w", key, ErrForeignWorkdir)
			}
		default:
			return nil, fmt.Errorf("%s: %w", key, ErrForeignWorkdir)
		}
	}
	return out, nil
}

var _ history.Restorer = (*Workbench)(nil)
