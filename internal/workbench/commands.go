package workbench

import (
	"context"
	"fmt"
	"path"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/kiln/internal/action"
	"github.com/zjrosen/kiln/internal/filetable"
	"github.com/zjrosen/kiln/internal/log"
	"github.com/zjrosen/kiln/internal/processor"
	"github.com/zjrosen/kiln/internal/tracing"
)

const (
	cmdAddAction processor.CommandType = "add_action"
	cmdRunAction processor.CommandType = "run_action"
	cmdStream    processor.CommandType = "stream_action"
	cmdFile      processor.CommandType = "file_op"
	cmdRestore   processor.CommandType = "restore_snapshot"
)

// addActionCommand registers an action on its artifact's runner.
type addActionCommand struct {
	processor.BaseCommand
	data action.Data
}

func newAddActionCommand(data action.Data) *addActionCommand {
	return &addActionCommand{BaseCommand: processor.NewBaseCommand(cmdAddAction, processor.SourceStream), data: data}
}

func (c *addActionCommand) SpanAttributes() []attribute.KeyValue {
	return actionAttributes(c.data)
}

// runActionCommand executes a registered action to completion.
type runActionCommand struct {
	processor.BaseCommand
	data action.Data
}

func newRunActionCommand(data action.Data) *runActionCommand {
	return &runActionCommand{BaseCommand: processor.NewBaseCommand(cmdRunAction, processor.SourceStream), data: data}
}

func (c *runActionCommand) SpanAttributes() []attribute.KeyValue {
	return actionAttributes(c.data)
}

// streamActionCommand applies one sampled partial action.
type streamActionCommand struct {
	processor.BaseCommand
	data action.Data
}

func newStreamActionCommand(data action.Data) *streamActionCommand {
	return &streamActionCommand{BaseCommand: processor.NewBaseCommand(cmdStream, processor.SourceStream), data: data}
}

func (c *streamActionCommand) SpanAttributes() []attribute.KeyValue {
	return actionAttributes(c.data)
}

func actionAttributes(data action.Data) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(tracing.AttrArtifactID, data.ArtifactID),
		attribute.String(tracing.AttrActionID, data.ActionID),
	}
	if data.Action != nil {
		attrs = append(attrs, attribute.String(tracing.AttrActionType, string(data.Action.Type())))
	}
	return attrs
}

type fileOp string

const (
	opCreateFile   fileOp = "create_file"
	opCreateFolder fileOp = "create_folder"
	opDeleteFile   fileOp = "delete_file"
	opDeleteFolder fileOp = "delete_folder"
	opSaveFile     fileOp = "save_file"
)

// fileCommand is one file table mutation.
type fileCommand struct {
	processor.BaseCommand
	op       fileOp
	path     string
	content  []byte
	isBinary bool
}

func newFileCommand(op fileOp, p string, content []byte, isBinary bool) *fileCommand {
	return &fileCommand{
		BaseCommand: processor.NewBaseCommand(cmdFile, processor.SourceUser),
		op:          op,
		path:        p,
		content:     content,
		isBinary:    isBinary,
	}
}

func (c *fileCommand) Validate() error {
	if _, err := filetable.CleanPath(c.path); err != nil {
		return fmt.Errorf("%s %q: %w", c.op, c.path, err)
	}
	return nil
}

func (c *fileCommand) SpanAttributes() []attribute.KeyValue {
	return []attribute.KeyValue{attribute.String(tracing.AttrFilePath, c.path)}
}

// restoreCommand writes a validated snapshot into the file table.
type restoreCommand struct {
	processor.BaseCommand
	files filetable.FileMap
}

func (w *Workbench) handleAddAction(_ context.Context, cmd processor.Command) (*processor.CommandResult, error) {
	c := cmd.(*addActionCommand)
	r, ok := w.runner(c.data.MessageID)
	if !ok {
		return nil, fmt.Errorf("message %s: %w", c.data.MessageID, action.ErrArtifactNotFound)
	}
	if err := r.AddAction(c.data); err != nil {
		return nil, err
	}
	return &processor.CommandResult{Success: true}, nil
}

// handleStreamAction reports in the result's Data whether the partial
// action did any work.
func (w *Workbench) handleStreamAction(ctx context.Context, cmd processor.Command) (*processor.CommandResult, error) {
	c := cmd.(*streamActionCommand)
	r, ok := w.runner(c.data.MessageID)
	if !ok {
		return nil, fmt.Errorf("message %s: %w", c.data.MessageID, action.ErrArtifactNotFound)
	}
	if !r.Runnable(c.data, true) {
		return &processor.CommandResult{Success: true, Data: false}, nil
	}
	if err := r.RunAction(ctx, c.data, true); err != nil {
		return nil, err
	}
	return &processor.CommandResult{Success: true, Data: true}, nil
}

func (w *Workbench) handleRunAction(ctx context.Context, cmd processor.Command) (*processor.CommandResult, error) {
	c := cmd.(*runActionCommand)
	r, ok := w.runner(c.data.MessageID)
	if !ok {
		return nil, fmt.Errorf("message %s: %w", c.data.MessageID, action.ErrArtifactNotFound)
	}

	err := r.RunAction(ctx, c.data, false)
	if state, ok := r.State(c.data.ActionID); ok {
		if fa, isFile := state.Action.(action.FileAction); isFile {
			w.mu.Lock()
			delete(w.unsaved, action.ResolvePath(w.workdir, fa.FilePath))
			w.mu.Unlock()
		}
	}
	w.syncDocuments()
	if err != nil {
		return nil, err
	}
	return &processor.CommandResult{Success: true}, nil
}

func (w *Workbench) handleFile(ctx context.Context, cmd processor.Command) (*processor.CommandResult, error) {
	c := cmd.(*fileCommand)
	p := path.Clean(c.path)

	var err error
	switch c.op {
	case opCreateFile, opSaveFile:
		err = w.files.CreateFile(ctx, p, c.content, c.isBinary)
	case opCreateFolder:
		err = w.files.CreateFolder(ctx, p)
	case opDeleteFile:
		err = w.files.DeleteFile(ctx, p)
	case opDeleteFolder:
		err = w.files.DeleteFolder(ctx, p)
	default:
		err = fmt.Errorf("unknown file operation %q", c.op)
	}
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	switch c.op {
	case opSaveFile, opDeleteFile:
		delete(w.unsaved, p)
	case opDeleteFolder:
		for q := range w.unsaved {
			if q == p || strings.HasPrefix(q, p+"/") {
				delete(w.unsaved, q)
			}
		}
	}
	w.mu.Unlock()
	w.syncDocuments()
	return &processor.CommandResult{Success: true}, nil
}

func (w *Workbench) handleRestore(ctx context.Context, cmd processor.Command) (*processor.CommandResult, error) {
	c := cmd.(*restoreCommand)
	paths := c.files.Paths()

	for _, p := range paths {
		if _, ok := c.files[p].(*filetable.Folder); !ok {
			continue
		}
		if err := w.files.CreateFolder(ctx, p); err != nil {
			return nil, err
		}
	}
	written := 0
	for _, p := range paths {
		f, ok := c.files[p].(*filetable.File)
		if !ok {
			continue
		}
		if err := w.files.CreateFile(ctx, p, f.Content, f.IsBinary); err != nil {
			return nil, err
		}
		written++
	}

	w.mu.Lock()
	clear(w.unsaved)
	w.mu.Unlock()
	w.syncDocuments()
	log.Info(log.CatWorkbench, "snapshot restored", "files", written, "entries", len(paths))
	return &processor.CommandResult{Success: true, Data: written}, nil
}
