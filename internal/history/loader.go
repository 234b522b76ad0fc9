package history

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/zjrosen/kiln/internal/filetable"
	"github.com/zjrosen/kiln/internal/log"
)

// RestoreMessage is the content of the hidden user message prepended to a
// chat rebuilt from a snapshot.
const RestoreMessage = "Restore project from snapshot"

// Restorer writes a snapshot back into the workbench.
type Restorer interface {
	RestoreSnapshot(ctx context.Context, files filetable.FileMap) error
}

// LoadResult is a chat ready to be shown.
type LoadResult struct {
	Chat *ChatHistoryItem
	// Messages is the visible transcript after rewind and snapshot
	// synthesis.
	Messages []Message
	// Archived holds the messages folded into the snapshot.
	Archived []Message
	Summary  string
	// Restore receives the outcome of the background restore, or is nil
	// when no restore was started.
	Restore <-chan error
}

// Loader rebuilds chats from the store.
type Loader struct {
	store    Store
	restorer Restorer
	workdir  string
}

// NewLoader creates a loader. restorer may be nil, in which case no
// snapshot is written back.
func NewLoader(store Store, restorer Restorer, workdir string) *Loader {
	return &Loader{store: store, restorer: restorer, workdir: path.Clean(workdir)}
}

// Load fetches chatID and truncates it after the message rewindTo. An
// empty rewindTo keeps every message; an id not in the transcript keeps
// none. With a snapshot anchored inside the kept range, the messages up to
// and including the anchor are archived. An anchor past the first message
// is additionally replaced by a synthesized restore exchange and the
// snapshot is restored in the background. A snapshot whose anchor is not
// in the transcript is ignored.
func (l *Loader) Load(ctx context.Context, chatID, rewindTo string) (*LoadResult, error) {
	chat, err := l.store.GetMessages(ctx, chatID)
	if err != nil {
		return nil, err
	}
	snap, err := l.store.GetSnapshot(ctx, chat.ID)
	if err != nil {
		log.ErrorErr(log.CatHistory, "snapshot lookup failed, loading without it", err, "chat", chat.ID)
		snap = nil
	}

	messages := chat.Messages
	cutoff := len(messages)
	if rewindTo != "" {
		cutoff = indexOf(messages, rewindTo) + 1
	}

	start := -1
	if snap != nil {
		anchor := indexOf(messages, snap.ChatIndex)
		switch {
		case anchor < 0:
			log.Warn(log.CatHistory, "snapshot anchor not in transcript, ignoring snapshot",
				"chat", chat.ID, "anchor", snap.ChatIndex)
		case anchor > 0 && messages[anchor].ID == rewindTo:
			// Rewound onto the anchor: the transcript is shown whole.
		case anchor < cutoff:
			start = anchor
		}
	}

	if start < 0 {
		return &LoadResult{Chat: chat, Messages: append([]Message(nil), messages[:cutoff]...)}, nil
	}
	if start == 0 {
		return &LoadResult{
			Chat:     chat,
			Messages: append([]Message(nil), messages[1:cutoff]...),
			Archived: append([]Message(nil), messages[0]),
			Summary:  snap.Summary,
		}, nil
	}

	result := &LoadResult{
		Chat:     chat,
		Messages: append(l.restoreExchange(snap), messages[start+1:cutoff]...),
		Archived: append([]Message(nil), messages[:start+1]...),
		Summary:  snap.Summary,
	}
	if l.restorer != nil {
		result.Restore = l.restoreAsync(snap.Files)
	}
	log.Info(log.CatHistory, "chat loaded from snapshot",
		"chat", chat.ID, "anchor", snap.ChatIndex, "archived", len(result.Archived))
	return result, nil
}

func (l *Loader) restoreExchange(snap *Snapshot) []Message {
	var b strings.Builder
	b.WriteString("Restored your chat from a snapshot. You can revert this message to load the full chat history.\n")
	b.WriteString(`<boltArtifact id="restored-project-setup" title="Restored Project & Setup" type="bundled">` + "\n")
	for _, p := range snap.Files.Paths() {
		f, ok := snap.Files[p].(*filetable.File)
		if !ok || f.IsBinary {
			continue
		}
		rel := strings.TrimPrefix(p, l.workdir+"/")
		fmt.Fprintf(&b, "<boltAction type=\"file\" filePath=\"%s\">\n%s\n</boltAction>\n", rel, f.Text())
	}
	b.WriteString(DetectProjectCommands(snap.Files, l.workdir).Directives())
	b.WriteString("</boltArtifact>\n")

	anchor := snap.ChatIndex
	return []Message{
		{
			ID:          anchor + "-restore",
			Role:        RoleUser,
			Content:     RestoreMessage,
			Annotations: []string{AnnotationHidden, AnnotationNoStore},
		},
		{
			ID:          anchor + "-restored",
			Role:        RoleAssistant,
			Content:     b.String(),
			Annotations: []string{AnnotationNoStore},
		},
	}
}

func (l *Loader) restoreAsync(files filetable.FileMap) <-chan error {
	done := make(chan error, 1)
	files = files.Clone()
	go func() {
		err := l.restorer.RestoreSnapshot(context.Background(), files)
		if err != nil {
			log.ErrorErr(log.CatHistory, "snapshot restore failed", err)
		}
		done <- err
		close(done)
	}()
	return done
}

func indexOf(messages []Message, id string) int {
	if id == "" {
		return -1
	}
	for i, m := range messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}
