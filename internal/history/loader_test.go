package history

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/kiln/internal/filetable"
)

type recordingRestorer struct {
	mu    sync.Mutex
	calls []filetable.FileMap
}

func (r *recordingRestorer) RestoreSnapshot(_ context.Context, files filetable.FileMap) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, files)
	return nil
}

func seedChat(t *testing.T, store Store, anchor string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.SetMessages(ctx, ChatHistoryItem{
		ID: "1",
		Messages: []Message{
			{ID: "u1", Role: RoleUser, Content: "make an app"},
			{ID: "a1", Role: RoleAssistant, Content: "done"},
			{ID: "u2", Role: RoleUser, Content: "add css"},
			{ID: "a2", Role: RoleAssistant, Content: "added"},
			{ID: "u3", Role: RoleUser, Content: "thanks"},
		},
	}))
	if anchor == "" {
		return
	}
	require.NoError(t, store.SetSnapshot(ctx, "1", Snapshot{
		ChatIndex: anchor,
		Summary:   "an app with css",
		Files: filetable.FileMap{
			"/home/project":              &filetable.Folder{},
			"/home/project/package.json": &filetable.File{Content: []byte(`{"scripts": {"dev": "vite", /* c */}}`)},
			"/home/project/src":          &filetable.Folder{},
			"/home/project/src/app.css":  &filetable.File{Content: []byte("body{}")},
			"/home/project/logo.png":     &filetable.File{Content: []byte{0x00, 0x01}, IsBinary: true},
		},
	}))
}

func ids(messages []Message) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.ID
	}
	return out
}

func TestLoader_NoSnapshot(t *testing.T) {
	store := openTestStore(t)
	seedChat(t, store, "")

	res, err := NewLoader(store, nil, "/home/project").Load(context.Background(), "1", "")
	require.NoError(t, err)
	require.Equal(t, []string{"u1", "a1", "u2", "a2", "u3"}, ids(res.Messages))
	require.Nil(t, res.Restore)
}

func TestLoader_RewindWithoutSnapshot(t *testing.T) {
	store := openTestStore(t)
	seedChat(t, store, "")

	res, err := NewLoader(store, nil, "/home/project").Load(context.Background(), "1", "u2")
	require.NoError(t, err)
	require.Equal(t, []string{"u1", "a1", "u2"}, ids(res.Messages))
}

func TestLoader_SynthesizesRestoreFromSnapshot(t *testing.T) {
	store := openTestStore(t)
	seedChat(t, store, "a2")
	restorer := &recordingRestorer{}

	res, err := NewLoader(store, restorer, "/home/project").Load(context.Background(), "1", "")
	require.NoError(t, err)

	require.Equal(t, []string{"a2-restore", "a2-restored", "u3"}, ids(res.Messages))
	require.Equal(t, []string{"u1", "a1", "u2", "a2"}, ids(res.Archived))
	require.Equal(t, "an app with css", res.Summary)

	hidden := res.Messages[0]
	require.Equal(t, RoleUser, hidden.Role)
	require.Equal(t, RestoreMessage, hidden.Content)
	require.True(t, hidden.HasAnnotation(AnnotationHidden))

	body := res.Messages[1].Content
	require.Contains(t, body, `<boltAction type="file" filePath="src/app.css">`)
	require.Contains(t, body, `<boltAction type="file" filePath="package.json">`)
	require.NotContains(t, body, "logo.png")
	require.Contains(t, body, `<boltAction type="shell">npm install</boltAction>`)
	require.Contains(t, body, `<boltAction type="start">npm run dev</boltAction>`)
	require.True(t, strings.HasSuffix(strings.TrimSpace(body), "</boltArtifact>"))

	require.NotNil(t, res.Restore)
	require.NoError(t, <-res.Restore)
	restorer.mu.Lock()
	defer restorer.mu.Unlock()
	require.Len(t, restorer.calls, 1)
	require.Equal(t, []byte{0x00, 0x01}, restorer.calls[0]["/home/project/logo.png"].(*filetable.File).Content)
}

func TestLoader_RewindToAnchorSkipsSynthesis(t *testing.T) {
	store := openTestStore(t)
	seedChat(t, store, "a2")

	res, err := NewLoader(store, &recordingRestorer{}, "/home/project").Load(context.Background(), "1", "a2")
	require.NoError(t, err)
	require.Equal(t, []string{"u1", "a1", "u2", "a2"}, ids(res.Messages))
	require.Nil(t, res.Restore)
}

func TestLoader_AnchorBeyondCutoffIgnored(t *testing.T) {
	store := openTestStore(t)
	seedChat(t, store, "a2")

	res, err := NewLoader(store, &recordingRestorer{}, "/home/project").Load(context.Background(), "1", "a1")
	require.NoError(t, err)
	require.Equal(t, []string{"u1", "a1"}, ids(res.Messages))
	require.Nil(t, res.Restore)
}

func TestLoader_AnchorAtFirstMessageArchivesWithoutSynthesis(t *testing.T) {
	store := openTestStore(t)
	seedChat(t, store, "u1")
	restorer := &recordingRestorer{}

	res, err := NewLoader(store, restorer, "/home/project").Load(context.Background(), "1", "")
	require.NoError(t, err)
	require.Equal(t, []string{"a1", "u2", "a2", "u3"}, ids(res.Messages))
	require.Equal(t, []string{"u1"}, ids(res.Archived))
	require.Nil(t, res.Restore)
	require.Empty(t, restorer.calls)
}

func TestLoader_UnknownRewindKeepsNothing(t *testing.T) {
	store := openTestStore(t)
	seedChat(t, store, "a2")

	res, err := NewLoader(store, &recordingRestorer{}, "/home/project").Load(context.Background(), "1", "nope")
	require.NoError(t, err)
	require.Empty(t, res.Messages)
	require.Empty(t, res.Archived)
	require.Nil(t, res.Restore)
}

func TestLoader_DanglingAnchorIgnoresSnapshot(t *testing.T) {
	store := openTestStore(t)
	seedChat(t, store, "gone")
	restorer := &recordingRestorer{}

	res, err := NewLoader(store, restorer, "/home/project").Load(context.Background(), "1", "")
	require.NoError(t, err)
	require.Equal(t, []string{"u1", "a1", "u2", "a2", "u3"}, ids(res.Messages))
	require.Empty(t, res.Archived)
	require.Empty(t, res.Summary)
	require.Nil(t, res.Restore)
	require.Empty(t, restorer.calls)
}

func TestLoader_UnknownChat(t *testing.T) {
	_, err := NewLoader(NopStore{}, nil, "/home/project").Load(context.Background(), "x", "")
	require.ErrorIs(t, err, ErrChatNotFound)
}
