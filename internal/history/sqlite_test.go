package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/zjrosen/kiln/internal/filetable"
)

func openTestStore(t *testing.T, opts ...SQLiteOption) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "history.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenSQLite_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	first, err := OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	defer second.Close()

	var versions int
	require.NoError(t, second.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&versions))
	require.Equal(t, 1, versions)
}

func TestSQLiteStore_MessagesRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	item := ChatHistoryItem{
		ID:          "1",
		URLID:       "todo",
		Description: "Todo app",
		Messages: []Message{
			{ID: "m1", Role: RoleUser, Content: "build a todo app"},
			{ID: "m2", Role: RoleAssistant, Content: "ok", Annotations: []string{AnnotationHidden}},
		},
		Timestamp: ts,
		Metadata:  map[string]string{"gitUrl": "x"},
	}
	require.NoError(t, store.SetMessages(ctx, item))

	byID, err := store.GetMessages(ctx, "1")
	require.NoError(t, err)
	require.Equal(t, item.Messages, byID.Messages)
	require.True(t, ts.Equal(byID.Timestamp))
	require.Equal(t, "x", byID.Metadata["gitUrl"])

	byURL, err := store.GetMessages(ctx, "todo")
	require.NoError(t, err)
	require.Equal(t, "1", byURL.ID)

	_, err = store.GetMessages(ctx, "nope")
	require.ErrorIs(t, err, ErrChatNotFound)
}

func TestSQLiteStore_IDs(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	next, err := store.GetNextID(ctx)
	require.NoError(t, err)
	require.Equal(t, "1", next)

	require.NoError(t, store.SetMessages(ctx, ChatHistoryItem{ID: "7", URLID: "7"}))
	require.NoError(t, store.SetMessages(ctx, ChatHistoryItem{ID: "abc", URLID: "7-2"}))

	next, err = store.GetNextID(ctx)
	require.NoError(t, err)
	require.Equal(t, "8", next)

	urlID, err := store.GetURLID(ctx, "7")
	require.NoError(t, err)
	require.Equal(t, "7-3", urlID)

	urlID, err = store.GetURLID(ctx, "fresh")
	require.NoError(t, err)
	require.Equal(t, "fresh", urlID)
}

func TestSQLiteStore_DuplicateDeleteList(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := openTestStore(t, WithNow(func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}))

	urlID, err := store.CreateChatFromMessages(ctx, "first", []Message{{ID: "a", Role: RoleUser, Content: "hi"}}, nil)
	require.NoError(t, err)
	require.Equal(t, "1", urlID)

	dupURL, err := store.DuplicateChat(ctx, "1")
	require.NoError(t, err)
	require.Equal(t, "2", dupURL)

	dup, err := store.GetMessages(ctx, dupURL)
	require.NoError(t, err)
	require.Equal(t, "first (copy)", dup.Description)
	require.Len(t, dup.Messages, 1)

	chats, err := store.ListChats(ctx)
	require.NoError(t, err)
	require.Len(t, chats, 2)
	require.Equal(t, "2", chats[0].ID, "newest first")

	require.NoError(t, store.SetSnapshot(ctx, "1", Snapshot{ChatIndex: "a", Files: filetable.FileMap{}}))
	require.NoError(t, store.DeleteChat(ctx, "1"))
	_, err = store.GetMessages(ctx, "1")
	require.ErrorIs(t, err, ErrChatNotFound)

	snap, err := store.GetSnapshot(ctx, "1")
	require.NoError(t, err)
	require.Nil(t, snap)

	require.ErrorIs(t, store.DeleteChat(ctx, "1"), ErrChatNotFound)
}

func TestSQLiteStore_SnapshotMissing(t *testing.T) {
	store := openTestStore(t)
	snap, err := store.GetSnapshot(context.Background(), "none")
	require.NoError(t, err)
	require.Nil(t, snap)
}

func TestSQLiteStore_SnapshotRoundTripWithBinary(t *testing.T) {
	ctx := context.Background()
	// Caching disabled so the read goes through the database.
	store := openTestStore(t, WithCacheTTL(0))

	files := filetable.FileMap{
		"/home/project":          &filetable.Folder{},
		"/home/project/a.txt":    &filetable.File{Content: []byte("alpha")},
		"/home/project/logo.png": &filetable.File{Content: []byte{0x89, 'P', 'N', 'G', 0x00, 0xff}, IsBinary: true},
		"/home/project/locked":   &filetable.File{Content: []byte{}, Locked: true},
	}
	require.NoError(t, store.SetSnapshot(ctx, "1", Snapshot{ChatIndex: "m2", Files: files, Summary: "sum"}))

	got, err := store.GetSnapshot(ctx, "1")
	require.NoError(t, err)
	require.Equal(t, "m2", got.ChatIndex)
	require.Equal(t, "sum", got.Summary)
	require.Equal(t, files, got.Files)
}

func TestSQLiteStore_SnapshotCacheReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	files := filetable.FileMap{"/p/a": &filetable.File{Content: []byte("a")}}
	require.NoError(t, store.SetSnapshot(ctx, "1", Snapshot{ChatIndex: "m", Files: files}))

	first, err := store.GetSnapshot(ctx, "1")
	require.NoError(t, err)
	first.Files["/p/a"].(*filetable.File).Content[0] = 'z'

	second, err := store.GetSnapshot(ctx, "1")
	require.NoError(t, err)
	require.Equal(t, "a", second.Files["/p/a"].(*filetable.File).Text())
}

func TestSQLiteStore_CorruptSnapshotDetected(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, WithCacheTTL(0))
	require.NoError(t, store.SetSnapshot(ctx, "1", Snapshot{ChatIndex: "m", Files: filetable.FileMap{}}))

	_, err := store.db.Exec(`UPDATE snapshots SET digest = 'bad' WHERE chat_id = '1'`)
	require.NoError(t, err)

	_, err = store.GetSnapshot(ctx, "1")
	require.ErrorIs(t, err, ErrCorruptSnapshot)
}

func TestCodec_RoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		files := make(filetable.FileMap)
		n := rapid.IntRange(0, 8).Draw(t, "n")
		for i := 0; i < n; i++ {
			p := "/home/project/" + rapid.StringMatching(`[a-z]{1,6}(/[a-z]{1,6})?`).Draw(t, "path")
			if rapid.Bool().Draw(t, "folder") {
				files[p] = &filetable.Folder{Locked: rapid.Bool().Draw(t, "locked")}
				continue
			}
			files[p] = &filetable.File{
				Content:  rapid.SliceOf(rapid.Byte()).Draw(t, "content"),
				IsBinary: rapid.Bool().Draw(t, "binary"),
			}
		}

		data, sum, err := encodeFiles(files)
		require.NoError(t, err)
		got, err := decodeFiles(data, sum)
		require.NoError(t, err)
		require.Len(t, got, len(files))
		for p, e := range files {
			switch want := e.(type) {
			case *filetable.File:
				f, ok := got[p].(*filetable.File)
				require.True(t, ok)
				require.Equal(t, string(want.Content), string(f.Content))
				require.Equal(t, want.IsBinary, f.IsBinary)
			case *filetable.Folder:
				require.Equal(t, want, got[p])
			}
		}
	})
}
