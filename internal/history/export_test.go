package history

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExport_FilenameAndBody(t *testing.T) {
	now := time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)
	name, data, err := Export(&ChatHistoryItem{
		Description: "demo",
		Messages:    []Message{{ID: "m1", Role: RoleUser, Content: "hi"}},
	}, now)
	require.NoError(t, err)
	require.Equal(t, "chat-2026-05-04T03-02-01.000Z.json", name)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, "demo", decoded["description"])
	require.Contains(t, decoded, "messages")
	require.Contains(t, decoded, "exportDate")
}

func TestParseExport_Lenient(t *testing.T) {
	export, err := ParseExport([]byte(`{
		// exported by hand
		"messages": [{"id": "m1", "role": "user", "content": "hi"},],
		"description": "demo",
	}`))
	require.NoError(t, err)
	require.Len(t, export.Messages, 1)
	require.Equal(t, "demo", export.Description)
}

func TestParseExport_RequiresMessages(t *testing.T) {
	_, err := ParseExport([]byte(`{"description": "x"}`))
	require.ErrorIs(t, err, ErrInvalidExport)

	_, err = ParseExport([]byte(`not json`))
	require.ErrorIs(t, err, ErrInvalidExport)
}

func TestImport_CreatesChat(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, data, err := Export(&ChatHistoryItem{
		Description: "demo",
		Messages:    []Message{{ID: "m1", Role: RoleUser, Content: "hi"}},
	}, time.Now())
	require.NoError(t, err)

	urlID, err := Import(ctx, store, data)
	require.NoError(t, err)

	chat, err := store.GetMessages(ctx, urlID)
	require.NoError(t, err)
	require.Equal(t, "demo", chat.Description)
	require.Equal(t, "true", chat.Metadata["imported"])
	require.Equal(t, "hi", chat.Messages[0].Content)
}
