package workbench

import (
	"bufio"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/kiln/internal/filetable"
)

const transcript = `
{"kind": "artifact-open", "messageId": "m1", "artifactId": "todo", "payload": {"title": "Todo App"}}
{"kind": "action-append", "messageId": "m1", "artifactId": "todo", "actionId": "a1", "payload": {"type": "file", "filePath": "index.js", "content": ""}}
{"kind": "action-run", "messageId": "m1", "artifactId": "todo", "actionId": "a1", "streaming": true, "payload": {"type": "file", "filePath": "index.js", "content": "con"}}
{"kind": "action-run", "messageId": "m1", "artifactId": "todo", "actionId": "a1", "payload": {"type": "file", "filePath": "index.js", "content": "console.log('todo')"}}
{"kind": "action-append", "messageId": "m1", "artifactId": "todo", "actionId": "a2", "payload": {"type": "shell", "command": "npm install",},}
{"kind": "action-run", "messageId": "m1", "artifactId": "todo", "actionId": "a2"}
{"kind": "artifact-update", "messageId": "m1", "payload": {"closed": true}}
`

func TestHandleEvent_Transcript(t *testing.T) {
	ctx := context.Background()
	b := newTestBench(t, Options{})

	scanner := bufio.NewScanner(strings.NewReader(transcript))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		ev, err := DecodeEvent([]byte(line))
		require.NoError(t, err)
		require.NoError(t, b.HandleEvent(ctx, ev), line)
	}

	f, ok := b.Files()["/home/project/index.js"].(*filetable.File)
	require.True(t, ok)
	require.Equal(t, "console.log('todo')", f.Text())
	require.Equal(t, []string{"npm install"}, b.mem.Commands())

	a, ok := b.Artifact("m1")
	require.True(t, ok)
	require.Equal(t, "Todo App", a.Title)
	require.True(t, a.Closed)
	require.Len(t, a.Runner.States(), 2)
}

func TestHandleEvent_ReplayedRunIsNoop(t *testing.T) {
	ctx := context.Background()
	b := newTestBench(t, Options{})
	for _, line := range []string{
		`{"kind": "artifact-open", "messageId": "m1", "artifactId": "x"}`,
		`{"kind": "action-append", "messageId": "m1", "actionId": "a1", "payload": {"type": "shell", "command": "ls"}}`,
		`{"kind": "action-run", "messageId": "m1", "actionId": "a1"}`,
		`{"kind": "action-run", "messageId": "m1", "actionId": "a1"}`,
	} {
		ev, err := DecodeEvent([]byte(line))
		require.NoError(t, err)
		require.NoError(t, b.HandleEvent(ctx, ev))
	}
	require.Equal(t, []string{"ls"}, b.mem.Commands())
}

func TestHandleEvent_Errors(t *testing.T) {
	b := newTestBench(t, Options{})

	_, err := DecodeEvent([]byte(`{"messageId": "m1"}`))
	require.Error(t, err)

	require.ErrorIs(t, b.HandleEvent(context.Background(), Event{Kind: "bogus"}), ErrUnknownEvent)

	err = b.HandleEvent(context.Background(), Event{Kind: EventActionAppend, MessageID: "m1", Payload: []byte(`{"type": "nope"}`)})
	require.Error(t, err)
}
