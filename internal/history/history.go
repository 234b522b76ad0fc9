// Package history persists chat transcripts and file-table snapshots and
// rebuilds a chat when it is reopened or rewound.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/zjrosen/kiln/internal/filetable"
)

var (
	// ErrChatNotFound is returned when no chat matches an id or url id.
	ErrChatNotFound = errors.New("chat not found")
	// ErrCorruptSnapshot is returned when a stored snapshot fails its
	// digest check.
	ErrCorruptSnapshot = errors.New("snapshot digest mismatch")
	// ErrInvalidExport is returned when an imported chat file has no
	// messages array.
	ErrInvalidExport = errors.New("invalid chat export")
)

// Role identifies a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message annotations.
const (
	// AnnotationHidden keeps a message out of the visible transcript.
	AnnotationHidden = "hidden"
	// AnnotationNoStore marks synthesized messages that are not
	// persisted back to the store.
	AnnotationNoStore = "no-store"
)

// Message is one chat message.
type Message struct {
	ID          string    `json:"id"`
	Role        Role      `json:"role"`
	Content     string    `json:"content"`
	Annotations []string  `json:"annotations,omitempty"`
	CreatedAt   time.Time `json:"createdAt,omitzero"`
}

// HasAnnotation reports whether m carries annotation a.
func (m Message) HasAnnotation(a string) bool {
	for _, v := range m.Annotations {
		if v == a {
			return true
		}
	}
	return false
}

// ChatHistoryItem is a stored chat.
type ChatHistoryItem struct {
	ID          string            `json:"id"`
	URLID       string            `json:"urlId"`
	Description string            `json:"description"`
	Messages    []Message         `json:"messages"`
	Timestamp   time.Time         `json:"timestamp"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Snapshot is the file table as of the message ChatIndex.
type Snapshot struct {
	ChatIndex string
	Files     filetable.FileMap
	Summary   string
}

// Store persists chats and their latest snapshot.
type Store interface {
	// GetMessages looks a chat up by id, then by url id.
	GetMessages(ctx context.Context, id string) (*ChatHistoryItem, error)
	// SetMessages inserts or replaces a chat. An empty Timestamp is set
	// to the current time.
	SetMessages(ctx context.Context, item ChatHistoryItem) error
	// GetSnapshot returns nil without error when the chat has none.
	GetSnapshot(ctx context.Context, chatID string) (*Snapshot, error)
	SetSnapshot(ctx context.Context, chatID string, snapshot Snapshot) error
	// DuplicateChat copies a chat under a new id and returns its url id.
	DuplicateChat(ctx context.Context, id string) (string, error)
	// CreateChatFromMessages stores a new chat and returns its url id.
	CreateChatFromMessages(ctx context.Context, description string, messages []Message, metadata map[string]string) (string, error)
	// GetNextID returns one more than the largest numeric chat id.
	GetNextID(ctx context.Context) (string, error)
	// GetURLID returns id if no chat uses it as url id, otherwise the
	// first free "id-N".
	GetURLID(ctx context.Context, id string) (string, error)
	DeleteChat(ctx context.Context, id string) error
	// ListChats returns every chat, newest first.
	ListChats(ctx context.Context) ([]ChatHistoryItem, error)
	Close() error
}
