package history

import "context"

// NopStore is the degraded-mode store used when persistence is
// unavailable. Reads find nothing and writes are dropped.
type NopStore struct{}

var _ Store = NopStore{}

func (NopStore) GetMessages(context.Context, string) (*ChatHistoryItem, error) {
	return nil, ErrChatNotFound
}

func (NopStore) SetMessages(context.Context, ChatHistoryItem) error { return nil }

func (NopStore) GetSnapshot(context.Context, string) (*Snapshot, error) { return nil, nil }

func (NopStore) SetSnapshot(context.Context, string, Snapshot) error { return nil }

func (NopStore) DuplicateChat(context.Context, string) (string, error) {
	return "", ErrChatNotFound
}

func (NopStore) CreateChatFromMessages(context.Context, string, []Message, map[string]string) (string, error) {
	return "", nil
}

func (NopStore) GetNextID(context.Context) (string, error) { return "1", nil }

func (NopStore) GetURLID(_ context.Context, id string) (string, error) { return id, nil }

func (NopStore) DeleteChat(context.Context, string) error { return nil }

func (NopStore) ListChats(context.Context) ([]ChatHistoryItem, error) { return nil, nil }

func (NopStore) Close() error { return nil }
