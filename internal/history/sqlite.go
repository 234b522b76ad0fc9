package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/zjrosen/kiln/internal/log"
)

// DefaultCacheTTL bounds how long a snapshot stays in the read cache.
const DefaultCacheTTL = 5 * time.Minute

// SQLiteStore is the sqlite-backed Store. Snapshots are served through a
// read-through cache.
type SQLiteStore struct {
	db        *sql.DB
	path      string
	snapshots *snapshotCache
	cacheTTL  time.Duration
	now       func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// SQLiteOption configures an SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithCacheTTL sets the snapshot cache TTL. Zero disables caching.
func WithCacheTTL(ttl time.Duration) SQLiteOption {
	return func(s *SQLiteStore) {
		s.cacheTTL = ttl
	}
}

// WithNow overrides the store's time source.
func WithNow(now func() time.Time) SQLiteOption {
	return func(s *SQLiteStore) {
		s.now = now
	}
}

// OpenSQLite opens (creating if needed) the database at path and applies
// pending migrations.
func OpenSQLite(ctx context.Context, path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	log.Debug(log.CatDB, "Opening database", "path", path)
	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		log.ErrorErr(log.CatDB, "Failed to open database", err, "path", path)
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		log.ErrorErr(log.CatDB, "Failed to ping database", err, "path", path)
		return nil, err
	}
	if err := migrateUp(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db, path: path, cacheTTL: DefaultCacheTTL, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.snapshots = newSnapshotCache(s.cacheTTL, s.loadSnapshot)

	log.Info(log.CatDB, "Connected to database", "path", path)
	return s, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const chatColumns = `id, url_id, description, messages, metadata, timestamp`

// timestampLayout is fixed-width so stored timestamps sort lexically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

func scanChat(row interface{ Scan(...any) error }) (*ChatHistoryItem, error) {
	var (
		item                    ChatHistoryItem
		messages, meta, tsValue string
	)
	if err := row.Scan(&item.ID, &item.URLID, &item.Description, &messages, &meta, &tsValue); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(messages), &item.Messages); err != nil {
		return nil, fmt.Errorf("decoding messages of chat %s: %w", item.ID, err)
	}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &item.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata of chat %s: %w", item.ID, err)
		}
	}
	ts, err := time.Parse(timestampLayout, tsValue)
	if err != nil {
		return nil, fmt.Errorf("parsing timestamp of chat %s: %w", item.ID, err)
	}
	item.Timestamp = ts
	return &item, nil
}

func (s *SQLiteStore) GetMessages(ctx context.Context, id string) (*ChatHistoryItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+chatColumns+` FROM chats WHERE id = ? OR url_id = ? ORDER BY id = ? DESC LIMIT 1`, id, id, id)
	item, err := scanChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrChatNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *SQLiteStore) SetMessages(ctx context.Context, item ChatHistoryItem) error {
	if item.ID == "" {
		return fmt.Errorf("chat id is required")
	}
	if item.URLID == "" {
		item.URLID = item.ID
	}
	if item.Timestamp.IsZero() {
		item.Timestamp = s.now()
	}
	if item.Messages == nil {
		item.Messages = []Message{}
	}
	messages, err := json.Marshal(item.Messages)
	if err != nil {
		return fmt.Errorf("encoding messages: %w", err)
	}
	meta, err := json.Marshal(item.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chats (`+chatColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			url_id = excluded.url_id,
			description = excluded.description,
			messages = excluded.messages,
			metadata = excluded.metadata,
			timestamp = excluded.timestamp`,
		item.ID, item.URLID, item.Description, string(messages), string(meta),
		item.Timestamp.UTC().Format(timestampLayout))
	if err != nil {
		log.ErrorErr(log.CatDB, "Failed to save chat", err, "id", item.ID)
		return fmt.Errorf("saving chat %s: %w", item.ID, err)
	}
	log.Debug(log.CatHistory, "chat saved", "id", item.ID, "messages", len(item.Messages))
	return nil
}

// GetSnapshot returns a copy of the cached or stored snapshot.
func (s *SQLiteStore) GetSnapshot(ctx context.Context, chatID string) (*Snapshot, error) {
	return s.snapshots.Get(ctx, chatID)
}

func (s *SQLiteStore) loadSnapshot(ctx context.Context, chatID string) (*Snapshot, error) {
	var (
		snap           Snapshot
		data           []byte
		digestExpected string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT chat_index, summary, files, digest FROM snapshots WHERE chat_id = ?`, chatID).
		Scan(&snap.ChatIndex, &snap.Summary, &data, &digestExpected)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading snapshot for chat %s: %w", chatID, err)
	}
	files, err := decodeFiles(data, digestExpected)
	if err != nil {
		log.ErrorErr(log.CatHistory, "snapshot unreadable", err, "chat", chatID)
		return nil, fmt.Errorf("loading snapshot for chat %s: %w", chatID, err)
	}
	snap.Files = files
	return &snap, nil
}

func (s *SQLiteStore) SetSnapshot(ctx context.Context, chatID string, snapshot Snapshot) error {
	data, sum, err := encodeFiles(snapshot.Files)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (chat_id, chat_index, summary, files, digest) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			chat_index = excluded.chat_index,
			summary = excluded.summary,
			files = excluded.files,
			digest = excluded.digest`,
		chatID, snapshot.ChatIndex, snapshot.Summary, data, sum)
	if err != nil {
		log.ErrorErr(log.CatDB, "Failed to save snapshot", err, "chat", chatID)
		return fmt.Errorf("saving snapshot for chat %s: %w", chatID, err)
	}

	s.snapshots.Set(chatID, &snapshot)
	log.Debug(log.CatHistory, "snapshot saved", "chat", chatID, "index", snapshot.ChatIndex, "entries", len(snapshot.Files))
	return nil
}

func (s *SQLiteStore) DuplicateChat(ctx context.Context, id string) (string, error) {
	item, err := s.GetMessages(ctx, id)
	if err != nil {
		return "", err
	}
	return s.CreateChatFromMessages(ctx, item.Description+" (copy)", item.Messages, item.Metadata)
}

func (s *SQLiteStore) CreateChatFromMessages(ctx context.Context, description string, messages []Message, metadata map[string]string) (string, error) {
	id, err := s.GetNextID(ctx)
	if err != nil {
		return "", err
	}
	urlID, err := s.GetURLID(ctx, id)
	if err != nil {
		return "", err
	}
	err = s.SetMessages(ctx, ChatHistoryItem{
		ID:          id,
		URLID:       urlID,
		Description: description,
		Messages:    messages,
		Timestamp:   s.now(),
		Metadata:    metadata,
	})
	if err != nil {
		return "", err
	}
	return urlID, nil
}

func (s *SQLiteStore) GetNextID(ctx context.Context) (string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM chats`)
	if err != nil {
		return "", fmt.Errorf("listing chat ids: %w", err)
	}
	defer rows.Close()

	highest := 0
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		if n, err := strconv.Atoi(id); err == nil && n > highest {
			highest = n
		}
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return strconv.Itoa(highest + 1), nil
}

func (s *SQLiteStore) GetURLID(ctx context.Context, id string) (string, error) {
	taken := func(candidate string) (bool, error) {
		var n int
		err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chats WHERE url_id = ?`, candidate).Scan(&n)
		return n > 0, err
	}
	candidate := id
	for i := 2; ; i++ {
		used, err := taken(candidate)
		if err != nil {
			return "", fmt.Errorf("checking url id %s: %w", candidate, err)
		}
		if !used {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", id, i)
	}
}

func (s *SQLiteStore) DeleteChat(ctx context.Context, id string) error {
	item, err := s.GetMessages(ctx, id)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE chat_id = ?`, item.ID); err != nil {
		return fmt.Errorf("deleting snapshot of chat %s: %w", item.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, item.ID); err != nil {
		return fmt.Errorf("deleting chat %s: %w", item.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.snapshots.Delete(item.ID)
	log.Info(log.CatHistory, "chat deleted", "id", item.ID)
	return nil
}

func (s *SQLiteStore) ListChats(ctx context.Context) ([]ChatHistoryItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+chatColumns+` FROM chats ORDER BY timestamp DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing chats: %w", err)
	}
	defer rows.Close()

	var out []ChatHistoryItem
	for rows.Next() {
		item, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *item)
	}
	return out, rows.Err()
}

// NewMessageID returns a random message id.
func NewMessageID() string {
	return uuid.NewString()
}
