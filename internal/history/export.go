package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
)

// ExportFile is the on-disk chat export format.
type ExportFile struct {
	Messages    []Message `json:"messages"`
	Description string    `json:"description"`
	ExportDate  time.Time `json:"exportDate"`
}

// ExportFilename returns "chat-<ISO timestamp>.json" with colons replaced
// so the name is valid on every filesystem.
func ExportFilename(now time.Time) string {
	return "chat-" + strings.ReplaceAll(now.UTC().Format("2006-01-02T15:04:05.000Z"), ":", "-") + ".json"
}

// Export renders chat as an indented export file.
func Export(chat *ChatHistoryItem, now time.Time) (string, []byte, error) {
	data, err := json.MarshalIndent(ExportFile{
		Messages:    chat.Messages,
		Description: chat.Description,
		ExportDate:  now.UTC(),
	}, "", "  ")
	if err != nil {
		return "", nil, fmt.Errorf("encoding export: %w", err)
	}
	return ExportFilename(now), data, nil
}

// ParseExport reads an export file. Comments and trailing commas are
// tolerated.
func ParseExport(data []byte) (*ExportFile, error) {
	var wire struct {
		Messages    *[]Message `json:"messages"`
		Description string     `json:"description"`
		ExportDate  time.Time  `json:"exportDate"`
	}
	if err := json.Unmarshal(jsonc.ToJSON(data), &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExport, err)
	}
	if wire.Messages == nil {
		return nil, fmt.Errorf("%w: missing messages", ErrInvalidExport)
	}
	return &ExportFile{Messages: *wire.Messages, Description: wire.Description, ExportDate: wire.ExportDate}, nil
}

// Import stores an export file as a new chat and returns its url id.
func Import(ctx context.Context, store Store, data []byte) (string, error) {
	export, err := ParseExport(data)
	if err != nil {
		return "", err
	}
	description := export.Description
	if description == "" {
		description = "Imported chat"
	}
	return store.CreateChatFromMessages(ctx, description, export.Messages, map[string]string{"imported": "true"})
}
