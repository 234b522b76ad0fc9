package history

import (
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"github.com/zjrosen/kiln/internal/filetable"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("history: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("history: CBOR decoder initialization failed: " + err.Error())
	}
}

// snapshotEntry is the stored form of one file table entry. File content
// is kept as a byte string so binary files round-trip exactly.
type snapshotEntry struct {
	Path     string `cbor:"path"`
	Folder   bool   `cbor:"folder,omitempty"`
	Content  []byte `cbor:"content,omitempty"`
	IsBinary bool   `cbor:"binary,omitempty"`
	Locked   bool   `cbor:"locked,omitempty"`
}

// encodeFiles serializes files deterministically and returns the payload
// with its BLAKE3 hex digest.
func encodeFiles(files filetable.FileMap) ([]byte, string, error) {
	entries := make([]snapshotEntry, 0, len(files))
	for _, p := range files.Paths() {
		switch e := files[p].(type) {
		case *filetable.File:
			entries = append(entries, snapshotEntry{Path: p, Content: e.Content, IsBinary: e.IsBinary, Locked: e.Locked})
		case *filetable.Folder:
			entries = append(entries, snapshotEntry{Path: p, Folder: true, Locked: e.Locked})
		}
	}
	data, err := encMode.Marshal(entries)
	if err != nil {
		return nil, "", fmt.Errorf("encoding snapshot: %w", err)
	}
	return data, digest(data), nil
}

func decodeFiles(data []byte, want string) (filetable.FileMap, error) {
	if digest(data) != want {
		return nil, ErrCorruptSnapshot
	}
	var entries []snapshotEntry
	if err := decMode.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	files := make(filetable.FileMap, len(entries))
	for _, e := range entries {
		if e.Folder {
			files[e.Path] = &filetable.Folder{Locked: e.Locked}
			continue
		}
		content := e.Content
		if content == nil {
			content = []byte{}
		}
		files[e.Path] = &filetable.File{Content: content, IsBinary: e.IsBinary, Locked: e.Locked}
	}
	return files, nil
}

func digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
