// Package archive exports the project's text files as a zip archive or
// into a local directory.
package archive

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/zeebo/blake3"

	"github.com/zjrosen/kiln/internal/filetable"
	"github.com/zjrosen/kiln/internal/log"
)

// DefaultSlug names archives whose description has no usable characters.
const DefaultSlug = "project"

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Archive is a built zip file.
type Archive struct {
	Name string
	Data []byte
}

// Slug lowercases description and collapses every run of characters
// outside [a-z0-9] into a single underscore.
func Slug(description string) string {
	s := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(description), "_"), "_")
	if s == "" {
		return DefaultSlug
	}
	return s
}

// Name returns "<slug>_<hash6>.zip" where hash6 is the first six hex
// characters of the BLAKE3 digest of now.
func Name(description string, now time.Time) string {
	sum := blake3.Sum256([]byte(now.UTC().Format(time.RFC3339Nano)))
	return fmt.Sprintf("%s_%s.zip", Slug(description), hex.EncodeToString(sum[:])[:6])
}

// TextFiles returns the non-binary files under root keyed by their path
// relative to root. Entries outside root are ignored.
func TextFiles(files filetable.FileMap, root string) map[string]string {
	root = path.Clean(root)
	out := make(map[string]string)
	for p, e := range files {
		f, ok := e.(*filetable.File)
		if !ok || f.IsBinary {
			continue
		}
		rel, ok := relative(p, root)
		if !ok {
			continue
		}
		out[rel] = f.Text()
	}
	return out
}

// Build zips the text files under root.
func Build(files filetable.FileMap, root, description string, now time.Time) (*Archive, error) {
	text := TextFiles(files, root)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, p := range files.Paths() {
		rel, ok := relative(p, root)
		if !ok {
			continue
		}
		content, ok := text[rel]
		if !ok {
			continue
		}
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     rel,
			Method:   zip.Deflate,
			Modified: now,
		})
		if err != nil {
			return nil, fmt.Errorf("adding %s: %w", rel, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			return nil, fmt.Errorf("writing %s: %w", rel, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("closing archive: %w", err)
	}

	a := &Archive{Name: Name(description, now), Data: buf.Bytes()}
	log.Info(log.CatArchive, "archive built", "name", a.Name, "files", len(text), "bytes", len(a.Data))
	return a, nil
}

// SyncToDirectory writes the text files under root into dir, creating
// intermediate directories, and returns the relative paths written in
// sorted order.
func SyncToDirectory(files filetable.FileMap, root, dir string) ([]string, error) {
	text := TextFiles(files, root)
	var written []string
	for _, p := range files.Paths() {
		rel, ok := relative(p, root)
		if !ok {
			continue
		}
		content, ok := text[rel]
		if !ok {
			continue
		}
		dest := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return written, fmt.Errorf("creating directory for %s: %w", rel, err)
		}
		if err := os.WriteFile(dest, []byte(content), 0o644); err != nil {
			return written, fmt.Errorf("writing %s: %w", rel, err)
		}
		written = append(written, rel)
	}
	log.Info(log.CatArchive, "synced to directory", "dir", dir, "files", len(written))
	return written, nil
}

func relative(p, root string) (string, bool) {
	root = path.Clean(root)
	if root == "/" {
		rel := strings.TrimPrefix(p, "/")
		return rel, rel != ""
	}
	if !strings.HasPrefix(p, root+"/") {
		return "", false
	}
	return strings.TrimPrefix(p, root+"/"), true
}
