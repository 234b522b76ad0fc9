package filetable

import "errors"

var (
	// ErrInvalidPath is returned for empty or relative paths.
	ErrInvalidPath = errors.New("path must be absolute")
	// ErrNotFound is returned when no entry exists at a path.
	ErrNotFound = errors.New("entry not found")
	// ErrLocked is returned when writing to a locked file or beneath a locked folder.
	ErrLocked = errors.New("path is locked")
	// ErrIsFolder is returned when a file operation targets a folder.
	ErrIsFolder = errors.New("path is a folder")
	// ErrNotFolder is returned when a folder operation targets a file.
	ErrNotFolder = errors.New("path is not a folder")
)
