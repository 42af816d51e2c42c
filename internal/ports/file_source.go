package ports

import (
	"context"
	"errors"
	"io"
)

var ErrFileNotFound = errors.New("import file not found")

// FileInfo describes a resolved import file.
type FileInfo struct {
	Path     string
	Name     string
	Size     int64
	Checksum string
}

// FileSource resolves and opens import files. Opened files must be seekable
// so the worker can scan them before parsing.
type FileSource interface {
	Stat(ctx context.Context, path string) (FileInfo, error)
	Open(ctx context.Context, path string) (io.ReadSeekCloser, error)
}
