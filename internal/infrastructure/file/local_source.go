package file

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"caseimport/internal/errs"
	"caseimport/internal/ports"
)

// LocalSource serves files from the local filesystem. When baseDir is set,
// relative paths resolve against it and no path may leave it.
type LocalSource struct {
	baseDir string
}

var _ ports.FileSource = (*LocalSource)(nil)

func NewLocalSource(baseDir string) *LocalSource {
	return &LocalSource{baseDir: strings.TrimSpace(baseDir)}
}

func (s *LocalSource) Stat(ctx context.Context, path string) (ports.FileInfo, error) {
	if ctx == nil {
		return ports.FileInfo{}, errors.New("context is required")
	}
	resolved, err := s.resolve(path)
	if err != nil {
		return ports.FileInfo{}, err
	}

	f, err := os.Open(resolved)
	if err != nil {
		return ports.FileInfo{}, mapOpenErr(err, resolved)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ports.FileInfo{}, errs.Wrap(err, "stat import file")
	}
	if info.IsDir() {
		return ports.FileInfo{}, fmt.Errorf("import path is a directory: %s", resolved)
	}

	h := sha256.New()
	if _, err := io.Copy(h, readerWithContext{ctx: ctx, r: f}); err != nil {
		return ports.FileInfo{}, errs.Wrap(err, "hash import file")
	}

	return ports.FileInfo{
		Path:     resolved,
		Name:     filepath.Base(resolved),
		Size:     info.Size(),
		Checksum: hex.EncodeToString(h.Sum(nil)),
	}, nil
}

func (s *LocalSource) Open(ctx context.Context, path string) (io.ReadSeekCloser, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	resolved, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(resolved)
	if err != nil {
		return nil, mapOpenErr(err, resolved)
	}
	return f, nil
}

func (s *LocalSource) resolve(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New("import path is required")
	}
	if s.baseDir == "" {
		return filepath.Clean(path), nil
	}

	target := path
	if !filepath.IsAbs(target) {
		target = filepath.Join(s.baseDir, target)
	}
	if err := ensurePathInsideDir(s.baseDir, target); err != nil {
		return "", err
	}
	// Absolute, so a resolved path handed back through a job resolves the same way.
	abs, err := filepath.Abs(target)
	if err != nil {
		return "", errs.Wrap(err, "resolve import path abs path")
	}
	return abs, nil
}

func ensurePathInsideDir(root string, target string) error {
	rootAbs, err := filepath.Abs(filepath.Clean(root))
	if err != nil {
		return errs.Wrap(err, "resolve base dir abs path")
	}
	targetAbs, err := filepath.Abs(filepath.Clean(target))
	if err != nil {
		return errs.Wrap(err, "resolve import path abs path")
	}

	rel, err := filepath.Rel(rootAbs, targetAbs)
	if err != nil {
		return errs.Wrap(err, "resolve import path relative path")
	}
	rel = filepath.Clean(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("import path escapes base dir: %s (base=%s)", targetAbs, rootAbs)
	}
	return nil
}

func mapOpenErr(err error, path string) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ports.ErrFileNotFound, path)
	}
	return errs.Wrapf(err, "open import file %s", path)
}

type readerWithContext struct {
	ctx context.Context
	r   io.Reader
}

func (r readerWithContext) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
