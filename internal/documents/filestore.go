package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ErrBadRef is returned by Open for refs that were not produced by this store.
var ErrBadRef = errors.New("documents: bad file reference")

// FileStore пишет файлы в каталог STORAGE_DIR: <dir>/<ticket_id>/<uuid>-<name>.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("documents: create %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Put(ctx context.Context, ticketID uint64, name string, content []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ticketDir := strconv.FormatUint(ticketID, 10)
	if err := os.MkdirAll(filepath.Join(s.dir, ticketDir), 0o750); err != nil {
		return "", fmt.Errorf("documents: mkdir: %w", err)
	}
	ref := ticketDir + "/" + uuid.NewString() + "-" + sanitize(name)
	path := filepath.Join(s.dir, filepath.FromSlash(ref))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o640); err != nil {
		return "", fmt.Errorf("documents: write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("documents: rename: %w", err)
	}
	return ref, nil
}

func (s *FileStore) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean := filepath.Clean(filepath.FromSlash(ref))
	if ref == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return nil, ErrBadRef
	}
	f, err := os.Open(filepath.Join(s.dir, clean))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrBadRef
		}
		return nil, fmt.Errorf("documents: open: %w", err)
	}
	return f, nil
}

func sanitize(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if out == "" || out == "." || out == ".." {
		return "response"
	}
	if len(out) > 128 {
		out = out[len(out)-128:]
	}
	return out
}
