package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps blobs on the local filesystem under one directory and
// serves them under a URL path prefix (the HTTP layer mounts the dir).
type LocalStore struct {
	baseDir string
	urlPath string
}

// NewLocalStore creates the directory if needed. urlPath is the public
// prefix stored objects are addressed by (default "/uploads").
func NewLocalStore(baseDir, urlPath string) (*LocalStore, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, errors.New("blob: empty base dir")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	if urlPath == "" {
		urlPath = "/uploads"
	}
	return &LocalStore{
		baseDir: baseDir,
		urlPath: strings.TrimRight(urlPath, "/"),
	}, nil
}

// Dir returns the backing directory (for static file mounting).
func (s *LocalStore) Dir() string { return s.baseDir }

// Put writes to a temp file then renames, so a failed write never leaves a
// partial object under the final name.
func (s *LocalStore) Put(ctx context.Context, name, contentType string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean, err := sanitizeName(name)
	if err != nil {
		return "", err
	}

	final := filepath.Join(s.baseDir, clean)
	tmp := final + ".tmp"

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("rename blob: %w", err)
	}

	return s.urlPath + "/" + clean, nil
}

// Get opens a stored object.
func (s *LocalStore) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean, err := sanitizeName(name)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Join(s.baseDir, clean))
	if err != nil {
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return f, nil
}

// Delete removes a stored object; deleting an absent object is not an error.
func (s *LocalStore) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clean, err := sanitizeName(name)
	if err != nil {
		return err
	}

	if err := os.Remove(filepath.Join(s.baseDir, clean)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

// Close is a no-op for the local store.
func (s *LocalStore) Close() error { return nil }

// sanitizeName rejects anything that could escape the base directory.
func sanitizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("blob: empty name")
	}
	if name == "." || name == ".." || strings.ContainsAny(name, "/\\") || name != filepath.Base(name) {
		return "", fmt.Errorf("blob: invalid name %q", name)
	}
	return name, nil
}
