package uploads

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Store persists uploaded bytes and knows the public URL they are served at.
type Store interface {
	Put(ctx context.Context, name, contentType string, data []byte) error
	URL(publicBase, name string) string
}

// Sweeper is implemented by stores that can delete expired uploads.
type Sweeper interface {
	Sweep(ctx context.Context, maxAge time.Duration) (int, error)
}

// PathPrefix is the route local uploads are served under.
const PathPrefix = "/uploads"

// LocalStore writes uploads into one flat directory, created on first use.
type LocalStore struct {
	dir string
	now func() time.Time
}

func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{dir: dir, now: time.Now}
}

func (s *LocalStore) Dir() string { return s.dir }

func (s *LocalStore) Put(ctx context.Context, name, contentType string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if name == "" || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid upload name %q", name)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create upload directory: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create upload file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return fmt.Errorf("failed to write upload file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close upload file: %w", err)
	}
	return nil
}

func (s *LocalStore) URL(publicBase, name string) string {
	return strings.TrimSuffix(publicBase, "/") + PathPrefix + "/" + name
}

// Sweep removes regular files whose modification time is older than maxAge.
func (s *LocalStore) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read upload directory: %w", err)
	}

	cutoff := s.now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("failed to remove %s: %w", entry.Name(), err)
		}
		removed++
	}
	return removed, nil
}
