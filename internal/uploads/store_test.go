package uploads_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"seedream-proxy/internal/uploads"
)

func TestLocalStore_PutRefusesOverwriteAndPaths(t *testing.T) {
	store := uploads.NewLocalStore(t.TempDir())

	require.NoError(t, store.Put(context.Background(), "a.png", "image/png", []byte("one")))
	assert.Error(t, store.Put(context.Background(), "a.png", "image/png", []byte("two")))
	assert.Error(t, store.Put(context.Background(), "../escape.png", "image/png", []byte("x")))
}

func TestLocalStore_SweepRemovesOnlyExpired(t *testing.T) {
	dir := t.TempDir()
	store := uploads.NewLocalStore(dir)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "old.png", "image/png", []byte("old")))
	require.NoError(t, store.Put(ctx, "fresh.png", "image/png", []byte("fresh")))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "keep-dir"), 0o755))

	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "old.png"), past, past))

	removed, err := store.Sweep(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, filepath.Join(dir, "old.png"))
	assert.FileExists(t, filepath.Join(dir, "fresh.png"))
	assert.DirExists(t, filepath.Join(dir, "keep-dir"))
}

func TestLocalStore_SweepMissingDirectory(t *testing.T) {
	store := uploads.NewLocalStore(filepath.Join(t.TempDir(), "never-created"))
	removed, err := store.Sweep(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

type countingSweeper struct {
	calls chan time.Duration
}

func (s *countingSweeper) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	s.calls <- maxAge
	return 0, nil
}

func TestRunJanitor_SweepsUntilCancelled(t *testing.T) {
	sweeper := &countingSweeper{calls: make(chan time.Duration, 16)}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		uploads.RunJanitor(ctx, sweeper, 3*time.Hour, 10*time.Millisecond, nil)
		close(done)
	}()

	for i := 0; i < 2; i++ {
		select {
		case got := <-sweeper.calls:
			assert.Equal(t, 3*time.Hour, got)
		case <-time.After(2 * time.Second):
			t.Fatal("janitor did not sweep")
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not stop")
	}
}
