package discovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcher_DebouncesCreateThenModify(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWatcher(dir, WatchOptions{DebounceWindow: 50 * time.Millisecond}, nil)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() { _ = w.Run(ctx) }()

	path := filepath.Join(dir, "foo.go")
	require.NoError(t, os.WriteFile(path, []byte("package foo"), 0o644))
	require.NoError(t, os.WriteFile(path, []byte("package foo\n\nfunc Foo() {}"), 0o644))

	select {
	case ev := <-w.Events():
		require.Equal(t, path, ev.Path)
		require.Equal(t, ChangeCreated, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for debounced event")
	}
}

func TestCoalesce_CreateThenDelete_Cancels(t *testing.T) {
	_, keep := coalesce(ChangeCreated, ChangeEvent{Kind: ChangeDeleted})
	require.False(t, keep)
}

func TestCoalesce_DeleteThenCreate_BecomesModify(t *testing.T) {
	merged, keep := coalesce(ChangeDeleted, ChangeEvent{Kind: ChangeCreated})
	require.True(t, keep)
	require.Equal(t, ChangeModified, merged.Kind)
}

func TestWatcher_GitignoreEditReconcilesIgnoredFiles(t *testing.T) {
	dir := t.TempDir()

	logPath := filepath.Join(dir, "debug.log")
	require.NoError(t, os.WriteFile(logPath, []byte("old"), 0o644))

	w, err := NewWatcher(dir, WatchOptions{DebounceWindow: 50 * time.Millisecond}, nil)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() { _ = w.Run(ctx) }()

	gitignorePath := filepath.Join(dir, ".gitignore")
	require.NoError(t, os.WriteFile(gitignorePath, []byte("*.log\n"), 0o644))

	select {
	case ev := <-w.Events():
		require.Equal(t, logPath, ev.Path)
		require.Equal(t, ChangeDeleted, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reconciled delete event")
	}
}
