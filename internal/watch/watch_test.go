package watch

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotfold/hotfold/internal/config"
)

func testWatcher(t *testing.T, dir string, mutate func(*config.Hotfolder)) *Watcher {
	t.Helper()
	cfg := config.Hotfolder{
		ID:         "test",
		Path:       dir,
		Patterns:   []string{"*.pdf"},
		Debounce:   config.Duration(60 * time.Millisecond),
		ErrorDir:   filepath.Join(dir, "error"),
		ArchiveDir: filepath.Join(dir, "archive"),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := New(cfg, 20*time.Millisecond, log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w
}

func awaitEvent(t *testing.T, w *Watcher) Event {
	t.Helper()
	select {
	case ev := <-w.Events():
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func assertNoEvent(t *testing.T, w *Watcher, within time.Duration) {
	t.Helper()
	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected event for %s", ev.Path)
	case <-time.After(within):
	}
}

func TestAnnouncesStableFile(t *testing.T) {
	dir := t.TempDir()
	w := testWatcher(t, dir, nil)

	path := filepath.Join(dir, "scan.pdf")
	require.NoError(t, os.WriteFile(path, []byte("done"), 0o644))

	ev := awaitEvent(t, w)
	assert.Equal(t, "test", ev.Hotfolder)
	assert.Equal(t, path, ev.Path)
}

func TestDebounceWaitsForWriterToFinish(t *testing.T) {
	dir := t.TempDir()
	w := testWatcher(t, dir, func(c *config.Hotfolder) {
		c.Debounce = config.Duration(150 * time.Millisecond)
	})

	path := filepath.Join(dir, "scan.pdf")
	require.NoError(t, os.WriteFile(path, []byte("part1"), 0o644))

	// Keep appending inside the quiescence window.
	time.Sleep(60 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("-part2")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	ev := awaitEvent(t, w)
	data, err := os.ReadFile(ev.Path)
	require.NoError(t, err)
	assert.Equal(t, "part1-part2", string(data), "announced before writer finished")
}

func TestAnnouncesOnce(t *testing.T) {
	dir := t.TempDir()
	w := testWatcher(t, dir, nil)

	path := filepath.Join(dir, "scan.pdf")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	awaitEvent(t, w)
	assertNoEvent(t, w, 300*time.Millisecond)
}

func TestForgetReArms(t *testing.T) {
	dir := t.TempDir()
	w := testWatcher(t, dir, nil)

	path := filepath.Join(dir, "scan.pdf")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	awaitEvent(t, w)

	w.Forget(path)
	ev := awaitEvent(t, w)
	assert.Equal(t, path, ev.Path)
}

func TestVanishedFileReArms(t *testing.T) {
	dir := t.TempDir()
	w := testWatcher(t, dir, nil)

	path := filepath.Join(dir, "scan.pdf")
	require.NoError(t, os.WriteFile(path, []byte("first"), 0o644))
	awaitEvent(t, w)

	require.NoError(t, os.Remove(path))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("second"), 0o644))

	ev := awaitEvent(t, w)
	assert.Equal(t, path, ev.Path)
}

func TestIgnoresNonMatchingPatterns(t *testing.T) {
	dir := t.TempDir()
	w := testWatcher(t, dir, nil)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden.pdf"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "~lock.pdf"), []byte("x"), 0o644))
	assertNoEvent(t, w, 300*time.Millisecond)

	match := filepath.Join(dir, "REPORT.PDF")
	require.NoError(t, os.WriteFile(match, []byte("x"), 0o644))
	ev := awaitEvent(t, w)
	assert.Equal(t, match, ev.Path)
}

func TestRecursiveSkipsOwnOutputDirs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "error"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))

	w := testWatcher(t, dir, func(c *config.Hotfolder) {
		c.Recursive = true
	})

	require.NoError(t, os.WriteFile(filepath.Join(dir, "error", "failed.pdf"), []byte("x"), 0o644))
	assertNoEvent(t, w, 300*time.Millisecond)

	nested := filepath.Join(dir, "sub", "scan.pdf")
	require.NoError(t, os.WriteFile(nested, []byte("x"), 0o644))
	ev := awaitEvent(t, w)
	assert.Equal(t, nested, ev.Path)
}

func TestNonRecursiveIgnoresSubdirs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))

	w := testWatcher(t, dir, nil)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "scan.pdf"), []byte("x"), 0o644))
	assertNoEvent(t, w, 300*time.Millisecond)
}
