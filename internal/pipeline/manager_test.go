package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotfold/hotfold/internal/config"
	"github.com/hotfold/hotfold/internal/metrics"
)

type stubPDF struct {
	pages int
}

func (s stubPDF) PageCount(string) (int, error)  { return s.pages, nil }
func (s stubPDF) Optimize(src, dst string) error { return os.WriteFile(dst, []byte("opt"), 0o644) }
func (s stubPDF) Normalize(src, dst string) error {
	return os.WriteFile(dst, []byte("norm"), 0o644)
}

func testSettings(t *testing.T) config.Settings {
	t.Helper()
	return config.Settings{
		DataDir:       t.TempDir(),
		ScratchDir:    t.TempDir(),
		PollInterval:  20 * time.Millisecond,
		MaxConcurrent: 2,
		LogLevel:      "debug",
		LogFormat:     "text",
	}
}

func startManager(t *testing.T, cfgJSON string, opts ...ManagerOption) *Manager {
	t.Helper()
	cfg, err := config.LoadBytes([]byte(cfgJSON), false)
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	m, err := NewManager(log, testSettings(t), cfg, nil, metrics.New(), opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Error("manager did not shut down")
		}
	})
	return m
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(8 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestEndToEndFolderDelivery(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()

	cfgJSON := fmt.Sprintf(`{
	  "hotfolders": [{
	    "id": "invoices",
	    "path": %q,
	    "debounce": "40ms",
	    "exports": [{
	      "id": "main",
	      "kind": "folder",
	      "filename": "<FileName>_done",
	      "folder": {"path": %q}
	    }]
	  }]
	}`, in, out)

	startManager(t, cfgJSON)

	src := filepath.Join(in, "scan.pdf")
	require.NoError(t, os.WriteFile(src, []byte("%PDF"), 0o644))

	delivered := filepath.Join(out, "scan_done.pdf")
	waitFor(t, "delivery", func() bool { return exists(delivered) })

	archived := filepath.Join(in, "archive", "scan.pdf")
	waitFor(t, "source archived", func() bool { return exists(archived) })
	assert.False(t, exists(src))

	data, err := os.ReadFile(delivered)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(data))
}

func TestEndToEndActionFeedsTemplate(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()

	cfgJSON := fmt.Sprintf(`{
	  "hotfolders": [{
	    "id": "scans",
	    "path": %q,
	    "debounce": "40ms",
	    "actions": [{"kind": "pagecount"}],
	    "exports": [{
	      "id": "main",
	      "kind": "folder",
	      "filename": "<FileName>_<PageCount>p",
	      "folder": {"path": %q}
	    }]
	  }]
	}`, in, out)

	startManager(t, cfgJSON, WithPDFEngine(stubPDF{pages: 7}))

	require.NoError(t, os.WriteFile(filepath.Join(in, "report.pdf"), []byte("x"), 0o644))
	waitFor(t, "delivery with page count", func() bool {
		return exists(filepath.Join(out, "report_7p.pdf"))
	})
}

func TestEndToEndFailureQuarantines(t *testing.T) {
	in := t.TempDir()
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	cfgJSON := fmt.Sprintf(`{
	  "hotfolders": [{
	    "id": "doomed",
	    "path": %q,
	    "debounce": "40ms",
	    "exports": [{
	      "id": "main",
	      "kind": "folder",
	      "retry": {"max_attempts": 1},
	      "folder": {"path": %q}
	    }]
	  }]
	}`, in, filepath.Join(blocker, "out"))

	startManager(t, cfgJSON)

	require.NoError(t, os.WriteFile(filepath.Join(in, "scan.pdf"), []byte("x"), 0o644))

	errDir := filepath.Join(in, "error")
	waitFor(t, "quarantined source", func() bool {
		return exists(filepath.Join(errDir, "scan.pdf"))
	})

	waitFor(t, "error report", func() bool {
		entries, err := os.ReadDir(errDir)
		if err != nil {
			return false
		}
		for _, e := range entries {
			if strings.HasSuffix(e.Name(), "_error.txt") {
				data, err := os.ReadFile(filepath.Join(errDir, e.Name()))
				if err != nil {
					return false
				}
				return strings.Contains(string(data), "destination main: failed")
			}
		}
		return false
	})
}

func TestEndToEndGatedDestinationSkipsJob(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()

	cfgJSON := fmt.Sprintf(`{
	  "hotfolders": [{
	    "id": "gated",
	    "path": %q,
	    "debounce": "40ms",
	    "exports": [{
	      "id": "main",
	      "kind": "folder",
	      "when": {"conditions": [{"variable": "DocType", "operator": "equals", "value": "invoice"}]},
	      "folder": {"path": %q}
	    }]
	  }]
	}`, in, out)

	startManager(t, cfgJSON)

	require.NoError(t, os.WriteFile(filepath.Join(in, "letter.pdf"), []byte("x"), 0o644))

	// The job concludes as skipped: source archived, nothing delivered.
	waitFor(t, "source archived", func() bool {
		return exists(filepath.Join(in, "archive", "letter.pdf"))
	})
	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEndToEndDeletePolicy(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()

	cfgJSON := fmt.Sprintf(`{
	  "hotfolders": [{
	    "id": "ephemeral",
	    "path": %q,
	    "debounce": "40ms",
	    "on_success": "delete",
	    "exports": [{
	      "id": "main",
	      "kind": "folder",
	      "folder": {"path": %q}
	    }]
	  }]
	}`, in, out)

	startManager(t, cfgJSON)

	src := filepath.Join(in, "scan.pdf")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	waitFor(t, "delivery", func() bool { return exists(filepath.Join(out, "scan.pdf")) })
	waitFor(t, "source deleted", func() bool { return !exists(src) })
}

func TestNewManagerDisablesBrokenHotfolder(t *testing.T) {
	in1, in2 := t.TempDir(), t.TempDir()

	cfgJSON := fmt.Sprintf(`{
	  "hotfolders": [
	    {"id": "good", "path": %q},
	    {"id": "bad", "path": %q,
	     "exports": [{"id": "x", "kind": "email"}]}
	  ]
	}`, in1, in2)
	cfg, err := config.LoadBytes([]byte(cfgJSON), false)
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	m, err := NewManager(log, testSettings(t), cfg, nil, metrics.New())
	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, m.Folders())
}

func TestNewManagerSkipsDisabledHotfolder(t *testing.T) {
	in1, in2 := t.TempDir(), t.TempDir()

	cfgJSON := fmt.Sprintf(`{
	  "hotfolders": [
	    {"id": "active", "path": %q},
	    {"id": "paused", "path": %q, "enabled": false}
	  ]
	}`, in1, in2)
	cfg, err := config.LoadBytes([]byte(cfgJSON), false)
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	m, err := NewManager(log, testSettings(t), cfg, nil, metrics.New())
	require.NoError(t, err)
	assert.Equal(t, []string{"active"}, m.Folders())
}

func TestNewManagerAllBrokenErrors(t *testing.T) {
	cfgJSON := fmt.Sprintf(`{
	  "hotfolders": [
	    {"id": "bad", "path": %q,
	     "exports": [{"id": "x", "kind": "ftp"}]}
	  ]
	}`, t.TempDir())
	cfg, err := config.LoadBytes([]byte(cfgJSON), false)
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err = NewManager(log, testSettings(t), cfg, nil, metrics.New())
	assert.Error(t, err)
}
