// Package watch discovers stable files in hotfolders.
//
// Discovery is poll-driven with a filesystem-notification accelerator:
// the directory is scanned on a fixed interval, and fsnotify events pull the
// next scan forward so small deployments feel instant. Correctness never
// depends on notifications, so network mounts and editors that bypass
// inotify still work.
//
// A file is announced once it has been quiescent (same size and mtime) for
// the configured debounce window and can actually be opened. Each path is
// announced at most once; Forget re-arms a path after its job concluded.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hotfold/hotfold/internal/config"
)

// Event announces one stable file.
type Event struct {
	Hotfolder string
	Path      string
}

type fileState struct {
	size        int64
	mtime       time.Time
	stableSince time.Time
	announced   bool
}

// Watcher observes one hotfolder.
type Watcher struct {
	cfg  config.Hotfolder
	poll time.Duration
	log  *slog.Logger
	now  func() time.Time

	events  chan Event
	forget  chan string
	tracked map[string]*fileState
}

// New prepares a watcher for one hotfolder. poll is the scan cadence.
func New(cfg config.Hotfolder, poll time.Duration, log *slog.Logger) *Watcher {
	if poll <= 0 {
		poll = time.Second
	}
	return &Watcher{
		cfg:     cfg,
		poll:    poll,
		log:     log.With("hotfolder", cfg.ID),
		now:     time.Now,
		events:  make(chan Event, 16),
		forget:  make(chan string, 16),
		tracked: make(map[string]*fileState),
	}
}

// Events delivers announcements. The channel closes when Run returns.
func (w *Watcher) Events() <-chan Event { return w.events }

// Forget re-arms a path so a new file under the same name is announced
// again. Call it when the path's job reaches a terminal state.
func (w *Watcher) Forget(path string) {
	select {
	case w.forget <- path:
	default:
		// A full queue only delays re-arming until the file vanishes
		// from the folder, which the scan notices anyway.
	}
}

// Run scans until the context is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.events)

	kick := make(chan struct{}, 1)
	notifier, err := w.startNotifier(ctx, kick)
	if err != nil {
		w.log.Warn("filesystem notifications unavailable, polling only", "error", err)
	} else {
		defer notifier.Close()
	}

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	w.scan(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case path := <-w.forget:
			delete(w.tracked, path)
		case <-kick:
			w.scan(ctx)
		case <-ticker.C:
			w.scan(ctx)
		}
	}
}

// startNotifier wires fsnotify to pull scans forward. Subdirectories are
// watched lazily as they show up in recursive mode.
func (w *Watcher) startNotifier(ctx context.Context, kick chan<- struct{}) (*fsnotify.Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(w.cfg.Path); err != nil {
		fsw.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if w.cfg.Recursive && ev.Has(fsnotify.Create) {
					if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
						_ = fsw.Add(ev.Name)
					}
				}
				select {
				case kick <- struct{}{}:
				default:
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.log.Warn("notification error", "error", err)
			}
		}
	}()
	return fsw, nil
}

// scan walks the hotfolder and announces files that turned stable.
func (w *Watcher) scan(ctx context.Context) {
	seen := make(map[string]bool)

	visit := func(path string, info fs.FileInfo) {
		seen[path] = true
		st, ok := w.tracked[path]
		now := w.now()
		if !ok || st.size != info.Size() || !st.mtime.Equal(info.ModTime()) {
			w.tracked[path] = &fileState{
				size:        info.Size(),
				mtime:       info.ModTime(),
				stableSince: now,
			}
			return
		}
		if st.announced {
			return
		}
		if now.Sub(st.stableSince) < w.cfg.Debounce.Std() {
			return
		}
		// A file we cannot open yet (still locked by the producer) is
		// retried on the next scan.
		f, err := os.Open(path)
		if err != nil {
			w.log.Debug("stable file not yet readable", "path", path, "error", err)
			return
		}
		f.Close()

		st.announced = true
		select {
		case w.events <- Event{Hotfolder: w.cfg.ID, Path: path}:
			w.log.Info("file discovered", "path", path)
		case <-ctx.Done():
		}
	}

	if w.cfg.Recursive {
		_ = filepath.WalkDir(w.cfg.Path, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if w.excludedDir(path) {
					return filepath.SkipDir
				}
				return nil
			}
			if !w.wantFile(path) {
				return nil
			}
			if info, err := d.Info(); err == nil {
				visit(path, info)
			}
			return nil
		})
	} else {
		entries, err := os.ReadDir(w.cfg.Path)
		if err != nil {
			w.log.Warn("scan failed", "error", err)
			return
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			path := filepath.Join(w.cfg.Path, e.Name())
			if !w.wantFile(path) {
				continue
			}
			if info, err := e.Info(); err == nil {
				visit(path, info)
			}
		}
	}

	// Files that vanished re-arm automatically.
	for path := range w.tracked {
		if !seen[path] {
			delete(w.tracked, path)
		}
	}
}

// excludedDir keeps the watcher out of its own output directories.
func (w *Watcher) excludedDir(path string) bool {
	if path == w.cfg.Path {
		return false
	}
	for _, special := range []string{w.cfg.ErrorDir, w.cfg.ArchiveDir} {
		if special == "" {
			continue
		}
		if path == special || strings.HasPrefix(path, special+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// wantFile applies the hotfolder's patterns and skips temp artifacts.
func (w *Watcher) wantFile(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~") {
		return false
	}
	if w.excludedDir(filepath.Dir(path)) {
		return false
	}
	lower := strings.ToLower(name)
	for _, pattern := range w.cfg.Patterns {
		if ok, err := filepath.Match(strings.ToLower(pattern), lower); err == nil && ok {
			return true
		}
	}
	return false
}
