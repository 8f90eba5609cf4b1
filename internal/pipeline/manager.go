// Package pipeline wires watchers, actions and the export engine into
// running hotfolders.
//
// Each hotfolder gets its own watcher, job queue and worker pool; a broken
// hotfolder configuration disables that folder and leaves the rest running.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hotfold/hotfold/internal/action"
	"github.com/hotfold/hotfold/internal/artifact"
	"github.com/hotfold/hotfold/internal/config"
	"github.com/hotfold/hotfold/internal/export"
	"github.com/hotfold/hotfold/internal/expr"
	"github.com/hotfold/hotfold/internal/job"
	"github.com/hotfold/hotfold/internal/metrics"
	"github.com/hotfold/hotfold/internal/watch"
)

// folderRuntime is one hotfolder's running machinery.
type folderRuntime struct {
	cfg       config.Hotfolder
	actions   []action.Action
	queue     *jobQueue
	watcher   *watch.Watcher
	destKinds map[string]string
}

// Manager owns every folder runtime plus the shared services: the counter
// store, artifact cache, export engine and metrics.
type Manager struct {
	log      *slog.Logger
	settings config.Settings
	met      *metrics.Metrics
	cache    *artifact.Cache
	engine   *export.Engine
	pdf      action.PDFEngine
	ocr      action.Recognizer
	now      func() time.Time

	folders []*folderRuntime
}

// ManagerOption overrides a shared service, mostly for tests.
type ManagerOption func(*Manager)

func WithPDFEngine(pdf action.PDFEngine) ManagerOption {
	return func(m *Manager) { m.pdf = pdf }
}

func WithRecognizer(ocr action.Recognizer) ManagerOption {
	return func(m *Manager) { m.ocr = ocr }
}

func WithEngine(e *export.Engine) ManagerOption {
	return func(m *Manager) { m.engine = e }
}

func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager builds runtimes for every valid hotfolder in cfg. Hotfolders
// that fail validation are disabled with a logged reason; the constructor
// only errors when nothing at all can run.
func NewManager(log *slog.Logger, settings config.Settings, cfg *config.Config, counters expr.Incrementer, met *metrics.Metrics, opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		log:      log,
		settings: settings,
		met:      met,
		cache:    artifact.NewCache(settings.ScratchDir),
		pdf:      action.NewPDFCPU(),
		ocr:      &action.Tesseract{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.engine == nil {
		m.engine = export.NewEngine(log, counters, m.defaultSenders(),
			export.WithMaxParallel(int64(settings.MaxConcurrent)))
	}

	for _, h := range cfg.Hotfolders {
		if !h.IsEnabled() {
			log.Info("hotfolder disabled in configuration", "hotfolder", h.ID)
			continue
		}
		if errs := h.Validate(); len(errs) > 0 {
			log.Error("hotfolder disabled by validation errors",
				"hotfolder", h.ID, "errors", errs.Error())
			continue
		}
		actions, err := action.Build(h.Actions)
		if err != nil {
			log.Error("hotfolder disabled, bad action config",
				"hotfolder", h.ID, "error", err)
			continue
		}

		kinds := make(map[string]string, len(h.Exports))
		for _, e := range h.Exports {
			kinds[e.ID] = e.Kind
		}
		m.folders = append(m.folders, &folderRuntime{
			cfg:       h,
			actions:   actions,
			queue:     newJobQueue(),
			watcher:   watch.New(h, settings.PollInterval, log),
			destKinds: kinds,
		})
	}
	if len(m.folders) == 0 {
		return nil, errors.New("no usable hotfolders configured")
	}
	return m, nil
}

func (m *Manager) defaultSenders() []export.Sender {
	var mail export.MailTransport
	if m.settings.SMTPAddr != "" {
		mail = &export.SMTPTransport{Addr: m.settings.SMTPAddr}
	}
	return []export.Sender{
		export.FolderSender{},
		export.ArchiveSender{Now: m.now},
		export.EmailSender{Transport: mail, From: m.settings.SMTPFrom},
		export.FTPSender{Transport: export.DialFTP{}},
	}
}

// Folders reports the IDs of the hotfolders that survived validation.
func (m *Manager) Folders() []string {
	ids := make([]string, len(m.folders))
	for i, fr := range m.folders {
		ids[i] = fr.cfg.ID
	}
	return ids
}

// Run operates all hotfolders until the context is canceled. In-flight jobs
// finish; queued-but-unstarted jobs are abandoned and will be rediscovered
// on the next start because their files are still in place.
func (m *Manager) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, fr := range m.folders {
		fr := fr
		g.Go(func() error {
			err := fr.watcher.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
		g.Go(func() error {
			m.admit(fr)
			return nil
		})
		for i := 0; i < m.settings.MaxConcurrent; i++ {
			g.Go(func() error {
				m.work(ctx, fr)
				return nil
			})
		}
	}
	return g.Wait()
}

// admit turns watcher announcements into queued jobs. It exits when the
// watcher's event channel closes, closing the queue behind itself.
func (m *Manager) admit(fr *folderRuntime) {
	defer fr.queue.Close()
	for ev := range fr.watcher.Events() {
		j := job.New(ev.Hotfolder, ev.Path)
		if err := j.Transition(job.StateStable); err != nil {
			m.log.Error("admission transition failed", "error", err)
			continue
		}
		m.met.Discovered.WithLabelValues(fr.cfg.ID).Inc()
		m.met.QueueDepth.WithLabelValues(fr.cfg.ID).Inc()
		if !fr.queue.Enqueue(j) {
			m.met.QueueDepth.WithLabelValues(fr.cfg.ID).Dec()
			return
		}
		m.log.Debug("job admitted", "job", j.ID, "file", ev.Path)
	}
}

// work drains the folder's queue until it closes and empties.
func (m *Manager) work(ctx context.Context, fr *folderRuntime) {
	for {
		j, ok := fr.queue.TryDequeue()
		if !ok {
			if fr.queue.Closed() {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-fr.queue.Wait():
				continue
			}
		}
		m.process(ctx, fr, j)
	}
}
