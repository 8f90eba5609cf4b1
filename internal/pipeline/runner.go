package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hotfold/hotfold/internal/action"
	"github.com/hotfold/hotfold/internal/export"
	"github.com/hotfold/hotfold/internal/job"
)

// Base context variables seeded for every job.
const (
	VarFileName      = "FileName"     // source name without extension
	VarFileExtension = "FileExtension"
	VarFullFileName  = "FullFileName" // name including extension
	VarFilePath      = "FilePath"     // directory holding the source
	VarFullPath      = "FullPath"
	VarFileSize      = "FileSize"
	VarHotfolder     = "Hotfolder"
	VarDate          = "Date"
	VarTime          = "Time"
	VarDateTime      = "DateTime"
	VarYear          = "Year"
	VarMonth         = "Month"
	VarDay           = "Day"
	VarHour          = "Hour"
	VarMinute        = "Minute"
	VarSecond        = "Second"
	VarWeekday       = "Weekday"
	VarWeekNumber    = "WeekNumber"
)

// Action failures are retried a few times before the job fails; transient
// trouble (a flaky NFS mount, a busy OCR engine) should not kill a document.
const (
	actionMaxAttempts    = 3
	actionRetryInterval  = 500 * time.Millisecond
	actionRetryMaxInterval = 5 * time.Second
)

// process drives one job from admission to a terminal state.
func (m *Manager) process(ctx context.Context, fr *folderRuntime, j *job.Job) {
	log := m.log.With("job", j.ID, "hotfolder", j.HotfolderID, "file", j.Path)
	start := m.now()

	defer func() {
		m.met.QueueDepth.WithLabelValues(j.HotfolderID).Dec()
		m.met.JobDuration.WithLabelValues(j.HotfolderID).Observe(m.now().Sub(start).Seconds())
		if err := m.cache.Release(j.ID.String()); err != nil {
			log.Warn("artifact cleanup failed", "error", err)
		}
	}()

	if err := j.Transition(job.StateProcessing); err != nil {
		log.Error("job in unexpected state", "state", j.State(), "error", err)
		return
	}
	log.Info("processing", "state", j.State())

	if err := m.seedContext(j); err != nil {
		m.fail(fr, j, log, err)
		return
	}

	env := action.NewEnv(j, m.cache, log, m.pdf, m.ocr)
	for _, act := range fr.actions {
		if err := m.runAction(ctx, act, env); err != nil {
			m.fail(fr, j, log, fmt.Errorf("action %s: %w", act.Kind(), err))
			return
		}
	}

	if err := j.Transition(job.StateExporting); err != nil {
		log.Error("job in unexpected state", "state", j.State(), "error", err)
		return
	}

	sum := m.engine.Dispatch(ctx, j, env.Path(), fr.cfg.Exports)
	for _, o := range j.Outcomes() {
		m.met.Deliveries.WithLabelValues(
			j.HotfolderID, fr.destKinds[o.DestinationID], string(o.Status)).Inc()
	}

	switch {
	case sum.Failed > 0:
		m.fail(fr, j, log, fmt.Errorf("%d of %d destinations failed", sum.Failed, sum.Eligible))
	case sum.Eligible == 0:
		// Every destination was disabled or gated off. The document is
		// intentionally unprocessed, which is not a failure.
		if err := j.Transition(job.StateSkipped); err != nil {
			log.Error("transition failed", "error", err)
			return
		}
		log.Info("no eligible destinations, skipping")
		m.met.Jobs.WithLabelValues(j.HotfolderID, job.StateSkipped.String()).Inc()
		m.disposeSource(fr, j, log)
	default:
		if err := j.Transition(job.StateCompleted); err != nil {
			log.Error("transition failed", "error", err)
			return
		}
		log.Info("completed", "succeeded", sum.Succeeded, "skipped", sum.Skipped)
		m.met.Jobs.WithLabelValues(j.HotfolderID, job.StateCompleted.String()).Inc()
		m.disposeSource(fr, j, log)
	}
}

// seedContext publishes the variables every template can rely on.
func (m *Manager) seedContext(j *job.Job) error {
	now := m.now()
	ext := strings.TrimPrefix(filepath.Ext(j.Path), ".")
	var size string
	if fi, err := os.Stat(j.Path); err == nil {
		size = strconv.FormatInt(fi.Size(), 10)
	}
	_, week := now.ISOWeek()
	seed := []struct{ k, v string }{
		{VarFileName, j.BaseName()},
		{VarFileExtension, ext},
		{VarFullFileName, filepath.Base(j.Path)},
		{VarFilePath, filepath.Dir(j.Path)},
		{VarFullPath, j.Path},
		{VarFileSize, size},
		{VarHotfolder, j.HotfolderID},
		{VarDate, now.Format("02.01.2006")},
		{VarTime, now.Format("15.04.05")},
		{VarDateTime, now.Format("02.01.2006 15.04.05")},
		{VarYear, now.Format("2006")},
		{VarMonth, now.Format("01")},
		{VarDay, now.Format("02")},
		{VarHour, now.Format("15")},
		{VarMinute, now.Format("04")},
		{VarSecond, now.Format("05")},
		{VarWeekday, now.Weekday().String()},
		{VarWeekNumber, fmt.Sprintf("%02d", week)},
	}
	for _, s := range seed {
		if err := j.Set(s.k, s.v); err != nil {
			return Fatal(err)
		}
	}
	return nil
}

// runAction executes one step with bounded retries. Fatal errors and
// canceled contexts stop immediately.
func (m *Manager) runAction(ctx context.Context, act action.Action, env *action.Env) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = actionRetryInterval
	bo.MaxInterval = actionRetryMaxInterval
	bo.MaxElapsedTime = 0

	op := func() error {
		err := act.Run(ctx, env)
		if err != nil && IsFatal(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(bo, actionMaxAttempts-1), ctx))
}

// fail concludes the job, quarantines the source next to a written report
// and re-arms the watcher for the path.
func (m *Manager) fail(fr *folderRuntime, j *job.Job, log *slog.Logger, err error) {
	if terr := j.Transition(job.StateFailed); terr != nil {
		log.Error("transition to failed rejected", "error", terr)
	}
	log.Error("job failed", "error", err)
	m.met.Jobs.WithLabelValues(j.HotfolderID, job.StateFailed.String()).Inc()

	if qErr := m.quarantine(fr, j, err); qErr != nil {
		log.Error("quarantine failed, source left in place", "error", qErr)
	}
	fr.watcher.Forget(j.Path)
}

// quarantine moves the source into the error directory and writes a
// timestamped report beside it.
func (m *Manager) quarantine(fr *folderRuntime, j *job.Job, cause error) error {
	if err := os.MkdirAll(fr.cfg.ErrorDir, 0o755); err != nil {
		return fmt.Errorf("create error dir: %w", err)
	}

	dst := export.NextFreePath(filepath.Join(fr.cfg.ErrorDir, filepath.Base(j.Path)))
	if err := moveFile(j.Path, dst); err != nil {
		return err
	}

	stem := strings.TrimSuffix(filepath.Base(dst), filepath.Ext(dst))
	report := filepath.Join(fr.cfg.ErrorDir,
		fmt.Sprintf("%s_%s_error.txt", stem, m.now().Format("20060102T150405")))

	var b strings.Builder
	fmt.Fprintf(&b, "time: %s\n", m.now().Format(time.RFC3339))
	fmt.Fprintf(&b, "job: %s\n", j.ID)
	fmt.Fprintf(&b, "hotfolder: %s\n", j.HotfolderID)
	fmt.Fprintf(&b, "source: %s\n", j.Path)
	fmt.Fprintf(&b, "error: %v\n", cause)
	for _, o := range j.Outcomes() {
		fmt.Fprintf(&b, "destination %s: %s", o.DestinationID, o.Status)
		if o.Err != "" {
			fmt.Fprintf(&b, " (%s, attempts %d)", o.Err, o.Attempts)
		}
		fmt.Fprintf(&b, "\n")
	}
	if err := os.WriteFile(report, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write error report: %w", err)
	}
	return nil
}

// disposeSource applies the hotfolder's on_success policy to the original.
func (m *Manager) disposeSource(fr *folderRuntime, j *job.Job, log *slog.Logger) {
	switch fr.cfg.OnSuccess {
	case "delete":
		if err := os.Remove(j.Path); err != nil {
			log.Warn("delete source failed", "error", err)
		}
	case "keep":
		// Leave the file; the watcher keeps it marked announced.
		return
	default: // archive
		if err := os.MkdirAll(fr.cfg.ArchiveDir, 0o755); err != nil {
			log.Warn("create archive dir failed", "error", err)
			return
		}
		dst := export.NextFreePath(filepath.Join(fr.cfg.ArchiveDir, filepath.Base(j.Path)))
		if err := moveFile(j.Path, dst); err != nil {
			log.Warn("archive source failed", "error", err)
			return
		}
		if j.State() == job.StateCompleted {
			if err := j.Transition(job.StateArchived); err != nil {
				log.Error("transition to archived rejected", "error", err)
			}
		}
	}
	fr.watcher.Forget(j.Path)
}

// moveFile renames, falling back to copy+remove for cross-device targets.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("copy %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}
	return os.Remove(src)
}
