package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hotfold/hotfold/internal/config"
)

// FolderSender copies the document into a configured directory. Path and
// subfolder templates are rendered per job, so destinations can route by
// extracted variables ("/out/<Customer>").
type FolderSender struct{}

func (FolderSender) Kind() string { return config.KindFolder }

func (FolderSender) Send(ctx context.Context, req Request) (string, error) {
	t := req.Dest.Folder
	dir, err := req.Render(t.Path)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("render folder path: %w", err))
	}
	if t.Subfolder != "" {
		sub, err := req.Render(t.Subfolder)
		if err != nil {
			return "", backoff.Permanent(fmt.Errorf("render subfolder: %w", err))
		}
		dir = filepath.Join(dir, Sanitize(sub))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create destination dir: %w", err)
	}

	dst := filepath.Join(dir, req.Filename)
	switch t.OnCollision {
	case "overwrite":
		// copyFile truncates an existing target.
	case "fail":
		if _, err := os.Stat(dst); err == nil {
			return "", backoff.Permanent(fmt.Errorf("destination file exists: %s", dst))
		}
	default: // suffix
		dst = NextFreePath(dst)
	}

	if err := copyFile(req.SourcePath, dst); err != nil {
		return "", err
	}
	return dst, nil
}

// ArchiveSender files the document into a date-partitioned tree:
// root/YYYY/MM/DD/name. Collisions always get a numeric suffix; archives
// never overwrite.
type ArchiveSender struct {
	Now func() time.Time
}

func (ArchiveSender) Kind() string { return config.KindArchive }

func (s ArchiveSender) Send(ctx context.Context, req Request) (string, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	day := now()
	dir := filepath.Join(req.Dest.Archive.Root, day.Format("2006"), day.Format("01"), day.Format("02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	dst := NextFreePath(filepath.Join(dir, req.Filename))
	if err := copyFile(req.SourcePath, dst); err != nil {
		return "", err
	}
	return dst, nil
}

// NextFreePath appends _1, _2, ... to the stem until the path is unused.
func NextFreePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	stem := path[:len(path)-len(ext)]
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// copyFile copies src to dst and syncs the result. The source stays in
// place: other destinations may still need it.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create target: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("copy to %s: %w", dst, err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return fmt.Errorf("sync %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}
	return nil
}
