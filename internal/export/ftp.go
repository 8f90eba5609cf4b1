package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jlaffaye/ftp"

	"github.com/hotfold/hotfold/internal/config"
)

// FTPTransport uploads one file to a remote directory.
type FTPTransport interface {
	Store(ctx context.Context, target config.FTPTarget, dir, name string, r io.Reader) error
}

// FTPSender renders the remote directory template and streams the document
// through its transport.
type FTPSender struct {
	Transport FTPTransport
}

func (FTPSender) Kind() string { return config.KindFTP }

func (s FTPSender) Send(ctx context.Context, req Request) (string, error) {
	if s.Transport == nil {
		return "", backoff.Permanent(fmt.Errorf("no ftp transport configured"))
	}
	t := req.Dest.FTP

	dir := ""
	if t.Dir != "" {
		rendered, err := req.Render(t.Dir)
		if err != nil {
			return "", backoff.Permanent(fmt.Errorf("render remote dir: %w", err))
		}
		dir = rendered
	}

	f, err := os.Open(req.SourcePath)
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	defer f.Close()

	if err := s.Transport.Store(ctx, *t, dir, req.Filename, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("ftp://%s/%s/%s", t.Host, strings.Trim(dir, "/"), req.Filename), nil
}

// DialFTP connects per upload. Hotfolder traffic is bursty and low-volume,
// so connection pooling buys nothing over a clean session per file.
type DialFTP struct {
	Timeout time.Duration
}

func (d DialFTP) Store(ctx context.Context, target config.FTPTarget, dir, name string, r io.Reader) error {
	port := target.Port
	if port == 0 {
		port = 21
	}
	timeout := d.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	addr := fmt.Sprintf("%s:%d", target.Host, port)
	conn, err := ftp.Dial(addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(timeout))
	if err != nil {
		return fmt.Errorf("ftp dial %s: %w", addr, err)
	}
	defer conn.Quit()

	user, pass := target.Username, target.Password
	if user == "" {
		user, pass = "anonymous", "anonymous"
	}
	if err := conn.Login(user, pass); err != nil {
		return fmt.Errorf("ftp login %s: %w", addr, err)
	}

	for _, part := range strings.Split(strings.Trim(dir, "/"), "/") {
		if part == "" {
			continue
		}
		if err := conn.ChangeDir(part); err != nil {
			if err := conn.MakeDir(part); err != nil {
				return fmt.Errorf("ftp mkdir %s: %w", part, err)
			}
			if err := conn.ChangeDir(part); err != nil {
				return fmt.Errorf("ftp chdir %s: %w", part, err)
			}
		}
	}

	if err := conn.Stor(name, r); err != nil {
		return fmt.Errorf("ftp store %s: %w", name, err)
	}
	return nil
}
