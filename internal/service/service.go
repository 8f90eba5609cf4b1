// Package service manages hotfold as a background process: a pidfile-based
// start/stop lifecycle plus optional systemd unit installation.
package service

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Sentinel errors let the CLI print distinct, actionable messages.
var (
	ErrAlreadyRunning = errors.New("service is already running")
	ErrNotRunning     = errors.New("service is not running")
	ErrNotInstalled   = errors.New("service is not installed")
)

// Controller drives one managed instance.
type Controller struct {
	// PIDFile records the background process.
	PIDFile string
	// Binary and Args form the command line for Start.
	Binary string
	Args   []string
	// UnitPath is where Install writes the systemd unit.
	UnitPath string

	// stopTimeout bounds how long Stop waits for a clean exit.
	stopTimeout time.Duration
}

// NewController uses the current executable and conventional paths.
func NewController(dataDir string) (*Controller, error) {
	bin, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	return &Controller{
		PIDFile:     filepath.Join(dataDir, "hotfold.pid"),
		Binary:      bin,
		Args:        []string{"run"},
		UnitPath:    "/etc/systemd/system/hotfold.service",
		stopTimeout: 10 * time.Second,
	}, nil
}

// Status returns the recorded pid and whether that process is alive. A
// stale pidfile is removed on the way.
func (c *Controller) Status() (pid int, running bool, err error) {
	pid, err = c.readPID()
	if errors.Is(err, os.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if processAlive(pid) {
		return pid, true, nil
	}
	// Stale pidfile from a crashed run.
	_ = os.Remove(c.PIDFile)
	return 0, false, nil
}

// Start launches the service detached and records its pid. Starting a
// running service is an error; re-running Start after a crash works because
// Status clears stale pidfiles.
func (c *Controller) Start() (int, error) {
	if _, running, err := c.Status(); err != nil {
		return 0, err
	} else if running {
		return 0, ErrAlreadyRunning
	}

	cmd := exec.Command(c.Binary, c.Args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start %s: %w", c.Binary, err)
	}
	pid := cmd.Process.Pid
	// The child is detached; let init reap it.
	_ = cmd.Process.Release()

	if err := os.MkdirAll(filepath.Dir(c.PIDFile), 0o755); err != nil {
		return 0, fmt.Errorf("create pidfile dir: %w", err)
	}
	if err := os.WriteFile(c.PIDFile, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		return 0, fmt.Errorf("write pidfile: %w", err)
	}
	return pid, nil
}

// Stop signals the recorded process and waits for it to exit. Stopping a
// stopped service returns ErrNotRunning.
func (c *Controller) Stop() error {
	pid, running, err := c.Status()
	if err != nil {
		return err
	}
	if !running {
		return ErrNotRunning
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal pid %d: %w", pid, err)
	}

	timeout := c.stopTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			_ = os.Remove(c.PIDFile)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("pid %d did not exit within %s", pid, timeout)
}

// Install writes a systemd unit for the service. Installing twice rewrites
// the unit, which is harmless.
func (c *Controller) Install() error {
	unit := fmt.Sprintf(`[Unit]
Description=hotfold document pipeline
After=network.target

[Service]
ExecStart=%s run
Restart=on-failure
RestartSec=5

[Install]
WantedBy=multi-user.target
`, c.Binary)

	if err := os.WriteFile(c.UnitPath, []byte(unit), 0o644); err != nil {
		return fmt.Errorf("write unit %s: %w", c.UnitPath, err)
	}
	return nil
}

// Remove deletes the systemd unit. Removing an absent unit returns
// ErrNotInstalled so the CLI can say so instead of pretending it did work.
func (c *Controller) Remove() error {
	err := os.Remove(c.UnitPath)
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotInstalled
	}
	if err != nil {
		return fmt.Errorf("remove unit %s: %w", c.UnitPath, err)
	}
	return nil
}

// Installed reports whether the unit file exists.
func (c *Controller) Installed() bool {
	_, err := os.Stat(c.UnitPath)
	return err == nil
}

func (c *Controller) readPID() (int, error) {
	data, err := os.ReadFile(c.PIDFile)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("corrupt pidfile %s: %q", c.PIDFile, data)
	}
	return pid, nil
}

// processAlive probes the pid with signal 0.
func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to someone else.
	return errors.Is(err, syscall.EPERM)
}
