package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hotfold/hotfold/internal/config"
	"github.com/hotfold/hotfold/internal/service"
)

// NewServiceCommand creates the service command group.
func NewServiceCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Run hotfold as a background service",
	}

	cmd.AddCommand(newServiceSubcommand(rootOpts, "start", "Start the service in the background",
		func(c *service.Controller, out *OutputFormatter) error {
			pid, err := c.Start()
			if errors.Is(err, service.ErrAlreadyRunning) {
				return NewExitError(ExitFailure, "service is already running")
			}
			if err != nil {
				return WrapExitError(ExitCommandError, "start failed", err)
			}
			return out.Success(fmt.Sprintf("started, pid %d", pid))
		}))

	cmd.AddCommand(newServiceSubcommand(rootOpts, "stop", "Stop the running service",
		func(c *service.Controller, out *OutputFormatter) error {
			err := c.Stop()
			if errors.Is(err, service.ErrNotRunning) {
				return NewExitError(ExitFailure, "service is not running")
			}
			if err != nil {
				return WrapExitError(ExitCommandError, "stop failed", err)
			}
			return out.Success("stopped")
		}))

	cmd.AddCommand(newServiceSubcommand(rootOpts, "status", "Show whether the service runs",
		func(c *service.Controller, out *OutputFormatter) error {
			pid, running, err := c.Status()
			if err != nil {
				return WrapExitError(ExitCommandError, "status failed", err)
			}
			if !running {
				return out.Success("not running")
			}
			return out.Success(fmt.Sprintf("running, pid %d", pid))
		}))

	cmd.AddCommand(newServiceSubcommand(rootOpts, "install", "Install a systemd unit",
		func(c *service.Controller, out *OutputFormatter) error {
			if err := c.Install(); err != nil {
				return WrapExitError(ExitCommandError, "install failed", err)
			}
			return out.Success("installed")
		}))

	cmd.AddCommand(newServiceSubcommand(rootOpts, "remove", "Remove the systemd unit",
		func(c *service.Controller, out *OutputFormatter) error {
			err := c.Remove()
			if errors.Is(err, service.ErrNotInstalled) {
				return NewExitError(ExitFailure, "service is not installed")
			}
			if err != nil {
				return WrapExitError(ExitCommandError, "remove failed", err)
			}
			return out.Success("removed")
		}))

	return cmd
}

func newServiceSubcommand(rootOpts *RootOptions, use, short string, run func(*service.Controller, *OutputFormatter) error) *cobra.Command {
	return &cobra.Command{
		Use:           use,
		Short:         short,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.LoadSettings()
			if err != nil {
				return WrapExitError(ExitCommandError, "bad environment", err)
			}
			ctrl, err := service.NewController(settings.DataDir)
			if err != nil {
				return WrapExitError(ExitCommandError, "service controller", err)
			}
			ctrl.Args = []string{"run", "--config", rootOpts.Config}
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return run(ctrl, out)
		},
	}
}
