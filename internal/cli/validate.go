package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hotfold/hotfold/internal/config"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a configuration file without running it",
		Long: `Load the configuration, check it against the schema and report every
semantic problem: duplicate IDs, mismatched destination kinds, unparseable
templates, invalid conditions.

Exit codes: 0 valid, 1 validation errors, 2 unreadable or malformed file.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfig(rootOpts, cmd)
		},
	}
	return cmd
}

func validateConfig(opts *RootOptions, cmd *cobra.Command) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		_ = out.Error("configuration rejected", err.Error())
		return WrapExitError(ExitCommandError, "configuration rejected", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		_ = out.Error(fmt.Sprintf("%d validation problem(s)", len(errs)), errs)
		return NewExitError(ExitFailure, "configuration invalid")
	}

	type summary struct {
		Hotfolders int `json:"hotfolders"`
		Exports    int `json:"exports"`
	}
	s := summary{Hotfolders: len(cfg.Hotfolders)}
	for _, h := range cfg.Hotfolders {
		s.Exports += len(h.Exports)
	}
	if opts.Format == "json" {
		return out.Success(s)
	}
	return out.Success(fmt.Sprintf("configuration valid: %d hotfolder(s), %d export destination(s)",
		s.Hotfolders, s.Exports))
}
