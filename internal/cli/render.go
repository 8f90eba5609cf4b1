package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hotfold/hotfold/internal/counter"
	"github.com/hotfold/hotfold/internal/expr"
)

// RenderOptions holds flags for the render command.
type RenderOptions struct {
	*RootOptions
	Vars     []string
	Database string
}

// NewRenderCommand creates the render command, a dry-run evaluator for
// filename and metadata templates.
func NewRenderCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RenderOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "render <template>",
		Short: "Evaluate a template against sample variables",
		Long: `Evaluate a filename or metadata template without touching any hotfolder.
Variables are supplied with repeated --var flags.

Templates using AUTOINCREMENT need --db and WILL consume counter values.

Example:
  hotfold render '<FileName>_FORMATDATE(yyyymmdd)' --var FileName=scan
  hotfold render 'inv_FORMAT(AUTOINCREMENT("inv", 1000, 1), ####)' --db ./counters.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return renderTemplate(opts, cmd, args[0])
		},
	}
	cmd.Flags().StringArrayVar(&opts.Vars, "var", nil, "variable as name=value (repeatable)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "counter database for AUTOINCREMENT")

	return cmd
}

func renderTemplate(opts *RenderOptions, cmd *cobra.Command, src string) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	vars := make(map[string]string, len(opts.Vars))
	for _, kv := range opts.Vars {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return NewExitError(ExitCommandError, fmt.Sprintf("bad --var %q, want name=value", kv))
		}
		vars[name] = value
	}

	renderOpts := expr.Options{}
	if opts.Database != "" {
		s, err := counter.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open counter store", err)
		}
		defer s.Close()
		renderOpts.Counters = s
	}

	res, err := expr.Render(cmd.Context(), src, vars, renderOpts)
	if err != nil {
		_ = out.Error("template error", err.Error())
		return WrapExitError(ExitFailure, "template error", err)
	}

	if opts.Format == "json" {
		return out.Success(map[string]any{
			"value":    res.Value,
			"warnings": res.Warnings,
		})
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
	}
	return out.Success(res.Value)
}
