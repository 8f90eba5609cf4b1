package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hotfold/hotfold/internal/config"
	"github.com/hotfold/hotfold/internal/counter"
)

// CountersOptions holds flags for the counters command group.
type CountersOptions struct {
	*RootOptions
	Database string
}

// NewCountersCommand creates the counters command group for inspecting and
// adjusting the durable AUTOINCREMENT counters.
func NewCountersCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CountersOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "counters",
		Short: "Inspect and adjust durable counters",
		Long: `Counters back the AUTOINCREMENT template function. These subcommands
operate on the same database the pipeline uses, so adjust counters only
while the pipeline is stopped or be prepared for interleaved increments.`,
	}
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "",
		"counter database (default from HOTFOLD_DATA_DIR)")

	cmd.AddCommand(newCountersListCommand(opts))
	cmd.AddCommand(newCountersGetCommand(opts))
	cmd.AddCommand(newCountersSetCommand(opts))
	cmd.AddCommand(newCountersDeleteCommand(opts))

	return cmd
}

func openCounterStore(opts *CountersOptions) (*counter.Store, error) {
	path := opts.Database
	if path == "" {
		settings, err := config.LoadSettings()
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "bad environment", err)
		}
		path = settings.CounterDB
	}
	s, err := counter.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open counter store", err)
	}
	return s, nil
}

func newCountersListCommand(opts *CountersOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List all counters",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openCounterStore(opts)
			if err != nil {
				return err
			}
			defer s.Close()

			entries, err := s.List(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "list counters", err)
			}

			out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			if opts.Format == "json" {
				type row struct {
					Name  string `json:"name"`
					Value int64  `json:"value"`
				}
				rows := make([]row, len(entries))
				for i, e := range entries {
					rows[i] = row{Name: e.Name, Value: e.Value}
				}
				return out.Success(rows)
			}
			if len(entries) == 0 {
				return out.Success("no counters")
			}
			var b strings.Builder
			for _, e := range entries {
				fmt.Fprintf(&b, "%s\t%d\n", e.Name, e.Value)
			}
			return out.Success(strings.TrimRight(b.String(), "\n"))
		},
	}
}

func newCountersGetCommand(opts *CountersOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "get <name>",
		Short:         "Show one counter's current value",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openCounterStore(opts)
			if err != nil {
				return err
			}
			defer s.Close()

			value, ok, err := s.Get(cmd.Context(), args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "get counter", err)
			}
			if !ok {
				return NewExitError(ExitFailure, fmt.Sprintf("counter %q does not exist", args[0]))
			}

			out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			if opts.Format == "json" {
				return out.Success(map[string]any{"name": args[0], "value": value})
			}
			return out.Success(value)
		},
	}
}

func newCountersSetCommand(opts *CountersOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "set <name> <value>",
		Short:         "Force a counter to a value",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return WrapExitError(ExitCommandError, "value must be an integer", err)
			}

			s, err := openCounterStore(opts)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Set(cmd.Context(), args[0], value); err != nil {
				return WrapExitError(ExitCommandError, "set counter", err)
			}

			out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			if opts.Format == "json" {
				return out.Success(map[string]any{"name": args[0], "value": value})
			}
			return out.Success(fmt.Sprintf("%s = %d", args[0], value))
		},
	}
}

func newCountersDeleteCommand(opts *CountersOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Remove a counter",
		Long: `Remove a counter. Its next AUTOINCREMENT use starts fresh from the
template's start value.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openCounterStore(opts)
			if err != nil {
				return err
			}
			defer s.Close()

			removed, err := s.Delete(cmd.Context(), args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "delete counter", err)
			}
			if !removed {
				return NewExitError(ExitFailure, fmt.Sprintf("counter %q does not exist", args[0]))
			}

			out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			return out.Success(fmt.Sprintf("deleted %s", args[0]))
		},
	}
}
