package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// ClearResult is the JSON payload of the clear command.
type ClearResult struct {
	Dir     string `json:"dir"`
	Cleared bool   `json:"cleared"`
}

// NewClearCommand creates the clear command.
func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete a persisted cache directory",
		Long: `Delete the cache directory for the configured root and cache key.
The next run starts cold and recompiles every variant.

Requires --yes.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClear(rootOpts, yes, cmd)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm deletion")
	return cmd
}

func runClear(opts *RootOptions, yes bool, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)
	if !yes {
		return fail(f, ExitCommandError, ErrCodeGeneric, "refusing to clear without --yes", nil)
	}
	layer, err := openLayer(opts, cmd, f)
	if err != nil {
		return err
	}

	if err := layer.Clear(); err != nil {
		return fail(f, ExitCommandError, ErrCodeClearFail, "failed to clear cache", err)
	}

	if f.Format == "json" {
		return f.Success(ClearResult{Dir: layer.Dir(), Cleared: true})
	}
	return f.Success(fmt.Sprintf("✓ Cleared %s", layer.Dir()))
}
