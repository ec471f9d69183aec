package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check the integrity of a persisted cache",
		Long: `Check that every slice dump parses, every persisted variant has a
compiled-graph dump whose content hash matches, and no artifact is orphaned.

Exits 1 when problems are found.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(rootOpts, cmd)
		},
	}
	return cmd
}

func runVerify(opts *RootOptions, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)
	layer, err := openLayer(opts, cmd, f)
	if err != nil {
		return err
	}

	report, err := layer.Verify(cmd.Context())
	if err != nil {
		return failLayer(f, "failed to verify cache", err)
	}

	if report.OK() {
		if f.Format == "json" {
			return f.Success(report)
		}
		return f.Success(fmt.Sprintf("✓ Cache verified: %d slices, %d variants", report.Slices, report.Variants))
	}

	msg := fmt.Sprintf("verification failed with %d problem(s)", len(report.Problems))
	if f.Format == "json" {
		if err := f.encode(CLIResponse{
			Status: "error",
			Data:   report,
			Error:  &CLIError{Code: ErrCodeCorrupt, Message: msg},
		}); err != nil {
			return err
		}
		return NewExitError(ExitFailure, msg)
	}

	fmt.Fprintln(f.Writer, "✗ Verification failed")
	fmt.Fprintln(f.Writer)
	for _, p := range report.Problems {
		fmt.Fprintf(f.Writer, "ep %d  %s\n", p.SliceID, p.File)
		fmt.Fprintf(f.Writer, "  %s: %s\n\n", ErrCodeCorrupt, p.Reason)
	}
	return NewExitError(ExitFailure, msg)
}
