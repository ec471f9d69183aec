package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string // optional YAML config file
	Root       string // overrides config root
	CacheKey   string // overrides config cache_key
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the guardcache CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "guardcache",
		Short: "guardcache - guard-gated JIT compilation cache",
		Long: `Inspect and maintain persisted guard caches.

A cache directory lives under <root>/jit/<cache key>/ and holds the slicing
descriptor, the per-slice guard keys and one compiled-graph dump per variant.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	addRootFlags(cmd, opts)

	cmd.AddCommand(NewInspectCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewClearCommand(opts))

	return cmd
}

func addRootFlags(cmd *cobra.Command, opts *RootOptions) {
	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVarP(&opts.ConfigPath, "config", "c", "", "config file (YAML)")
	flags.StringVar(&opts.Root, "root", "", "cache root directory (overrides config and GUARDCACHE_ROOT)")
	flags.StringVar(&opts.CacheKey, "key", "", "cache key (overrides config and GUARDCACHE_KEY)")
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
