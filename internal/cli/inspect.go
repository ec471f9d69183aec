package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/guardcache/internal/persist"
)

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show the persisted cache topology",
		Long: `Show the execution points and guarded variants of a persisted cache.

Reads the slicing descriptor and key tables only; no guard is loaded.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(rootOpts, cmd)
		},
	}
	return cmd
}

func runInspect(opts *RootOptions, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)
	layer, err := openLayer(opts, cmd, f)
	if err != nil {
		return err
	}

	topo, err := layer.Inspect(cmd.Context())
	if err != nil {
		return failLayer(f, "failed to inspect cache", err)
	}

	if f.Format == "json" {
		return f.Success(topo)
	}
	return f.Success(renderTopology(topo))
}

// renderTopology formats a topology for text output. The cache directory is
// left out so output is stable across machines; --verbose prints it.
func renderTopology(topo *persist.Topology) string {
	var b strings.Builder
	fmt.Fprintf(&b, "cache %s (format v%d)\n", topo.CacheKey, topo.Version)
	fmt.Fprintf(&b, "%d slices, %d variants\n", len(topo.Slices), topo.VariantCount())

	for _, s := range topo.Slices {
		b.WriteString("\n")
		fmt.Fprintf(&b, "ep %d  max=%d", s.ID, s.MaxCacheCount)
		if s.Last {
			b.WriteString("  last")
		}
		b.WriteString("\n")
		if len(s.Variants) == 0 {
			b.WriteString("  (no variants)\n")
			continue
		}
		for _, v := range s.Variants {
			fmt.Fprintf(&b, "  %s  priority=%d  graph=%d", v.Key, v.Priority, v.CompiledGraphID)
			if len(v.ForkedIDs) > 0 {
				fmt.Fprintf(&b, "  forked=%v", v.ForkedIDs)
			}
			if v.File == "" {
				b.WriteString("  (no artifact)")
			}
			b.WriteString("\n")
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}
