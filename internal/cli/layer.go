package cli

import (
	"errors"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/roach88/guardcache/internal/config"
	"github.com/roach88/guardcache/internal/persist"
)

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// openLayer resolves configuration (file, environment, then flags) and
// returns the persistence layer it names. Log output goes to stderr.
func openLayer(opts *RootOptions, cmd *cobra.Command, f *OutputFormatter) (*persist.Layer, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fail(f, ExitCommandError, ErrCodeConfig, "failed to load configuration", err)
	}
	if opts.Root != "" {
		cfg.Root = opts.Root
	}
	if opts.CacheKey != "" {
		cfg.CacheKey = opts.CacheKey
	}

	lc := cfg.Log
	if opts.Verbose {
		lc.Level = "debug"
	}
	logger, err := config.NewLogger(lc, cmd.ErrOrStderr())
	if err != nil {
		return nil, fail(f, ExitCommandError, ErrCodeConfig, "failed to configure logging", err)
	}

	layer := cfg.Layer(logger)
	if !layer.Enabled() {
		return nil, fail(f, ExitCommandError, ErrCodeDisabled,
			"cache root and cache key must both be set (--root/--key, config file, or GUARDCACHE_ROOT/GUARDCACHE_KEY)", nil)
	}
	f.VerboseLog("cache directory: %s", layer.Dir())
	return layer, nil
}

// fail reports err through f and returns the matching ExitError.
func fail(f *OutputFormatter, exit int, code, message string, err error) error {
	var details interface{}
	if err != nil {
		details = err.Error()
	}
	_ = f.Error(code, message, details)
	if err != nil {
		return WrapExitError(exit, code+": "+message, err)
	}
	return NewExitError(exit, code+": "+message)
}

// failLayer maps persistence errors onto error codes.
func failLayer(f *OutputFormatter, message string, err error) error {
	switch {
	case errors.Is(err, persist.ErrDisabled):
		return fail(f, ExitCommandError, ErrCodeDisabled, message, err)
	case errors.Is(err, fs.ErrNotExist):
		return fail(f, ExitCommandError, ErrCodeNotFound, "no persisted cache found", err)
	default:
		return fail(f, ExitCommandError, ErrCodeGeneric, message, err)
	}
}
