package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/guardcache/internal/jit"
	"github.com/roach88/guardcache/internal/persist"
)

//go:embed schema.cue
var schemaCUE string

// Environment variables that override file settings.
const (
	EnvRoot          = "GUARDCACHE_ROOT"
	EnvCacheKey      = "GUARDCACHE_KEY"
	EnvMaxCacheCount = "GUARDCACHE_MAX_CACHE_COUNT"
	EnvLogLevel      = "GUARDCACHE_LOG_LEVEL"
)

// Error codes.
const (
	ErrCodeRead    = "CONFIG_READ"
	ErrCodeParse   = "CONFIG_PARSE"
	ErrCodeEnv     = "CONFIG_ENV"
	ErrCodeInvalid = "CONFIG_INVALID"
)

// Error is a configuration failure.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// IsInvalid reports whether err is a schema validation failure.
func IsInvalid(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Code == ErrCodeInvalid
}

// Config holds guardcache settings.
// json tags drive CUE encoding; yaml tags drive the config file.
type Config struct {
	Root            string    `yaml:"root" json:"root"`
	CacheKey        string    `yaml:"cache_key" json:"cache_key"`
	MaxCacheCount   uint32    `yaml:"max_cache_count" json:"max_cache_count"`
	RetryFindOnMiss bool      `yaml:"retry_find_on_miss" json:"retry_find_on_miss"`
	Log             LogConfig `yaml:"log" json:"log"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Default returns the built-in settings: persistence disabled, ten variants
// per execution point, text logs at info.
func Default() *Config {
	return &Config{
		MaxCacheCount: jit.DefaultMaxCacheCount,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path (optional), applies process environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &Error{Code: ErrCodeRead, Message: "read " + path, Err: err}
		}
		if err := decodeYAML(data, cfg); err != nil {
			return nil, &Error{Code: ErrCodeParse, Message: "parse " + path, Err: err}
		}
	}

	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvRoot); ok {
		cfg.Root = v
	}
	if v, ok := lookup(EnvCacheKey); ok {
		cfg.CacheKey = v
	}
	if v, ok := lookup(EnvMaxCacheCount); ok {
		n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 32)
		if err != nil {
			return &Error{Code: ErrCodeEnv, Message: EnvMaxCacheCount, Err: err}
		}
		cfg.MaxCacheCount = uint32(n)
	}
	if v, ok := lookup(EnvLogLevel); ok {
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(v))
	}
	return nil
}

// Validate checks cfg against the embedded CUE schema.
func (c *Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return &Error{Code: ErrCodeInvalid, Message: "compile schema", Err: err}
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	val := ctx.Encode(c)
	if err := val.Err(); err != nil {
		return &Error{Code: ErrCodeInvalid, Message: "encode config", Err: err}
	}
	if err := def.Unify(val).Validate(cue.Concrete(true)); err != nil {
		return &Error{Code: ErrCodeInvalid, Message: summarize(err), Err: err}
	}
	return nil
}

// summarize joins CUE error messages into one line, without positions.
func summarize(err error) string {
	var msgs []string
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		msg := fmt.Sprintf(format, args...)
		if path := e.Path(); len(path) > 0 {
			msg = strings.Join(path, ".") + ": " + msg
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return err.Error()
	}
	return strings.Join(msgs, "; ")
}

// PointOptions returns the execution point options implied by cfg.
func (c *Config) PointOptions(logger *slog.Logger) []jit.Option {
	return []jit.Option{
		jit.WithMaxCacheCount(c.MaxCacheCount),
		jit.WithRetryFind(c.RetryFindOnMiss),
		jit.WithLogger(logger),
	}
}

// Layer returns the persistence layer for cfg's root and cache key.
func (c *Config) Layer(logger *slog.Logger) *persist.Layer {
	return persist.New(c.Root, c.CacheKey, persist.WithLogger(logger))
}

// NewLogger builds a logger writing to w per lc.
func NewLogger(lc LogConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		return nil, &Error{Code: ErrCodeInvalid, Message: "log level", Err: err}
	}
	opts := &slog.HandlerOptions{Level: level}

	switch lc.Format {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, &Error{Code: ErrCodeInvalid, Message: fmt.Sprintf("log format %q", lc.Format)}
	}
}
