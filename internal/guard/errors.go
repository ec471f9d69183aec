package guard

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingPayload is returned by Load when the graph has no (or an empty)
	// guard payload attribute.
	ErrMissingPayload = errors.New("missing guard payload")

	// ErrNativeUnsupported is returned by NativeLoader on platforms without
	// cgo dlopen/memfd support.
	ErrNativeUnsupported = errors.New("native guard loading unsupported on this platform")
)

// Load stages reported in LoadError.
const (
	StagePayload = "payload"
	StageMemfd   = "memfd"
	StageDlopen  = "dlopen"
	StageDlsym   = "dlsym"
	StageOpen    = "open"
)

// LoadError describes which step of guard loading failed.
type LoadError struct {
	Stage string
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("guard load failed at %s: %v", e.Stage, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// IsMissingPayload reports whether err (or anything it wraps) is ErrMissingPayload.
func IsMissingPayload(err error) bool {
	return errors.Is(err, ErrMissingPayload)
}
