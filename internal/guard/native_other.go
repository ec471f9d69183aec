//go:build !linux || !cgo

package guard

// Open always fails: guard payloads are Linux shared objects loaded through
// memfd + dlopen, which needs cgo.
func (l NativeLoader) Open(payload []byte) (Module, error) {
	return nil, &LoadError{Stage: StageOpen, Err: ErrNativeUnsupported}
}
