//go:build !linux

package regs

import "errors"

var errUnsupported = errors.New("memory-mapped registers are only supported on linux")

// Map is not available on this platform; use Sim.
func Map(path string, base int64, size int) (Window, error) {
	return nil, &MapError{Path: path, Base: base, Err: errUnsupported}
}

// OpenFile is not available on this platform; use Sim.
func OpenFile(path string, base int64, size int) (Window, error) {
	return nil, &MapError{Path: path, Base: base, Err: errUnsupported}
}
