// Package regs provides serialized 32-bit access to memory-mapped
// peripheral register windows.
//
// Every backend guards its window with a mutex held across the whole
// address-then-access step, so the control path and the capture path can
// share a window without one caller's access landing on another caller's
// register.
package regs

import (
	"errors"
	"fmt"
)

// WindowSize is the span mapped for each peripheral.
const WindowSize = 4096

// Radio peripheral register offsets.
const (
	ADC   uint32 = 0x00
	Tuner uint32 = 0x04
	Ctrl  uint32 = 0x08
	Timer uint32 = 0x0c
)

// FIFO peripheral register offsets (separate window).
const (
	FIFOData  uint32 = 0x00
	FIFOCount uint32 = 0x04
)

// CtrlMute is bit 0 of the control register.
const CtrlMute uint32 = 1 << 0

// Default physical base addresses of the radio and FIFO peripherals.
const (
	RadioBase int64 = 0x43c00000
	FIFOBase  int64 = 0x43c10000
)

var (
	ErrOffset = errors.New("regs: offset outside window or unaligned")
	ErrClosed = errors.New("regs: window closed")
)

// Window is a fixed-size register window.
type Window interface {
	Read32(off uint32) (uint32, error)
	Write32(off, val uint32) error
	Size() uint32
	Close() error
}

// MapError reports a failure to open or map a register window at startup.
type MapError struct {
	Path string
	Base int64
	Err  error
}

func (e *MapError) Error() string {
	return fmt.Sprintf("regs: map %s at %#x: %v", e.Path, e.Base, e.Err)
}

func (e *MapError) Unwrap() error { return e.Err }

func checkOffset(off, size uint32) error {
	if off%4 != 0 || off > size-4 {
		return fmt.Errorf("%w: %#x (size %#x)", ErrOffset, off, size)
	}
	return nil
}

// Name returns a printable name for a radio register offset.
func Name(off uint32) string {
	switch off {
	case ADC:
		return "adc"
	case Tuner:
		return "tuner"
	case Ctrl:
		return "ctrl"
	case Timer:
		return "timer"
	}
	return fmt.Sprintf("%#02x", off)
}
