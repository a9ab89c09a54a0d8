//go:build !linux

package dma

import "fmt"

// Reader is unavailable off linux.
type Reader struct{}

func Open(path string, timeoutMS int) (*Reader, error) {
	return nil, fmt.Errorf("DMA capture not supported on this platform")
}

func (r *Reader) Poll() ([]uint32, error) { return nil, ErrClosed }
func (r *Reader) Stats() Stats            { return Stats{} }
func (r *Reader) Close() error            { return nil }
