// Package frame packs drained FIFO words into the streaming wire format:
//
//	[seq:u16 LE] ([I:u16 LE][Q:u16 LE]) x 256
//
// for a total of 1026 bytes per datagram.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	SamplesPerFrame = 256
	HeaderSize      = 2
	Size            = HeaderSize + SamplesPerFrame*4

	// DefaultWrap is the sequence bound: 32767 itself is never sent.
	DefaultWrap = 32767
)

var (
	ErrShortBatch = errors.New("frame: batch is not 256 samples")
	ErrFrameSize  = errors.New("frame: payload is not 1026 bytes")
)

// Frame is one built datagram together with the words it was built from.
type Frame struct {
	Seq     uint16
	Data    []byte
	Samples []uint32
	Time    time.Time
}

// IQ is one complex sample.
type IQ struct {
	I, Q int16
}

// Split unpacks a FIFO word: I in the low half, Q in the high half.
func Split(word uint32) IQ {
	return IQ{I: int16(word), Q: int16(word >> 16)}
}

// Pack is the inverse of Split.
func Pack(s IQ) uint32 {
	return uint32(uint16(s.I)) | uint32(uint16(s.Q))<<16
}

// Build returns a new frame for seq and exactly 256 samples.
func Build(seq uint16, samples []uint32) ([]byte, error) {
	return Append(make([]byte, 0, Size), seq, samples)
}

// Append appends the frame for seq and samples to dst.
func Append(dst []byte, seq uint16, samples []uint32) ([]byte, error) {
	if len(samples) != SamplesPerFrame {
		return dst, fmt.Errorf("%w: got %d", ErrShortBatch, len(samples))
	}
	dst = binary.LittleEndian.AppendUint16(dst, seq)
	for _, w := range samples {
		s := Split(w)
		dst = binary.LittleEndian.AppendUint16(dst, uint16(s.I))
		dst = binary.LittleEndian.AppendUint16(dst, uint16(s.Q))
	}
	return dst, nil
}

// Parse decodes a frame.
func Parse(b []byte) (uint16, []IQ, error) {
	if len(b) != Size {
		return 0, nil, fmt.Errorf("%w: got %d", ErrFrameSize, len(b))
	}
	seq := binary.LittleEndian.Uint16(b)
	out := make([]IQ, SamplesPerFrame)
	for i := range out {
		off := HeaderSize + i*4
		out[i] = IQ{
			I: int16(binary.LittleEndian.Uint16(b[off:])),
			Q: int16(binary.LittleEndian.Uint16(b[off+2:])),
		}
	}
	return seq, out, nil
}

// Sequencer hands out frame sequence numbers. It is not safe for
// concurrent use; the capture loop owns it.
type Sequencer struct {
	limit uint32
	next  uint32
}

// NewSequencer counts from 0 and wraps to 0 when the counter would reach
// wrap. A wrap of 0 uses the full 16-bit range.
func NewSequencer(wrap uint16) *Sequencer {
	limit := uint32(wrap)
	if limit == 0 {
		limit = 1 << 16
	}
	return &Sequencer{limit: limit}
}

// Next returns the current number and advances.
func (s *Sequencer) Next() uint16 {
	v := s.next
	s.next++
	if s.next >= s.limit {
		s.next = 0
	}
	return uint16(v)
}
