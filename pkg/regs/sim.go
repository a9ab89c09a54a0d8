package regs

import (
	"encoding/binary"
	"sync"
)

// ReadHook supplies the value of a register whose reads have side effects
// (pop-on-read FIFO data, free-running counters). It runs with the window
// lock held and must not call back into the window.
type ReadHook func() uint32

// Sim is an in-memory register window used by simulation mode and tests.
//
// Like a seekable mapping, it addresses registers in two steps: move the
// cursor, then read or write at the cursor. Between, if set, runs between
// the two steps so tests can force goroutine interleavings.
type Sim struct {
	mu      sync.Mutex
	mem     []byte
	cursor  uint32
	hooks   map[uint32]ReadHook
	closed  bool
	Between func()
}

// NewSim returns a zeroed simulated window of size bytes.
func NewSim(size int) *Sim {
	return &Sim{
		mem:   make([]byte, size),
		hooks: make(map[uint32]ReadHook),
	}
}

// Hook installs fn as the source of reads at off.
func (s *Sim) Hook(off uint32, fn ReadHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks[off] = fn
}

func (s *Sim) seek(off uint32) {
	s.cursor = off
	if s.Between != nil {
		s.Between()
	}
}

func (s *Sim) Read32(off uint32) (uint32, error) {
	if err := checkOffset(off, s.Size()); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	s.seek(off)
	if fn, ok := s.hooks[s.cursor]; ok {
		return fn(), nil
	}
	return binary.LittleEndian.Uint32(s.mem[s.cursor:]), nil
}

func (s *Sim) Write32(off, val uint32) error {
	if err := checkOffset(off, s.Size()); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	s.seek(off)
	binary.LittleEndian.PutUint32(s.mem[s.cursor:], val)
	return nil
}

// Peek returns the stored value at off without running read hooks.
func (s *Sim) Peek(off uint32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return binary.LittleEndian.Uint32(s.mem[off:])
}

func (s *Sim) Size() uint32 { return uint32(len(s.mem)) }

func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
