package fifo

import (
	"sync"

	"github.com/sdrstream/pkg/regs"
)

// DefaultDepth matches the radio's FIFO depth.
const DefaultDepth = 1024

// SimFIFO models the FIFO peripheral behind a simulated register window:
// reading the count register returns the depth, reading the data register
// pops the oldest word (0 when empty). Pushing into a full FIFO overwrites
// the oldest word, as the hardware does.
type SimFIFO struct {
	mu      sync.Mutex
	buf     []uint32
	head    int
	n       int
	dropped uint64

	win *regs.Sim
}

func NewSimFIFO(depth int) *SimFIFO {
	if depth <= 0 {
		depth = DefaultDepth
	}
	f := &SimFIFO{
		buf: make([]uint32, depth),
		win: regs.NewSim(regs.WindowSize),
	}
	f.win.Hook(regs.FIFOCount, func() uint32 { return uint32(f.Len()) })
	f.win.Hook(regs.FIFOData, f.pop)
	return f
}

// Window returns the register view of the FIFO.
func (f *SimFIFO) Window() *regs.Sim { return f.win }

// Push appends words, overwriting the oldest when full.
func (f *SimFIFO) Push(words ...uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range words {
		if f.n == len(f.buf) {
			f.head = (f.head + 1) % len(f.buf)
			f.n--
			f.dropped++
		}
		f.buf[(f.head+f.n)%len(f.buf)] = w
		f.n++
	}
}

func (f *SimFIFO) pop() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.n == 0 {
		return 0
	}
	w := f.buf[f.head]
	f.head = (f.head + 1) % len(f.buf)
	f.n--
	return w
}

func (f *SimFIFO) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n
}

// Dropped returns how many words were overwritten before being read.
func (f *SimFIFO) Dropped() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}
