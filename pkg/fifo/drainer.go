// Package fifo drains the radio sample FIFO through its count and data
// registers.
//
// The hardware offers no interrupt, so draining is a poll: each cycle reads
// the depth once and, only when more than Threshold words are queued, pops
// exactly Threshold words. If the radio outpaces the poller the FIFO
// overwrites its oldest words; that loss cannot be observed from software.
package fifo

import (
	"fmt"
	"sync/atomic"

	"github.com/sdrstream/pkg/regs"
)

// Threshold is the batch size popped per drain, one frame's worth.
const Threshold = 256

// Drainer polls a FIFO register window.
type Drainer struct {
	w regs.Window

	polls   atomic.Uint64
	idle    atomic.Uint64
	batches atomic.Uint64
	words   atomic.Uint64
	errors  atomic.Uint64
}

// Stats are cumulative drainer counters.
type Stats struct {
	Polls   uint64 `json:"polls"`
	Idle    uint64 `json:"idle_polls"`
	Batches uint64 `json:"batches"`
	Words   uint64 `json:"words"`
	Errors  uint64 `json:"errors"`
}

func NewDrainer(w regs.Window) *Drainer {
	return &Drainer{w: w}
}

// Poll runs one cycle. It returns nil with no error when the FIFO holds
// Threshold words or fewer. A read failure part way through a drain loses
// the words already popped; no partial batch is ever returned.
func (d *Drainer) Poll() ([]uint32, error) {
	d.polls.Add(1)

	count, err := d.w.Read32(regs.FIFOCount)
	if err != nil {
		d.errors.Add(1)
		return nil, fmt.Errorf("read fifo count: %w", err)
	}
	if count <= Threshold {
		d.idle.Add(1)
		return nil, nil
	}

	batch := make([]uint32, Threshold)
	for i := range batch {
		v, err := d.w.Read32(regs.FIFOData)
		if err != nil {
			d.errors.Add(1)
			d.words.Add(uint64(i))
			return nil, fmt.Errorf("read fifo data (word %d): %w", i, err)
		}
		batch[i] = v
	}

	d.batches.Add(1)
	d.words.Add(Threshold)
	return batch, nil
}

func (d *Drainer) Stats() Stats {
	return Stats{
		Polls:   d.polls.Load(),
		Idle:    d.idle.Load(),
		Batches: d.batches.Load(),
		Words:   d.words.Load(),
		Errors:  d.errors.Load(),
	}
}
