package main

import (
	"context"
	"time"

	"github.com/sdrstream/pkg/fifo"
	"github.com/sdrstream/pkg/radio"
	"github.com/sdrstream/pkg/regs"
)

// simHardware stands in for the radio and FIFO peripherals when no FPGA is
// present: a free-running 125 MHz timer register and a FIFO fed with the
// tone the programmed frequencies would produce.
type simHardware struct {
	radio *regs.Sim
	fifo  *fifo.SimFIFO
	tone  *fifo.Tone
}

func newSimHardware(hw HardwareConfig) *simHardware {
	start := time.Now()
	r := regs.NewSim(regs.WindowSize)
	r.Hook(regs.Timer, func() uint32 {
		return uint32(time.Since(start).Nanoseconds() * (radio.ClockHz / 1_000_000) / 1000)
	})

	f := fifo.NewSimFIFO(hw.SimFIFODepth)
	return &simHardware{
		radio: r,
		fifo:  f,
		tone: &fifo.Tone{
			Radio:     r,
			FIFO:      f,
			Amplitude: float64(hw.SimAmplitude),
		},
	}
}

func (s *simHardware) run(ctx context.Context) {
	s.tone.Run(ctx)
}
