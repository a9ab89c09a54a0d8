package fifo

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/sdrstream/pkg/radio"
	"github.com/sdrstream/pkg/regs"
)

// SampleRate is the decimated output rate of the radio.
const SampleRate = 48_000

// Tone feeds a SimFIFO with the baseband the radio would produce: a tone at
// the difference between the programmed ADC and tuner frequencies.
type Tone struct {
	Radio     regs.Window
	FIFO      *SimFIFO
	Amplitude float64
	Tick      time.Duration
}

// BasebandHz returns the tone offset implied by two phase increments.
func BasebandHz(adcInc, tunerInc uint32) float64 {
	diff := int64(adcInc) - int64(tunerInc)
	return float64(diff) * radio.ClockHz / (1 << radio.PhaseBits)
}

// Run generates samples until ctx is done.
func (g *Tone) Run(ctx context.Context) {
	tick := g.Tick
	if tick <= 0 {
		tick = 5 * time.Millisecond
	}
	amp := g.Amplitude
	if amp <= 0 {
		amp = 16000
	}

	// Integer phase accumulator: the full circle maps onto [0, 2^32).
	var phaseAcc uint32
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	last := time.Now()
	var owed float64
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			owed += now.Sub(last).Seconds() * SampleRate
			last = now
		}

		adcInc, err := g.Radio.Read32(regs.ADC)
		if err != nil {
			return
		}
		tunerInc, err := g.Radio.Read32(regs.Tuner)
		if err != nil {
			return
		}
		tuningWord := uint32(int64(BasebandHz(adcInc, tunerInc) / SampleRate * 4294967296.0))

		n := int(owed)
		owed -= float64(n)
		words := make([]uint32, n)
		for i := range words {
			rads := float64(phaseAcc) * (2.0 * math.Pi / 4294967296.0)
			// Triangular dither spreads quantisation spurs into the floor.
			iv := clamp16(amp*math.Cos(rads) + rng.Float64() - rng.Float64())
			qv := clamp16(amp*math.Sin(rads) + rng.Float64() - rng.Float64())
			words[i] = uint32(uint16(iv)) | uint32(uint16(qv))<<16
			phaseAcc += tuningWord
		}
		g.FIFO.Push(words...)
	}
}

func clamp16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
