// Package radio converts requested frequencies into DDS phase increments
// and writes them, along with the mute bit, to the radio control registers.
package radio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sdrstream/pkg/regs"
)

const (
	// ClockHz is the DDS reference clock.
	ClockHz = 125_000_000
	// PhaseBits is the width of the DDS phase accumulator.
	PhaseBits = 27
	// MaxFrequency is the highest frequency whose increment fits the
	// accumulator.
	MaxFrequency = ClockHz - 1
)

var (
	ErrInvalidFrequency  = errors.New("invalid frequency")
	ErrNegativeFrequency = fmt.Errorf("%w: negative", ErrInvalidFrequency)
	ErrFrequencyRange    = fmt.Errorf("%w: above %d Hz", ErrInvalidFrequency, MaxFrequency)
	ErrFrequencyFloor    = fmt.Errorf("%w: cannot be decreased any further", ErrInvalidFrequency)
)

// FreqToInc returns floor(freq * 2^27 / 125 MHz) computed with integers.
func FreqToInc(freq int64) (uint32, error) {
	if freq < 0 {
		return 0, ErrNegativeFrequency
	}
	if freq > MaxFrequency {
		return 0, ErrFrequencyRange
	}
	return uint32((freq << PhaseBits) / ClockHz), nil
}

// Channel selects one of the two tunable DDS channels.
type Channel int

const (
	ADC Channel = iota
	Tuner
)

func (c Channel) offset() uint32 {
	if c == Tuner {
		return regs.Tuner
	}
	return regs.ADC
}

func (c Channel) String() string { return regs.Name(c.offset()) }

// TuningState is the last successfully written tuning configuration.
type TuningState struct {
	ADCFreq   int64  `json:"adc_hz"`
	TunerFreq int64  `json:"tuner_hz"`
	ADCInc    uint32 `json:"adc_inc"`
	TunerInc  uint32 `json:"tuner_inc"`
	Muted     bool   `json:"muted"`
}

// Update reports the result of a frequency change.
type Update struct {
	Channel Channel
	Freq    int64
	Inc     uint32
}

// Controller owns the tuning registers of one radio peripheral.
type Controller struct {
	w  regs.Window
	mu sync.Mutex
	st TuningState
}

// New returns a controller writing through w. Nothing is written until
// Init or a setter is called.
func New(w regs.Window) *Controller {
	return &Controller{w: w}
}

// Init programs both channels and clears mute.
func (c *Controller) Init(adcFreq, tunerFreq int64) error {
	if _, err := c.SetFrequency(ADC, adcFreq); err != nil {
		return err
	}
	if _, err := c.SetFrequency(Tuner, tunerFreq); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.w.Write32(regs.Ctrl, 0); err != nil {
		return fmt.Errorf("write %s: %w", regs.Name(regs.Ctrl), err)
	}
	c.st.Muted = false
	return nil
}

// SetFrequency writes the increment for freq to ch. The cached state only
// changes if the register write succeeds.
func (c *Controller) SetFrequency(ch Channel, freq int64) (Update, error) {
	inc, err := FreqToInc(freq)
	if err != nil {
		return Update{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.set(ch, freq, inc)
}

func (c *Controller) set(ch Channel, freq int64, inc uint32) (Update, error) {
	if err := c.w.Write32(ch.offset(), inc); err != nil {
		return Update{}, fmt.Errorf("write %s: %w", ch, err)
	}
	switch ch {
	case ADC:
		c.st.ADCFreq, c.st.ADCInc = freq, inc
	case Tuner:
		c.st.TunerFreq, c.st.TunerInc = freq, inc
	}
	return Update{Channel: ch, Freq: freq, Inc: inc}, nil
}

// Step moves ch by delta Hz from its cached frequency, refusing to go
// below zero.
func (c *Controller) Step(ch Channel, delta int64) (Update, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.st.ADCFreq
	if ch == Tuner {
		cur = c.st.TunerFreq
	}
	next := cur + delta
	if next < 0 {
		return Update{}, ErrFrequencyFloor
	}
	inc, err := FreqToInc(next)
	if err != nil {
		return Update{}, err
	}
	return c.set(ch, next, inc)
}

// ToggleMute flips the mute bit and writes it as the full control
// register value.
func (c *Controller) ToggleMute() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	muted := !c.st.Muted
	var val uint32
	if muted {
		val = regs.CtrlMute
	}
	if err := c.w.Write32(regs.Ctrl, val); err != nil {
		return c.st.Muted, fmt.Errorf("write %s: %w", regs.Name(regs.Ctrl), err)
	}
	c.st.Muted = muted
	return muted, nil
}

// Zero writes 0 to both frequency registers.
func (c *Controller) Zero() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, ch := range []Channel{ADC, Tuner} {
		if _, err := c.set(ch, 0, 0); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// State returns a copy of the cached tuning state.
func (c *Controller) State() TuningState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st
}
