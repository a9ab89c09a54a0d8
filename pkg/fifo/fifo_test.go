package fifo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sdrstream/pkg/regs"
)

func fill(f *SimFIFO, n int) {
	for i := 0; i < n; i++ {
		f.Push(uint32(i))
	}
}

func TestDrainThreeHundredWords(t *testing.T) {
	f := NewSimFIFO(DefaultDepth)
	fill(f, 300)
	d := NewDrainer(f.Window())

	batch, err := d.Poll()
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if len(batch) != Threshold {
		t.Fatalf("batch len = %d, want %d", len(batch), Threshold)
	}
	for i, w := range batch {
		if w != uint32(i) {
			t.Fatalf("word %d = %d, out of arrival order", i, w)
		}
	}

	batch, err = d.Poll()
	if err != nil || batch != nil {
		t.Fatalf("second Poll = %d words, %v; want idle", len(batch), err)
	}
	if f.Len() != 44 {
		t.Errorf("remaining = %d, want 44", f.Len())
	}

	st := d.Stats()
	if st.Polls != 2 || st.Idle != 1 || st.Batches != 1 || st.Words != Threshold {
		t.Errorf("stats = %+v", st)
	}
}

func TestDrainThresholdIsStrict(t *testing.T) {
	tests := []struct {
		queued    int
		wantBatch bool
	}{
		{0, false},
		{1, false},
		{255, false},
		{256, false},
		{257, true},
		{1024, true},
	}
	for _, tt := range tests {
		f := NewSimFIFO(DefaultDepth)
		fill(f, tt.queued)
		batch, err := NewDrainer(f.Window()).Poll()
		if err != nil {
			t.Fatalf("queued=%d: %v", tt.queued, err)
		}
		if (batch != nil) != tt.wantBatch {
			t.Errorf("queued=%d: got batch=%v, want %v", tt.queued, batch != nil, tt.wantBatch)
		}
		if batch != nil && len(batch) != Threshold {
			t.Errorf("queued=%d: batch of %d words", tt.queued, len(batch))
		}
		if !tt.wantBatch && f.Len() != tt.queued {
			t.Errorf("queued=%d: idle poll popped words", tt.queued)
		}
	}
}

func TestSimFIFOOverwritesOldest(t *testing.T) {
	f := NewSimFIFO(4)
	f.Push(1, 2, 3, 4, 5, 6)
	if f.Len() != 4 || f.Dropped() != 2 {
		t.Fatalf("len=%d dropped=%d", f.Len(), f.Dropped())
	}
	w := f.Window()
	for _, want := range []uint32{3, 4, 5, 6, 0} {
		got, _ := w.Read32(regs.FIFOData)
		if got != want {
			t.Errorf("pop = %d, want %d", got, want)
		}
	}
}

// failAfter lets n data reads succeed, then fails.
type failAfter struct {
	regs.Window
	n int
}

func (f *failAfter) Read32(off uint32) (uint32, error) {
	if off == regs.FIFOData {
		if f.n == 0 {
			return 0, errors.New("bus error")
		}
		f.n--
	}
	return f.Window.Read32(off)
}

func TestDrainErrorEmitsNothing(t *testing.T) {
	f := NewSimFIFO(DefaultDepth)
	fill(f, 600)
	d := NewDrainer(&failAfter{Window: f.Window(), n: 100})

	batch, err := d.Poll()
	if err == nil {
		t.Fatal("expected error")
	}
	if batch != nil {
		t.Fatalf("partial batch of %d words returned", len(batch))
	}
	if d.Stats().Batches != 0 || d.Stats().Errors != 1 {
		t.Errorf("stats = %+v", d.Stats())
	}
}

func TestBasebandHz(t *testing.T) {
	// 1 MHz + 1 kHz against 1 MHz: about 1 kHz of baseband.
	hz := BasebandHz(1_074_815, 1_073_741)
	if hz < 990 || hz > 1010 {
		t.Errorf("BasebandHz = %.1f, want ~1000", hz)
	}
	if BasebandHz(5, 5) != 0 {
		t.Error("equal increments should give DC")
	}
}

func TestToneFillsFIFO(t *testing.T) {
	radio := regs.NewSim(regs.WindowSize)
	radio.Write32(regs.ADC, 1_074_815)
	radio.Write32(regs.Tuner, 1_073_741)

	f := NewSimFIFO(8192)
	g := &Tone{Radio: radio, FIFO: f, Tick: time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	g.Run(ctx)

	// 100ms at 48 kHz is ~4800 words; leave wide margin for slow runners.
	if n := f.Len(); n < 480 {
		t.Errorf("generated %d words in 100ms", n)
	}
}
