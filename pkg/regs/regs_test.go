package regs

import (
	"errors"
	"runtime"
	"sync"
	"testing"
)

func TestSimReadWrite(t *testing.T) {
	s := NewSim(WindowSize)

	if err := s.Write32(Tuner, 0xdeadbeef); err != nil {
		t.Fatalf("Write32 failed: %v", err)
	}
	got, err := s.Read32(Tuner)
	if err != nil {
		t.Fatalf("Read32 failed: %v", err)
	}
	if got != 0xdeadbeef {
		t.Errorf("Read32(tuner) = %#x, want 0xdeadbeef", got)
	}
	if v, _ := s.Read32(ADC); v != 0 {
		t.Errorf("Read32(adc) = %#x, want 0", v)
	}
}

func TestSimOffsetChecks(t *testing.T) {
	s := NewSim(WindowSize)

	for _, off := range []uint32{2, WindowSize, WindowSize - 2, 0xffffffff} {
		if _, err := s.Read32(off); !errors.Is(err, ErrOffset) {
			t.Errorf("Read32(%#x) error = %v, want ErrOffset", off, err)
		}
		if err := s.Write32(off, 1); !errors.Is(err, ErrOffset) {
			t.Errorf("Write32(%#x) error = %v, want ErrOffset", off, err)
		}
	}
	if _, err := s.Read32(WindowSize - 4); err != nil {
		t.Errorf("last word should be readable: %v", err)
	}
}

func TestSimHookNotMemoized(t *testing.T) {
	s := NewSim(WindowSize)
	var n uint32
	s.Hook(Timer, func() uint32 {
		n++
		return n
	})

	a, _ := s.Read32(Timer)
	b, _ := s.Read32(Timer)
	if a != 1 || b != 2 {
		t.Errorf("timer reads = %d, %d; want 1, 2", a, b)
	}
}

func TestSimClosed(t *testing.T) {
	s := NewSim(WindowSize)
	s.Close()
	if _, err := s.Read32(ADC); !errors.Is(err, ErrClosed) {
		t.Errorf("Read32 after Close = %v, want ErrClosed", err)
	}
	if err := s.Write32(ADC, 1); !errors.Is(err, ErrClosed) {
		t.Errorf("Write32 after Close = %v, want ErrClosed", err)
	}
}

// A writer hammering one register and a reader polling another must never
// see each other's offsets, even when every access yields between its
// address and data steps.
func TestSimConcurrentAccessNeverTearsOffsets(t *testing.T) {
	s := NewSim(WindowSize)
	s.Between = runtime.Gosched

	const countReg = 0x10
	s.Hook(countReg, func() uint32 { return 0xc0ffee })

	const iterations = 2000
	var wg sync.WaitGroup
	errs := make(chan error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := uint32(1); i <= iterations; i++ {
			if err := s.Write32(ADC, i); err != nil {
				errs <- err
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			v, err := s.Read32(countReg)
			if err != nil {
				errs <- err
				return
			}
			if v != 0xc0ffee {
				errs <- errors.New("reader observed a value from the wrong register")
				return
			}
		}
	}()
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatal(err)
	}
	if got := s.Peek(ADC); got != iterations {
		t.Errorf("adc = %d, want %d", got, iterations)
	}
	if got := s.Peek(countReg); got != 0 {
		t.Errorf("hooked register memory = %#x, writer leaked into it", got)
	}
	for off := uint32(0x14); off < WindowSize; off += 4 {
		if v := s.Peek(off); v != 0 {
			t.Fatalf("stray write at %#x = %#x", off, v)
		}
	}
}

func TestName(t *testing.T) {
	cases := map[uint32]string{ADC: "adc", Tuner: "tuner", Ctrl: "ctrl", Timer: "timer", 0x40: "0x40"}
	for off, want := range cases {
		if got := Name(off); got != want {
			t.Errorf("Name(%#x) = %q, want %q", off, got, want)
		}
	}
}
