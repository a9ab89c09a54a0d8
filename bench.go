package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sdrstream/pkg/radio"
	"github.com/sdrstream/pkg/regs"
)

const wordBytes = 4

// benchResult is one register-throughput measurement.
type benchResult struct {
	Reads   int
	Bytes   int
	Clocks  uint32
	Elapsed time.Duration
}

func (r benchResult) kBps() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Bytes) / r.Elapsed.Seconds() / 1e3
}

// benchTimer reads the timer register n times and times the run with the
// timer itself. Elapsed clocks are a wrapping 32-bit difference.
func benchTimer(w regs.Window, n int) (benchResult, error) {
	start, err := w.Read32(regs.Timer)
	if err != nil {
		return benchResult{}, fmt.Errorf("read timer: %w", err)
	}
	stop := start
	for i := 0; i < n; i++ {
		if stop, err = w.Read32(regs.Timer); err != nil {
			return benchResult{}, fmt.Errorf("read timer (read %d): %w", i, err)
		}
	}
	clks := stop - start
	return benchResult{
		Reads:   n,
		Bytes:   n * wordBytes,
		Clocks:  clks,
		Elapsed: time.Duration(int64(clks) * int64(time.Second) / radio.ClockHz),
	}, nil
}

// benchFIFO pops n words from the FIFO as soon as they are available and
// times the run on the host clock.
func benchFIFO(ctx context.Context, w regs.Window, n int) (benchResult, error) {
	start := time.Now()
	got := 0
	for got < n {
		if err := ctx.Err(); err != nil {
			return benchResult{}, err
		}
		count, err := w.Read32(regs.FIFOCount)
		if err != nil {
			return benchResult{}, fmt.Errorf("read fifo count: %w", err)
		}
		if count == 0 {
			time.Sleep(100 * time.Microsecond)
			continue
		}
		for i := uint32(0); i < count && got < n; i++ {
			if _, err := w.Read32(regs.FIFOData); err != nil {
				return benchResult{}, fmt.Errorf("read fifo data: %w", err)
			}
			got++
		}
	}
	return benchResult{Reads: n, Bytes: n * wordBytes, Elapsed: time.Since(start)}, nil
}

// runBench runs the named benchmark against the app's register windows
// and prints the transfer summary.
func runBench(ctx context.Context, a *App, kind string, n int, out io.Writer) error {
	var (
		res benchResult
		err error
	)
	switch kind {
	case "timer":
		res, err = benchTimer(a.radioWin, n)
	case "fifo":
		if a.fifoWin == nil {
			return fmt.Errorf("fifo benchmark needs the FIFO register window")
		}
		res, err = benchFIFO(ctx, a.fifoWin, n)
	default:
		return fmt.Errorf("unknown benchmark %q (want timer or fifo)", kind)
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(out)
	if kind == "timer" {
		fmt.Fprintf(out, "Elapsed time in clocks = %d\n", res.Clocks)
	}
	fmt.Fprintf(out, "You transferred %d bytes of data in %v seconds\n", res.Bytes, res.Elapsed.Seconds())
	fmt.Fprintf(out, "Measured transfer throughput = %.3f kBytes/s\n", res.kBps())
	return nil
}
