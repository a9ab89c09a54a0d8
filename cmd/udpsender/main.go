// Command udpsender sends a fixed number of synthetic frames in the
// streaming wire format, for checking a receiver without the radio.
//
//	udpsender 192.168.1.23 10
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/sdrstream/pkg/frame"
	"github.com/sdrstream/pkg/transport"
)

// counterSamples is the fake payload: the 512 16-bit values 0..511
// interleaved as I/Q pairs.
func counterSamples() []uint32 {
	samples := make([]uint32, frame.SamplesPerFrame)
	for i := range samples {
		samples[i] = uint32(2*i) | uint32(2*i+1)<<16
	}
	return samples
}

func main() {
	port := flag.Int("p", transport.DefaultPort, "Destination UDP port")
	wrap := flag.Uint("wrap", frame.DefaultWrap, "Sequence wrap bound (0 = full 16-bit range)")
	interval := flag.Duration("i", 0, "Delay between frames")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <ip> [count]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 || flag.NArg() > 2 || *wrap > 65535 {
		flag.Usage()
		os.Exit(2)
	}
	count := 10
	if flag.NArg() == 2 {
		n, err := strconv.Atoi(flag.Arg(1))
		if err != nil || n < 0 {
			fmt.Fprintf(os.Stderr, "invalid count %q\n", flag.Arg(1))
			os.Exit(2)
		}
		count = n
	}

	dst, err := transport.ParseDestination(flag.Arg(0), *port)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	udp, err := transport.NewUDP(transport.NewStreamConfig(dst, true))
	if err != nil {
		slog.Error("udpsender: socket", "error", err)
		os.Exit(1)
	}
	defer udp.Close()

	fmt.Printf("Sending %d UDP packets to destination %s ...\n", count, dst)

	samples := counterSamples()
	seq := frame.NewSequencer(uint16(*wrap))
	for i := 0; i < count; i++ {
		s := seq.Next()
		data, err := frame.Build(s, samples)
		if err != nil {
			slog.Error("udpsender: build", "error", err)
			os.Exit(1)
		}
		if err := udp.Send(data); err != nil {
			slog.Warn("udpsender: send failed", "seq", s, "error", err)
		}
		if *interval > 0 {
			time.Sleep(*interval)
		}
	}

	st := udp.Stats()
	fmt.Printf("Sent %d, failed %d\n", st.Sent, st.Failed)
}
