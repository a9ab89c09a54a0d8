// Command client connects to the frame monitor, checks the sequence
// numbers of the frames it receives and reports gaps.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sdrstream/pkg/frame"
)

// gapTracker counts frames missing between consecutive sequence numbers.
type gapTracker struct {
	limit    uint32
	have     bool
	last     uint16
	frames   uint64
	missing  uint64
	restarts uint64
}

func newGapTracker(wrap uint16) *gapTracker {
	limit := uint32(wrap)
	if limit == 0 {
		limit = 1 << 16
	}
	return &gapTracker{limit: limit}
}

// observe records seq and returns how many frames were skipped before it.
func (g *gapTracker) observe(seq uint16) uint32 {
	g.frames++
	if !g.have {
		g.have, g.last = true, seq
		return 0
	}
	want := (uint32(g.last) + 1) % g.limit
	g.last = seq
	if uint32(seq) >= g.limit {
		g.restarts++
		return 0
	}
	gap := (uint32(seq) + g.limit - want) % g.limit
	g.missing += uint64(gap)
	return gap
}

func main() {
	addr := flag.String("addr", "localhost:8080", "Monitor address")
	wrap := flag.Uint("wrap", frame.DefaultWrap, "Sequence wrap bound of the stream (0 = full 16-bit range)")
	count := flag.Int("n", 0, "Stop after this many frames (0 = until interrupted)")
	flag.Parse()
	if *wrap > 65535 {
		fmt.Fprintln(os.Stderr, "-wrap must be at most 65535")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws"}
	c, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		slog.Error("client: dial", "url", u.String(), "error", err)
		os.Exit(1)
	}
	defer c.Close()

	go func() {
		<-ctx.Done()
		c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.Close()
	}()

	g := newGapTracker(uint16(*wrap))
	report := time.NewTicker(time.Second)
	defer report.Stop()

	for *count == 0 || g.frames < uint64(*count) {
		mt, data, err := c.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				slog.Error("client: read", "error", err)
			}
			break
		}
		if mt == websocket.TextMessage {
			var msg map[string]any
			if json.Unmarshal(data, &msg) != nil {
				continue
			}
			switch msg["type"] {
			case "hello":
				fmt.Printf("Connected: session %v, frame size %v\n", msg["session"], msg["frame_size"])
			case "status":
				slog.Info("client: status changed", "status", msg["status"])
			}
			continue
		}

		seq, _, err := frame.Parse(data)
		if err != nil {
			slog.Warn("client: bad frame", "bytes", len(data), "error", err)
			continue
		}
		if gap := g.observe(seq); gap > 0 {
			fmt.Printf("Gap: %d frames missing before seq %d\n", gap, seq)
		}

		select {
		case <-report.C:
			fmt.Printf("Frames %d, missing %d, last seq %d\n", g.frames, g.missing, g.last)
		default:
		}
	}
	fmt.Printf("Done: frames %d, missing %d\n", g.frames, g.missing)
}
