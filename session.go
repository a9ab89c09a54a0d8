package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/sdrstream/pkg/radio"
)

// Session is the interactive operator console. It runs in the foreground
// while the capture loop streams in the background.
type Session struct {
	app   *App
	out   io.Writer
	lines <-chan string

	stop       chan struct{}
	stopOnce   sync.Once
	readerDone chan struct{}
}

// NewSession reads commands from in and writes prompts and results to out.
// Input is read on its own goroutine so a cancelled context is noticed
// while waiting at a prompt. The reader exits once Run returns and its
// pending line, if any, is discarded; a reader blocked inside in.Read
// exits when in is closed or reaches EOF.
func NewSession(app *App, in io.Reader, out io.Writer) *Session {
	s := &Session{
		app:        app,
		out:        out,
		stop:       make(chan struct{}),
		readerDone: make(chan struct{}),
	}
	lines := make(chan string)
	s.lines = lines
	go func() {
		defer close(s.readerDone)
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-s.stop:
				return
			}
		}
	}()
	return s
}

// Run prints the banner and processes commands until exit, end of input
// or ctx cancellation. All three leave through the same shutdown path.
func (s *Session) Run(ctx context.Context) int {
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, "------------------------------------")
	fmt.Fprintln(s.out, "Linux SDR with Ethernet")
	fmt.Fprintln(s.out, "------------------------------------")
	fmt.Fprintln(s.out)
	fmt.Fprintf(s.out, "Initially configured to transmit UDP packets to %s\n", s.app.Stream.Destination())
	s.printInstructions()

	for {
		cmd, ok := s.prompt(ctx, "Enter a command: ")
		if !ok {
			break
		}
		fmt.Fprintln(s.out)
		if quit := s.dispatch(ctx, cmd); quit {
			break
		}
		fmt.Fprintln(s.out)
	}
	s.stopOnce.Do(func() { close(s.stop) })
	return s.exit()
}

func (s *Session) prompt(ctx context.Context, text string) (string, bool) {
	fmt.Fprint(s.out, text)
	select {
	case <-ctx.Done():
		fmt.Fprintln(s.out)
		return "", false
	case line, ok := <-s.lines:
		return strings.TrimSpace(line), ok
	}
}

// dispatch runs one command and reports whether the session should end.
func (s *Session) dispatch(ctx context.Context, cmd string) bool {
	switch cmd {
	case "f", "frequency":
		return s.readFrequency(ctx, radio.ADC, "Enter an ADC frequency: ")
	case "t", "tune":
		return s.readFrequency(ctx, radio.Tuner, "Enter a tuner frequency: ")
	case "u":
		s.step(100)
	case "U":
		s.step(1000)
	case "d":
		s.step(-100)
	case "D":
		s.step(-1000)
	case "m", "mute":
		s.toggleMute()
	case "s", "stream":
		if s.app.ToggleStream() {
			fmt.Fprintln(s.out, "    UDP streaming enabled")
		} else {
			fmt.Fprintln(s.out, "    UDP streaming disabled")
		}
	case "i", "IP":
		return s.readIP(ctx)
	case "p", "port":
		return s.readPort(ctx)
	case "r", "record":
		s.toggleRecording()
	case "st", "status":
		s.printStatus()
	case "h", "help":
		s.printInstructions()
	case "e", "exit":
		return true
	case "":
	default:
		fmt.Fprintf(s.out, "    Unknown command %q, enter 'h' for help\n", cmd)
	}
	return false
}

// readFrequency prompts until a valid frequency is applied or the input
// ends. A register write failure is reported without reprompting.
func (s *Session) readFrequency(ctx context.Context, ch radio.Channel, text string) bool {
	for {
		line, ok := s.prompt(ctx, text)
		if !ok {
			return true
		}
		freq, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			fmt.Fprintf(s.out, "    Invalid frequency %q, enter a whole number of Hz\n", line)
			continue
		}
		up, err := s.app.SetFrequency(ch, freq)
		if errors.Is(err, radio.ErrInvalidFrequency) {
			fmt.Fprintf(s.out, "    Invalid frequency %d: %v\n", freq, err)
			continue
		}
		if err != nil {
			s.reportWriteError(err)
			return false
		}
		s.printUpdate(up)
		return false
	}
}

func (s *Session) step(delta int64) {
	up, err := s.app.Step(radio.ADC, delta)
	switch {
	case errors.Is(err, radio.ErrFrequencyFloor):
		fmt.Fprintln(s.out, "Frequency cannot be decreased any further!")
	case errors.Is(err, radio.ErrInvalidFrequency):
		fmt.Fprintf(s.out, "    %v\n", err)
	case err != nil:
		s.reportWriteError(err)
	default:
		s.printUpdate(up)
	}
}

func (s *Session) toggleMute() {
	muted, err := s.app.ToggleMute()
	if err != nil {
		s.reportWriteError(err)
		return
	}
	if muted {
		fmt.Fprintln(s.out, "    Muted")
	} else {
		fmt.Fprintln(s.out, "    Unmuted")
	}
}

func (s *Session) readIP(ctx context.Context) bool {
	for {
		line, ok := s.prompt(ctx, "Enter a new destination IP address: ")
		if !ok {
			return true
		}
		ip, err := netip.ParseAddr(line)
		if err != nil {
			fmt.Fprintf(s.out, "    Invalid IP address %q\n", line)
			continue
		}
		s.redirect(s.app.Stream.WithIP(ip))
		return false
	}
}

func (s *Session) readPort(ctx context.Context) bool {
	for {
		line, ok := s.prompt(ctx, "Enter a new destination UDP port: ")
		if !ok {
			return true
		}
		port, err := strconv.Atoi(line)
		if err != nil || port <= 0 || port > 65535 {
			fmt.Fprintf(s.out, "    Invalid port %q, enter 1-65535\n", line)
			continue
		}
		s.redirect(s.app.Stream.WithPort(uint16(port)))
		return false
	}
}

func (s *Session) redirect(dst netip.AddrPort) {
	if err := s.app.Restart(dst); err != nil {
		fmt.Fprintf(s.out, "    Could not redirect stream: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "    Streaming to %s\n", dst)
}

func (s *Session) toggleRecording() {
	started, path, sum, err := s.app.ToggleRecording()
	switch {
	case err != nil:
		fmt.Fprintf(s.out, "    Recording failed: %v\n", err)
	case started:
		fmt.Fprintf(s.out, "    Recording to %s\n", path)
	default:
		fmt.Fprintf(s.out, "    Recorded %d frames (%d samples) to %s in %s\n",
			sum.Frames, sum.Samples, sum.Path, sum.Duration.Round(time.Millisecond))
	}
}

func (s *Session) printStatus() {
	st := s.app.Status()

	table := tablewriter.NewWriter(s.out)
	table.SetHeader([]string{"Item", "Value"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.Append([]string{"Session", st.Session})
	table.Append([]string{"ADC frequency", fmt.Sprintf("%d Hz (inc %d)", st.Tuning.ADCFreq, st.Tuning.ADCInc)})
	table.Append([]string{"Tuner frequency", fmt.Sprintf("%d Hz (inc %d)", st.Tuning.TunerFreq, st.Tuning.TunerInc)})
	table.Append([]string{"Muted", strconv.FormatBool(st.Tuning.Muted)})
	table.Append([]string{"Destination", st.Stream.Destination})
	table.Append([]string{"Streaming", strconv.FormatBool(st.Stream.Enabled)})
	table.Append([]string{"Capture running", strconv.FormatBool(st.Stream.Running)})
	table.Append([]string{"Frames built", strconv.FormatUint(st.Stream.Frames, 10)})
	table.Append([]string{"Last sequence", strconv.Itoa(int(st.Stream.LastSeq))})
	table.Append([]string{"Datagrams sent", strconv.FormatUint(st.UDP.Sent, 10)})
	table.Append([]string{"Frames discarded", strconv.FormatUint(st.UDP.Discarded, 10)})
	table.Append([]string{"Send failures", strconv.FormatUint(st.UDP.Failed, 10)})
	if st.FIFO != nil {
		table.Append([]string{"FIFO polls", fmt.Sprintf("%d (%d idle)", st.FIFO.Polls, st.FIFO.Idle)})
	}
	if st.DMA != nil {
		table.Append([]string{"Stream device bytes", strconv.FormatUint(st.DMA.BytesRead, 10)})
	}
	table.Append([]string{"Recording", strconv.FormatBool(st.Recording)})
	table.Render()
}

func (s *Session) printUpdate(up radio.Update) {
	fmt.Fprintf(s.out, "    Frequency: %d\n", up.Freq)
	fmt.Fprintf(s.out, "    Phase Increment: %d\n", up.Inc)
}

func (s *Session) reportWriteError(err error) {
	slog.Error("session: register write failed", "error", err)
	fmt.Fprintf(s.out, "    Register write failed: %v\n", err)
}

func (s *Session) printInstructions() {
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, "Enter 'f' or 'frequency' to enter an ADC frequency")
	fmt.Fprintln(s.out, "Enter 't' or 'tune' to enter a tuning frequency")
	fmt.Fprintln(s.out, "Enter 'u'/'U' to increase ADC frequency by 100/1000 Hz")
	fmt.Fprintln(s.out, "Enter 'd'/'D' to decrease ADC frequency by 100/1000 Hz")
	fmt.Fprintln(s.out, "Enter 's' or 'stream' to toggle the UDP packet streaming")
	fmt.Fprintln(s.out, "Enter 'i' or 'IP' to update the destination IP address")
	fmt.Fprintln(s.out, "Enter 'p' or 'port' to update the destination UDP port")
	fmt.Fprintln(s.out, "Enter 'm' or 'mute' to toggle the speaker output")
	if s.app.Recorder != nil {
		fmt.Fprintln(s.out, "Enter 'r' or 'record' to start or stop a Parquet recording")
	}
	fmt.Fprintln(s.out, "Enter 'st' or 'status' to show tuning and stream counters")
	fmt.Fprintln(s.out, "Enter 'h' or 'help' to repeat these instructions")
	fmt.Fprintln(s.out, "Enter 'e' or 'exit' to terminate the program")
	fmt.Fprintln(s.out)
}

func (s *Session) exit() int {
	if err := s.app.Shutdown(); err != nil {
		slog.Error("session: shutdown incomplete", "error", err)
		fmt.Fprintf(s.out, "Shutdown incomplete: %v\n", err)
	}
	fmt.Fprintln(s.out, "Terminated UDP sender...")
	fmt.Fprintln(s.out, "Exiting...")
	fmt.Fprintln(s.out)
	return exitOK
}
