package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/sdrstream/pkg/regs"
)

func scripted(a *App, input string) (*Session, *bytes.Buffer) {
	var out bytes.Buffer
	return NewSession(a, strings.NewReader(input), &out), &out
}

func TestSessionSetFrequency(t *testing.T) {
	a, _ := newTestApp(t)
	s, out := scripted(a, "1000000\n2000\n")
	ctx := context.Background()

	if s.dispatch(ctx, "f") {
		t.Fatal("f ended the session")
	}
	if s.dispatch(ctx, "tune") {
		t.Fatal("tune ended the session")
	}

	if got := a.sim.radio.Peek(regs.ADC); got != 1_073_741 {
		t.Errorf("adc = %d", got)
	}
	if got := a.sim.radio.Peek(regs.Tuner); got != 2147 {
		t.Errorf("tuner = %d", got)
	}
	if !strings.Contains(out.String(), "Phase Increment: 1073741") {
		t.Errorf("output:\n%s", out)
	}
}

func TestSessionRepromptsInvalidFrequency(t *testing.T) {
	a, _ := newTestApp(t)
	s, out := scripted(a, "abc\n-5\n200000000\n1000\n")

	s.dispatch(context.Background(), "frequency")

	if n := strings.Count(out.String(), "Invalid frequency"); n != 3 {
		t.Errorf("%d rejections, want 3:\n%s", n, out)
	}
	if n := strings.Count(out.String(), "Enter an ADC frequency: "); n != 4 {
		t.Errorf("%d prompts, want 4", n)
	}
	if got := a.sim.radio.Peek(regs.ADC); got != 1073 {
		t.Errorf("adc = %d, want 1073", got)
	}
	if st := a.Radio.State(); st.ADCFreq != 1000 {
		t.Errorf("state = %+v", st)
	}
}

func TestSessionStepCommands(t *testing.T) {
	a, _ := newTestApp(t)
	s, out := scripted(a, "")
	ctx := context.Background()

	s.dispatch(ctx, "d")
	if !strings.Contains(out.String(), "cannot be decreased any further") {
		t.Errorf("d at 0 Hz not refused:\n%s", out)
	}
	if a.Radio.State().ADCFreq != 0 {
		t.Fatal("refused step changed the frequency")
	}

	for _, cmd := range []string{"U", "U", "u", "D", "d"} {
		s.dispatch(ctx, cmd)
	}
	if f := a.Radio.State().ADCFreq; f != 1000 {
		t.Errorf("adc = %d Hz, want 1000", f)
	}
	s.dispatch(ctx, "D")
	s.dispatch(ctx, "d")
	if f := a.Radio.State().ADCFreq; f != 0 {
		t.Errorf("adc = %d Hz, want 0", f)
	}
}

func TestSessionMuteAndStream(t *testing.T) {
	a, _ := newTestApp(t)
	s, out := scripted(a, "")
	ctx := context.Background()

	s.dispatch(ctx, "m")
	if a.sim.radio.Peek(regs.Ctrl) != regs.CtrlMute {
		t.Error("mute bit not set")
	}
	s.dispatch(ctx, "mute")
	if a.sim.radio.Peek(regs.Ctrl) != 0 {
		t.Error("ctrl not restored after second mute")
	}

	s.dispatch(ctx, "s")
	if a.Stream.Enabled() {
		t.Error("stream still enabled")
	}
	s.dispatch(ctx, "stream")
	if !a.Stream.Enabled() {
		t.Error("stream not re-enabled")
	}

	for _, want := range []string{"Muted", "Unmuted", "UDP streaming disabled", "UDP streaming enabled"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestSessionChangesDestination(t *testing.T) {
	a, _ := newTestApp(t)
	s, out := scripted(a, "999.1.1.1\n10.1.2.3\nabc\n0\n4000\n")
	ctx := context.Background()

	s.dispatch(ctx, "IP")
	s.dispatch(ctx, "port")

	if got := a.Stream.Destination().String(); got != "10.1.2.3:4000" {
		t.Errorf("destination = %s", got)
	}
	if !strings.Contains(out.String(), "Invalid IP address") || strings.Count(out.String(), "Invalid port") != 2 {
		t.Errorf("output:\n%s", out)
	}
	if !a.Supervisor.Running() {
		t.Error("redirect did not leave the capture loop running")
	}
}

func TestSessionRecordToggle(t *testing.T) {
	a, _ := newTestApp(t)
	s, out := scripted(a, "")
	ctx := context.Background()

	s.dispatch(ctx, "r")
	if !a.Recorder.Recording() {
		t.Fatalf("not recording:\n%s", out)
	}
	s.dispatch(ctx, "record")
	if a.Recorder.Recording() {
		t.Fatal("still recording")
	}

	entries, err := os.ReadDir(a.cfg.Record.Dir)
	if err != nil || len(entries) != 1 || !strings.HasSuffix(entries[0].Name(), ".parquet") {
		t.Errorf("record dir = %v, %v", entries, err)
	}
}

func TestSessionStatusAndUnknown(t *testing.T) {
	a, _ := newTestApp(t)
	s, out := scripted(a, "")
	ctx := context.Background()

	s.dispatch(ctx, "status")
	s.dispatch(ctx, "xyzzy")

	for _, want := range []string{a.Session(), "Datagrams sent", "127.0.0.1:", `Unknown command "xyzzy"`} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSessionExit(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"exit command", "u\ne\n"},
		{"long form", "exit\n"},
		{"end of input", "U\n"},
		{"end of input at a prompt", "f\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _ := newTestApp(t)
			if err := a.Start(context.Background()); err != nil {
				t.Fatal(err)
			}
			s, out := scripted(a, tt.input)

			if code := s.Run(context.Background()); code != exitOK {
				t.Errorf("exit code = %d", code)
			}
			if !strings.Contains(out.String(), "Exiting...") {
				t.Errorf("output:\n%s", out)
			}
			if a.sim.radio.Peek(regs.ADC) != 0 || a.sim.radio.Peek(regs.Tuner) != 0 {
				t.Error("registers not zeroed")
			}
			if a.Supervisor.Running() {
				t.Error("capture loop still running")
			}
		})
	}
}

func TestSessionCancelWhileWaiting(t *testing.T) {
	a, _ := newTestApp(t)
	pr, pw := io.Pipe()
	defer pw.Close()

	var out bytes.Buffer
	s := NewSession(a, pr, &out)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan int, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case code := <-done:
		if code != exitOK {
			t.Errorf("exit code = %d", code)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("session did not return after cancel")
	}
}

func TestSessionReaderExitsAfterRun(t *testing.T) {
	a, _ := newTestApp(t)
	s, _ := scripted(a, "e\nmore\nmore\n")

	if code := s.Run(context.Background()); code != exitOK {
		t.Fatalf("exit code = %d", code)
	}
	select {
	case <-s.readerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("input reader still blocked after the session ended")
	}
}
