package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sdrstream/pkg/dma"
	"github.com/sdrstream/pkg/fifo"
	"github.com/sdrstream/pkg/monitor"
	"github.com/sdrstream/pkg/radio"
	"github.com/sdrstream/pkg/record"
	"github.com/sdrstream/pkg/regs"
	"github.com/sdrstream/pkg/stream"
	"github.com/sdrstream/pkg/transport"
)

// App holds the hardware handles and the capture pipeline for one run.
// The session mutates it through the exported components; the capture
// loop only ever sees the register window and the StreamConfig.
type App struct {
	cfg     *Config
	session string

	radioWin regs.Window
	fifoWin  regs.Window
	drainer  *fifo.Drainer
	dmaRd    *dma.Reader
	sim      *simHardware

	Radio      *radio.Controller
	Stream     *transport.StreamConfig
	UDP        *transport.UDP
	Supervisor *stream.Supervisor
	Hub        *monitor.Hub
	Recorder   *record.Recorder

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup
}

// Status is the snapshot served by the monitor and printed by the
// session's status command.
type Status struct {
	Session   string            `json:"session"`
	Tuning    radio.TuningState `json:"tuning"`
	Stream    stream.Stats      `json:"stream"`
	UDP       transport.Stats   `json:"udp"`
	FIFO      *fifo.Stats       `json:"fifo,omitempty"`
	DMA       *dma.Stats        `json:"dma,omitempty"`
	Recording bool              `json:"recording"`
}

// OpenApp maps the register windows, programs the initial tuning and
// assembles the capture pipeline without starting it. Register mapping
// failures are returned as *regs.MapError.
func OpenApp(ctx context.Context, cfg *Config) (a *App, err error) {
	a = &App{cfg: cfg, session: uuid.NewString()}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	a.bgCtx, a.bgCancel = context.WithCancel(ctx)

	if cfg.Hardware.Sim {
		a.sim = newSimHardware(cfg.Hardware)
		a.radioWin = a.sim.radio
		a.fifoWin = a.sim.fifo.Window()
		a.bg.Add(1)
		go func() {
			defer a.bg.Done()
			a.sim.run(a.bgCtx)
		}()
		slog.Info("app: using simulated hardware", "fifo_depth", cfg.Hardware.SimFIFODepth)
	} else {
		if a.radioWin, err = openWindow(cfg.Hardware, cfg.Hardware.RadioBase); err != nil {
			return a, err
		}
		if cfg.Hardware.StreamDevice == "" {
			if a.fifoWin, err = openWindow(cfg.Hardware, cfg.Hardware.FIFOBase); err != nil {
				return a, err
			}
		}
	}

	a.Radio = radio.New(a.radioWin)
	if err := a.Radio.Init(cfg.Radio.ADCHz, cfg.Radio.TunerHz); err != nil {
		return a, fmt.Errorf("program initial tuning: %w", err)
	}

	var poller stream.Poller
	if cfg.Hardware.StreamDevice != "" && !cfg.Hardware.Sim {
		if a.dmaRd, err = dma.Open(cfg.Hardware.StreamDevice, cfg.Hardware.StreamPollMs); err != nil {
			return a, err
		}
		poller = a.dmaRd
	} else {
		a.drainer = fifo.NewDrainer(a.fifoWin)
		poller = a.drainer
	}

	dst, err := cfg.Destination()
	if err != nil {
		return a, err
	}
	a.Stream = transport.NewStreamConfig(dst, cfg.Stream.Enabled)
	if a.UDP, err = transport.NewUDP(a.Stream); err != nil {
		return a, err
	}

	sinks := []stream.Sink{a.UDP}
	if cfg.Monitor.Addr != "" {
		a.Hub = monitor.NewHub(a.session, func() any { return a.Status() })
		sinks = append(sinks, a.Hub)
	}
	if cfg.Record.Dir != "" {
		a.Recorder = record.New(cfg.Record.Dir, a.session)
		sinks = append(sinks, a.Recorder)
	}

	a.Supervisor = stream.New(poller, a.Stream, stream.Options{
		Wrap:        uint16(cfg.Stream.SeqWrap),
		Idle:        cfg.PollIdle(),
		StopTimeout: cfg.StopTimeout(),
	}, sinks...)
	return a, nil
}

func openWindow(hw HardwareConfig, base int64) (regs.Window, error) {
	if hw.Access == "pread" {
		f, err := regs.OpenFile(hw.MemDevice, base, regs.WindowSize)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
	d, err := regs.Map(hw.MemDevice, base, regs.WindowSize)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Session returns the id stamped into recordings and monitor greetings.
func (a *App) Session() string { return a.session }

// Start launches the capture loop and, if configured, the monitor server.
// The monitor runs until Close or until the context given to OpenApp ends.
func (a *App) Start(ctx context.Context) error {
	if err := a.Supervisor.Start(ctx, a.Stream.Destination()); err != nil {
		return err
	}
	if a.Hub != nil {
		a.bg.Add(1)
		go func() {
			defer a.bg.Done()
			if err := monitor.Serve(a.bgCtx, a.cfg.Monitor.Addr, a.Hub); err != nil {
				slog.Error("app: monitor server failed", "error", err)
			}
		}()
	}
	return nil
}

// Restart redirects the stream to dst; see stream.Supervisor.Restart.
func (a *App) Restart(dst netip.AddrPort) error {
	err := a.Supervisor.Restart(dst)
	a.notify()
	return err
}

// ToggleStream flips UDP streaming and returns the new setting.
func (a *App) ToggleStream() bool {
	on := a.Stream.Toggle()
	a.notify()
	return on
}

// ToggleMute flips the speaker mute bit.
func (a *App) ToggleMute() (bool, error) {
	muted, err := a.Radio.ToggleMute()
	if err == nil {
		a.notify()
	}
	return muted, err
}

// SetFrequency tunes ch and tells monitor clients about it.
func (a *App) SetFrequency(ch radio.Channel, freq int64) (radio.Update, error) {
	up, err := a.Radio.SetFrequency(ch, freq)
	if err == nil {
		a.notify()
	}
	return up, err
}

// Step moves ch by delta Hz and tells monitor clients about it.
func (a *App) Step(ch radio.Channel, delta int64) (radio.Update, error) {
	up, err := a.Radio.Step(ch, delta)
	if err == nil {
		a.notify()
	}
	return up, err
}

// notify pushes the current status to monitor clients.
func (a *App) notify() {
	if a.Hub == nil {
		return
	}
	a.Hub.Broadcast(monitor.Update{Type: "status", Status: a.Status()})
}

// ToggleRecording starts a recording, or stops the current one and
// returns its summary.
func (a *App) ToggleRecording() (started bool, path string, sum record.Summary, err error) {
	if a.Recorder == nil {
		return false, "", sum, errors.New("recording is not configured")
	}
	if a.Recorder.Recording() {
		sum, err = a.Recorder.Stop()
		a.notify()
		return false, sum.Path, sum, err
	}
	path, err = a.Recorder.Start(a.recordingMeta())
	if err == nil {
		a.notify()
	}
	return err == nil, path, sum, err
}

func (a *App) recordingMeta() map[string]any {
	st := a.Radio.State()
	return map[string]any{
		"adc_hz":      st.ADCFreq,
		"tuner_hz":    st.TunerFreq,
		"adc_inc":     st.ADCInc,
		"tuner_inc":   st.TunerInc,
		"sample_rate": fifo.SampleRate,
		"destination": a.Stream.Destination().String(),
		"started":     time.Now().UTC().Format(time.RFC3339),
	}
}

// Status returns a snapshot of every component.
func (a *App) Status() Status {
	st := Status{
		Session: a.session,
		Tuning:  a.Radio.State(),
		Stream:  a.Supervisor.Stats(),
		UDP:     a.UDP.Stats(),
	}
	if a.drainer != nil {
		ds := a.drainer.Stats()
		st.FIFO = &ds
	}
	if a.dmaRd != nil {
		ds := a.dmaRd.Stats()
		st.DMA = &ds
	}
	if a.Recorder != nil {
		st.Recording = a.Recorder.Recording()
	}
	return st
}

// Shutdown is the exit path: zero both frequency registers, stop the
// capture loop and close any open recording.
func (a *App) Shutdown() error {
	var errs []error
	if err := a.Radio.Zero(); err != nil {
		errs = append(errs, fmt.Errorf("zero tuning: %w", err))
	}
	if err := a.Supervisor.Stop(); err != nil {
		errs = append(errs, err)
	}
	if a.Recorder != nil && a.Recorder.Recording() {
		if _, err := a.Recorder.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close releases every handle. Call Shutdown first when the pipeline was
// started.
func (a *App) Close() error {
	if a.bgCancel != nil {
		a.bgCancel()
	}
	if a.Hub != nil {
		a.Hub.Close()
	}
	a.bg.Wait()

	var errs []error
	if a.UDP != nil {
		errs = append(errs, a.UDP.Close())
	}
	if a.dmaRd != nil {
		errs = append(errs, a.dmaRd.Close())
	}
	if a.fifoWin != nil {
		errs = append(errs, a.fifoWin.Close())
	}
	if a.radioWin != nil {
		errs = append(errs, a.radioWin.Close())
	}
	return errors.Join(errs...)
}
