// Package stream runs the capture loop: poll the FIFO, frame each full
// batch, and hand the frame to every sink.
//
// The loop owns the sequence counter. Changing the destination never
// restarts it, so no frame is lost or repeated across the change.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sdrstream/pkg/frame"
	"github.com/sdrstream/pkg/transport"
)

var (
	ErrRunning     = errors.New("stream: capture loop already running")
	ErrStopTimeout = errors.New("stream: capture loop did not stop in time")
)

// Poller is one FIFO poll cycle. A nil batch with a nil error means the
// FIFO did not hold a full batch.
type Poller interface {
	Poll() ([]uint32, error)
}

// Sink consumes built frames. Errors are logged and the loop continues.
type Sink interface {
	WriteFrame(f *frame.Frame) error
}

// Options tune the capture loop.
type Options struct {
	// Wrap is the sequence bound, see frame.NewSequencer.
	Wrap uint16
	// Idle is how long to wait after a poll that yielded nothing. Zero
	// yields the processor and polls again, which keeps one core busy.
	Idle time.Duration
	// StopTimeout bounds how long Stop waits for the loop to exit.
	StopTimeout time.Duration
}

// Supervisor owns the capture goroutine.
type Supervisor struct {
	poller Poller
	cfg    *transport.StreamConfig
	sinks  []Sink
	opts   Options
	seq    *frame.Sequencer

	mu     sync.Mutex
	parent context.Context
	cancel context.CancelFunc
	done   chan struct{}

	frames    atomic.Uint64
	pollErrs  atomic.Uint64
	sinkErrs  atomic.Uint64
	lastSeq   atomic.Uint32
	restarts  atomic.Uint64
	startedAt atomic.Int64
}

// Stats is a snapshot of loop counters.
type Stats struct {
	Running     bool          `json:"running"`
	Frames      uint64        `json:"frames"`
	LastSeq     uint16        `json:"last_seq"`
	PollErrors  uint64        `json:"poll_errors"`
	SinkErrors  uint64        `json:"sink_errors"`
	Restarts    uint64        `json:"restarts"`
	Destination string        `json:"destination"`
	Enabled     bool          `json:"enabled"`
	Uptime      time.Duration `json:"uptime"`
}

func New(p Poller, cfg *transport.StreamConfig, opts Options, sinks ...Sink) *Supervisor {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 3 * time.Second
	}
	return &Supervisor{
		poller: p,
		cfg:    cfg,
		sinks:  sinks,
		opts:   opts,
		seq:    frame.NewSequencer(opts.Wrap),
	}
}

// Start launches the capture loop sending to dst. It returns immediately.
func (s *Supervisor) Start(ctx context.Context, dst netip.AddrPort) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.alive() {
		return ErrRunning
	}
	s.cfg.SetDestination(dst)
	s.launch(ctx)

	slog.Info("stream: capture loop started",
		"destination", dst.String(),
		"enabled", s.cfg.Enabled(),
	)
	return nil
}

// alive reports whether a loop goroutine has not yet exited, including
// one that was cancelled but is still finishing a poll. Caller holds s.mu.
func (s *Supervisor) alive() bool {
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// launch starts the goroutine. Caller holds s.mu.
func (s *Supervisor) launch(ctx context.Context) {
	s.parent = ctx
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.startedAt.Store(time.Now().UnixNano())

	go s.run(loopCtx, done)
}

// Restart redirects the stream to dst. A running loop keeps its sequence
// counter and any queued samples; only the next datagram's destination
// changes. A stopped loop is started. While a stopped loop is still
// finishing its last poll the destination is updated but no second loop
// is launched, and ErrRunning is returned.
func (s *Supervisor) Restart(dst netip.AddrPort) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.cfg.Destination()
	s.cfg.SetDestination(dst)
	s.restarts.Add(1)

	running := s.alive()
	if running && s.cancel == nil {
		slog.Warn("stream: destination changed while capture loop is stopping",
			"from", old.String(),
			"to", dst.String(),
		)
		return ErrRunning
	}
	if !running {
		ctx := s.parent
		if ctx == nil || ctx.Err() != nil {
			ctx = context.Background()
		}
		s.cancel = nil
		s.launch(ctx)
	}

	slog.Info("stream: destination changed",
		"from", old.String(),
		"to", dst.String(),
		"relaunched", !running,
	)
	return nil
}

// Stop signals the loop to exit at its next poll boundary and waits for
// it. Stopping a stopped supervisor is a no-op. On timeout the loop is
// still tracked: Running stays true and Start refuses until it exits, and
// a later Stop waits for it again.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}

	select {
	case <-s.done:
		slog.Info("stream: capture loop stopped",
			"frames", s.frames.Load(),
			"uptime", time.Since(time.Unix(0, s.startedAt.Load())).Round(time.Millisecond),
		)
		s.done = nil
		return nil
	case <-time.After(s.opts.StopTimeout):
		slog.Warn("stream: stop timeout exceeded", "timeout", s.opts.StopTimeout)
		return fmt.Errorf("%w (%s)", ErrStopTimeout, s.opts.StopTimeout)
	}
}

// Running reports whether the capture goroutine is alive.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive()
}

func (s *Supervisor) Stats() Stats {
	st := Stats{
		Running:     s.Running(),
		Frames:      s.frames.Load(),
		LastSeq:     uint16(s.lastSeq.Load()),
		PollErrors:  s.pollErrs.Load(),
		SinkErrors:  s.sinkErrs.Load(),
		Restarts:    s.restarts.Load(),
		Destination: s.cfg.Destination().String(),
		Enabled:     s.cfg.Enabled(),
	}
	if st.Running {
		st.Uptime = time.Since(time.Unix(0, s.startedAt.Load()))
	}
	return st
}

func (s *Supervisor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	limiter := newLogLimiter(time.Second)
	for {
		if ctx.Err() != nil {
			return
		}

		batch, err := s.poller.Poll()
		if err != nil {
			s.pollErrs.Add(1)
			if limiter.allow("poll") {
				slog.Warn("stream: poll failed", "error", err, "total", s.pollErrs.Load())
			}
			s.idle(ctx)
			continue
		}
		if batch == nil {
			s.idle(ctx)
			continue
		}

		seq := s.seq.Next()
		data, err := frame.Build(seq, batch)
		if err != nil {
			// A poller handing back a short batch is a bug; drop it.
			s.pollErrs.Add(1)
			slog.Error("stream: dropping malformed batch", "error", err)
			continue
		}

		f := &frame.Frame{Seq: seq, Data: data, Samples: batch, Time: time.Now()}
		for _, sink := range s.sinks {
			if err := sink.WriteFrame(f); err != nil {
				s.sinkErrs.Add(1)
				if limiter.allow("sink") {
					slog.Warn("stream: sink write failed", "seq", seq, "error", err, "total", s.sinkErrs.Load())
				}
			}
		}
		s.frames.Add(1)
		s.lastSeq.Store(uint32(seq))
	}
}

func (s *Supervisor) idle(ctx context.Context) {
	if s.opts.Idle <= 0 {
		runtime.Gosched()
		return
	}
	t := time.NewTimer(s.opts.Idle)
	select {
	case <-ctx.Done():
		t.Stop()
	case <-t.C:
	}
}

// logLimiter keeps a failing sink from flooding the log at frame rate.
type logLimiter struct {
	every time.Duration
	last  map[string]time.Time
}

func newLogLimiter(every time.Duration) *logLimiter {
	return &logLimiter{every: every, last: make(map[string]time.Time)}
}

func (l *logLimiter) allow(key string) bool {
	now := time.Now()
	if now.Sub(l.last[key]) < l.every {
		return false
	}
	l.last[key] = now
	return true
}
