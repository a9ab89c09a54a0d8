// Package record captures the sample stream to Parquet files.
package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/segmentio/parquet-go"

	"github.com/sdrstream/pkg/frame"
)

var (
	ErrRecording    = errors.New("record: already recording")
	ErrNotRecording = errors.New("record: not recording")
)

// Sample is one row: a frame sequence number and one I/Q pair.
type Sample struct {
	Seq int32 `parquet:"seq"`
	I   int32 `parquet:"i"`
	Q   int32 `parquet:"q"`
}

// Summary describes a finished recording.
type Summary struct {
	Path     string
	Frames   int64
	Samples  int64
	Duration time.Duration
}

// Recorder is a stream sink that is idle until Start and writes every
// frame's samples until Stop.
type Recorder struct {
	dir     string
	session string

	mu      sync.Mutex
	file    *os.File
	writer  *parquet.GenericWriter[Sample]
	path    string
	frames  int64
	samples int64
	started time.Time
	rows    []Sample
}

// New returns a recorder writing files into dir, tagged with session.
func New(dir, session string) *Recorder {
	return &Recorder{
		dir:     dir,
		session: session,
		rows:    make([]Sample, frame.SamplesPerFrame),
	}
}

// Start opens a new file. meta is stored as JSON in the file's key/value
// metadata under "config".
func (r *Recorder) Start(meta any) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.writer != nil {
		return r.path, ErrRecording
	}
	configStr := "{}"
	if meta != nil {
		b, err := json.Marshal(meta)
		if err != nil {
			return "", fmt.Errorf("record: encode metadata: %w", err)
		}
		configStr = string(b)
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("record: %w", err)
	}

	now := time.Now()
	path := filepath.Join(r.dir, fmt.Sprintf("iq_%s.parquet", now.Format("20060102_150405.000")))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("record: %w", err)
	}

	r.file = f
	r.writer = parquet.NewGenericWriter[Sample](f,
		parquet.KeyValueMetadata("config", configStr),
		parquet.KeyValueMetadata("session", r.session),
		parquet.KeyValueMetadata("started", now.UTC().Format(time.RFC3339Nano)),
	)
	r.path = path
	r.frames, r.samples = 0, 0
	r.started = now

	slog.Info("record: started", "path", path)
	return path, nil
}

// WriteFrame appends f's samples when recording.
func (r *Recorder) WriteFrame(f *frame.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.writer == nil {
		return nil
	}

	rows := r.rows[:0]
	for _, w := range f.Samples {
		s := frame.Split(w)
		rows = append(rows, Sample{Seq: int32(f.Seq), I: int32(s.I), Q: int32(s.Q)})
	}
	if _, err := r.writer.Write(rows); err != nil {
		return fmt.Errorf("record: write: %w", err)
	}
	r.frames++
	r.samples += int64(len(rows))
	return nil
}

// Recording reports whether a file is open.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writer != nil
}

// Stop flushes and closes the current file.
func (r *Recorder) Stop() (Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.writer == nil {
		return Summary{}, ErrNotRecording
	}

	sum := Summary{
		Path:     r.path,
		Frames:   r.frames,
		Samples:  r.samples,
		Duration: time.Since(r.started),
	}

	err := r.writer.Close()
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	r.writer, r.file = nil, nil

	if err != nil {
		return sum, fmt.Errorf("record: close %s: %w", sum.Path, err)
	}
	slog.Info("record: stopped", "path", sum.Path, "frames", sum.Frames, "samples", sum.Samples)
	return sum, nil
}
