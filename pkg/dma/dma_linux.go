//go:build linux

package dma

import (
	"fmt"
	"io"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Reader polls a streaming device without blocking the capture loop for
// longer than its poll timeout.
type Reader struct {
	fd        int
	path      string
	timeoutMS int
	pending   []byte
	buf       []byte

	bytes   atomic.Uint64
	batches atomic.Uint64
}

// Open opens path for non-blocking reads. timeoutMS bounds each wait for
// data inside Poll.
func Open(path string, timeoutMS int) (*Reader, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("could not open device %s: %w", path, err)
	}

	// Increase pipe buffer size to maximum (1MB on Linux) for better throughput
	const maxPipeSize = 1024 * 1024
	_, _ = unix.FcntlInt(uintptr(fd), unix.F_SETPIPE_SZ, maxPipeSize)

	if timeoutMS <= 0 {
		timeoutMS = 50
	}
	return &Reader{
		fd:        fd,
		path:      path,
		timeoutMS: timeoutMS,
		pending:   make([]byte, 0, 4*batchBytes),
		buf:       make([]byte, 64*1024),
	}, nil
}

// Poll returns the next full batch, or nil when fewer than 256 words have
// arrived. It returns io.EOF once the writer side has gone away and no
// full batch remains.
func (r *Reader) Poll() ([]uint32, error) {
	if r.fd < 0 {
		return nil, ErrClosed
	}
	if len(r.pending) >= batchBytes {
		return r.take(), nil
	}

	fds := []unix.PollFd{{Fd: int32(r.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, r.timeoutMS)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("poll %s: %w", r.path, err)
	}
	if n == 0 {
		return nil, nil
	}

	m, err := unix.Read(r.fd, r.buf)
	if err != nil {
		if err == unix.EINTR || err == unix.EAGAIN {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s after %d bytes: %w", r.path, r.bytes.Load(), err)
	}
	if m == 0 {
		return nil, fmt.Errorf("read %s: %w", r.path, io.EOF)
	}
	r.bytes.Add(uint64(m))
	r.pending = append(r.pending, r.buf[:m]...)

	if len(r.pending) >= batchBytes {
		return r.take(), nil
	}
	return nil, nil
}

func (r *Reader) take() []uint32 {
	batch, rest := cut(r.pending)
	r.pending = rest
	r.batches.Add(1)
	return batch
}

func (r *Reader) Stats() Stats {
	return Stats{BytesRead: r.bytes.Load(), Batches: r.batches.Load()}
}

func (r *Reader) Close() error {
	if r.fd < 0 {
		return nil
	}
	err := unix.Close(r.fd)
	r.fd = -1
	return err
}
