//go:build linux

package regs

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Device is a register window mapped from a memory device (normally
// /dev/mem) with mmap.
type Device struct {
	mu   sync.Mutex
	fd   int
	data []byte
	base int64
	size uint32
}

// Map opens path and maps size bytes at physical address base.
func Map(path string, base int64, size int) (*Device, error) {
	if size <= 0 || size%4 != 0 {
		return nil, &MapError{Path: path, Base: base, Err: fmt.Errorf("bad window size %d", size)}
	}
	if base%int64(os.Getpagesize()) != 0 {
		return nil, &MapError{Path: path, Base: base, Err: fmt.Errorf("base not page aligned")}
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_SYNC, 0)
	if err != nil {
		return nil, &MapError{Path: path, Base: base, Err: err}
	}

	data, err := unix.Mmap(fd, base, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, &MapError{Path: path, Base: base, Err: fmt.Errorf("mmap: %w", err)}
	}

	return &Device{
		fd:   fd,
		data: data,
		base: base,
		size: uint32(size),
	}, nil
}

// word returns the mapped register at off. Caller holds d.mu.
func (d *Device) word(off uint32) *uint32 {
	return (*uint32)(unsafe.Pointer(&d.data[off]))
}

func (d *Device) Read32(off uint32) (uint32, error) {
	if err := checkOffset(off, d.size); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.data == nil {
		return 0, ErrClosed
	}
	return atomic.LoadUint32(d.word(off)), nil
}

func (d *Device) Write32(off, val uint32) error {
	if err := checkOffset(off, d.size); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.data == nil {
		return ErrClosed
	}
	atomic.StoreUint32(d.word(off), val)
	return nil
}

func (d *Device) Size() uint32 { return d.size }

// Close unmaps the window. Further accesses return ErrClosed.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.data == nil {
		return nil
	}
	err := unix.Munmap(d.data)
	d.data = nil
	unix.Close(d.fd)
	return err
}

// File is a register window reached through positioned reads and writes
// on a device node (UIO, XDMA user BAR). Registers are little-endian.
type File struct {
	mu   sync.Mutex
	fd   int
	base int64
	size uint32
}

// OpenFile opens a register window served by pread/pwrite at base.
func OpenFile(path string, base int64, size int) (*File, error) {
	if size <= 0 || size%4 != 0 {
		return nil, &MapError{Path: path, Base: base, Err: fmt.Errorf("bad window size %d", size)}
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_SYNC, 0)
	if err != nil {
		return nil, &MapError{Path: path, Base: base, Err: err}
	}
	return &File{fd: fd, base: base, size: uint32(size)}, nil
}

func (f *File) Read32(off uint32) (uint32, error) {
	if err := checkOffset(off, f.size); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fd < 0 {
		return 0, ErrClosed
	}

	var buf [4]byte
	n, err := unix.Pread(f.fd, buf[:], f.base+int64(off))
	if err != nil {
		return 0, fmt.Errorf("regs: read %#x: %w", off, err)
	}
	if n != len(buf) {
		return 0, fmt.Errorf("regs: short read at %#x: %d bytes", off, n)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (f *File) Write32(off, val uint32) error {
	if err := checkOffset(off, f.size); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fd < 0 {
		return ErrClosed
	}

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], val)
	n, err := unix.Pwrite(f.fd, buf[:], f.base+int64(off))
	if err != nil {
		return fmt.Errorf("regs: write %#x: %w", off, err)
	}
	if n != len(buf) {
		return fmt.Errorf("regs: short write at %#x: %d bytes", off, n)
	}
	return nil
}

func (f *File) Size() uint32 { return f.size }

func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fd < 0 {
		return nil
	}
	err := unix.Close(f.fd)
	f.fd = -1
	return err
}
