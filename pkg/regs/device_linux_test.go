//go:build linux

package regs

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func backingFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mem")
	if err := os.WriteFile(path, make([]byte, 2*WindowSize), 0o644); err != nil {
		t.Fatalf("create backing file: %v", err)
	}
	return path
}

func TestDeviceMapReadWrite(t *testing.T) {
	path := backingFile(t)

	d, err := Map(path, WindowSize, WindowSize)
	if err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	defer d.Close()

	if err := d.Write32(Ctrl, CtrlMute); err != nil {
		t.Fatalf("Write32 failed: %v", err)
	}
	if v, err := d.Read32(Ctrl); err != nil || v != CtrlMute {
		t.Fatalf("Read32(ctrl) = %#x, %v", v, err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := binary.LittleEndian.Uint32(raw[WindowSize+int(Ctrl):]); got != CtrlMute {
		t.Errorf("backing store ctrl = %#x, want %#x", got, CtrlMute)
	}
	if _, err := d.Read32(Ctrl); !errors.Is(err, ErrClosed) {
		t.Errorf("Read32 after Close = %v, want ErrClosed", err)
	}
}

func TestMapFailures(t *testing.T) {
	var me *MapError

	_, err := Map(filepath.Join(t.TempDir(), "missing"), 0, WindowSize)
	if !errors.As(err, &me) {
		t.Fatalf("Map(missing) error = %v, want *MapError", err)
	}

	_, err = Map(backingFile(t), 0x10, WindowSize)
	if !errors.As(err, &me) {
		t.Fatalf("Map(unaligned) error = %v, want *MapError", err)
	}
}

func TestFileWindow(t *testing.T) {
	path := backingFile(t)

	f, err := OpenFile(path, WindowSize, WindowSize)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	defer f.Close()

	if err := f.Write32(Tuner, 1073741); err != nil {
		t.Fatalf("Write32 failed: %v", err)
	}
	v, err := f.Read32(Tuner)
	if err != nil {
		t.Fatalf("Read32 failed: %v", err)
	}
	if v != 1073741 {
		t.Errorf("Read32(tuner) = %d, want 1073741", v)
	}
	if _, err := f.Read32(3); !errors.Is(err, ErrOffset) {
		t.Errorf("unaligned read error = %v, want ErrOffset", err)
	}
}
