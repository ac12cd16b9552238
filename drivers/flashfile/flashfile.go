// Package flashfile models the A/B flash partition pair as two files
// plus a boot marker. Only the inactive slot is ever written, mirroring
// the hardware contract.
package flashfile

import (
	"errors"
	"os"
	"path/filepath"

	"canflow-go/types"
)

const (
	slotA      = "slot_a.bin"
	slotB      = "slot_b.bin"
	bootMarker = "boot_slot"
)

type Flash struct {
	dir     string
	size    int64 // per-slot capacity
	running string
}

// New opens (or creates) the pair under dir. size is the per-slot
// capacity. The boot marker selects the running slot, defaulting to A.
func New(dir string, size int64) (*Flash, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f := &Flash{dir: dir, size: size, running: slotA}
	if m, err := os.ReadFile(filepath.Join(dir, bootMarker)); err == nil && string(m) == slotB {
		f.running = slotB
	}
	return f, nil
}

func (f *Flash) inactive() string {
	if f.running == slotA {
		return slotB
	}
	return slotA
}

// Running reports the running slot's file name (diagnostics).
func (f *Flash) Running() string { return f.running }

func (f *Flash) RunningSize() int64 {
	fi, err := os.Stat(filepath.Join(f.dir, f.running))
	if err != nil {
		return 0
	}
	return fi.Size()
}

func (f *Flash) InactiveSize() int64 { return f.size }

func (f *Flash) ReadRunning(off int64, p []byte) (int, error) {
	file, err := os.Open(filepath.Join(f.dir, f.running))
	if err != nil {
		return 0, err
	}
	defer file.Close()
	n, err := file.ReadAt(p, off)
	if n > 0 {
		return n, nil // short reads at image end are fine
	}
	return n, err
}

// writer is one write session on the inactive slot.
type writer struct {
	file    *os.File
	limit   int64
	written int64
	done    bool
}

var errSlotFull = errors.New("flashfile: slot capacity exceeded")

func (f *Flash) OpenInactive() (types.PartitionWriter, error) {
	file, err := os.Create(filepath.Join(f.dir, f.inactive()))
	if err != nil {
		return nil, err
	}
	return &writer{file: file, limit: f.size}, nil
}

func (w *writer) Write(p []byte) (int, error) {
	if w.done {
		return 0, os.ErrClosed
	}
	if w.written+int64(len(p)) > w.limit {
		return 0, errSlotFull
	}
	n, err := w.file.Write(p)
	w.written += int64(n)
	return n, err
}

func (w *writer) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

func (w *writer) Abort() {
	if w.done {
		return
	}
	w.done = true
	w.file.Close()
}

// MarkBootable points the boot marker at the inactive slot. The swap
// takes effect on restart, when New reads the marker back.
func (f *Flash) MarkBootable() error {
	return os.WriteFile(filepath.Join(f.dir, bootMarker), []byte(f.inactive()), 0o644)
}
