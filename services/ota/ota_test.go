package ota

import (
	"bytes"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"canflow-go/errcode"
	"canflow-go/types"
	"canflow-go/wbp"
)

// fakeFlash is an in-memory partition pair.
type fakeFlash struct {
	running  []byte
	slotSize int64

	writer   *fakeWriter
	bootable bool

	failOpen  bool
	failMark  bool
	failWrite bool
}

type fakeWriter struct {
	flash   *fakeFlash
	buf     []byte
	closed  bool
	aborted bool
}

func newFakeFlash(running []byte, slotSize int64) *fakeFlash {
	return &fakeFlash{running: running, slotSize: slotSize}
}

func (f *fakeFlash) RunningSize() int64  { return int64(len(f.running)) }
func (f *fakeFlash) InactiveSize() int64 { return f.slotSize }

func (f *fakeFlash) ReadRunning(off int64, p []byte) (int, error) {
	if off >= int64(len(f.running)) {
		return 0, errors.New("read past image")
	}
	return copy(p, f.running[off:]), nil
}

func (f *fakeFlash) OpenInactive() (types.PartitionWriter, error) {
	if f.failOpen {
		return nil, errors.New("open failed")
	}
	f.writer = &fakeWriter{flash: f}
	f.bootable = false
	return f.writer, nil
}

func (f *fakeFlash) MarkBootable() error {
	if f.failMark {
		return errors.New("mark failed")
	}
	f.bootable = true
	return nil
}

func (w *fakeWriter) Write(p []byte) (int, error) {
	if w.flash.failWrite {
		return 0, errors.New("write failed")
	}
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func (w *fakeWriter) Abort() { w.aborted = true }

func newTestService(flash *fakeFlash) *Service {
	s := New(flash, zerolog.Nop(), nil)
	if err := s.Begin(); err != nil {
		panic(err)
	}
	return s
}

func image(n int) []byte {
	img := make([]byte, n)
	for i := range img {
		img[i] = byte(i * 31)
	}
	return img
}

func TestFullUpdateSuccess(t *testing.T) {
	img := image(3000)
	flash := newFakeFlash(nil, 1<<20)
	s := newTestService(flash)

	if err := s.StartFull(uint32(len(img)), wbp.CRC32(img)); err != nil {
		t.Fatalf("StartFull: %v", err)
	}
	if s.Status() != StatusReceiving {
		t.Fatalf("status %v", s.Status())
	}

	for off := 0; off < len(img); off += 512 {
		end := off + 512
		if end > len(img) {
			end = len(img)
		}
		if err := s.WriteChunk(img[off:end]); err != nil {
			t.Fatalf("WriteChunk: %v", err)
		}
	}

	if err := s.FinalizeFull(); err != nil {
		t.Fatalf("FinalizeFull: %v", err)
	}
	if s.Status() != StatusSuccess {
		t.Fatalf("status %v, want success", s.Status())
	}
	if !bytes.Equal(flash.writer.buf, img) {
		t.Fatal("partition content mismatch")
	}
	if !flash.writer.closed || !flash.bootable {
		t.Fatalf("closed=%v bootable=%v", flash.writer.closed, flash.bootable)
	}
}

func TestFullUpdateShortByte(t *testing.T) {
	img := image(1000)
	s := newTestService(newFakeFlash(nil, 1<<20))

	if err := s.StartFull(uint32(len(img)), wbp.CRC32(img)); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteChunk(img[:len(img)-1]); err != nil {
		t.Fatal(err)
	}
	if err := s.FinalizeFull(); errcode.Of(err) != errcode.OTASpace {
		t.Fatalf("got %v, want OTASpace", err)
	}
	if s.Status() != StatusErrSpace {
		t.Fatalf("status %v", s.Status())
	}
}

func TestFullUpdateWrongCrc(t *testing.T) {
	img := image(1000)
	s := newTestService(newFakeFlash(nil, 1<<20))

	if err := s.StartFull(uint32(len(img)), wbp.CRC32(img)^1); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteChunk(img); err != nil {
		t.Fatal(err)
	}
	if err := s.FinalizeFull(); errcode.Of(err) != errcode.OTACrc {
		t.Fatalf("got %v, want OTACrc", err)
	}
	if s.Status() != StatusErrCrc {
		t.Fatalf("status %v", s.Status())
	}
}

func TestFullUpdateOverflow(t *testing.T) {
	img := image(100)
	flash := newFakeFlash(nil, 1<<20)
	s := newTestService(flash)

	if err := s.StartFull(50, 0); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteChunk(img); errcode.Of(err) != errcode.OTASpace {
		t.Fatalf("got %v, want OTASpace", err)
	}
	if !flash.writer.aborted {
		t.Fatal("partition handle not released on overflow")
	}
}

func TestStartRejectsOversizedImage(t *testing.T) {
	s := newTestService(newFakeFlash(nil, 1024))
	if err := s.StartFull(2048, 0); errcode.Of(err) != errcode.OTASpace {
		t.Fatalf("got %v, want OTASpace", err)
	}
}

func TestSingleSessionOnly(t *testing.T) {
	s := newTestService(newFakeFlash(nil, 1<<20))
	if err := s.StartFull(100, 0); err != nil {
		t.Fatal(err)
	}
	if err := s.StartFull(100, 0); errcode.Of(err) != errcode.OTABusy {
		t.Fatalf("second start: got %v, want OTABusy", err)
	}
	if err := s.StartDelta(100, 0); errcode.Of(err) != errcode.OTABusy {
		t.Fatalf("delta during full: got %v, want OTABusy", err)
	}
}

func TestAbortReturnsToIdle(t *testing.T) {
	flash := newFakeFlash(nil, 1<<20)
	s := newTestService(flash)

	if err := s.StartFull(100, 0); err != nil {
		t.Fatal(err)
	}
	_ = s.WriteChunk(image(50))
	s.Abort()

	if s.Status() != StatusIdle {
		t.Fatalf("status %v after abort", s.Status())
	}
	if !flash.writer.aborted {
		t.Fatal("partition handle not released")
	}
	// A new session starts cleanly.
	if err := s.StartFull(10, 0); err != nil {
		t.Fatalf("restart after abort: %v", err)
	}
}

func TestFlashWriteFailure(t *testing.T) {
	flash := newFakeFlash(nil, 1<<20)
	flash.failWrite = true
	s := newTestService(flash)

	if err := s.StartFull(100, 0); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteChunk(image(10)); errcode.Of(err) != errcode.OTAFlash {
		t.Fatalf("got %v, want OTAFlash", err)
	}
	if s.Status() != StatusErrFlash {
		t.Fatalf("status %v", s.Status())
	}
}

func TestCompleteCallback(t *testing.T) {
	img := image(200)
	s := newTestService(newFakeFlash(nil, 1<<20))

	var seen []Status
	s.OnComplete(func(st Status) { seen = append(seen, st) })

	if err := s.StartFull(uint32(len(img)), wbp.CRC32(img)); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteChunk(img); err != nil {
		t.Fatal(err)
	}
	if err := s.FinalizeFull(); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 1 || seen[0] != StatusSuccess {
		t.Fatalf("complete callbacks: %v", seen)
	}
}
