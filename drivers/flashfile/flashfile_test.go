package flashfile

import (
	"bytes"
	"testing"
)

func TestWriteThenSwap(t *testing.T) {
	dir := t.TempDir()
	f, err := New(dir, 1<<16)
	if err != nil {
		t.Fatal(err)
	}
	if f.Running() != slotA {
		t.Fatalf("fresh pair runs %s", f.Running())
	}

	img := []byte("firmware image v2")
	w, err := f.OpenInactive()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(img); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.MarkBootable(); err != nil {
		t.Fatal(err)
	}

	// "Reboot": reopening the pair runs the other slot.
	f2, err := New(dir, 1<<16)
	if err != nil {
		t.Fatal(err)
	}
	if f2.Running() != slotB {
		t.Fatalf("after swap runs %s", f2.Running())
	}
	if f2.RunningSize() != int64(len(img)) {
		t.Fatalf("running size %d", f2.RunningSize())
	}

	buf := make([]byte, len(img))
	if _, err := f2.ReadRunning(0, buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, img) {
		t.Fatal("running image content mismatch")
	}
}

func TestWriterEnforcesCapacity(t *testing.T) {
	f, err := New(t.TempDir(), 8)
	if err != nil {
		t.Fatal(err)
	}
	w, err := f.OpenInactive()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(make([]byte, 16)); err == nil {
		t.Fatal("write past slot capacity accepted")
	}
	w.Abort()
}

func TestAbortLeavesMarkerAlone(t *testing.T) {
	dir := t.TempDir()
	f, err := New(dir, 1<<16)
	if err != nil {
		t.Fatal(err)
	}
	w, err := f.OpenInactive()
	if err != nil {
		t.Fatal(err)
	}
	_, _ = w.Write([]byte("partial"))
	w.Abort()

	f2, err := New(dir, 1<<16)
	if err != nil {
		t.Fatal(err)
	}
	if f2.Running() != slotA {
		t.Fatal("aborted session changed the boot slot")
	}
}
