package kvfile

import (
	"bytes"
	"testing"
)

func TestBlobRoundTrip(t *testing.T) {
	s := New(t.TempDir())
	if err := s.Begin(); err != nil {
		t.Fatal(err)
	}

	blob := []byte{0xC0, 0xDE, 0x57, 0x02, 0x00}
	if err := s.WriteBlob("rules_bin", blob); err != nil {
		t.Fatal(err)
	}

	if n := s.ReadBlob("rules_bin", nil); n != len(blob) {
		t.Fatalf("size probe %d", n)
	}
	buf := make([]byte, len(blob))
	if n := s.ReadBlob("rules_bin", buf); n != len(blob) || !bytes.Equal(buf, blob) {
		t.Fatalf("read %d bytes: %x", n, buf)
	}
}

func TestStringsAndErase(t *testing.T) {
	s := New(t.TempDir())
	if err := s.Begin(); err != nil {
		t.Fatal(err)
	}

	if got := s.ReadString("boot_count"); got != "" {
		t.Fatalf("missing key read %q", got)
	}
	if err := s.WriteString("boot_count", "7"); err != nil {
		t.Fatal(err)
	}
	if got := s.ReadString("boot_count"); got != "7" {
		t.Fatalf("read %q", got)
	}

	if err := s.Erase("boot_count"); err != nil {
		t.Fatal(err)
	}
	if s.ReadBlob("boot_count", nil) != 0 {
		t.Fatal("erase left data behind")
	}
	// Erasing a missing key is not an error.
	if err := s.Erase("boot_count"); err != nil {
		t.Fatal(err)
	}
}
