package conv

import "testing"

func TestItoa(t *testing.T) {
	cases := []struct {
		n    int64
		want string
	}{
		{0, "0"},
		{7, "7"},
		{-1, "-1"},
		{1234567, "1234567"},
		{-9223372036854775808, "-9223372036854775808"},
	}
	var buf [20]byte
	for _, tc := range cases {
		if got := string(Itoa(buf[:], tc.n)); got != tc.want {
			t.Errorf("Itoa(%d) = %q, want %q", tc.n, got, tc.want)
		}
	}
}

func TestU32Hex(t *testing.T) {
	var buf [8]byte
	if got := string(U32Hex(buf[:], 0xDEADBEEF)); got != "DEADBEEF" {
		t.Errorf("got %q", got)
	}
	if got := string(U32Hex(buf[:], 0x1A)); got != "0000001A" {
		t.Errorf("zero padding: %q", got)
	}
}

func TestFtoa(t *testing.T) {
	cases := []struct {
		v    float32
		prec int
		want string
	}{
		{0, 2, "0.00"},
		{42, 2, "42.00"},
		{12.5, 4, "12.5000"},
		{-3.25, 2, "-3.25"},
		{0.06, 1, "0.1"},
		{1.0, 0, "1"},
		{99.999, 2, "100.00"},
	}
	var buf [24]byte
	for _, tc := range cases {
		if got := string(Ftoa(buf[:], tc.v, tc.prec)); got != tc.want {
			t.Errorf("Ftoa(%v, %d) = %q, want %q", tc.v, tc.prec, got, tc.want)
		}
	}
}

func TestParseDecU32(t *testing.T) {
	cases := []struct {
		s    string
		want uint32
		ok   bool
	}{
		{"0", 0, true},
		{"4660", 4660, true},
		{"4294967295", 4294967295, true},
		{"4294967296", 0, false},
		{"", 0, false},
		{"12x", 0, false},
		{"-1", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseDecU32(tc.s)
		if got != tc.want || ok != tc.ok {
			t.Errorf("ParseDecU32(%q) = %d,%v; want %d,%v", tc.s, got, ok, tc.want, tc.ok)
		}
	}
}

func TestParseHexU32(t *testing.T) {
	cases := []struct {
		s    string
		want uint32
		ok   bool
	}{
		{"deadbeef", 0xDEADBEEF, true},
		{"DEADBEEF", 0xDEADBEEF, true},
		{"0", 0, true},
		{"fffffffff", 0, false}, // 9 digits
		{"", 0, false},
		{"xyz", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseHexU32(tc.s)
		if got != tc.want || ok != tc.ok {
			t.Errorf("ParseHexU32(%q) = %x,%v; want %x,%v", tc.s, got, ok, tc.want, tc.ok)
		}
	}
}

func TestParseF32(t *testing.T) {
	cases := []struct {
		s    string
		want float32
		ok   bool
	}{
		{"0", 0, true},
		{"7", 7, true},
		{"-12.5", -12.5, true},
		{"0.25", 0.25, true},
		{"+3.5", 3.5, true},
		{".", 0, false},
		{"", 0, false},
		{"1e3", 0, false},
		{"12.3.4", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseF32(tc.s)
		if ok != tc.ok || (ok && got != tc.want) {
			t.Errorf("ParseF32(%q) = %v,%v; want %v,%v", tc.s, got, ok, tc.want, tc.ok)
		}
	}
}
