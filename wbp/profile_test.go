package wbp

import (
	"testing"

	"canflow-go/errcode"
	"canflow-go/types"
)

func testCaps() []types.CapabilityMeta {
	return []types.CapabilityMeta{
		{
			ID: "log", Label: "Log message", Description: "Write a log line",
			Category: "diagnostics",
			Params: []types.CapabilityParamMeta{
				{Name: "message", Type: "string", Required: true, Description: "text"},
			},
		},
		{
			ID: "relay_set", Label: "Set relay", Description: "Drive a relay",
			Category: "outputs",
			Params: []types.CapabilityParamMeta{
				{Name: "channel", Type: "int", Required: true, Min: 0, Max: 7},
				{Name: "state", Type: "bool", Required: true},
			},
		},
	}
}

func TestSerializeProfile(t *testing.T) {
	var buf [2048]byte
	info := ProfileInfo{
		ModuleID: "CANFLOW-AB12CD", HWVersion: "1.0", FWVersion: "0.3.0",
		Serial: "CF-42", UptimeMS: 123456, BootCount: 7,
		RulesMode: 2, RulesCRC: 0xCAFEBABE,
		SignalCount: 2, ConditionCount: 3, ActionCount: 2, RuleCount: 2,
	}

	n, err := SerializeProfile(buf[:], info, testCaps())
	if err != nil {
		t.Fatalf("SerializeProfile: %v", err)
	}
	b := buf[:n]

	if le.Uint32(b[0:]) != MagicProfile {
		t.Fatalf("magic: %08x", le.Uint32(b[0:]))
	}
	if b[4] != Version {
		t.Fatalf("version: %d", b[4])
	}
	if b[5] != 0x01 {
		t.Fatalf("flags should mark active rules: %02x", b[5])
	}
	if b[14] != 2 {
		t.Fatalf("capability count: %d", b[14])
	}
	if b[15] != 2 {
		t.Fatalf("rules mode: %d", b[15])
	}
	if le.Uint32(b[16:]) != 0xCAFEBABE {
		t.Fatalf("rules crc: %08x", le.Uint32(b[16:]))
	}
	if le.Uint32(b[24:]) != 123456 || le.Uint16(b[28:]) != 7 {
		t.Fatal("uptime/boot count mismatch")
	}

	tableOff := le.Uint16(b[30:])
	if int(tableOff) != profileHeaderSize+2*capabilitySize+3*capParamSize {
		t.Fatalf("string table offset: %d", tableOff)
	}
	table := b[tableOff:]

	// First capability record points at its id in the table.
	idOff := le.Uint16(b[profileHeaderSize:])
	if s, ok := ReadString(table, idOff); !ok || s != "log" {
		t.Fatalf("cap 0 id: %q", s)
	}

	// Second capability: param records carry the declared bounds.
	cap1 := b[profileHeaderSize+capabilitySize:]
	if cap1[8] != 2 || cap1[9] != 1 {
		t.Fatalf("cap 1 param slice: count=%d start=%d", cap1[8], cap1[9])
	}
	param1 := b[profileHeaderSize+2*capabilitySize+1*capParamSize:]
	if int16(le.Uint16(param1[8:])) != 0 || int16(le.Uint16(param1[10:])) != 7 {
		t.Fatal("cap 1 param bounds mismatch")
	}
}

func TestSerializeProfileInternsStrings(t *testing.T) {
	var big, dedup [2048]byte
	info := ProfileInfo{ModuleID: "m", HWVersion: "m", FWVersion: "m", Serial: "m"}

	n1, err := SerializeProfile(big[:], ProfileInfo{
		ModuleID: "a", HWVersion: "b", FWVersion: "c", Serial: "d",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	n2, err := SerializeProfile(dedup[:], info, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n2 >= n1 {
		t.Fatalf("interning saved nothing: %d vs %d", n2, n1)
	}
}

func TestSerializeProfileTooLarge(t *testing.T) {
	var tiny [16]byte
	_, err := SerializeProfile(tiny[:], ProfileInfo{ModuleID: "m"}, nil)
	if errcode.Of(err) != errcode.ProfileTooLarge {
		t.Fatalf("got %v, want ProfileTooLarge", err)
	}
}
