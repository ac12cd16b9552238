package wbp

import (
	"testing"

	"canflow-go/errcode"
)

// testContainer builds a small but fully featured container: two
// signals, three conditions, two actions with mixed params, two rules.
func testContainer(t *testing.T) []byte {
	t.Helper()
	data, err := BuildRules(
		[]SignalDef{
			{CanID: 0x123, StartBit: 0, BitLength: 16, Factor: 1, Offset: 0},
			{CanID: 0x456, StartBit: 7, BitLength: 8, BigEndian: true, Factor: 0.5, Offset: -40},
		},
		[]ConditionDef{
			{SignalIdx: 0, Op: OpGT, Value1: 100},
			{SignalIdx: 1, Op: OpWithin, Value1: 10, Value2: 20},
			{SignalIdx: 0, Op: OpHold, Value1: 1000},
		},
		[]ActionDef{
			{CapabilityID: "log", Params: []ParamDef{{Type: ParamString, Str: "hot"}}},
			{CapabilityID: "relay_set", Params: []ParamDef{
				{Type: ParamInt, Raw: 3},
				{Type: ParamBool, Raw: 1},
				FloatParam(12.5),
			}},
		},
		[]RuleDef{
			{FlowID: "overspeed", ConditionMask: 0b001, ActionStart: 0, ActionCount: 1, DebounceDS: 20, CooldownDS: 100},
			{FlowID: "warmup", ConditionMask: 0b110, ActionStart: 1, ActionCount: 1},
		},
	)
	if err != nil {
		t.Fatalf("BuildRules: %v", err)
	}
	return data
}

func TestParseRoundTrip(t *testing.T) {
	data := testContainer(t)
	rs, err := ParseRules(data)
	if err != nil {
		t.Fatalf("ParseRules: %v", err)
	}

	if len(rs.Signals) != 2 || len(rs.Conditions) != 3 || len(rs.Actions) != 2 || len(rs.Rules) != 2 {
		t.Fatalf("table sizes: %d/%d/%d/%d", len(rs.Signals), len(rs.Conditions), len(rs.Actions), len(rs.Rules))
	}

	s := rs.Signals[1]
	if s.CanID != 0x456 || s.StartBit != 7 || s.BitLength != 8 || !s.BigEndian || s.Signed {
		t.Fatalf("signal 1 fields: %+v", s)
	}
	if s.Factor != 0.5 || s.Offset != -40 {
		t.Fatalf("signal 1 scaling: %+v", s)
	}

	if rs.Conditions[2].Op != OpHold || rs.Conditions[2].HoldMS != 1000 {
		t.Fatalf("hold condition: %+v", rs.Conditions[2])
	}

	a := rs.Actions[1]
	if a.CapabilityID != "relay_set" || len(a.Params) != 3 {
		t.Fatalf("action 1: %+v", a)
	}
	if a.Params[0].IntVal != 3 || a.Params[1].IntVal != 1 {
		t.Fatalf("action 1 int params: %+v", a.Params)
	}
	if a.Params[2].F32Val != 12.5 {
		t.Fatalf("action 1 float param: %v", a.Params[2].F32Val)
	}

	r := rs.Rules[0]
	if r.FlowID != "overspeed" || r.ConditionMask != 1 {
		t.Fatalf("rule 0: %+v", r)
	}
	if r.DebounceMS != 200 || r.CooldownMS != 1000 {
		t.Fatalf("rule 0 timings: debounce=%d cooldown=%d", r.DebounceMS, r.CooldownMS)
	}

	if rs.CRC != CRC32(data) {
		t.Fatalf("container crc: %08x != %08x", rs.CRC, CRC32(data))
	}
	if len(rs.Binary) != len(data) {
		t.Fatalf("retained binary length %d != %d", len(rs.Binary), len(data))
	}
}

func TestParseStringDedup(t *testing.T) {
	data, err := BuildRules(nil, nil,
		[]ActionDef{{CapabilityID: "log"}, {CapabilityID: "log"}},
		nil)
	if err != nil {
		t.Fatalf("BuildRules: %v", err)
	}
	rs, err := ParseRules(data)
	if err != nil {
		t.Fatalf("ParseRules: %v", err)
	}
	if rs.Actions[0].CapabilityID != "log" || rs.Actions[1].CapabilityID != "log" {
		t.Fatalf("dedup parse: %+v", rs.Actions)
	}
}

func TestCrcRejectsBitFlips(t *testing.T) {
	data := testContainer(t)
	// Flip a selection of single bits across the whole post-header body.
	for off := rulesHeaderSize; off < len(data); off += 7 {
		for bit := uint(0); bit < 8; bit += 3 {
			mut := make([]byte, len(data))
			copy(mut, data)
			mut[off] ^= 1 << bit
			if _, err := ParseRules(mut); err != errcode.CrcMismatch {
				t.Fatalf("flip at %d.%d: got %v, want CrcMismatch", off, bit, err)
			}
		}
	}
}

func TestParseErrors(t *testing.T) {
	good := testContainer(t)

	// rebuild constructs a container with one mutated table entry and a
	// recomputed CRC, so only the targeted check can fire.
	rebuild := func(mutate func(b []byte)) []byte {
		b := make([]byte, len(good))
		copy(b, good)
		mutate(b)
		le.PutUint32(b[20:], CRC32(b[rulesHeaderSize:]))
		return b
	}

	condOff := func(i int) int { return rulesHeaderSize + 2*signalSize + i*conditionSize }
	actOff := func(i int) int { return rulesHeaderSize + 2*signalSize + 3*conditionSize + i*actionSize }
	paramOff := func(i int) int {
		return rulesHeaderSize + 2*signalSize + 3*conditionSize + 2*actionSize + i*actionParamSize
	}
	ruleOff := func(i int) int {
		return rulesHeaderSize + 2*signalSize + 3*conditionSize + 2*actionSize + 4*actionParamSize + i*ruleSize
	}

	cases := []struct {
		name string
		data []byte
		want errcode.Code
	}{
		{"short header", good[:10], errcode.ShortHeader},
		{"bad magic", rebuild(func(b []byte) { b[0] = 0xFF }), errcode.BadMagic},
		{"version too new", rebuild(func(b []byte) { b[4] = Version + 1 }), errcode.UnsupportedVersion},
		{"version too old", rebuild(func(b []byte) { b[4] = MinVersion - 1 }), errcode.UnsupportedVersion},
		{"declared size beyond buffer", rebuild(func(b []byte) { le.PutUint16(b[6:], uint16(len(good)+1)) }), errcode.TruncatedBody},
		{"declared size below header", rebuild(func(b []byte) { le.PutUint16(b[6:], rulesHeaderSize-1) }), errcode.TruncatedBody},
		{"string table offset past end", rebuild(func(b []byte) { le.PutUint16(b[16:], uint16(len(good))) }), errcode.BadStringTableOffset},
		{"string table offset inside header", rebuild(func(b []byte) { le.PutUint16(b[16:], 4) }), errcode.BadStringTableOffset},
		{"counts overflow", rebuild(func(b []byte) { b[8] = 200 }), errcode.CountsOverflow},
		{"condition signal out of range", rebuild(func(b []byte) { b[condOff(0)] = 9 }), errcode.InvalidSignalIdx},
		{"unknown operation", rebuild(func(b []byte) { b[condOff(0)+1] = uint8(OpHold) + 1 }), errcode.InvalidOperation},
		{"hold too long", rebuild(func(b []byte) {
			le.PutUint32(b[condOff(2)+4:], 0x4CB30000) // 93847552.0 > 24h in ms
		}), errcode.InvalidHoldDuration},
		{"empty capability id", rebuild(func(b []byte) { le.PutUint16(b[actOff(0):], 0) }), errcode.EmptyCapabilityID},
		{"invalid param type", rebuild(func(b []byte) { b[paramOff(0)] = 9 }), errcode.InvalidParamType},
		{"action param range overflow", rebuild(func(b []byte) { b[actOff(1)+2] = 200 }), errcode.ParamRangeOverflow},
		{"rule mask out of range", rebuild(func(b []byte) { b[ruleOff(1)+2] = 0xF0 }), errcode.ConditionMaskOutOfRange},
		{"rule action range overflow", rebuild(func(b []byte) { b[ruleOff(0)+7] = 9 }), errcode.ActionRangeOverflow},
		{"crc mismatch", func() []byte {
			b := make([]byte, len(good))
			copy(b, good)
			le.PutUint32(b[20:], 0xDEADBEEF)
			return b
		}(), errcode.CrcMismatch},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rs, err := ParseRules(tc.data)
			if errcode.Of(err) != tc.want {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
			if rs != nil {
				t.Fatal("tables returned alongside error")
			}
		})
	}
}

func TestParseSwapsInvertedRange(t *testing.T) {
	data, err := BuildRules(
		[]SignalDef{{CanID: 1, BitLength: 8, Factor: 1}},
		[]ConditionDef{{SignalIdx: 0, Op: OpWithin, Value1: 20, Value2: 10}},
		nil, nil)
	if err != nil {
		t.Fatalf("BuildRules: %v", err)
	}
	rs, err := ParseRules(data)
	if err != nil {
		t.Fatalf("ParseRules: %v", err)
	}
	c := rs.Conditions[0]
	if c.Value1 != 10 || c.Value2 != 20 {
		t.Fatalf("range not normalized: v1=%v v2=%v", c.Value1, c.Value2)
	}
}

func TestReadString(t *testing.T) {
	table := []byte("alpha\x00beta\x00trailing")

	cases := []struct {
		off  uint16
		want string
		ok   bool
	}{
		{0, "alpha", true},
		{6, "beta", true},
		{3, "ha", true},
		{11, "", false},  // runs off the end without NUL
		{200, "", false}, // past the table
	}
	for _, tc := range cases {
		got, ok := ReadString(table, tc.off)
		if got != tc.want || ok != tc.ok {
			t.Errorf("ReadString(%d) = %q,%v; want %q,%v", tc.off, got, ok, tc.want, tc.ok)
		}
	}
}
