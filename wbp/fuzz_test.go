package wbp

import "testing"

// FuzzParseRules hammers the parser with mutated containers. Whatever
// the input, the parser must never return tables that violate the
// structural invariants, and must never panic.
func FuzzParseRules(f *testing.F) {
	seed, err := BuildRules(
		[]SignalDef{{CanID: 0x100, BitLength: 8, Factor: 1}},
		[]ConditionDef{{SignalIdx: 0, Op: OpGE, Value1: 1}},
		[]ActionDef{{CapabilityID: "log", Params: []ParamDef{{Type: ParamString, Str: "x"}}}},
		[]RuleDef{{FlowID: "f", ConditionMask: 1, ActionCount: 1}},
	)
	if err != nil {
		f.Fatal(err)
	}
	f.Add(seed)
	f.Add([]byte{})
	f.Add(seed[:rulesHeaderSize])

	f.Fuzz(func(t *testing.T, data []byte) {
		rs, err := ParseRules(data)
		if err != nil {
			if rs != nil {
				t.Fatal("tables returned alongside error")
			}
			return
		}
		for i, c := range rs.Conditions {
			if int(c.SignalIdx) >= len(rs.Signals) {
				t.Fatalf("condition %d references signal %d of %d", i, c.SignalIdx, len(rs.Signals))
			}
		}
		for i, r := range rs.Rules {
			if int(r.ActionStart)+int(r.ActionCount) > len(rs.Actions) {
				t.Fatalf("rule %d action range [%d,%d) of %d", i, r.ActionStart,
					int(r.ActionStart)+int(r.ActionCount), len(rs.Actions))
			}
		}
		for i, a := range rs.Actions {
			if a.CapabilityID == "" {
				t.Fatalf("action %d has empty capability id", i)
			}
		}
	})
}
