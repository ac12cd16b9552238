package wbp

import (
	"math"

	"canflow-go/errcode"
)

// Definition structs for serializing a rules container. These mirror the
// wire records, not the runtime tables: parameters carry their raw u16
// encoding and capability ids are interned when built.

type SignalDef struct {
	CanID     uint32
	StartBit  uint16
	BitLength uint8
	BigEndian bool
	Signed    bool
	Factor    float32
	Offset    float32
}

type ConditionDef struct {
	SignalIdx uint8
	Op        Operation
	Value1    float32
	Value2    float32
}

// ParamDef is one action parameter. For ParamString, Str is interned and
// the u16 becomes its table offset; for ParamFloat, Raw holds value*100
// truncated; for ParamInt/ParamBool, Raw is the value itself.
type ParamDef struct {
	Type ParamType
	Raw  uint16
	Str  string
}

// FloatParam encodes v into the u16 fixed-point parameter representation.
func FloatParam(v float32) ParamDef {
	return ParamDef{Type: ParamFloat, Raw: uint16(v * 100)}
}

type ActionDef struct {
	CapabilityID string
	Params       []ParamDef
}

type RuleDef struct {
	FlowID        string
	ConditionMask uint32
	ActionStart   uint8
	ActionCount   uint8
	DebounceDS    uint8
	CooldownDS    uint8
}

// BuildRules serializes a complete rules container, computing the string
// table, the section offsets and the trailing-body CRC. It does not
// cross-validate indices; feed the result back through ParseRules when
// that matters.
func BuildRules(signals []SignalDef, conditions []ConditionDef, actions []ActionDef, rules []RuleDef) ([]byte, error) {
	if len(signals) > 255 || len(conditions) > 255 || len(actions) > 255 || len(rules) > 255 {
		return nil, errcode.CountsOverflow
	}

	table := newStringTable()
	// Offset 0 must not be a valid empty capability id; reserve a slot so
	// real entries start past it.
	table.add("")

	type actionRec struct {
		capIdx     uint16
		paramCount uint8
		paramStart uint8
	}
	actionRecs := make([]actionRec, 0, len(actions))
	type paramRec struct {
		typ uint8
		val uint16
	}
	var paramRecs []paramRec

	for _, a := range actions {
		rec := actionRec{
			capIdx:     table.add(a.CapabilityID),
			paramCount: uint8(len(a.Params)),
			paramStart: uint8(len(paramRecs)),
		}
		for _, p := range a.Params {
			val := p.Raw
			if p.Type == ParamString {
				val = table.add(p.Str)
			}
			paramRecs = append(paramRecs, paramRec{typ: uint8(p.Type), val: val})
		}
		actionRecs = append(actionRecs, rec)
	}

	ruleRecs := make([]RuleDef, len(rules))
	flowIdx := make([]uint16, len(rules))
	copy(ruleRecs, rules)
	for i, r := range rules {
		flowIdx[i] = table.add(r.FlowID)
	}
	if table.full {
		return nil, errcode.ProfileTooLarge
	}

	stringOff := rulesHeaderSize +
		len(signals)*signalSize +
		len(conditions)*conditionSize +
		len(actions)*actionSize +
		len(paramRecs)*actionParamSize +
		len(rules)*ruleSize
	total := stringOff + int(table.size)
	if total > math.MaxUint16 {
		return nil, errcode.CountsOverflow
	}

	buf := make([]byte, total)
	le.PutUint32(buf[0:], MagicRules)
	buf[4] = Version
	buf[5] = 0
	le.PutUint16(buf[6:], uint16(total))
	buf[8] = uint8(len(signals))
	buf[9] = uint8(len(conditions))
	buf[10] = uint8(len(actions))
	buf[11] = uint8(len(rules))
	le.PutUint16(buf[12:], uint16(len(paramRecs)))
	le.PutUint16(buf[14:], 0) // no meta block
	le.PutUint16(buf[16:], uint16(stringOff))

	off := rulesHeaderSize
	for _, s := range signals {
		le.PutUint32(buf[off:], s.CanID)
		le.PutUint16(buf[off+4:], s.StartBit)
		buf[off+6] = s.BitLength
		var flags uint8
		if s.BigEndian {
			flags |= 0x01
		}
		if s.Signed {
			flags |= 0x02
		}
		buf[off+7] = flags
		le.PutUint32(buf[off+8:], math.Float32bits(s.Factor))
		le.PutUint32(buf[off+12:], math.Float32bits(s.Offset))
		off += signalSize
	}
	for _, c := range conditions {
		buf[off] = c.SignalIdx
		buf[off+1] = uint8(c.Op)
		le.PutUint32(buf[off+4:], math.Float32bits(c.Value1))
		le.PutUint32(buf[off+8:], math.Float32bits(c.Value2))
		off += conditionSize
	}
	for _, a := range actionRecs {
		le.PutUint16(buf[off:], a.capIdx)
		buf[off+2] = a.paramCount
		buf[off+3] = a.paramStart
		off += actionSize
	}
	for _, p := range paramRecs {
		buf[off] = p.typ
		le.PutUint16(buf[off+2:], p.val)
		off += actionParamSize
	}
	for i, r := range ruleRecs {
		le.PutUint16(buf[off:], flowIdx[i])
		le.PutUint32(buf[off+2:], r.ConditionMask)
		buf[off+6] = r.ActionStart
		buf[off+7] = r.ActionCount
		buf[off+8] = r.DebounceDS
		buf[off+9] = r.CooldownDS
		off += ruleSize
	}
	table.write(buf[stringOff:])

	le.PutUint32(buf[20:], CRC32(buf[rulesHeaderSize:]))
	return buf, nil
}
