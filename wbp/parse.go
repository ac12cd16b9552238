package wbp

import (
	"encoding/binary"
	"math"

	"canflow-go/errcode"
)

var le = binary.LittleEndian

func f32(b []byte) float32 { return math.Float32frombits(le.Uint32(b)) }

// rulesHeader is the fixed container header, decoded field by field.
type rulesHeader struct {
	magic            uint32
	version          uint8
	flags            uint8
	totalSize        uint16
	signalCount      uint8
	conditionCount   uint8
	actionCount      uint8
	ruleCount        uint8
	actionParamCount uint16
	metaOffset       uint16
	stringTableOff   uint16
	crc32            uint32
}

func decodeRulesHeader(b []byte) rulesHeader {
	return rulesHeader{
		magic:            le.Uint32(b[0:]),
		version:          b[4],
		flags:            b[5],
		totalSize:        le.Uint16(b[6:]),
		signalCount:      b[8],
		conditionCount:   b[9],
		actionCount:      b[10],
		ruleCount:        b[11],
		actionParamCount: le.Uint16(b[12:]),
		metaOffset:       le.Uint16(b[14:]),
		stringTableOff:   le.Uint16(b[16:]),
		// b[18:20] reserved
		crc32: le.Uint32(b[20:]),
	}
}

// ParseRules validates and decodes a rules container. On any failure the
// returned error is one of the errcode parse codes and no tables are
// produced. The CRC covers every byte after the fixed header; it is
// verified before any body field is trusted.
func ParseRules(data []byte) (*Ruleset, error) {
	if len(data) < rulesHeaderSize {
		return nil, errcode.ShortHeader
	}
	h := decodeRulesHeader(data)

	if h.magic != MagicRules {
		return nil, errcode.BadMagic
	}
	if h.version < MinVersion || h.version > Version {
		return nil, errcode.UnsupportedVersion
	}
	if int(h.totalSize) > len(data) || int(h.totalSize) < rulesHeaderSize {
		return nil, errcode.TruncatedBody
	}
	if CRC32(data[rulesHeaderSize:h.totalSize]) != h.crc32 {
		return nil, errcode.CrcMismatch
	}

	off := rulesHeaderSize
	var meta *Meta
	hasMeta := h.flags&FlagHasMeta != 0
	if hasMeta {
		off += metaSize
	}

	if int(h.stringTableOff) < off || h.stringTableOff >= h.totalSize {
		return nil, errcode.BadStringTableOffset
	}

	expected := rulesHeaderSize +
		int(h.signalCount)*signalSize +
		int(h.conditionCount)*conditionSize +
		int(h.actionCount)*actionSize +
		int(h.actionParamCount)*actionParamSize +
		int(h.ruleCount)*ruleSize
	if hasMeta {
		expected += metaSize
	}
	if expected > len(data) || int(h.stringTableOff) < expected {
		return nil, errcode.CountsOverflow
	}

	table := data[h.stringTableOff:h.totalSize]

	if hasMeta {
		m := data[rulesHeaderSize:]
		meta = &Meta{}
		copy(meta.VehicleUUID[:], m[0:16])
		if s, ok := ReadString(table, le.Uint16(m[16:])); ok {
			meta.Author = s
		}
		meta.CreatedAt = le.Uint64(m[20:])
		meta.UpdatedAt = le.Uint64(m[28:])
	}

	// Signals
	signals := make([]Signal, 0, h.signalCount)
	for i := 0; i < int(h.signalCount); i++ {
		r := data[off+i*signalSize:]
		flags := r[7]
		signals = append(signals, Signal{
			CanID:          le.Uint32(r[0:]),
			StartBit:       le.Uint16(r[4:]),
			BitLength:      r[6],
			BigEndian:      flags&0x01 != 0,
			Signed:         flags&0x02 != 0,
			Factor:         f32(r[8:]),
			Offset:         f32(r[12:]),
			LastDebugValue: debugNeverReported,
		})
	}
	off += int(h.signalCount) * signalSize

	// Conditions
	conditions := make([]Condition, 0, h.conditionCount)
	for i := 0; i < int(h.conditionCount); i++ {
		r := data[off+i*conditionSize:]
		c := Condition{
			SignalIdx: r[0],
			Op:        Operation(r[1]),
			Value1:    f32(r[4:]),
			Value2:    f32(r[8:]),
		}
		if c.SignalIdx >= h.signalCount {
			return nil, errcode.InvalidSignalIdx
		}
		if c.Op > OpHold {
			return nil, errcode.InvalidOperation
		}
		if c.Op == OpHold {
			if c.Value1 < 0 || c.Value1 > MaxHoldMS {
				return nil, errcode.InvalidHoldDuration
			}
			c.HoldMS = uint32(c.Value1)
		}
		// Normalize ranges so Value1 <= Value2.
		if (c.Op == OpWithin || c.Op == OpOutside) && c.Value2 < c.Value1 {
			c.Value1, c.Value2 = c.Value2, c.Value1
		}
		conditions = append(conditions, c)
	}
	off += int(h.conditionCount) * conditionSize

	// Actions reference a contiguous slice of the parameter array.
	actionRecs := data[off:]
	off += int(h.actionCount) * actionSize
	paramRecs := data[off:]
	off += int(h.actionParamCount) * actionParamSize

	actions := make([]Action, 0, h.actionCount)
	for i := 0; i < int(h.actionCount); i++ {
		r := actionRecs[i*actionSize:]
		capID, ok := ReadString(table, le.Uint16(r[0:]))
		if !ok || capID == "" {
			return nil, errcode.EmptyCapabilityID
		}
		paramCount := int(r[2])
		paramStart := int(r[3])
		if paramStart+paramCount > int(h.actionParamCount) {
			return nil, errcode.ParamRangeOverflow
		}

		a := Action{CapabilityID: capID}
		for j := 0; j < paramCount; j++ {
			pr := paramRecs[(paramStart+j)*actionParamSize:]
			pt := ParamType(pr[0])
			if pt > ParamBool {
				return nil, errcode.InvalidParamType
			}
			val := le.Uint16(pr[2:])
			p := Param{Type: pt}
			switch pt {
			case ParamInt, ParamBool:
				p.IntVal = int32(val)
			case ParamFloat:
				p.F32Val = float32(val) / 100.0
			case ParamString:
				s, ok := ReadString(table, val)
				if !ok {
					return nil, errcode.BadStringTableOffset
				}
				p.StrVal = s
			}
			a.Params = append(a.Params, p)
		}
		actions = append(actions, a)
	}

	// Rules
	rules := make([]Rule, 0, h.ruleCount)
	for i := 0; i < int(h.ruleCount); i++ {
		r := data[off+i*ruleSize:]
		rule := Rule{
			ConditionMask: le.Uint32(r[2:]),
			ActionStart:   r[6],
			ActionCount:   r[7],
			DebounceMS:    uint16(r[8]) * 10,
			CooldownMS:    uint16(r[9]) * 10,
		}
		if flow, ok := ReadString(table, le.Uint16(r[0:])); ok {
			rule.FlowID = flow
		}
		for c := 0; c < 32; c++ {
			if rule.ConditionMask&(1<<c) != 0 && c >= int(h.conditionCount) {
				return nil, errcode.ConditionMaskOutOfRange
			}
		}
		if int(rule.ActionStart)+int(rule.ActionCount) > int(h.actionCount) {
			return nil, errcode.ActionRangeOverflow
		}
		rules = append(rules, rule)
	}

	binCopy := make([]byte, len(data))
	copy(binCopy, data)

	return &Ruleset{
		Signals:    signals,
		Conditions: conditions,
		Actions:    actions,
		Rules:      rules,
		Meta:       meta,
		Binary:     binCopy,
		CRC:        CRC32(data),
	}, nil
}

// debugNeverReported seeds LastDebugValue so the first decoded value
// always counts as a change.
const debugNeverReported = -999999.9
