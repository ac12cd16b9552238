package wbp

import (
	"canflow-go/errcode"
	"canflow-go/types"
)

// ProfileInfo carries the module identity and live counters serialized
// into a profile container.
type ProfileInfo struct {
	ModuleID  string
	HWVersion string
	FWVersion string
	Serial    string

	UptimeMS  uint32
	BootCount uint16
	RulesMode uint8
	RulesCRC  uint32

	SignalCount    uint8
	ConditionCount uint8
	ActionCount    uint8
	RuleCount      uint8
}

// SerializeProfile writes a profile container into buf and returns the
// byte count. Strings are interned; equal strings share a table entry.
// Fails with ProfileTooLarge when the result exceeds buf or the string
// table cap.
func SerializeProfile(buf []byte, info ProfileInfo, caps []types.CapabilityMeta) (int, error) {
	table := newStringTable()

	moduleIdx := table.add(info.ModuleID)
	hwIdx := table.add(info.HWVersion)
	fwIdx := table.add(info.FWVersion)
	serialIdx := table.add(info.Serial)

	type capRec struct {
		id, label, desc, category uint16
		paramCount, paramStart    uint8
	}
	type paramRec struct {
		name, desc uint16
		typ        uint8
		required   uint8
		min, max   int16
	}

	capRecs := make([]capRec, 0, len(caps))
	var paramRecs []paramRec

	for _, meta := range caps {
		rec := capRec{
			id:         table.add(meta.ID),
			label:      table.add(meta.Label),
			desc:       table.add(meta.Description),
			category:   table.add(meta.Category),
			paramCount: uint8(len(meta.Params)),
			paramStart: uint8(len(paramRecs)),
		}
		for _, p := range meta.Params {
			pr := paramRec{
				name: table.add(p.Name),
				desc: table.add(p.Description),
				min:  p.Min,
				max:  p.Max,
			}
			switch p.Type {
			case "float":
				pr.typ = uint8(ParamFloat)
			case "string":
				pr.typ = uint8(ParamString)
			case "bool":
				pr.typ = uint8(ParamBool)
			default:
				pr.typ = uint8(ParamInt)
			}
			if p.Required {
				pr.required = 1
			}
			paramRecs = append(paramRecs, pr)
		}
		capRecs = append(capRecs, rec)
	}

	capsSize := len(capRecs) * capabilitySize
	paramsSize := len(paramRecs) * capParamSize
	total := profileHeaderSize + capsSize + paramsSize + int(table.size)

	if table.full || total > len(buf) {
		return 0, errcode.ProfileTooLarge
	}

	var flags uint8
	if info.RulesCRC != 0 {
		flags = 0x01
	}

	b := buf
	le.PutUint32(b[0:], MagicProfile)
	b[4] = Version
	b[5] = flags
	le.PutUint16(b[6:], moduleIdx)
	le.PutUint16(b[8:], hwIdx)
	le.PutUint16(b[10:], fwIdx)
	le.PutUint16(b[12:], serialIdx)
	b[14] = uint8(len(capRecs))
	b[15] = info.RulesMode
	le.PutUint32(b[16:], info.RulesCRC)
	b[20] = info.SignalCount
	b[21] = info.ConditionCount
	b[22] = info.ActionCount
	b[23] = info.RuleCount
	le.PutUint32(b[24:], info.UptimeMS)
	le.PutUint16(b[28:], info.BootCount)
	le.PutUint16(b[30:], uint16(profileHeaderSize+capsSize+paramsSize))

	off := profileHeaderSize
	for _, rec := range capRecs {
		le.PutUint16(b[off:], rec.id)
		le.PutUint16(b[off+2:], rec.label)
		le.PutUint16(b[off+4:], rec.desc)
		le.PutUint16(b[off+6:], rec.category)
		b[off+8] = rec.paramCount
		b[off+9] = rec.paramStart
		le.PutUint16(b[off+10:], 0)
		off += capabilitySize
	}
	for _, pr := range paramRecs {
		le.PutUint16(b[off:], pr.name)
		le.PutUint16(b[off+2:], pr.desc)
		b[off+4] = pr.typ
		b[off+5] = pr.required
		le.PutUint16(b[off+6:], 0)
		le.PutUint16(b[off+8:], uint16(pr.min))
		le.PutUint16(b[off+10:], uint16(pr.max))
		off += capParamSize
	}
	table.write(b[off:])

	return total, nil
}
