// services/controller/frames.go
package controller

import (
	"time"

	"canflow-go/errcode"
	"canflow-go/wbp"
	"canflow-go/x/conv"
)

// Outbound frame assembly. Everything here formats into stack buffers
// with x/conv; these frames are emitted from the hot loop.

// sendStatus emits the 5 s summary:
// S:<rules_mode>:<signal_count>:<rule_count>:<unique_can_ids>:<uptime_ms>:<boot_count>
func (c *Controller) sendStatus(nowMS uint32) {
	if !c.link.IsConnected() {
		return
	}

	var num [20]byte
	frame := make([]byte, 0, 64)
	frame = append(frame, 'S', ':')
	frame = append(frame, conv.Utoa(num[:], uint64(c.rulesMode))...)
	frame = append(frame, ':')
	frame = append(frame, conv.Itoa(num[:], int64(c.eng.SignalCount()))...)
	frame = append(frame, ':')
	frame = append(frame, conv.Itoa(num[:], int64(c.eng.RuleCount()))...)
	frame = append(frame, ':')
	frame = append(frame, conv.Itoa(num[:], int64(c.eng.UniqueCanIDs()))...)
	frame = append(frame, ':')
	frame = append(frame, conv.Utoa(num[:], uint64(nowMS))...)
	frame = append(frame, ':')
	frame = append(frame, conv.Utoa(num[:], uint64(c.bootCount))...)

	_ = c.link.SendStatus(frame)
}

// sendDebugUpdate pops at most one dirty overlay signal per 10 ms:
// D:S:<can_id>:<start>:<len>:<be>:<factor>:<offset>:<value>
func (c *Controller) sendDebugUpdate(nowMS uint32) {
	if nowMS-c.lastDebugTxMS < debugPeriodMS {
		return
	}
	sig, ok := c.eng.PopDirtyDebugSignal()
	if !ok {
		return
	}

	var num [24]byte
	frame := make([]byte, 0, 96)
	frame = append(frame, 'D', ':', 'S', ':')
	frame = append(frame, conv.Utoa(num[:], uint64(sig.CanID))...)
	frame = append(frame, ':')
	frame = append(frame, conv.Utoa(num[:], uint64(sig.StartBit))...)
	frame = append(frame, ':')
	frame = append(frame, conv.Utoa(num[:], uint64(sig.BitLength))...)
	frame = append(frame, ':')
	if sig.BigEndian {
		frame = append(frame, '1')
	} else {
		frame = append(frame, '0')
	}
	frame = append(frame, ':')
	frame = append(frame, conv.Ftoa(num[:], sig.Factor, 4)...)
	frame = append(frame, ':')
	frame = append(frame, conv.Ftoa(num[:], sig.Offset, 4)...)
	frame = append(frame, ':')
	frame = append(frame, conv.Ftoa(num[:], sig.Value, 2)...)

	_ = c.link.Send(frame)
	c.lastDebugTxMS = nowMS
}

// sendBlobChunked streams a container body: BEGIN, MTU-sized chunks,
// then END:<len>:<crc32>.
func (c *Controller) sendBlobChunked(data []byte, crc uint32) {
	_ = c.link.Send([]byte("BEGIN"))
	time.Sleep(10 * time.Millisecond)

	mtu := c.link.MTU()
	if mtu <= 0 {
		mtu = 128
	}
	for off := 0; off < len(data); off += mtu {
		end := off + mtu
		if end > len(data) {
			end = len(data)
		}
		_ = c.link.Send(data[off:end])
		time.Sleep(chunkPauseMS * time.Millisecond)
	}

	var num [20]byte
	end := make([]byte, 0, 32)
	end = append(end, "END:"...)
	end = append(end, conv.Itoa(num[:], int64(len(data)))...)
	end = append(end, ':')
	end = append(end, conv.Utoa(num[:], uint64(crc))...)
	_ = c.link.Send(end)
}

// sendProfile serializes and streams the module profile.
func (c *Controller) sendProfile() {
	var buf [profileBufBytes]byte

	info := wbp.ProfileInfo{
		ModuleID:       c.cfg.ModuleID,
		HWVersion:      c.cfg.HWVersion,
		FWVersion:      c.cfg.FWVersion,
		Serial:         c.cfg.Serial,
		UptimeMS:       c.nowMS(),
		BootCount:      c.bootCount,
		RulesMode:      c.rulesMode,
		RulesCRC:       c.eng.CRC(),
		SignalCount:    uint8(c.eng.SignalCount()),
		ConditionCount: uint8(c.eng.ConditionCount()),
		ActionCount:    uint8(c.eng.ActionCount()),
		RuleCount:      uint8(c.eng.RuleCount()),
	}

	n, err := wbp.SerializeProfile(buf[:], info, c.eng.Capabilities())
	if err != nil {
		if errcode.Of(err) == errcode.ProfileTooLarge {
			_ = c.link.Send([]byte("ERR:PROFILE_TOO_LARGE"))
		}
		return
	}

	c.sendBlobChunked(buf[:n], wbp.CRC32(buf[:n]))
}

// sendRules streams back the accepted ruleset container.
func (c *Controller) sendRules() {
	data := c.eng.Binary()
	if len(data) == 0 {
		_ = c.link.Send([]byte("ERR:NO_RULES"))
		return
	}
	c.sendBlobChunked(data, c.eng.CRC())
}
