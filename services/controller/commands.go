// services/controller/commands.go
package controller

import (
	"strings"

	"canflow-go/errcode"
	"canflow-go/wbp"
	"canflow-go/x/conv"
)

// -----------------------------------------------------------------------------
// Stream reassembly
// -----------------------------------------------------------------------------

type streamKind uint8

const (
	streamNone streamKind = iota
	streamRulesetRAM
	streamRulesetNVS
	streamDebugWatch
	streamOtaFull
	streamOtaDelta
)

// streamState accumulates the body of an open stream command until the
// END sentinel. OTA kinds bypass the buffer and forward chunks as they
// arrive.
type streamState struct {
	kind        streamKind
	expectedLen uint32
	expectedCRC uint32
	buf         []byte
}

func (s *streamState) reset() {
	s.kind = streamNone
	s.buf = nil
}

func (s *streamState) open(kind streamKind, expectedLen, expectedCRC uint32) {
	s.kind = kind
	s.expectedLen = expectedLen
	s.expectedCRC = expectedCRC
	s.buf = make([]byte, 0, expectedLen)
}

// -----------------------------------------------------------------------------
// Dispatch
// -----------------------------------------------------------------------------

func (c *Controller) handleMessage(data []byte) {
	if c.stream.kind != streamNone {
		c.handleStreamData(data)
		return
	}
	c.handleCommand(data)
}

// parseLenCRC splits "<len>:<crc>"; both decimal.
func parseLenCRC(s string) (uint32, uint32, bool) {
	lenStr, crcStr, found := strings.Cut(s, ":")
	if !found {
		return 0, 0, false
	}
	n, ok1 := conv.ParseDecU32(lenStr)
	crc, ok2 := conv.ParseDecU32(crcStr)
	return n, crc, ok1 && ok2
}

// parseSizeHexCRC splits "<size>:<crc>"; size decimal, crc hex.
func parseSizeHexCRC(s string) (uint32, uint32, bool) {
	sizeStr, crcStr, found := strings.Cut(s, ":")
	if !found {
		return 0, 0, false
	}
	n, ok1 := conv.ParseDecU32(sizeStr)
	crc, ok2 := conv.ParseHexU32(crcStr)
	return n, crc, ok1 && ok2
}

func (c *Controller) handleCommand(data []byte) {
	cmd := strings.TrimSpace(string(data))
	c.log.Debug().Str("cmd", cmd).Msg("command")

	switch {
	case cmd == "GET:PROFILE":
		c.sendProfile()

	case cmd == "GET:RULES":
		c.sendRules()

	case cmd == "DEBUG:START":
		c.eng.SetDebugMode(true)

	case cmd == "DEBUG:STOP":
		c.eng.SetDebugMode(false)
		c.eng.ClearDebugSignals()

	case strings.HasPrefix(cmd, "DEBUG:WATCH:"):
		if n, crc, ok := parseLenCRC(cmd[len("DEBUG:WATCH:"):]); ok {
			c.stream.open(streamDebugWatch, n, crc)
		}

	case strings.HasPrefix(cmd, "SET:RULES:RAM:"):
		if n, crc, ok := parseLenCRC(cmd[len("SET:RULES:RAM:"):]); ok {
			c.stream.open(streamRulesetRAM, n, crc)
		}

	case strings.HasPrefix(cmd, "SET:RULES:NVS:"):
		if n, crc, ok := parseLenCRC(cmd[len("SET:RULES:NVS:"):]); ok {
			c.stream.open(streamRulesetNVS, n, crc)
		}

	case strings.HasPrefix(cmd, "OTA:BEGIN:"):
		size, crc, ok := parseSizeHexCRC(cmd[len("OTA:BEGIN:"):])
		if !ok {
			return
		}
		if err := c.ota.StartFull(size, crc); err != nil {
			_ = c.link.Send([]byte("OTA:ERROR"))
			return
		}
		c.stream.open(streamOtaFull, size, crc)
		c.can.Stop()
		_ = c.link.Send([]byte("OTA:READY"))

	case strings.HasPrefix(cmd, "OTA:DELTA:"):
		size, srcCRC, ok := parseSizeHexCRC(cmd[len("OTA:DELTA:"):])
		if !ok {
			return
		}
		if err := c.ota.StartDelta(size, srcCRC); err != nil {
			_ = c.link.Send([]byte("OTA:ERROR"))
			return
		}
		c.stream.open(streamOtaDelta, size, srcCRC)
		c.can.Stop()
		_ = c.link.Send([]byte("OTA:READY"))
	}
}

func (c *Controller) handleStreamData(data []byte) {
	if string(data) == "END" {
		c.finalizeStream()
		return
	}

	switch c.stream.kind {
	case streamOtaFull:
		if err := c.ota.WriteChunk(data); err != nil {
			c.log.Warn().Err(err).Msg("ota chunk rejected")
		}
	case streamOtaDelta:
		if err := c.ota.WriteDeltaChunk(data); err != nil {
			c.log.Warn().Err(err).Msg("delta chunk rejected")
		}
	default:
		c.stream.buf = append(c.stream.buf, data...)
	}
}

func (c *Controller) finalizeStream() {
	kind := c.stream.kind
	defer c.stream.reset()

	switch kind {
	case streamOtaFull:
		if err := c.ota.FinalizeFull(); err != nil {
			_ = c.link.Send([]byte("OTA:ERROR"))
			c.ota.Abort()
			c.can.Resume()
			return
		}
		_ = c.link.Send([]byte("OTA:SUCCESS"))
		c.restart()
		return

	case streamOtaDelta:
		if err := c.ota.FinalizeDelta(); err != nil {
			_ = c.link.Send([]byte("OTA:ERROR"))
			c.ota.Abort()
			c.can.Resume()
		}
		// Success reply is deferred to worker completion.
		return
	}

	// Buffered kinds verify length and CRC before anything else.
	if uint32(len(c.stream.buf)) != c.stream.expectedLen {
		_ = c.link.Send([]byte("ERR:LEN_MISMATCH"))
		return
	}
	if wbp.CRC32(c.stream.buf) != c.stream.expectedCRC {
		_ = c.link.Send([]byte("ERR:CRC_FAIL"))
		return
	}

	switch kind {
	case streamDebugWatch:
		n := c.eng.LoadDebugSignals(string(c.stream.buf))
		c.log.Info().Int("signals", n).Msg("debug watch loaded")

	case streamRulesetRAM, streamRulesetNVS:
		if err := c.eng.Install(c.stream.buf); err != nil {
			if errcode.Of(err) == errcode.UnknownCapability {
				_ = c.link.Send([]byte("ERR:CAP_UNKNOWN:" + errcode.Detail(err)))
			} else {
				_ = c.link.Send([]byte("ERR:RULES_INVALID"))
			}
			return
		}
		if kind == streamRulesetNVS {
			c.rulesMode = rulesModeNVS
			c.saveRulesToStorage()
		} else {
			c.rulesMode = rulesModeRAM
		}
	}
}
