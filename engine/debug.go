package engine

import (
	"strings"

	"canflow-go/types"
	"canflow-go/wbp"
	"canflow-go/x/conv"
	"canflow-go/x/mathx"
)

// The debug overlay is a parallel signal table used only for live
// observation. It never feeds rule evaluation; it exists so a host tool
// can watch arbitrary bus positions while the ruleset keeps running.

const (
	// debugDirtyCap bounds the pending-change queue.
	debugDirtyCap = 64
	// debugChangeMin is the minimum value delta that counts as a change.
	debugChangeMin = 0.01
	// debugNeverReported seeds LastDebugValue so the first decode reports.
	debugNeverReported = -999999.9
)

// LoadDebugSignals replaces the overlay from a comma-separated textual
// definition: can_id:start:len:be:factor:offset, repeating. Malformed
// entries are skipped. Returns the number of signals installed and
// enables debug mode.
func (e *Engine) LoadDebugSignals(defs string) int {
	var newSignals []wbp.Signal
	newMap := map[uint32][]int{}

	for _, def := range strings.Split(defs, ",") {
		def = strings.TrimSpace(def)
		if def == "" {
			continue
		}
		parts := strings.Split(def, ":")
		if len(parts) != 6 {
			continue
		}
		canID, ok1 := conv.ParseDecU32(parts[0])
		start, ok2 := conv.ParseDecU32(parts[1])
		length, ok3 := conv.ParseDecU32(parts[2])
		be, ok4 := conv.ParseDecU32(parts[3])
		factor, ok5 := conv.ParseF32(parts[4])
		offset, ok6 := conv.ParseF32(parts[5])
		if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 || !ok6 {
			continue
		}

		sig := wbp.Signal{
			CanID:          canID,
			StartBit:       uint16(start),
			BitLength:      uint8(length),
			BigEndian:      be != 0,
			Factor:         factor,
			Offset:         offset,
			LastDebugValue: debugNeverReported,
		}
		idx := len(newSignals)
		newSignals = append(newSignals, sig)
		newMap[canID] = append(newMap[canID], idx)
	}

	e.debugSignals = newSignals
	e.debugByID = newMap
	e.debugDirty = make([]bool, len(newSignals))
	e.debugQueue = e.debugQueue[:0]
	e.debugQueueHead = 0
	e.debugMode = true

	e.log.Info().Int("signals", len(newSignals)).Msg("debug overlay installed")
	return len(newSignals)
}

// ClearDebugSignals drops the overlay and leaves debug mode.
func (e *Engine) ClearDebugSignals() {
	e.debugSignals = nil
	e.debugByID = map[uint32][]int{}
	e.debugDirty = nil
	e.debugQueue = nil
	e.debugQueueHead = 0
	e.debugMode = false
}

// SetDebugMode toggles overlay frame delivery and debug frame emission.
func (e *Engine) SetDebugMode(enabled bool) { e.debugMode = enabled }

// DebugMode reports whether the overlay is active.
func (e *Engine) DebugMode() bool { return e.debugMode }

// processDebugFrame decodes overlay signals for a frame and queues the
// ones whose value moved by more than debugChangeMin since last report.
func (e *Engine) processDebugFrame(f types.CanFrame, nowMS uint32) {
	for _, idx := range e.debugByID[f.ID] {
		sig := &e.debugSignals[idx]
		sig.LastValue = sig.Value
		sig.Value = decodeSignal(sig, &f.Data)
		sig.LastUpdateMS = nowMS
		sig.EverSet = true

		if mathx.Abs(sig.Value-sig.LastDebugValue) > debugChangeMin {
			if !e.debugDirty[idx] && len(e.debugQueue) < debugDirtyCap {
				e.debugDirty[idx] = true
				e.debugQueue = append(e.debugQueue, idx)
			}
		}
	}
}

// PopDirtyDebugSignal drains one queued change and updates the signal's
// last-reported value. Returns false when the queue is empty.
func (e *Engine) PopDirtyDebugSignal() (wbp.Signal, bool) {
	if e.debugQueueHead >= len(e.debugQueue) {
		if e.debugQueueHead > 0 {
			e.debugQueue = e.debugQueue[:0]
			e.debugQueueHead = 0
		}
		return wbp.Signal{}, false
	}

	idx := e.debugQueue[e.debugQueueHead]
	e.debugQueueHead++
	if idx >= len(e.debugSignals) {
		return wbp.Signal{}, false
	}

	e.debugDirty[idx] = false
	out := e.debugSignals[idx]
	e.debugSignals[idx].LastDebugValue = e.debugSignals[idx].Value
	return out, true
}
