package engine

import (
	"canflow-go/bus"
	"canflow-go/types"
	"canflow-go/wbp"
	"canflow-go/x/conv"
	"canflow-go/x/mathx"
)

// epsilon is the absolute tolerance for EQ/NE comparisons and for the
// HOLD activity threshold.
const epsilon = 1e-4

// TriggerEvent is published on {"engine","trigger",<flow>} when a rule fires.
type TriggerEvent struct {
	Flow    string
	Actions int
	NowMS   uint32
}

// ProcessFrame decodes every ruleset signal mapped to the frame's CAN id,
// and the debug overlay's signals when debug mode is active.
func (e *Engine) ProcessFrame(f types.CanFrame, nowMS uint32) {
	for _, idx := range e.signalsByID[f.ID] {
		sig := &e.signals[idx]
		sig.LastValue = sig.Value
		sig.Value = decodeSignal(sig, &f.Data)
		sig.LastUpdateMS = nowMS
		sig.EverSet = true
	}

	if e.debugMode {
		e.processDebugFrame(f, nowMS)
	}
}

// evaluateCondition returns the predicate result, updating HOLD state.
// A signal that has never been set fails every predicate.
func (e *Engine) evaluateCondition(c *wbp.Condition, nowMS uint32) bool {
	if int(c.SignalIdx) >= len(e.signals) {
		return false
	}
	sig := &e.signals[c.SignalIdx]
	if !sig.EverSet {
		return false
	}
	val := sig.Value

	if c.Op == wbp.OpHold {
		active := mathx.Abs(val) > epsilon
		if !active {
			c.HoldActive = false
			c.HoldStartMS = 0
			return false
		}
		if !c.HoldActive {
			c.HoldActive = true
			c.HoldStartMS = nowMS
		}
		return nowMS-c.HoldStartMS >= c.HoldMS
	}

	switch c.Op {
	case wbp.OpEQ:
		return mathx.Abs(val-c.Value1) < epsilon
	case wbp.OpNE:
		return mathx.Abs(val-c.Value1) >= epsilon
	case wbp.OpGT:
		return val > c.Value1
	case wbp.OpGE:
		return val >= c.Value1
	case wbp.OpLT:
		return val < c.Value1
	case wbp.OpLE:
		return val <= c.Value1
	case wbp.OpWithin:
		return mathx.Between(val, c.Value1, c.Value2)
	case wbp.OpOutside:
		return val < c.Value1 || val > c.Value2
	default:
		return false
	}
}

// Evaluate runs every rule in declaration order. A rule fires when its
// AND-group holds, its debounce window has elapsed since the last
// condition-state change, and its cooldown has elapsed since the last
// trigger.
func (e *Engine) Evaluate(nowMS uint32) {
	for i := range e.rules {
		rule := &e.rules[i]

		allMet := true
		for c := 0; c < len(e.conditions) && c < 32; c++ {
			if rule.ConditionMask&(1<<c) == 0 {
				continue
			}
			if !e.evaluateCondition(&e.conditions[c], nowMS) {
				allMet = false
				break
			}
		}

		if allMet != rule.LastConditionState {
			rule.LastConditionState = allMet
			rule.LastConditionChangeMS = nowMS
		}

		if !allMet {
			continue
		}
		if nowMS-rule.LastConditionChangeMS < uint32(rule.DebounceMS) {
			continue
		}
		if nowMS-rule.LastTriggerMS < uint32(rule.CooldownMS) {
			continue
		}

		end := int(rule.ActionStart) + int(rule.ActionCount)
		for a := int(rule.ActionStart); a < end && a < len(e.actions); a++ {
			e.executeAction(&e.actions[a])
		}
		rule.LastTriggerMS = nowMS
		e.triggered++

		if e.conn != nil {
			e.conn.Publish(&bus.Message{
				Topic:   bus.Topic{"engine", "trigger", rule.FlowID},
				Payload: TriggerEvent{Flow: rule.FlowID, Actions: int(rule.ActionCount), NowMS: nowMS},
			})
		}
	}
}

// executeAction builds the positional parameter map and invokes the
// registered handler. Install-time validation makes a missing handler
// unreachable; skip rather than panic if it happens anyway.
func (e *Engine) executeAction(a *wbp.Action) {
	h, ok := e.handlers[a.CapabilityID]
	if !ok {
		return
	}

	params := make(types.ParamMap, len(a.Params))
	var kbuf [8]byte
	var vbuf [24]byte
	for i := range a.Params {
		p := &a.Params[i]
		key := "p" + string(conv.Itoa(kbuf[:], int64(i)))

		switch p.Type {
		case wbp.ParamString:
			params[key] = p.StrVal
		case wbp.ParamFloat:
			params[key] = string(conv.Ftoa(vbuf[:], p.F32Val, 4))
		default: // int, bool
			params[key] = string(conv.Itoa(vbuf[:], int64(p.IntVal)))
		}
	}

	h(params)
}
