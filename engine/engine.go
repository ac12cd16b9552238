// engine.go
package engine

import (
	"github.com/rs/zerolog"

	"canflow-go/bus"
	"canflow-go/errcode"
	"canflow-go/types"
	"canflow-go/wbp"
)

// Engine owns the active ruleset and all of its runtime state. Every
// method must be called from the controller loop; nothing here locks.
type Engine struct {
	log  zerolog.Logger
	conn *bus.Connection // optional trigger event sink

	signals    []wbp.Signal
	conditions []wbp.Condition
	actions    []wbp.Action
	rules      []wbp.Rule
	binary     []byte
	crc        uint32

	signalsByID map[uint32][]int

	handlers map[string]types.CapabilityHandler
	capMeta  map[string]types.CapabilityMeta
	capOrder []string

	debugMode      bool
	debugSignals   []wbp.Signal
	debugByID      map[uint32][]int
	debugDirty     []bool
	debugQueue     []int
	debugQueueHead int

	triggered uint32
}

// New creates an empty engine. conn may be nil when no event bus is wired.
func New(log zerolog.Logger, conn *bus.Connection) *Engine {
	return &Engine{
		log:         log.With().Str("svc", "engine").Logger(),
		conn:        conn,
		signalsByID: map[uint32][]int{},
		handlers:    map[string]types.CapabilityHandler{},
		capMeta:     map[string]types.CapabilityMeta{},
		debugByID:   map[uint32][]int{},
	}
}

// RegisterCapability installs a handler without host-visible metadata.
func (e *Engine) RegisterCapability(id string, h types.CapabilityHandler) {
	if _, seen := e.handlers[id]; !seen {
		e.capOrder = append(e.capOrder, id)
	}
	e.handlers[id] = h
}

// RegisterCapabilityMeta installs a handler along with the metadata
// serialized into the module profile.
func (e *Engine) RegisterCapabilityMeta(id string, h types.CapabilityHandler, meta types.CapabilityMeta) {
	e.RegisterCapability(id, h)
	meta.ID = id
	e.capMeta[id] = meta
}

// Capabilities returns registered capability metadata in registration
// order (entries without metadata are skipped).
func (e *Engine) Capabilities() []types.CapabilityMeta {
	out := make([]types.CapabilityMeta, 0, len(e.capMeta))
	for _, id := range e.capOrder {
		if meta, ok := e.capMeta[id]; ok {
			out = append(out, meta)
		}
	}
	return out
}

// Install parses and validates a ruleset container and swaps it in
// atomically. On any failure the previous ruleset stays active and the
// returned error carries the parse code, or UnknownCapability with the
// offending id in its detail.
func (e *Engine) Install(data []byte) error {
	rs, err := wbp.ParseRules(data)
	if err != nil {
		return err
	}

	// Every referenced capability must already be registered.
	for i := range rs.Actions {
		id := rs.Actions[i].CapabilityID
		if _, ok := e.handlers[id]; !ok {
			return &errcode.E{C: errcode.UnknownCapability, Op: "engine.install", Msg: id}
		}
	}

	e.signals = rs.Signals
	e.conditions = rs.Conditions
	e.actions = rs.Actions
	e.rules = rs.Rules
	e.binary = rs.Binary
	e.crc = rs.CRC
	e.triggered = 0

	e.signalsByID = make(map[uint32][]int, len(e.signals))
	for i := range e.signals {
		id := e.signals[i].CanID
		e.signalsByID[id] = append(e.signalsByID[id], i)
	}

	e.log.Info().
		Int("signals", len(e.signals)).
		Int("conditions", len(e.conditions)).
		Int("actions", len(e.actions)).
		Int("rules", len(e.rules)).
		Uint32("crc", e.crc).
		Msg("ruleset installed")
	return nil
}

// Clear drops the active ruleset and its runtime state.
func (e *Engine) Clear() {
	e.signals = nil
	e.conditions = nil
	e.actions = nil
	e.rules = nil
	e.binary = nil
	e.crc = 0
	e.triggered = 0
	e.signalsByID = map[uint32][]int{}
}

// Binary returns the accepted container bytes (nil when no ruleset).
func (e *Engine) Binary() []byte { return e.binary }

// CRC returns the accepted container's CRC-32 (0 when no ruleset).
func (e *Engine) CRC() uint32 { return e.crc }

func (e *Engine) SignalCount() int    { return len(e.signals) }
func (e *Engine) ConditionCount() int { return len(e.conditions) }
func (e *Engine) ActionCount() int    { return len(e.actions) }
func (e *Engine) RuleCount() int      { return len(e.rules) }

// UniqueCanIDs counts distinct CAN ids across the ruleset signals.
func (e *Engine) UniqueCanIDs() int { return len(e.signalsByID) }

// TriggerCount reports rules fired since the last install or clear.
func (e *Engine) TriggerCount() uint32 { return e.triggered }
