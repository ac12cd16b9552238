// services/controller/controller.go
package controller

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"canflow-go/bus"
	"canflow-go/engine"
	"canflow-go/services/ota"
	"canflow-go/types"
	"canflow-go/wbp"
	"canflow-go/x/conv"
)

// The controller is the single cooperative loop tying the collaborators
// together: CAN frames feed the engine, transport messages drive the
// command dispatcher, and the OTA service is polled for worker
// completion. All mutable state lives on this loop.

// Config carries module identity and policy hooks.
type Config struct {
	ModuleID  string // derived from the serial when empty
	HWVersion string
	FWVersion string
	Serial    string
	LinkName  string // advertised link name; defaults to the module id

	// Restart is invoked after a successful full or delta update.
	// Leave nil to only log.
	Restart func()
}

// Storage keys.
const (
	keyBootCount = "boot_count"
	keyRulesBin  = "rules_bin"
)

// Rules modes reported in status and profile frames.
const (
	rulesModeNone = 0
	rulesModeRAM  = 1
	rulesModeNVS  = 2
)

const (
	statusPeriodMS  = 5000
	debugPeriodMS   = 10
	profileBufBytes = 2048
	chunkPauseMS    = 5
)

type Controller struct {
	log  zerolog.Logger
	cfg  Config
	conn *bus.Connection

	can   types.CAN
	store types.Storage
	link  types.Transport
	ota   *ota.Service
	eng   *engine.Engine
	led   types.LED // optional

	rx      chan []byte
	connEvt chan bool

	stream streamState

	rulesMode uint8
	bootCount uint16
	epoch     time.Time

	lastStatusMS  uint32
	lastDebugTxMS uint32
}

// New wires the controller. led and conn may be nil.
func New(cfg Config, can types.CAN, store types.Storage, link types.Transport,
	otaSvc *ota.Service, eng *engine.Engine, led types.LED,
	conn *bus.Connection, log zerolog.Logger) *Controller {

	c := &Controller{
		log:     log.With().Str("svc", "controller").Logger(),
		cfg:     cfg,
		conn:    conn,
		can:     can,
		store:   store,
		link:    link,
		ota:     otaSvc,
		eng:     eng,
		led:     led,
		rx:      make(chan []byte, 32),
		connEvt: make(chan bool, 4),
	}

	// Callbacks hop onto the loop through channels; nothing below
	// mutates controller state directly.
	link.OnReceive(func(data []byte) {
		msg := make([]byte, len(data))
		copy(msg, data)
		select {
		case c.rx <- msg:
		default:
			c.log.Warn().Msg("rx queue full, message dropped")
		}
	})
	link.OnConnectionChange(func(connected bool) {
		select {
		case c.connEvt <- connected:
		default:
		}
	})

	return c
}

// Engine exposes the engine for capability registration at start-up.
func (c *Controller) Engine() *engine.Engine { return c.eng }

// BootCount reports the persisted boot counter after Begin.
func (c *Controller) BootCount() uint16 { return c.bootCount }

// nowMS is the loop's monotonic millisecond clock.
func (c *Controller) nowMS() uint32 {
	return uint32(time.Since(c.epoch).Milliseconds())
}

// Begin initializes collaborators, bumps the boot counter, restores a
// persisted ruleset and starts the transport.
func (c *Controller) Begin() error {
	c.epoch = time.Now()

	if err := c.store.Begin(); err != nil {
		return err
	}
	if err := c.can.Begin(); err != nil {
		return err
	}

	// Unparseable or absent boot counts restart at zero.
	prev, _ := conv.ParseDecU32(c.store.ReadString(keyBootCount))
	c.bootCount = uint16(prev) + 1
	var buf [20]byte
	_ = c.store.WriteString(keyBootCount, string(conv.Utoa(buf[:], uint64(c.bootCount))))

	if c.cfg.ModuleID == "" {
		c.cfg.ModuleID = deriveModuleID(c.cfg.Serial)
	}

	c.loadRulesFromStorage()

	name := c.cfg.LinkName
	if name == "" {
		name = c.cfg.ModuleID
	}
	if err := c.link.Begin(name); err != nil {
		return err
	}

	if err := c.ota.Begin(); err != nil {
		return err
	}

	c.log.Info().
		Str("module_id", c.cfg.ModuleID).
		Uint16("boots", c.bootCount).
		Msg("ready")
	return nil
}

// Run drives the loop until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	tick := time.NewTicker(time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("stopping")
			return
		case msg := <-c.rx:
			c.handleMessage(msg)
		case connected := <-c.connEvt:
			c.onConnectionChange(connected)
		case <-tick.C:
			c.step()
		}
	}
}

// step is one loop iteration of periodic duties.
func (c *Controller) step() {
	if c.ota.NeedsPause() {
		c.pollOta()
		c.updateLed()
		return
	}

	var frame types.CanFrame
	now := c.nowMS()
	for c.can.Receive(&frame) {
		c.eng.ProcessFrame(frame, now)
	}

	c.eng.Evaluate(now)

	if c.eng.DebugMode() {
		c.sendDebugUpdate(now)
	}

	if now-c.lastStatusMS >= statusPeriodMS {
		c.sendStatus(now)
		c.lastStatusMS = now
	}

	c.link.Poll()
	c.updateLed()
	c.pollOta()
}

// pollOta advances the OTA state machine and settles the deferred delta
// reply when the worker finishes.
func (c *Controller) pollOta() {
	prev := c.ota.Status()
	c.ota.Poll()
	if prev != ota.StatusApplying {
		return
	}

	switch c.ota.Status() {
	case ota.StatusSuccess:
		_ = c.link.Send([]byte("OTA:SUCCESS"))
		c.restart()
	case ota.StatusErrSpace, ota.StatusErrCrc, ota.StatusErrFlash:
		_ = c.link.Send([]byte("OTA:ERROR"))
		c.ota.Abort()
		c.can.Resume()
	}
}

func (c *Controller) restart() {
	if c.cfg.Restart != nil {
		c.cfg.Restart()
		return
	}
	c.log.Info().Msg("restart requested (no restart hook wired)")
}

func (c *Controller) onConnectionChange(connected bool) {
	if !connected {
		// Any open stream and the debug overlay die with the link.
		c.stream.reset()
		c.eng.SetDebugMode(false)
		c.eng.ClearDebugSignals()
	}
	if c.conn != nil {
		c.conn.Publish(&bus.Message{
			Topic:    bus.Topic{"link", "state"},
			Payload:  connected,
			Retained: true,
		})
	}
	c.log.Info().Bool("connected", connected).Msg("link state")
}

// updateLed: solid while connected, 500 ms blink otherwise.
func (c *Controller) updateLed() {
	if c.led == nil {
		return
	}
	if c.link.IsConnected() {
		c.led.Set(true)
	} else {
		c.led.Set((c.nowMS()/500)%2 == 1)
	}
}

func (c *Controller) loadRulesFromStorage() {
	size := c.store.ReadBlob(keyRulesBin, nil)
	if size <= 0 {
		c.rulesMode = rulesModeNone
		return
	}
	buf := make([]byte, size)
	if c.store.ReadBlob(keyRulesBin, buf) != size {
		c.rulesMode = rulesModeNone
		return
	}
	if err := c.eng.Install(buf); err != nil {
		c.log.Warn().Err(err).Msg("persisted ruleset rejected")
		c.rulesMode = rulesModeNone
		return
	}
	c.rulesMode = rulesModeNVS
	c.log.Info().Int("rules", c.eng.RuleCount()).Msg("ruleset restored")
}

func (c *Controller) saveRulesToStorage() {
	data := c.eng.Binary()
	if len(data) == 0 {
		return
	}
	if err := c.store.WriteBlob(keyRulesBin, data); err != nil {
		c.log.Error().Err(err).Msg("ruleset persist failed")
		return
	}
	_ = c.store.Commit()
	c.log.Info().Int("bytes", len(data)).Msg("ruleset persisted")
}

// deriveModuleID builds the default id from the serial: CANFLOW-XXXXXX
// with the low 24 bits of the serial's checksum.
func deriveModuleID(serial string) string {
	sum := wbp.CRC32([]byte(serial))
	var buf [8]byte
	hex := conv.U32Hex(buf[:], sum)
	return "CANFLOW-" + string(hex[2:])
}
