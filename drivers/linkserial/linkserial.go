// Package linkserial is the serial host-link transport: CBOR-framed
// messages over a UART/USB-CDC port. Each direction is a stream of
// self-delimiting CBOR envelopes, so no byte stuffing is needed and
// binary stream chunks pass through untouched.
package linkserial

import (
	"sync"
	"sync/atomic"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog"
	"go.bug.st/serial"

	"canflow-go/types"
)

const mtu = 256

// Envelope kinds.
const (
	kindHello  = 0 // host announces itself; carries the host name
	kindData   = 1 // command or stream chunk
	kindStatus = 2 // periodic status frame
	kindBye    = 3 // host going away
)

// envelope is one framed message. Integer keys keep the framing small
// on constrained links.
type envelope struct {
	Kind uint8  `cbor:"1,keyasint"`
	Data []byte `cbor:"2,keyasint,omitempty"`
}

type Transport struct {
	log  zerolog.Logger
	dev  string
	baud int

	mu   sync.Mutex
	port serial.Port
	enc  *cbor.Encoder

	connected atomic.Bool

	rxCb   types.RxFunc
	connCb types.ConnFunc
}

func New(dev string, baud int, log zerolog.Logger) *Transport {
	return &Transport{
		log:  log.With().Str("svc", "linkserial").Logger(),
		dev:  dev,
		baud: baud,
	}
}

func (t *Transport) Begin(name string) error {
	port, err := serial.Open(t.dev, &serial.Mode{BaudRate: t.baud})
	if err != nil {
		return err
	}
	t.port = port
	t.enc = cbor.NewEncoder(port)

	go t.readLoop()

	t.log.Info().Str("dev", t.dev).Int("baud", t.baud).Str("name", name).Msg("port open")
	return nil
}

// readLoop is the transport's single callback goroutine. The link
// counts as connected between a HELLO and a BYE (or a decode error).
func (t *Transport) readLoop() {
	dec := cbor.NewDecoder(t.port)
	for {
		var env envelope
		if err := dec.Decode(&env); err != nil {
			break
		}
		switch env.Kind {
		case kindHello:
			t.setConnected(true)
		case kindBye:
			t.setConnected(false)
		case kindData, kindStatus:
			if t.rxCb != nil {
				t.rxCb(env.Data)
			}
		}
	}
	t.setConnected(false)
}

func (t *Transport) setConnected(on bool) {
	if t.connected.Swap(on) == on {
		return
	}
	if t.connCb != nil {
		t.connCb(on)
	}
	t.log.Info().Bool("connected", on).Msg("link state")
}

func (t *Transport) IsConnected() bool { return t.connected.Load() }

func (t *Transport) send(kind uint8, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.enc == nil {
		return nil
	}
	return t.enc.Encode(envelope{Kind: kind, Data: data})
}

func (t *Transport) Send(data []byte) error       { return t.send(kindData, data) }
func (t *Transport) SendStatus(data []byte) error { return t.send(kindStatus, data) }

func (t *Transport) OnReceive(cb types.RxFunc)            { t.rxCb = cb }
func (t *Transport) OnConnectionChange(cb types.ConnFunc) { t.connCb = cb }

func (t *Transport) MTU() int { return mtu }

// Poll is a no-op; the read loop runs on its own goroutine.
func (t *Transport) Poll() {}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}
	return t.port.Close()
}
