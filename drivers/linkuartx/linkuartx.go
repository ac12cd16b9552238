//go:build mcu

// Package linkuartx is the UART host-link transport for MCU builds.
// Messages are newline-delimited; binary stream chunks are not carried
// on this link (serial hosts use the CBOR transport instead), so it
// serves command/status traffic on bring-up boards.
package linkuartx

import (
	"machine"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"

	"canflow-go/types"
)

const mtu = 128

type Transport struct {
	hw   *uartx.UART
	baud uint32
	tx   machine.Pin
	rx   machine.Pin

	line []byte

	rxCb   types.RxFunc
	connCb types.ConnFunc
	up     bool
}

func New(hw *uartx.UART, baud uint32, tx, rx machine.Pin) *Transport {
	return &Transport{hw: hw, baud: baud, tx: tx, rx: rx}
}

func (t *Transport) Begin(name string) error {
	err := t.hw.Configure(uartx.UARTConfig{
		BaudRate: t.baud,
		TX:       t.tx,
		RX:       t.rx,
	})
	if err != nil {
		return err
	}
	t.up = true
	if t.connCb != nil {
		t.connCb(true)
	}
	println("linkuartx: up as", name)
	return nil
}

func (t *Transport) IsConnected() bool { return t.up }

func (t *Transport) Send(data []byte) error {
	if !t.up {
		return nil
	}
	_, err := t.hw.Write(data)
	if err == nil {
		_, err = t.hw.Write([]byte{'\n'})
	}
	return err
}

func (t *Transport) SendStatus(data []byte) error { return t.Send(data) }

func (t *Transport) OnReceive(cb types.RxFunc)            { t.rxCb = cb }
func (t *Transport) OnConnectionChange(cb types.ConnFunc) { t.connCb = cb }

func (t *Transport) MTU() int { return mtu }

// Poll drains buffered bytes and dispatches completed lines. Runs on
// the controller loop; no extra goroutine on MCU.
func (t *Transport) Poll() {
	for t.hw.Buffered() > 0 {
		b, err := t.hw.ReadByte()
		if err != nil {
			return
		}
		if b == '\n' {
			if len(t.line) > 0 && t.rxCb != nil {
				t.rxCb(t.line)
			}
			t.line = t.line[:0]
			continue
		}
		t.line = append(t.line, b)
	}
}
