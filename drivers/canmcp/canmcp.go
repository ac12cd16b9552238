//go:build mcu

// Package canmcp drives an MCP2515 SPI CAN controller on MCU builds.
package canmcp

import (
	"machine"

	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/mcp2515"

	"canflow-go/types"
)

type Driver struct {
	dev     *mcp2515.Device
	running bool
	paused  bool
}

// New wires the controller on the given SPI bus and chip-select pin.
func New(spi drivers.SPI, cs machine.Pin) *Driver {
	return &Driver{dev: mcp2515.New(spi, cs)}
}

func (d *Driver) Begin() error {
	d.dev.Configure()
	if err := d.dev.Begin(mcp2515.CAN500kBps, mcp2515.Clock8MHz); err != nil {
		return err
	}
	d.running = true
	return nil
}

func (d *Driver) Receive(out *types.CanFrame) bool {
	if !d.running || d.paused || !d.dev.Received() {
		return false
	}
	msg, err := d.dev.Rx()
	if err != nil {
		return false
	}
	out.ID = msg.ID
	out.DLC = msg.Dlc
	out.Extended = false
	out.RTR = false
	out.Data = [8]byte{}
	copy(out.Data[:], msg.Data)
	return true
}

func (d *Driver) Transmit(f *types.CanFrame) error {
	return d.dev.Tx(f.ID, f.DLC, f.Data[:f.DLC])
}

func (d *Driver) Stop()   { d.paused = true }
func (d *Driver) Resume() { d.paused = false }

func (d *Driver) IsRunning() bool { return d.running && !d.paused }
