// Package canloop is a host-side CAN driver backed by in-memory queues.
// Tests and the host runner inject frames with Inject; transmitted
// frames are captured for inspection. Receive is non-blocking like the
// hardware drivers.
package canloop

import (
	"sync"

	"canflow-go/types"
)

type Driver struct {
	mu      sync.Mutex
	rxq     []types.CanFrame
	txq     []types.CanFrame
	running bool
	paused  bool
}

func New() *Driver { return &Driver{} }

func (d *Driver) Begin() error {
	d.mu.Lock()
	d.running = true
	d.paused = false
	d.mu.Unlock()
	return nil
}

// Inject queues a frame for the module to receive.
func (d *Driver) Inject(f types.CanFrame) {
	d.mu.Lock()
	d.rxq = append(d.rxq, f)
	d.mu.Unlock()
}

func (d *Driver) Receive(out *types.CanFrame) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running || d.paused || len(d.rxq) == 0 {
		return false
	}
	*out = d.rxq[0]
	d.rxq = d.rxq[1:]
	return true
}

func (d *Driver) Transmit(f *types.CanFrame) error {
	d.mu.Lock()
	d.txq = append(d.txq, *f)
	d.mu.Unlock()
	return nil
}

// Sent returns a copy of everything transmitted so far.
func (d *Driver) Sent() []types.CanFrame {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]types.CanFrame, len(d.txq))
	copy(out, d.txq)
	return out
}

func (d *Driver) Stop() {
	d.mu.Lock()
	d.paused = true
	d.mu.Unlock()
}

func (d *Driver) Resume() {
	d.mu.Lock()
	d.paused = false
	d.mu.Unlock()
}

func (d *Driver) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running && !d.paused
}
