package types

// ------------------------
// Host-link transport collaborator
// ------------------------

// RxFunc receives one inbound message (a command line or a raw stream chunk).
// The slice is only valid for the duration of the call.
type RxFunc func(data []byte)

// ConnFunc is notified on connection state changes.
type ConnFunc func(connected bool)

// Transport is the message-based link to the paired host. Implementations
// deliver whole messages (framing is the driver's concern) and must invoke
// callbacks from a single goroutine.
type Transport interface {
	Begin(name string) error
	IsConnected() bool
	Send(data []byte) error
	SendStatus(data []byte) error
	OnReceive(cb RxFunc)
	OnConnectionChange(cb ConnFunc)
	MTU() int
	Poll()
}
