// Package linkws is the websocket host-link transport. The module is
// the server; the paired host dials in. One client at a time; command
// and stream messages arrive as websocket messages and map 1:1 onto the
// transport's receive callback.
package linkws

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"canflow-go/types"
)

const mtu = 512

type Transport struct {
	log  zerolog.Logger
	addr string

	upgrader websocket.Upgrader
	srv      *http.Server

	mu        sync.Mutex
	conn      *websocket.Conn
	connected atomic.Bool

	rxCb   types.RxFunc
	connCb types.ConnFunc
}

func New(addr string, log zerolog.Logger) *Transport {
	return &Transport{
		log:  log.With().Str("svc", "linkws").Logger(),
		addr: addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (t *Transport) Begin(name string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/link", t.serve)
	mux.HandleFunc("/name", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(name))
	})

	t.srv = &http.Server{Addr: t.addr, Handler: mux}
	go func() {
		if err := t.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.log.Error().Err(err).Msg("listener failed")
		}
	}()

	t.log.Info().Str("addr", t.addr).Str("name", name).Msg("listening")
	return nil
}

// serve owns one client connection; its read loop is the transport's
// single callback goroutine.
func (t *Transport) serve(w http.ResponseWriter, r *http.Request) {
	t.mu.Lock()
	busy := t.conn != nil
	t.mu.Unlock()
	if busy {
		http.Error(w, "link busy", http.StatusConflict)
		return
	}

	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	t.connected.Store(true)
	if t.connCb != nil {
		t.connCb(true)
	}
	t.log.Info().Str("peer", conn.RemoteAddr().String()).Msg("host connected")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if t.rxCb != nil {
			t.rxCb(data)
		}
	}

	t.mu.Lock()
	t.conn = nil
	t.mu.Unlock()
	t.connected.Store(false)
	conn.Close()
	if t.connCb != nil {
		t.connCb(false)
	}
	t.log.Info().Msg("host disconnected")
}

func (t *Transport) IsConnected() bool { return t.connected.Load() }

func (t *Transport) send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil // unconnected sends are dropped, as on the radio link
	}
	return t.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (t *Transport) Send(data []byte) error       { return t.send(data) }
func (t *Transport) SendStatus(data []byte) error { return t.send(data) }

func (t *Transport) OnReceive(cb types.RxFunc)            { t.rxCb = cb }
func (t *Transport) OnConnectionChange(cb types.ConnFunc) { t.connCb = cb }

func (t *Transport) MTU() int { return mtu }

// Poll is a no-op; the read loop runs on its own goroutine.
func (t *Transport) Poll() {}

// Close tears the listener down (host runner shutdown path).
func (t *Transport) Close() error {
	if t.srv == nil {
		return nil
	}
	return t.srv.Close()
}
