// Package wstransport implements the bus transport over gorilla/websocket.
package wstransport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Thejuampi/msgbus-client-go/msgbus/transport"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultCloseTimeout     = 5 * time.Second
)

// ErrNotOpen is returned by Send before the handshake completes or after close.
var ErrNotOpen = errors.New("websocket transport is not open")

// Options tunes the websocket transport. Zero values select defaults.
type Options struct {
	// Dialer overrides the websocket dialer. When nil a copy of
	// websocket.DefaultDialer with HandshakeTimeout is used.
	Dialer           *websocket.Dialer
	Header           http.Header
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// CloseTimeout bounds how long Close waits for the peer's close frame
	// before the read side is torn down.
	CloseTimeout time.Duration
}

// NewFactory returns a transport.Factory producing websocket transports.
func NewFactory(opts Options) transport.Factory {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = defaultCloseTimeout
	}
	if opts.Dialer == nil {
		dialer := *websocket.DefaultDialer
		dialer.HandshakeTimeout = opts.HandshakeTimeout
		opts.Dialer = &dialer
	}
	return func() transport.Transport {
		return &Conn{opts: opts}
	}
}

// Conn is a single websocket connection attempt.
type Conn struct {
	opts Options

	lock    sync.Mutex
	ws      *websocket.Conn
	opened  bool
	closing bool
	cancel  context.CancelFunc
}

// Open dials url in the background and reports the outcome to listener.
func (conn *Conn) Open(url string, listener transport.Listener) error {
	conn.lock.Lock()
	if conn.opened {
		conn.lock.Unlock()
		return errors.New("websocket transport already opened")
	}
	conn.opened = true
	ctx, cancel := context.WithCancel(context.Background())
	conn.cancel = cancel
	conn.lock.Unlock()

	go conn.run(ctx, url, listener)
	return nil
}

func (conn *Conn) run(ctx context.Context, url string, listener transport.Listener) {
	ws, response, err := conn.opts.Dialer.DialContext(ctx, url, conn.opts.Header)
	if response != nil && response.Body != nil {
		_ = response.Body.Close()
	}
	if err != nil {
		clean := conn.isClosing()
		if !clean {
			listener.OnError(err)
		}
		listener.OnClose(clean)
		return
	}

	conn.lock.Lock()
	if conn.closing {
		conn.lock.Unlock()
		_ = ws.Close()
		listener.OnClose(true)
		return
	}
	conn.ws = ws
	conn.lock.Unlock()

	listener.OnOpen()
	conn.readLoop(ws, listener)
}

func (conn *Conn) readLoop(ws *websocket.Conn, listener transport.Listener) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			clean := conn.isClosing() || websocket.IsCloseError(err, websocket.CloseNormalClosure)
			if !clean {
				listener.OnError(err)
			}
			conn.lock.Lock()
			conn.ws = nil
			conn.lock.Unlock()
			_ = ws.Close()
			listener.OnClose(clean)
			return
		}
		listener.OnMessage(data)
	}
}

func (conn *Conn) isClosing() bool {
	conn.lock.Lock()
	defer conn.lock.Unlock()
	return conn.closing
}

// Send writes data as one text message.
func (conn *Conn) Send(data []byte) error {
	conn.lock.Lock()
	defer conn.lock.Unlock()
	if conn.ws == nil || conn.closing {
		return ErrNotOpen
	}
	if err := conn.ws.SetWriteDeadline(time.Now().Add(conn.opts.WriteTimeout)); err != nil {
		return err
	}
	return conn.ws.WriteMessage(websocket.TextMessage, data)
}

// Close sends a normal-closure close frame and returns without waiting for
// the peer. An in-flight dial is cancelled.
func (conn *Conn) Close() error {
	conn.lock.Lock()
	defer conn.lock.Unlock()
	if conn.closing {
		return nil
	}
	conn.closing = true
	if conn.cancel != nil {
		conn.cancel()
	}
	if conn.ws == nil {
		return nil
	}
	deadline := time.Now().Add(conn.opts.CloseTimeout)
	err := conn.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		deadline,
	)
	_ = conn.ws.SetReadDeadline(deadline)
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		_ = conn.ws.Close()
		return err
	}
	return nil
}
