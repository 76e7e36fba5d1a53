// Package transport defines the duplex message transport capability the bus
// rides on. Implementations adapt a concrete socket (for example a websocket)
// and report lifecycle notifications through a Listener.
package transport

// Listener receives transport notifications. Implementations may call the
// methods from any goroutine but never concurrently for one transport.
type Listener interface {
	// OnOpen reports that the transport is ready for Send.
	OnOpen()
	// OnMessage delivers one inbound frame.
	OnMessage(data []byte)
	// OnClose reports the end of the transport. clean is true when the
	// closure was requested and acknowledged as graceful.
	OnClose(clean bool)
	// OnError reports a transport failure. It carries no state change; an
	// OnClose follows when the failure ends the transport.
	OnError(err error)
}

// Transport is one connection attempt. A Transport is opened at most once and
// discarded after it closes.
type Transport interface {
	// Open starts connecting to url without blocking. The outcome is reported
	// through listener as OnOpen or OnClose(false).
	Open(url string, listener Listener) error
	// Send writes one frame. It fails unless the transport is open.
	Send(data []byte) error
	// Close requests a graceful close. It does not wait for acknowledgement.
	Close() error
}

// Factory creates a fresh Transport for each connection attempt.
type Factory func() Transport
