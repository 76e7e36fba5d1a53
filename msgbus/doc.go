// Package msgbus provides a resilient pub/sub client riding on a single duplex
// message transport (a websocket by default).
//
// The primary lifecycle is:
//   - construct a Bus with New; it starts connecting immediately
//   - register lifecycle hooks with On (connected, reconnecting, closed)
//   - Subscribe to channels; events are delivered to the channel Handler
//   - Unsubscribe when no longer interested
//   - Close when finished
//
// Subscribe and Unsubscribe send a control frame carrying a correlation id and
// complete when the server replies with the same id: an "ack" succeeds, any
// other reply type fails with the server's message. A subscription becomes
// active only after its acknowledgement.
//
// When the transport closes uncleanly the bus reconnects after a backoff
// delay, replays every active subscription and then flushes, in order, the
// frames submitted while disconnected. Requests that were already on the wire
// when the connection dropped fail with ErrConnectionLost; Close fails every
// outstanding request with ErrConnectionClosed.
//
// A heartbeat frame is sent whenever the connection has been idle for longer
// than Config.KeepAliveTimeout. Any sent or received frame counts as activity.
//
// Errors are *Error values created with NewError and compare with errors.Is by
// code: ErrAlreadySubscribed and ErrNotSubscribed for misuse detected before
// any network interaction, ServerError for rejected requests, and
// ErrConnectionLost / ErrConnectionClosed for requests abandoned by the
// connection. Malformed inbound frames and transport errors are only logged.
package msgbus
