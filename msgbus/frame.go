package msgbus

import (
	jsoniter "github.com/json-iterator/go"
)

// Frame types on the wire.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameHeartbeat   = "heartbeat"
	FrameEvent       = "event"
	FrameAck         = "ack"
)

var wire = jsoniter.ConfigCompatibleWithStandardLibrary

// Request is an outbound control frame.
type Request struct {
	ID      string      `json:"id"`
	Type    string      `json:"type"`
	Channel string      `json:"channel,omitempty"`
	Filter  interface{} `json:"filter,omitempty"`
}

// Inbound is any frame received from the server: an event push when Type is
// "event", otherwise a reply correlated by ReplyID.
type Inbound struct {
	Type    string              `json:"type"`
	Channel string              `json:"channel,omitempty"`
	ReplyID string              `json:"replyId,omitempty"`
	Payload jsoniter.RawMessage `json:"payload,omitempty"`
}

type replyErrorPayload struct {
	Message string `json:"message"`
}

// Payload is the raw JSON payload of an event.
type Payload []byte

// Decode unmarshals the payload into value.
func (payload Payload) Decode(value interface{}) error {
	return wire.Unmarshal(payload, value)
}

// String returns the payload as JSON text.
func (payload Payload) String() string { return string(payload) }

// Handler receives the payload of each event pushed to a subscribed channel.
type Handler func(payload Payload)

func encodeRequest(request Request) ([]byte, error) {
	return wire.Marshal(request)
}

func decodeInbound(data []byte) (Inbound, error) {
	var frame Inbound
	err := wire.Unmarshal(data, &frame)
	return frame, err
}

// failureMessage extracts payload.message from a failed reply.
func (frame Inbound) failureMessage() string {
	if len(frame.Payload) == 0 {
		return ""
	}
	var payload replyErrorPayload
	if err := wire.Unmarshal(frame.Payload, &payload); err != nil {
		return ""
	}
	return payload.Message
}
