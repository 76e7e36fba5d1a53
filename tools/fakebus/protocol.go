package main

import (
	jsoniter "github.com/json-iterator/go"
)

const (
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	frameHeartbeat   = "heartbeat"
	frameEvent       = "event"
	frameAck         = "ack"
	frameError       = "error"
)

// request is a client control frame.
type request struct {
	ID      string      `json:"id"`
	Type    string      `json:"type"`
	Channel string      `json:"channel,omitempty"`
	Filter  interface{} `json:"filter,omitempty"`
}

type reply struct {
	ReplyID string       `json:"replyId"`
	Type    string       `json:"type"`
	Payload *failureBody `json:"payload,omitempty"`
}

type failureBody struct {
	Message string `json:"message"`
}

type event struct {
	Type    string              `json:"type"`
	Channel string              `json:"channel"`
	Payload jsoniter.RawMessage `json:"payload"`
}

func ackFrame(id string) ([]byte, error) {
	return wire.Marshal(reply{ReplyID: id, Type: frameAck})
}

func errorFrame(id string, message string) ([]byte, error) {
	return wire.Marshal(reply{ReplyID: id, Type: frameError, Payload: &failureBody{Message: message}})
}

func eventFrame(channel string, payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		payload = []byte("null")
	}
	return wire.Marshal(event{Type: frameEvent, Channel: channel, Payload: payload})
}
