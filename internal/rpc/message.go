package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Request is the body of every command sent over the bus.
type Request struct {
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Reply carries either Data or Error back to the caller's ReplyTo queue.
type Reply struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Error *ReplyError     `json:"error,omitempty"`
}

// ReplyError is the client-safe error shape: an HTTP-like status class and
// a message that never contains internal detail.
type ReplyError struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

var ErrTimeout = errors.New("rpc timeout")

// RemoteError is returned by Client.Call when the peer replied with an error.
type RemoteError struct {
	Command string
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: peer replied %d: %s", e.Command, e.Status, e.Message)
}
