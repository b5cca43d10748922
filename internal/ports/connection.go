package ports

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bft-labs/opstream/internal/domain"
)

// ConnectionProvider opens live delta stream connections.
type ConnectionProvider interface {
	// Open negotiates a connection for client. The returned error is
	// classified with domain.CanRetry and domain.RetryDelay.
	Open(ctx context.Context, client domain.Client) (Connection, error)
}

// Connection is one live delta stream.
//
// Events delivers everything the server pushes. The channel is closed once
// the connection is closed; Close never waits for the consumer.
type Connection interface {
	Details() domain.ConnectionDetails
	Events() <-chan Event
	Submit(messages []domain.DocumentMessage) error
	SubmitSignal(content json.RawMessage) error
	Close() error
}

// Event is a server-pushed connection event.
type Event interface {
	connectionEvent()
}

// OpEvent carries sequenced messages in server order.
type OpEvent struct {
	Messages []domain.SequencedMessage
}

// SignalEvent carries a transient signal.
type SignalEvent struct {
	Signal domain.Signal
}

// NackEvent reports a rejected submission.
type NackEvent struct {
	Nack domain.Nack
}

// DisconnectEvent reports that the server or transport ended the stream.
type DisconnectEvent struct {
	Reason string
}

// ErrorEvent reports a transport failure.
type ErrorEvent struct {
	Err error
}

// PongEvent reports round-trip latency of a keepalive.
type PongEvent struct {
	Latency time.Duration
}

func (OpEvent) connectionEvent()         {}
func (SignalEvent) connectionEvent()     {}
func (NackEvent) connectionEvent()       {}
func (DisconnectEvent) connectionEvent() {}
func (ErrorEvent) connectionEvent()      {}
func (PongEvent) connectionEvent()       {}
