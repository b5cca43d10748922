package app

import (
	"time"

	"github.com/bft-labs/opstream/internal/domain"
)

// Event is a notification delivered to observers.
// Name returns the stable event name.
type Event interface {
	Name() string
}

// ConnectEvent is emitted once a connection is set up.
type ConnectEvent struct {
	Details domain.ConnectionDetails
}

// DisconnectEvent is emitted when the live connection is released.
type DisconnectEvent struct {
	Reason string
}

// ErrorEvent reports an error, including throttling notices.
type ErrorEvent struct {
	Err error
}

// ReadonlyEvent is emitted when the effective read-only state changes.
type ReadonlyEvent struct {
	Readonly bool
}

// ClosedEvent is the last event a manager ever emits.
type ClosedEvent struct {
	Err error
}

// SubmitOpEvent is emitted for every submitted message.
type SubmitOpEvent struct {
	Message domain.DocumentMessage
}

// BeforeOpProcessingEvent is emitted right before the handler sees a message.
type BeforeOpProcessingEvent struct {
	Message domain.SequencedMessage
}

// AllSentOpsAckdEvent is emitted when the last submitted op is echoed back.
type AllSentOpsAckdEvent struct{}

// PongEvent carries keepalive latency.
type PongEvent struct {
	Latency time.Duration
}

// ProcessTimeEvent carries how long one message took to process.
type ProcessTimeEvent struct {
	Duration time.Duration
}

// PrepareSendEvent is emitted with a batch about to be queued for sending.
type PrepareSendEvent struct {
	Messages []domain.DocumentMessage
}

func (ConnectEvent) Name() string            { return "connect" }
func (DisconnectEvent) Name() string         { return "disconnect" }
func (ErrorEvent) Name() string              { return "error" }
func (ReadonlyEvent) Name() string           { return "readonly" }
func (ClosedEvent) Name() string             { return "closed" }
func (SubmitOpEvent) Name() string           { return "submitOp" }
func (BeforeOpProcessingEvent) Name() string { return "beforeOpProcessing" }
func (AllSentOpsAckdEvent) Name() string     { return "allSentOpsAckd" }
func (PongEvent) Name() string               { return "pong" }
func (ProcessTimeEvent) Name() string        { return "processTime" }
func (PrepareSendEvent) Name() string        { return "prepareSend" }
