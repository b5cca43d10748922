package ports

import "github.com/bft-labs/opstream/internal/domain"

// ProcessResult is returned by Handler.Process.
type ProcessResult struct {
	// ImmediateNoOp asks for an acknowledgment to be sent right away.
	ImmediateNoOp bool
}

// Handler consumes ordered messages and signals.
// Process is called exactly once per sequence number, in increasing order.
type Handler interface {
	Process(msg *domain.SequencedMessage) (ProcessResult, error)
	ProcessSignal(signal domain.Signal) error
}
