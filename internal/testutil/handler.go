package testutil

import (
	"sync"

	"github.com/bft-labs/opstream/internal/domain"
	"github.com/bft-labs/opstream/internal/ports"
)

// Handler records what a delta manager delivers.
type Handler struct {
	mu      sync.Mutex
	msgs    []domain.SequencedMessage
	signals []domain.Signal

	// Fail, when set, makes Process return its error for matching messages.
	Fail func(msg *domain.SequencedMessage) error
	// ImmediateNoOp, when set, is reported back for every message.
	ImmediateNoOp func(msg *domain.SequencedMessage) bool
}

// NewHandler creates a recording handler.
func NewHandler() *Handler {
	return &Handler{}
}

// Process implements ports.Handler.
func (h *Handler) Process(msg *domain.SequencedMessage) (ports.ProcessResult, error) {
	if h.Fail != nil {
		if err := h.Fail(msg); err != nil {
			return ports.ProcessResult{}, err
		}
	}
	h.mu.Lock()
	h.msgs = append(h.msgs, *msg)
	h.mu.Unlock()

	var res ports.ProcessResult
	if h.ImmediateNoOp != nil {
		res.ImmediateNoOp = h.ImmediateNoOp(msg)
	}
	return res, nil
}

// ProcessSignal implements ports.Handler.
func (h *Handler) ProcessSignal(sig domain.Signal) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.signals = append(h.signals, sig)
	return nil
}

// Messages returns every processed message.
func (h *Handler) Messages() []domain.SequencedMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.SequencedMessage(nil), h.msgs...)
}

// Sequences returns the processed sequence numbers in order.
func (h *Handler) Sequences() []int64 {
	return SequenceNumbers(h.Messages())
}

// Signals returns every processed signal.
func (h *Handler) Signals() []domain.Signal {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.Signal(nil), h.signals...)
}
