package cli

import (
	"context"
	"sync"

	"github.com/bft-labs/opstream/internal/domain"
	"github.com/bft-labs/opstream/internal/ports"
	"github.com/bft-labs/opstream/pkg/log"
)

// checkpointEvery is how many processed ops pass between checkpoint saves.
const checkpointEvery = 100

// printHandler prints every op and keeps the checkpoint of the last one.
type printHandler struct {
	out    formatter
	store  ports.CheckpointStore
	logger log.Logger

	mu        sync.Mutex
	cp        domain.Checkpoint
	unsaved   int
	processed int
}

func newPrintHandler(out formatter, store ports.CheckpointStore, cp domain.Checkpoint, logger log.Logger) *printHandler {
	return &printHandler{out: out, store: store, cp: cp, logger: log.OrNoop(logger)}
}

func (h *printHandler) Process(msg *domain.SequencedMessage) (ports.ProcessResult, error) {
	if err := h.out.Op(msg); err != nil {
		return ports.ProcessResult{}, err
	}

	h.mu.Lock()
	h.cp.SequenceNumber = msg.SequenceNumber
	h.cp.MinimumSequenceNumber = msg.MinimumSequenceNumber
	h.processed++
	h.unsaved++
	save := h.unsaved >= checkpointEvery
	h.mu.Unlock()

	if save {
		h.flush(context.Background())
	}
	return ports.ProcessResult{}, nil
}

func (h *printHandler) ProcessSignal(sig domain.Signal) error {
	return h.out.Signal(sig)
}

// flush saves the checkpoint if anything was processed since the last save.
func (h *printHandler) flush(ctx context.Context) {
	h.mu.Lock()
	cp := h.cp
	dirty := h.unsaved > 0
	h.unsaved = 0
	h.mu.Unlock()

	if h.store == nil || !dirty {
		return
	}
	if err := h.store.Save(ctx, cp); err != nil {
		h.logger.Warn("save checkpoint failed", log.Int64("sequenceNumber", cp.SequenceNumber), log.Err(err))
		return
	}
	h.logger.Debug("checkpoint saved", log.Int64("sequenceNumber", cp.SequenceNumber))
}

func (h *printHandler) checkpoint() domain.Checkpoint {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cp
}

func (h *printHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.processed
}
