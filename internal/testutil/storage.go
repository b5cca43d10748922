// Package testutil provides in-memory fakes of the ports for tests.
package testutil

import (
	"context"
	"sync"

	"github.com/bft-labs/opstream/internal/domain"
	"github.com/bft-labs/opstream/internal/ports"
)

// Op returns a sequenced op from a remote client.
func Op(seq int64) domain.SequencedMessage {
	return domain.SequencedMessage{
		ClientID:       "remote",
		SequenceNumber: seq,
		Type:           domain.MessageTypeOp,
	}
}

// Ops returns ops from..to inclusive.
func Ops(from, to int64) []domain.SequencedMessage {
	var out []domain.SequencedMessage
	for s := from; s <= to; s++ {
		out = append(out, Op(s))
	}
	return out
}

// SequenceNumbers extracts sequence numbers.
func SequenceNumbers(msgs []domain.SequencedMessage) []int64 {
	out := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.SequenceNumber)
	}
	return out
}

// Range is a recorded storage request.
type Range struct {
	From, To int64
}

// MemoryStorage is an in-memory DeltaStorage and StorageProvider.
type MemoryStorage struct {
	mu       sync.Mutex
	messages map[int64]domain.SequencedMessage
	errs     []error
	requests []Range
	connects int

	// Gate, when set, blocks every Get until it yields or is closed.
	Gate chan struct{}
}

// NewMemoryStorage creates a storage holding msgs.
func NewMemoryStorage(msgs ...domain.SequencedMessage) *MemoryStorage {
	s := &MemoryStorage{messages: make(map[int64]domain.SequencedMessage)}
	s.Append(msgs...)
	return s
}

// Append stores msgs.
func (s *MemoryStorage) Append(msgs ...domain.SequencedMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		s.messages[m.SequenceNumber] = m
	}
}

// FailNext makes the next len(errs) requests fail in order.
func (s *MemoryStorage) FailNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, errs...)
}

// Requests returns every (from, to) requested so far.
func (s *MemoryStorage) Requests() []Range {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Range(nil), s.requests...)
}

// Connects counts ConnectToDeltaStorage calls.
func (s *MemoryStorage) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

// ConnectToDeltaStorage implements ports.StorageProvider.
func (s *MemoryStorage) ConnectToDeltaStorage(context.Context) (ports.DeltaStorage, error) {
	s.mu.Lock()
	s.connects++
	s.mu.Unlock()
	return s, nil
}

// Get implements ports.DeltaStorage.
func (s *MemoryStorage) Get(ctx context.Context, from, to int64) ([]domain.SequencedMessage, error) {
	if s.Gate != nil {
		select {
		case <-s.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, Range{From: from, To: to})
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}

	var out []domain.SequencedMessage
	for seq := from + 1; to <= 0 || seq < to; seq++ {
		m, ok := s.messages[seq]
		if !ok {
			break
		}
		out = append(out, m)
	}
	return out, nil
}
