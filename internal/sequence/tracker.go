// Package sequence holds the sequence-number bookkeeping of a delta manager.
//
// Nothing here is safe for concurrent use; the owner serializes access.
package sequence

import (
	"fmt"

	"github.com/bft-labs/opstream/internal/domain"
)

// Class is the ordering classification of an inbound message.
type Class int

const (
	Duplicate Class = iota
	InOrder
	Gap
)

func (c Class) String() string {
	switch c {
	case Duplicate:
		return "duplicate"
	case InOrder:
		return "in-order"
	case Gap:
		return "gap"
	default:
		return fmt.Sprintf("Class(%d)", int(c))
	}
}

// Tracker tracks processed, queued and locally generated sequence numbers.
type Tracker struct {
	initial    int64
	base       int64
	minimum    int64
	lastQueued int64

	clientSequence         int64
	clientSequenceObserved int64
	lastSubmittedClientID  string
}

// Init sets the starting point, normally from a snapshot.
func (t *Tracker) Init(minSeq, seq int64) {
	t.initial = seq
	t.base = seq
	t.minimum = minSeq
	t.lastQueued = seq
}

func (t *Tracker) Initial() int64    { return t.initial }
func (t *Tracker) Base() int64       { return t.base }
func (t *Tracker) Minimum() int64    { return t.minimum }
func (t *Tracker) LastQueued() int64 { return t.lastQueued }

// ClientSequence is the last client sequence number generated.
func (t *Tracker) ClientSequence() int64 { return t.clientSequence }

// ClientSequenceObserved is the last local client sequence number seen echoed.
func (t *Tracker) ClientSequenceObserved() int64 { return t.clientSequenceObserved }

// LastSubmittedClientID is the client id used by the last submission.
func (t *Tracker) LastSubmittedClientID() string { return t.lastSubmittedClientID }

// Classify compares seq to the last queued sequence number.
func (t *Tracker) Classify(seq int64) Class {
	switch {
	case seq <= t.lastQueued:
		return Duplicate
	case seq == t.lastQueued+1:
		return InOrder
	default:
		return Gap
	}
}

// MarkQueued records seq as enqueued for processing.
func (t *Tracker) MarkQueued(seq int64) {
	t.lastQueued = seq
}

// Accept advances the minimum and base sequence numbers for a message about
// to be processed.
func (t *Tracker) Accept(msg *domain.SequencedMessage) error {
	if msg.MinimumSequenceNumber < t.minimum {
		return domain.NewSequencingError("msn moves backwards: %d < %d", msg.MinimumSequenceNumber, t.minimum)
	}
	if msg.SequenceNumber != t.base+1 {
		return domain.NewSequencingError("non-sequential sequence number: got %d, want %d", msg.SequenceNumber, t.base+1)
	}
	t.minimum = msg.MinimumSequenceNumber
	t.base = msg.SequenceNumber
	return nil
}

// ObserveLocal checks the echo of a message this client submitted.
// liveClientID is the id of the current connection, or empty when
// disconnected. allAcked is true when the echo acknowledges the last
// generated client sequence number.
func (t *Tracker) ObserveLocal(msg *domain.SequencedMessage, liveClientID string) (allAcked bool, err error) {
	if liveClientID != "" && liveClientID == msg.ClientID && t.lastSubmittedClientID != msg.ClientID {
		return false, domain.NewSequencingError("local message from %q not accounted for", msg.ClientID)
	}
	if t.lastSubmittedClientID == "" || t.lastSubmittedClientID != msg.ClientID {
		return false, nil
	}

	csn := msg.ClientSequenceNumber
	if csn <= t.clientSequenceObserved {
		return false, domain.NewSequencingError("client sequence number not growing: %d <= %d", csn, t.clientSequenceObserved)
	}
	if csn > t.clientSequence {
		return false, domain.NewSequencingError("local client sequence number %d exceeds generated %d", csn, t.clientSequence)
	}
	t.clientSequenceObserved = csn
	return csn == t.clientSequence, nil
}

// NextClientSequence returns the next client sequence number for a
// submission made as clientID. Counters restart when the identity changes.
func (t *Tracker) NextClientSequence(clientID string) int64 {
	if clientID != t.lastSubmittedClientID {
		t.lastSubmittedClientID = clientID
		t.clientSequence = 0
		t.clientSequenceObserved = 0
	}
	t.clientSequence++
	return t.clientSequence
}

// HasUnacked reports whether submitted messages have not been echoed yet.
func (t *Tracker) HasUnacked() bool {
	return t.clientSequenceObserved != t.clientSequence
}
