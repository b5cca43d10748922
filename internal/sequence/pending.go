package sequence

import (
	"cmp"
	"slices"

	"github.com/bft-labs/opstream/internal/domain"
)

// Pending buffers messages received out of order or before a handler was
// attached.
type Pending struct {
	msgs []domain.SequencedMessage
}

// Add buffers msgs.
func (p *Pending) Add(msgs ...domain.SequencedMessage) {
	p.msgs = append(p.msgs, msgs...)
}

// Len returns the number of buffered messages.
func (p *Pending) Len() int { return len(p.msgs) }

// Drain empties the buffer and returns its messages sorted by sequence
// number.
func (p *Pending) Drain() []domain.SequencedMessage {
	out := p.msgs
	p.msgs = nil
	slices.SortStableFunc(out, func(a, b domain.SequencedMessage) int {
		return cmp.Compare(a.SequenceNumber, b.SequenceNumber)
	})
	return out
}

// Reset discards everything.
func (p *Pending) Reset() { p.msgs = nil }

// Range is a half-open (From, To) range of missing sequence numbers.
type Range struct {
	From int64
	To   int64
}

// Duplicates summarizes dropped duplicates.
type Duplicates struct {
	Count int
	Start int64
	End   int64
}

// Result is the outcome of Sort.
type Result struct {
	// Queued are the in-order messages, ready for processing.
	Queued []domain.SequencedMessage
	// Gap is the first gap found, if any.
	Gap        *Range
	Duplicates Duplicates
}

// Sort classifies msgs in order. In-order messages are marked queued and
// returned, gapped messages go to p, duplicates are counted and dropped.
func (t *Tracker) Sort(msgs []domain.SequencedMessage, p *Pending) Result {
	var res Result
	for _, m := range msgs {
		switch t.Classify(m.SequenceNumber) {
		case Duplicate:
			d := &res.Duplicates
			if d.Count == 0 || m.SequenceNumber < d.Start {
				d.Start = m.SequenceNumber
			}
			if d.Count == 0 || m.SequenceNumber > d.End {
				d.End = m.SequenceNumber
			}
			d.Count++
		case Gap:
			p.Add(m)
			if res.Gap == nil {
				res.Gap = &Range{From: t.lastQueued, To: m.SequenceNumber}
			}
		case InOrder:
			t.MarkQueued(m.SequenceNumber)
			res.Queued = append(res.Queued, m)
		}
	}
	return res
}
