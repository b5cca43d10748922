package app

import "github.com/bft-labs/opstream/internal/domain"

// outbox buffers outbound messages until they are flushed as one batch.
type outbox struct {
	msgs       []domain.DocumentMessage
	totalBytes int
}

// Add appends msg to the pending batch.
func (o *outbox) Add(msg domain.DocumentMessage) {
	o.msgs = append(o.msgs, msg)
	o.totalBytes += len(msg.Contents) + len(msg.Data) + len(msg.Metadata)
}

// Take returns the pending batch and resets the outbox.
func (o *outbox) Take() []domain.DocumentMessage {
	batch := o.msgs
	o.Reset()
	return batch
}

// Reset clears the batch.
func (o *outbox) Reset() {
	o.msgs = nil
	o.totalBytes = 0
}

// Len returns the number of buffered messages.
func (o *outbox) Len() int { return len(o.msgs) }

// HasPending returns true if there are messages waiting to be flushed.
func (o *outbox) HasPending() bool { return len(o.msgs) > 0 }

// TotalBytes is the payload size of the pending batch.
func (o *outbox) TotalBytes() int { return o.totalBytes }
