package app

import (
	"errors"

	"github.com/benbjohnson/clock"

	"github.com/bft-labs/opstream/internal/catchup"
	"github.com/bft-labs/opstream/internal/domain"
	"github.com/bft-labs/opstream/pkg/log"
)

func (m *DeltaManager) enqueue(msgs []domain.SequencedMessage, suffix string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueueLocked(msgs, suffix)
}

// enqueueLocked is the single entry point of live, initial and fetched ops.
func (m *DeltaManager) enqueueLocked(msgs []domain.SequencedMessage, suffix string) {
	if m.closed {
		return
	}
	// Before a handler is attached the starting point is unknown.
	if m.handler == nil {
		m.pending.Add(msgs...)
		return
	}

	res := m.tracker.Sort(msgs, &m.pending)
	for _, msg := range res.Queued {
		m.inbound.Push(msg)
	}
	if res.Gap != nil {
		m.fetchMissingLocked(suffix, res.Gap.From, res.Gap.To)
	}
	if d := res.Duplicates; d.Count > 0 {
		m.metrics.DuplicateOps.Add(float64(d.Count))
		m.logger.Debug("dropped duplicate messages",
			log.Event("DuplicateMessages_"+suffix),
			log.Int64("start", d.Start),
			log.Int64("end", d.End),
			log.Int("count", d.Count),
		)
	}
}

func (m *DeltaManager) catchUpLocked(msgs []domain.SequencedMessage, suffix string) {
	fields := []log.Field{
		log.Event("CatchUp_" + suffix),
		log.Int("messageCount", len(msgs)),
		log.Int("pendingCount", m.pending.Len()),
	}
	if len(msgs) > 0 {
		from := msgs[0].SequenceNumber
		fields = append(fields,
			log.Int64("from", from),
			log.Int64("to", msgs[len(msgs)-1].SequenceNumber),
		)
		if m.handler != nil {
			fields = append(fields, log.Int64("messageGap", from-m.tracker.LastQueued()-1))
		}
	}
	m.logger.Debug("catching up", fields...)

	m.catchUpCoreLocked(msgs, suffix)
}

func (m *DeltaManager) catchUpCoreLocked(msgs []domain.SequencedMessage, suffix string) {
	m.enqueueLocked(msgs, suffix)

	// Retry everything buffered; catching up is rare enough not to bother
	// stopping at the first remaining gap.
	if m.handler != nil && m.pending.Len() > 0 {
		m.enqueueLocked(m.pending.Drain(), suffix)
	}
}

// fetchMissingLocked starts fetching (from, to) unless a fetch is running.
func (m *DeltaManager) fetchMissingLocked(reason string, from, to int64) {
	if m.closed {
		m.logger.Debug("fetch skipped on closed manager", log.Event("fetchMissingDeltasClosedConnection"))
		return
	}
	req := catchup.Request{From: from, To: to, Reason: reason}
	if m.fetcher.Start(m.closeCtx, req, m.deliverFetched(reason), m.fetchDone(reason)) {
		m.metrics.GapFetches.Inc()
	}
}

func (m *DeltaManager) deliverFetched(reason string) func([]domain.SequencedMessage) {
	return func(msgs []domain.SequencedMessage) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed {
			return
		}
		m.emitDelayLocked(endpointStorage, connectedDelay)
		m.metrics.OpsFetched.Add(float64(len(msgs)))
		m.catchUpCoreLocked(msgs, reason)
	}
}

func (m *DeltaManager) fetchDone(reason string) func(error) {
	return func(err error) {
		if err != nil {
			if !errors.Is(err, domain.ErrClosed) {
				m.Close(domain.Wrap(err, false))
			}
			return
		}

		// A gap found while this fetch was running could not start its own.
		m.mu.Lock()
		defer m.mu.Unlock()
		if !m.closed && m.handler != nil && m.pending.Len() > 0 {
			m.catchUpCoreLocked(nil, reason)
		}
	}
}

// processInbound runs on the inbound queue goroutine, one message at a time.
func (m *DeltaManager) processInbound(msg domain.SequencedMessage) error {
	start := m.clock.Now()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}

	// Only system messages may lack a client id.
	if msg.ClientID == "" && !domain.IsSystemMessage(&msg) {
		m.mu.Unlock()
		return domain.NewSequencingError("non-system message %d has no client id", msg.SequenceNumber)
	}

	live := ""
	if m.conn != nil {
		live = m.conn.Details().ClientID
	}
	allAcked, err := m.tracker.ObserveLocal(&msg, live)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if allAcked {
		m.notifier.Emit(AllSentOpsAckdEvent{})
	}

	if len(msg.Traces) > 0 {
		msg.Traces = append(msg.Traces[:len(msg.Traces):len(msg.Traces)], domain.Trace{
			Service:   m.cfg.Client.Details.Type,
			Action:    "end",
			Timestamp: m.clock.Now().UnixMilli(),
		})
	}

	if err := m.tracker.Accept(&msg); err != nil {
		m.mu.Unlock()
		return err
	}
	handler := m.handler
	m.notifier.Emit(BeforeOpProcessingEvent{Message: msg})
	m.mu.Unlock()

	result, err := handler.Process(&msg)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if !m.closed {
		m.scheduleNoOpLocked(&msg, result.ImmediateNoOp)
	}
	m.mu.Unlock()

	elapsed := m.clock.Since(start)
	m.metrics.OpsProcessed.Inc()
	m.metrics.ProcessDuration.Observe(elapsed.Seconds())
	m.notifier.Emit(ProcessTimeEvent{Duration: elapsed})
	return nil
}

func (m *DeltaManager) processSignal(sig domain.Signal) error {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h == nil {
		return nil
	}
	return h.ProcessSignal(sig)
}

func (m *DeltaManager) processOutbound(batch []domain.DocumentMessage) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()

	// Ops are dropped with the connection; the host resubmits them.
	if conn == nil {
		m.logger.Debug("dropping batch without connection", log.Int("messages", len(batch)))
		return nil
	}
	return conn.Submit(batch)
}

// scheduleNoOpLocked acknowledges processed ops so the service can advance
// the minimum sequence number.
func (m *DeltaManager) scheduleNoOpLocked(msg *domain.SequencedMessage, immediate bool) {
	// Inactive clients take no part in the minimum sequence number.
	if !m.activeLocked() {
		m.stopNoOpLocked()
		return
	}

	if immediate {
		m.stopNoOpLocked()
		_, _ = m.submitLocked(domain.MessageTypeNoOp, immediateNoOpContents, false, nil)
		return
	}

	// Acking a no-op would ack the ack.
	if msg.Type == domain.MessageTypeNoOp {
		return
	}

	if m.noopTimer != nil {
		return
	}
	var t *clock.Timer
	t = m.clock.AfterFunc(m.cfg.NoOpDelay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.noopTimer != t {
			return
		}
		m.noopTimer = nil
		if m.activeLocked() {
			_, _ = m.submitLocked(domain.MessageTypeNoOp, nil, false, nil)
		}
	})
	m.noopTimer = t
}

func (m *DeltaManager) stopNoOpLocked() {
	if m.noopTimer != nil {
		m.noopTimer.Stop()
		m.noopTimer = nil
	}
}
