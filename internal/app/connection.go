package app

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/bft-labs/opstream/internal/connection"
	"github.com/bft-labs/opstream/internal/domain"
	"github.com/bft-labs/opstream/internal/ports"
	"github.com/bft-labs/opstream/pkg/log"
)

// ConnectOptions tune a Connect call.
type ConnectOptions struct {
	// Mode requested; empty means the configured client mode.
	Mode domain.ConnectionMode
	// FetchOpsFromStorage starts a storage fetch alongside the connect when
	// a handler is attached. Nil means true.
	FetchOpsFromStorage *bool
	// Reason labels the fetch in logs.
	Reason string
}

type connectAttempt struct {
	done    chan struct{}
	details domain.ConnectionDetails
	err     error
}

// Connect returns the live connection's details, joining an attempt in
// flight or starting one. It blocks until the attempt settles or ctx ends;
// ending ctx does not stop the attempt.
func (m *DeltaManager) Connect(ctx context.Context, opts ConnectOptions) (domain.ConnectionDetails, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return domain.ConnectionDetails{}, domain.ErrClosed
	}
	if m.conn != nil {
		d := m.conn.Details()
		m.mu.Unlock()
		return d, nil
	}
	a := m.attempt
	if a == nil {
		a = m.startConnectLocked(opts)
	}
	m.mu.Unlock()

	select {
	case <-a.done:
		return a.details, a.err
	case <-ctx.Done():
		return domain.ConnectionDetails{}, ctx.Err()
	}
}

func (m *DeltaManager) startConnectLocked(opts ConnectOptions) *connectAttempt {
	fetch := opts.FetchOpsFromStorage == nil || *opts.FetchOpsFromStorage
	reason := opts.Reason
	if reason == "" {
		reason = "DocumentOpen"
	}

	mode := opts.Mode
	if mode == "" {
		mode = m.cfg.Client.Mode
	}
	// Unacked ops must be heard back on a write connection, or the host
	// cannot tell whether they made it.
	if m.tracker.HasUnacked() {
		mode = domain.ModeWrite
	}

	// Storage and stream race; the stream alone may never reveal a gap on
	// a read connection.
	if fetch && m.handler != nil {
		m.fetchMissingLocked(reason, m.tracker.LastQueued(), 0)
	}

	m.connectStart = m.clock.Now()
	a := &connectAttempt{done: make(chan struct{})}
	m.attempt = a
	_ = m.machine.TransitionTo(connection.StateConnecting, reason)

	go m.runConnect(a, mode)
	return a
}

func (m *DeltaManager) runConnect(a *connectAttempt, mode domain.ConnectionMode) {
	defer close(a.done)

	client := m.cfg.Client
	client.Mode = mode
	res, err := m.dialer.Dial(m.closeCtx, client)

	m.mu.Lock()
	if m.attempt == a {
		m.attempt = nil
	}
	if err == nil && m.closed {
		_ = res.Conn.Close()
		err = domain.ErrClosed
	}
	if err != nil {
		if m.closed {
			err = domain.ErrClosed
		} else {
			_ = m.machine.TransitionTo(connection.StateDisconnected, err.Error())
		}
		a.err = err
		m.mu.Unlock()
		if !errors.Is(err, domain.ErrClosed) {
			m.Close(domain.Wrap(err, false))
		}
		return
	}

	err = m.setupConnectionLocked(res.Conn, mode)
	a.details = res.Conn.Details()
	m.mu.Unlock()

	if err != nil {
		a.err = err
		m.Close(err)
	}
}

// setupConnectionLocked adopts a freshly opened connection.
func (m *DeltaManager) setupConnectionLocked(conn ports.Connection, requestedMode domain.ConnectionMode) error {
	d := conn.Details()

	// Asking for read may still yield write; asking for write and getting
	// read means the document is read-only.
	readonly := !d.Claims.HasScope(domain.ScopeDocWrite)
	if !(requestedMode == domain.ModeRead || readonly == (d.Mode == domain.ModeRead)) {
		_ = conn.Close()
		return domain.NewFatalError("claims/connectionMode mismatch")
	}
	if readonly && d.Mode != domain.ModeRead {
		_ = conn.Close()
		return domain.NewFatalError("readonly permissions with write connection")
	}
	// Batches never span connections.
	if m.outbox.HasPending() {
		_ = conn.Close()
		return domain.NewFatalError("message buffer is not empty on new connection")
	}

	m.conn = conn
	m.setReadonlyPermissionsLocked(readonly)
	m.emitDelayLocked(endpointStream, connectedDelay)
	_ = m.machine.TransitionTo(connection.StateConnected, "connected as "+string(d.Mode))

	m.outbound.SystemResume()
	go m.pump(conn)

	// Observers learn the client id before they see its own join op.
	m.notifier.Emit(ConnectEvent{Details: d})

	m.processInitialLocked(d)

	// A read connection has no join op of its own to reveal a gap.
	if m.handler != nil && d.Mode != domain.ModeWrite &&
		m.clock.Since(m.connectStart) > m.cfg.SlowConnectThreshold &&
		len(d.InitialMessages) == 0 {
		m.fetchMissingLocked("Reconnect", m.tracker.LastQueued(), 0)
	}

	m.firstConnection = false
	return nil
}

func (m *DeltaManager) processInitialLocked(d domain.ConnectionDetails) {
	if len(d.InitialMessages) > 0 {
		suffix := "ReconnectOps"
		if m.firstConnection {
			suffix = "InitialOps"
		}
		m.catchUpLocked(d.InitialMessages, suffix)
	}
	for _, s := range d.InitialSignals {
		m.inboundSignal.Push(s)
	}
}

// pump drains one connection's events until it is closed.
func (m *DeltaManager) pump(conn ports.Connection) {
	for ev := range conn.Events() {
		switch e := ev.(type) {
		case ports.OpEvent:
			m.enqueue(e.Messages, "OutOfOrderMessage")
		case ports.SignalEvent:
			m.mu.Lock()
			if !m.closed {
				m.inboundSignal.Push(e.Signal)
			}
			m.mu.Unlock()
		case ports.NackEvent:
			m.onNack(conn, e.Nack)
		case ports.DisconnectEvent:
			m.mu.Lock()
			auto := m.autoReconnect
			mode := m.cfg.Client.Mode
			m.mu.Unlock()
			m.reconnectOnError(conn, "Disconnect: "+e.Reason, mode, nil, auto)
		case ports.ErrorEvent:
			m.logger.Warn("delta connection error", log.Event("DeltaConnectionError"), log.Err(e.Err))
			m.reconnectOnError(conn, "Error: "+e.Err.Error(), m.cfg.Client.Mode, e.Err, true)
		case ports.PongEvent:
			m.notifier.Emit(PongEvent{Latency: e.Latency})
		}
	}
}

func (m *DeltaManager) onNack(conn ports.Connection, nack domain.Nack) {
	var msg, code string
	if nack.Content != nil {
		msg = nack.Content.Message
		code = strconv.Itoa(nack.Content.Code)
	}
	reason := "Nacked: " + msg
	m.metrics.Nacks.WithLabelValues(code).Inc()

	m.mu.Lock()
	readonlyPerms := m.readonlyPerms != nil && *m.readonlyPerms
	auto := m.autoReconnect
	mode := m.connectionModeLocked()
	m.mu.Unlock()

	if readonlyPerms {
		m.Close(domain.NewWriteError("WriteOnReadOnlyDocument"))
		return
	}
	if !connection.ShouldReconnectOnNack(nack.Content) {
		m.Close(domain.NewFatalError(reason))
		return
	}
	if !auto {
		m.logger.Error("nacked with auto reconnect off",
			log.Event("NackWithNoReconnect"),
			log.String("nackError", "reason: "+reason),
			log.String("mode", string(mode)),
		)
	}

	var err error
	if c := nack.Content; c != nil && c.RetryAfter > 0 {
		err = domain.NewThrottlingError(reason, time.Duration(c.RetryAfter)*time.Second)
	}
	// Always reconnect as a writer after a nack.
	m.reconnectOnError(conn, reason, domain.ModeWrite, err, true)
}

// reconnectOnError releases conn and, unless closing, connects again.
// Events from a connection that is no longer current are ignored.
func (m *DeltaManager) reconnectOnError(conn ports.Connection, reason string, mode domain.ConnectionMode, cause error, autoReconnect bool) {
	m.mu.Lock()
	if conn != m.conn {
		m.mu.Unlock()
		return
	}
	derr := m.disconnectLocked(reason)
	m.mu.Unlock()

	if derr != nil {
		m.Close(derr)
		return
	}

	critical := !domain.CanRetry(cause)
	if !m.cfg.Reconnect || critical {
		// Losing the connection is expected; only a critical cause is raised.
		var err error
		if cause != nil {
			err = domain.Wrap(cause, !critical)
		}
		m.close(err, critical)
	}

	if m.Closed() || !autoReconnect {
		return
	}

	if d, ok := domain.RetryDelay(cause); ok {
		m.mu.Lock()
		m.emitDelayLocked(endpointStream, d)
		m.mu.Unlock()
		if !m.sleep(d) {
			return
		}
	}

	noFetch := false
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.conn != nil || m.attempt != nil {
		return
	}
	m.metrics.Reconnects.Inc()
	m.startConnectLocked(ConnectOptions{Mode: mode, FetchOpsFromStorage: &noFetch, Reason: "Reconnect"})
}

// disconnectLocked releases the live connection, if any. A non-empty send
// buffer is reported as a fatal error after the connection is released.
func (m *DeltaManager) disconnectLocked(reason string) error {
	conn := m.conn
	if conn == nil {
		return nil
	}

	var err error
	if m.outbox.HasPending() {
		err = domain.NewFatalError("message buffer is not empty on disconnect")
		m.outbox.Reset()
	}

	m.conn = nil
	m.outbound.SystemPause()
	m.outbound.Clear()
	if !m.closed {
		_ = m.machine.TransitionTo(connection.StateDisconnected, reason)
	}
	m.notifier.Emit(DisconnectEvent{Reason: reason})

	_ = conn.Close()
	return err
}
