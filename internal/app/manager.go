package app

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/bft-labs/opstream/internal/catchup"
	"github.com/bft-labs/opstream/internal/connection"
	"github.com/bft-labs/opstream/internal/domain"
	"github.com/bft-labs/opstream/internal/metrics"
	"github.com/bft-labs/opstream/internal/ports"
	"github.com/bft-labs/opstream/internal/queue"
	"github.com/bft-labs/opstream/internal/sequence"
	"github.com/bft-labs/opstream/pkg/log"
)

// immediateNoOpContents marks a no-op sent on the handler's request.
var immediateNoOpContents = json.RawMessage(`""`)

// Deps are the collaborators of a delta manager.
type Deps struct {
	Connections ports.ConnectionProvider
	Storage     ports.StorageProvider
	Logger      log.Logger
	Clock       clock.Clock
	Metrics     *metrics.Metrics

	// PrepareSend may amend a batch right before it is queued for sending.
	// It runs under the manager lock and must not call back into it.
	PrepareSend func(batch []domain.DocumentMessage) []domain.DocumentMessage
}

// DeltaManager orders the delta stream of one document and keeps a
// connection to it alive.
type DeltaManager struct {
	cfg         Config
	logger      log.Logger
	clock       clock.Clock
	metrics     *metrics.Metrics
	prepareSend func([]domain.DocumentMessage) []domain.DocumentMessage

	notifier *notifier
	fetcher  *catchup.Fetcher
	dialer   *connection.Dialer
	machine  *connection.Machine

	inbound       *queue.Queue[domain.SequencedMessage]
	inboundSignal *queue.Queue[domain.Signal]
	outbound      *queue.Queue[[]domain.DocumentMessage]

	// closeCtx ends when the manager closes.
	closeCtx context.Context
	cancel   context.CancelFunc

	mu              sync.Mutex
	tracker         sequence.Tracker
	pending         sequence.Pending
	handler         ports.Handler
	conn            ports.Connection
	attempt         *connectAttempt
	outbox          outbox
	readonlyPerms   *bool
	forceReadonly   bool
	inQuorum        bool
	autoReconnect   bool
	closed          bool
	noopTimer       *clock.Timer
	throttle        throttle
	connectStart    time.Time
	firstConnection bool
}

// New creates a delta manager. Nothing happens until Connect or
// AttachHandler is called.
func New(cfg Config, deps Deps) *DeltaManager {
	cfg.SetDefaults()

	logger := log.OrNoop(deps.Logger).With(log.Component("deltamanager"))
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.New(nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	dm := &DeltaManager{
		cfg:             cfg,
		logger:          logger,
		clock:           clk,
		metrics:         m,
		prepareSend:     deps.PrepareSend,
		notifier:        newNotifier(logger),
		closeCtx:        ctx,
		cancel:          cancel,
		autoReconnect:   true,
		firstConnection: true,
	}

	dm.machine = connection.NewMachine(logger, connection.EmitterFunc(func(_, cur connection.State, _ string) {
		m.ConnectionState.Set(float64(cur))
	}))

	dm.fetcher = catchup.New(deps.Storage, clk, logger, cfg.Fetch)
	dm.fetcher.OnThrottle = func(d time.Duration) {
		dm.mu.Lock()
		dm.emitDelayLocked(endpointStorage, d)
		dm.mu.Unlock()
	}

	backoff := connection.NewBackoff(cfg.InitialReconnectDelay, cfg.MaxReconnectDelay)
	backoff.Jitter = cfg.ReconnectJitter
	dm.dialer = connection.NewDialer(deps.Connections, clk, logger, backoff)
	dm.dialer.OnThrottle = func(d time.Duration) {
		dm.mu.Lock()
		dm.emitDelayLocked(endpointStream, d)
		dm.mu.Unlock()
	}
	dm.dialer.OnRetry = func(int, time.Duration, error) {
		m.ConnectFailures.Inc()
	}

	dm.inbound = queue.New(dm.processInbound, dm.onQueueError)
	dm.inboundSignal = queue.New(dm.processSignal, dm.onQueueError)
	dm.outbound = queue.New(dm.processOutbound, dm.onQueueError)

	// Inbound waits for a handler, outbound for a connection.
	dm.inbound.SystemPause()
	dm.inboundSignal.SystemPause()
	dm.outbound.SystemPause()

	return dm
}

// Subscribe registers an observer and returns a function that removes it.
// Observers are called in order on a dedicated goroutine.
func (m *DeltaManager) Subscribe(fn func(Event)) func() {
	return m.notifier.Subscribe(fn)
}

// Inbound controls the inbound op queue.
func (m *DeltaManager) Inbound() queue.Control { return m.inbound }

// InboundSignal controls the inbound signal queue.
func (m *DeltaManager) InboundSignal() queue.Control { return m.inboundSignal }

// Outbound controls the outbound batch queue.
func (m *DeltaManager) Outbound() queue.Control { return m.outbound }

// State returns the connection state.
func (m *DeltaManager) State() connection.State { return m.machine.State() }

// AttachHandler sets the starting point and starts delivering messages to h.
// It may be called only once.
func (m *DeltaManager) AttachHandler(minSeq, seq int64, h ports.Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return domain.ErrClosed
	}
	if m.handler != nil {
		return domain.ErrHandlerAttached
	}

	m.logger.Debug("attached op handler", log.Int64("sequenceNumber", seq), log.Int64("minimumSequenceNumber", minSeq))
	m.tracker.Init(minSeq, seq)
	m.handler = h

	m.inbound.SystemResume()
	m.inboundSignal.SystemResume()

	// Ops may have arrived before the handler did.
	if m.pending.Len() > 0 {
		m.catchUpLocked(nil, "DocumentOpen")
	} else if m.conn != nil || m.attempt != nil {
		m.fetchMissingLocked("DocumentOpen", m.tracker.LastQueued(), 0)
	}
	return nil
}

// UpdateQuorumJoin records that this client joined the quorum.
func (m *DeltaManager) UpdateQuorumJoin() {
	m.mu.Lock()
	m.inQuorum = true
	m.mu.Unlock()
}

// UpdateQuorumLeave records that this client left the quorum.
func (m *DeltaManager) UpdateQuorumLeave() {
	m.mu.Lock()
	m.inQuorum = false
	m.mu.Unlock()
}

// Active reports whether the client is in the quorum with a write connection.
func (m *DeltaManager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeLocked()
}

func (m *DeltaManager) activeLocked() bool {
	res := m.inQuorum && m.connectionModeLocked() == domain.ModeWrite
	if res && m.readonlyPerms != nil && *m.readonlyPerms {
		m.logger.Error("active with read-only permissions")
	}
	return res
}

// Readonly reports whether edits are refused, either for lack of write
// permission or because the host forced it.
func (m *DeltaManager) Readonly() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readonlyLocked()
}

func (m *DeltaManager) readonlyLocked() bool {
	return (m.readonlyPerms != nil && *m.readonlyPerms) || m.forceReadonly
}

// ForceReadonly makes the document read-only regardless of permissions.
func (m *DeltaManager) ForceReadonly(readonly bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := m.readonlyLocked()
	m.forceReadonly = readonly
	if cur := m.readonlyLocked(); cur != old {
		m.notifier.Emit(ReadonlyEvent{Readonly: cur})
	}
}

func (m *DeltaManager) setReadonlyPermissionsLocked(readonly bool) {
	old := m.readonlyLocked()
	m.readonlyPerms = &readonly
	if cur := m.readonlyLocked(); cur != old {
		m.notifier.Emit(ReadonlyEvent{Readonly: cur})
	}
}

// SetAutoReconnect controls reconnecting after the server disconnects.
func (m *DeltaManager) SetAutoReconnect(v bool) {
	m.mu.Lock()
	m.autoReconnect = v
	m.mu.Unlock()
}

// InitialSequenceNumber is the sequence number the handler was attached at.
func (m *DeltaManager) InitialSequenceNumber() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracker.Initial()
}

// ReferenceSequenceNumber is the last processed sequence number.
func (m *DeltaManager) ReferenceSequenceNumber() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracker.Base()
}

// MinimumSequenceNumber is the last seen minimum sequence number.
func (m *DeltaManager) MinimumSequenceNumber() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracker.Minimum()
}

// LastQueuedSequenceNumber is the last sequence number queued for processing.
func (m *DeltaManager) LastQueuedSequenceNumber() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracker.LastQueued()
}

// PendingLen is the number of messages buffered out of order.
func (m *DeltaManager) PendingLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending.Len()
}

// ClientID is the id of the live connection, or empty.
func (m *DeltaManager) ClientID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return ""
	}
	return m.conn.Details().ClientID
}

// ConnectionMode is the mode of the live connection, read when disconnected.
func (m *DeltaManager) ConnectionMode() domain.ConnectionMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectionModeLocked()
}

func (m *DeltaManager) connectionModeLocked() domain.ConnectionMode {
	if m.conn == nil {
		return domain.ModeRead
	}
	return m.conn.Details().Mode
}

// MaxMessageSize is the largest message the service accepts.
func (m *DeltaManager) MaxMessageSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return domain.DefaultChunkSize
	}
	return m.conn.Details().EffectiveMaxMessageSize()
}

// Version is the protocol version of the live connection.
func (m *DeltaManager) Version() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return ""
	}
	return m.conn.Details().Version
}

// ServiceConfiguration is what the live connection advertised, or nil.
func (m *DeltaManager) ServiceConfiguration() *domain.ServiceConfiguration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return nil
	}
	return m.conn.Details().ServiceConfiguration
}

// Submit stamps and queues an outbound message and returns its client
// sequence number. Unless batch is set the message is flushed right away.
// While read-only it returns -1 and domain.ErrReadonly.
func (m *DeltaManager) Submit(typ domain.MessageType, contents json.RawMessage, batch bool, metadata json.RawMessage) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submitLocked(typ, contents, batch, metadata)
}

func (m *DeltaManager) submitLocked(typ domain.MessageType, contents json.RawMessage, batch bool, metadata json.RawMessage) (int64, error) {
	if m.closed {
		return -1, domain.ErrClosed
	}
	if m.readonlyLocked() {
		m.logger.Error("submit while read-only", log.Event("SubmitOpReadOnly"), log.String("type", string(typ)))
		return -1, domain.ErrReadonly
	}
	if m.conn == nil {
		return -1, domain.ErrNotConnected
	}

	msg := domain.DocumentMessage{
		ClientSequenceNumber:    m.tracker.NextClientSequence(m.conn.Details().ClientID),
		ReferenceSequenceNumber: m.tracker.Base(),
		Type:                    typ,
		Contents:                contents,
		Metadata:                metadata,
		Traces: []domain.Trace{{
			Service:   m.cfg.Client.Details.Type,
			Action:    "start",
			Timestamp: m.clock.Now().UnixMilli(),
		}},
	}
	// The service reads system payloads from Data.
	if domain.IsSystemType(typ) {
		msg.Data = msg.Contents
		msg.Contents = nil
	}

	m.stopNoOpLocked()
	m.notifier.Emit(SubmitOpEvent{Message: msg})

	if !batch {
		m.flushLocked()
		m.outbox.Add(msg)
		m.flushLocked()
	} else {
		m.outbox.Add(msg)
	}
	return msg.ClientSequenceNumber, nil
}

// Flush queues buffered messages as one batch.
func (m *DeltaManager) Flush() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushLocked()
}

func (m *DeltaManager) flushLocked() {
	if !m.outbox.HasPending() {
		return
	}
	size := m.outbox.TotalBytes()
	batch := m.outbox.Take()
	if m.prepareSend != nil {
		batch = m.prepareSend(batch)
	}
	m.notifier.Emit(PrepareSendEvent{Messages: append([]domain.DocumentMessage(nil), batch...)})
	m.logger.Debug("flushing batch", log.Int("messages", len(batch)), log.Int("bytes", size))
	m.outbound.Push(batch)
}

// SubmitSignal sends a signal over the live connection.
func (m *DeltaManager) SubmitSignal(content json.RawMessage) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		m.logger.Warn("signal dropped while disconnected", log.Event("submitSignalDisconnected"))
		return domain.ErrNotConnected
	}
	return conn.SubmitSignal(content)
}

// Close shuts the manager down. It is idempotent. A non-nil err is reported
// as an error event before the closed event.
func (m *DeltaManager) Close(err error) {
	m.close(err, true)
}

// Done is closed once the manager is closed.
func (m *DeltaManager) Done() <-chan struct{} {
	return m.closeCtx.Done()
}

// Closed reports whether Close ran.
func (m *DeltaManager) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *DeltaManager) close(err error, raise bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true

	if raise && err != nil {
		m.notifier.Emit(ErrorEvent{Err: err})
	}

	fields := []log.Field{log.Event("ContainerClose")}
	if err != nil {
		fields = append(fields, log.Err(err))
	}
	m.logger.Info("closing delta manager", fields...)

	m.stopNoOpLocked()

	reason := "Container closed"
	if err != nil {
		reason = err.Error()
	}
	if derr := m.disconnectLocked(reason); derr != nil {
		m.logger.Error("disconnect on close", log.Err(derr))
	}
	m.outbox.Reset()

	m.inbound.Clear()
	m.outbound.Clear()
	m.inboundSignal.Clear()
	m.inbound.SystemPause()
	m.inboundSignal.SystemPause()

	// Drop pending messages so catch-up does not loop after shutdown.
	m.pending.Reset()

	m.setReadonlyPermissionsLocked(true)

	_ = m.machine.TransitionTo(connection.StateClosed, reason)
	m.cancel()

	m.notifier.Emit(ClosedEvent{Err: err})
	m.notifier.Stop()
}

func (m *DeltaManager) onQueueError(err error) {
	if !domain.CanRetry(err) {
		m.Close(err)
		return
	}
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if !closed {
		m.notifier.Emit(ErrorEvent{Err: domain.Wrap(err, true)})
	}
}

func (m *DeltaManager) emitDelayLocked(ep retryEndpoint, delay time.Duration) {
	if d, ok := m.throttle.update(ep, delay); ok {
		m.notifier.Emit(ErrorEvent{Err: domain.NewThrottlingError("Service busy/throttled.", d)})
	}
}

func (m *DeltaManager) sleep(d time.Duration) bool {
	t := m.clock.Timer(d)
	defer t.Stop()
	select {
	case <-m.closeCtx.Done():
		return false
	case <-t.C:
		return true
	}
}
