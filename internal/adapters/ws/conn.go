package ws

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bft-labs/opstream/internal/domain"
	"github.com/bft-labs/opstream/internal/ports"
	"github.com/bft-labs/opstream/pkg/log"
)

// eventBuffer bounds server events not yet consumed.
const eventBuffer = 64

// Conn is a live websocket delta stream. It implements ports.Connection.
type Conn struct {
	ws       *websocket.Conn
	details  domain.ConnectionDetails
	settings Settings
	logger   log.Logger

	events chan ports.Event
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, details domain.ConnectionDetails, s Settings, logger log.Logger) *Conn {
	c := &Conn{
		ws:       ws,
		details:  details,
		settings: s,
		logger:   logger.With(log.String("clientId", details.ClientID)),
		events:   make(chan ports.Event, eventBuffer),
		done:     make(chan struct{}),
	}

	ws.SetReadDeadline(time.Now().Add(s.ReadTimeout))
	ws.SetPongHandler(c.onPong)

	go c.readLoop()
	go c.pingLoop()
	return c
}

// Details implements ports.Connection.
func (c *Conn) Details() domain.ConnectionDetails { return c.details }

// Events implements ports.Connection.
func (c *Conn) Events() <-chan ports.Event { return c.events }

// Submit implements ports.Connection.
func (c *Conn) Submit(messages []domain.DocumentMessage) error {
	return c.send(TypeSubmitOp, messages)
}

// SubmitSignal implements ports.Connection.
func (c *Conn) SubmitSignal(content json.RawMessage) error {
	return c.send(TypeSubmitSignal, content)
}

// Close implements ports.Connection. The event channel is closed once the
// read loop has stopped.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing"),
			time.Now().Add(c.settings.WriteTimeout))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) closing() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Conn) send(typ string, payload interface{}) error {
	if c.closing() {
		return domain.ErrNotConnected
	}
	env, err := encode(typ, payload)
	if err != nil {
		return domain.Wrap(err, false)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(c.settings.WriteTimeout))
	if err := c.ws.WriteJSON(env); err != nil {
		return domain.NewNetworkError("write "+typ+": "+err.Error(), true, 0, 0)
	}
	return nil
}

func (c *Conn) emit(ev ports.Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

func (c *Conn) readLoop() {
	defer close(c.events)

	for {
		var env Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			if c.closing() {
				return
			}
			c.emitReadError(err)
			return
		}
		if !c.dispatch(env) {
			return
		}
	}
}

func (c *Conn) emitReadError(err error) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && (closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway) {
		reason := closeErr.Text
		if reason == "" {
			reason = "socket closed"
		}
		c.emit(ports.DisconnectEvent{Reason: reason})
		return
	}
	c.logger.Warn("websocket read failed", log.Err(err))
	c.emit(ports.ErrorEvent{Err: domain.NewNetworkError("read: "+err.Error(), true, 0, 0)})
}

// dispatch reports false once the stream is over.
func (c *Conn) dispatch(env Envelope) bool {
	switch env.Type {
	case TypeOp:
		var msgs []domain.SequencedMessage
		if err := json.Unmarshal(env.Payload, &msgs); err != nil {
			return c.emit(ports.ErrorEvent{Err: domain.NewFatalError("decode op: " + err.Error())})
		}
		return c.emit(ports.OpEvent{Messages: msgs})
	case TypeSignal:
		var sigs []domain.Signal
		if err := json.Unmarshal(env.Payload, &sigs); err != nil {
			var one domain.Signal
			if err := json.Unmarshal(env.Payload, &one); err != nil {
				c.logger.Warn("dropping undecodable signal", log.Err(err))
				return true
			}
			sigs = []domain.Signal{one}
		}
		for _, s := range sigs {
			if !c.emit(ports.SignalEvent{Signal: s}) {
				return false
			}
		}
		return true
	case TypeNack:
		var nacks []domain.Nack
		if err := json.Unmarshal(env.Payload, &nacks); err != nil {
			return c.emit(ports.ErrorEvent{Err: domain.NewFatalError("decode nack: " + err.Error())})
		}
		for _, n := range nacks {
			if !c.emit(ports.NackEvent{Nack: n}) {
				return false
			}
		}
		return true
	case TypeDisconnect:
		var notice DisconnectNotice
		_ = json.Unmarshal(env.Payload, &notice)
		c.emit(ports.DisconnectEvent{Reason: notice.Reason})
		return false
	default:
		c.logger.Debug("ignoring message", log.String("type", env.Type))
		return true
	}
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(c.settings.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case now := <-ticker.C:
			payload := make([]byte, 8)
			binary.BigEndian.PutUint64(payload, uint64(now.UnixNano()))

			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, payload, now.Add(c.settings.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				// The read loop reports the broken socket.
				c.logger.Debug("ping failed", log.Err(err))
				return
			}
		}
	}
}

func (c *Conn) onPong(data string) error {
	c.ws.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))
	if len(data) != 8 {
		return nil
	}
	sent := time.Unix(0, int64(binary.BigEndian.Uint64([]byte(data))))
	select {
	case c.events <- ports.PongEvent{Latency: time.Since(sent)}:
	default:
		// Latency samples are dropped rather than stall the reader.
	}
	return nil
}
