package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/bft-labs/opstream/internal/domain"
	"github.com/bft-labs/opstream/internal/ports"
)

// Provider is a scripted ports.ConnectionProvider.
type Provider struct {
	mu    sync.Mutex
	errs  []error
	opens []domain.Client
	conns []*Conn

	// Details, when set, builds the handshake result of the n-th (1-based)
	// successful open. By default the requested mode is granted with read
	// and write scopes.
	Details func(n int, client domain.Client) domain.ConnectionDetails

	// Opened, when set, receives every successful connection.
	Opened chan *Conn
}

// NewProvider creates a provider that always succeeds.
func NewProvider() *Provider {
	return &Provider{}
}

// FailNext makes the next len(errs) opens fail in order.
func (p *Provider) FailNext(errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs = append(p.errs, errs...)
}

// Open implements ports.ConnectionProvider.
func (p *Provider) Open(_ context.Context, client domain.Client) (ports.Connection, error) {
	p.mu.Lock()
	p.opens = append(p.opens, client)
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		p.mu.Unlock()
		return nil, err
	}

	n := len(p.conns) + 1
	var details domain.ConnectionDetails
	if p.Details != nil {
		details = p.Details(n, client)
	} else {
		details = domain.ConnectionDetails{
			ClientID: fmt.Sprintf("client-%d", n),
			Mode:     client.Mode,
			Claims: domain.Claims{
				DocumentID: "doc",
				TenantID:   "tenant",
				Scopes:     []string{domain.ScopeDocRead, domain.ScopeDocWrite},
			},
			Version: "test",
		}
	}
	c := NewConn(details)
	p.conns = append(p.conns, c)
	opened := p.Opened
	p.mu.Unlock()

	if opened != nil {
		opened <- c
	}
	return c, nil
}

// Opens returns the client identity of every open attempt.
func (p *Provider) Opens() []domain.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Client(nil), p.opens...)
}

// Conns returns every connection opened so far.
func (p *Provider) Conns() []*Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Conn(nil), p.conns...)
}

// Last returns the most recent connection, or nil.
func (p *Provider) Last() *Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.conns) == 0 {
		return nil
	}
	return p.conns[len(p.conns)-1]
}

// Conn is an in-memory ports.Connection.
type Conn struct {
	details domain.ConnectionDetails
	events  chan ports.Event

	mu        sync.Mutex
	closed    bool
	submitted [][]domain.DocumentMessage
	signals   []json.RawMessage

	// SubmitErr, when set, is returned by Submit.
	SubmitErr error
}

// NewConn creates a connection with the given handshake details.
func NewConn(details domain.ConnectionDetails) *Conn {
	return &Conn{details: details, events: make(chan ports.Event, 256)}
}

func (c *Conn) Details() domain.ConnectionDetails { return c.details }
func (c *Conn) Events() <-chan ports.Event        { return c.events }

// Submit records a batch.
func (c *Conn) Submit(msgs []domain.DocumentMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SubmitErr != nil {
		return c.SubmitErr
	}
	c.submitted = append(c.submitted, append([]domain.DocumentMessage(nil), msgs...))
	return nil
}

// SubmitSignal records a signal.
func (c *Conn) SubmitSignal(content json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signals = append(c.signals, content)
	return nil
}

// Close closes the event channel. It is idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return nil
}

// Emit pushes a server event. It reports false once the connection is closed.
func (c *Conn) Emit(ev ports.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.events <- ev
	return true
}

// EmitOps pushes an op event.
func (c *Conn) EmitOps(msgs ...domain.SequencedMessage) bool {
	return c.Emit(ports.OpEvent{Messages: msgs})
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Submitted returns every batch submitted so far.
func (c *Conn) Submitted() [][]domain.DocumentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]domain.DocumentMessage(nil), c.submitted...)
}

// Signals returns every signal submitted so far.
func (c *Conn) Signals() []json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]json.RawMessage(nil), c.signals...)
}
