package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bft-labs/opstream/internal/adapters/token"
	"github.com/bft-labs/opstream/internal/domain"
	"github.com/bft-labs/opstream/internal/ports"
	"github.com/bft-labs/opstream/pkg/log"
)

// Settings tune the websocket transport.
type Settings struct {
	HandshakeTimeout time.Duration
	// ConnectTimeout bounds the connect_document exchange.
	ConnectTimeout time.Duration
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	// ReadTimeout must exceed PingInterval; every pong extends it.
	ReadTimeout time.Duration
}

// DefaultSettings returns the default transport settings.
func DefaultSettings() Settings {
	return Settings{
		HandshakeTimeout: 10 * time.Second,
		ConnectTimeout:   20 * time.Second,
		PingInterval:     15 * time.Second,
		WriteTimeout:     5 * time.Second,
		ReadTimeout:      45 * time.Second,
	}
}

// Config identifies the stream to open.
type Config struct {
	// URL is the websocket endpoint, e.g. ws://localhost:3000/socket.
	URL        string
	TenantID   string
	DocumentID string
	Settings   Settings
}

// Provider opens websocket delta streams. It implements
// ports.ConnectionProvider.
type Provider struct {
	cfg    Config
	tokens token.Provider
	dialer *websocket.Dialer
	logger log.Logger
}

// NewProvider creates a provider. Zero settings take defaults.
func NewProvider(cfg Config, tokens token.Provider, logger log.Logger) *Provider {
	d := DefaultSettings()
	s := &cfg.Settings
	if s.HandshakeTimeout <= 0 {
		s.HandshakeTimeout = d.HandshakeTimeout
	}
	if s.ConnectTimeout <= 0 {
		s.ConnectTimeout = d.ConnectTimeout
	}
	if s.PingInterval <= 0 {
		s.PingInterval = d.PingInterval
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = d.WriteTimeout
	}
	if s.ReadTimeout <= s.PingInterval {
		s.ReadTimeout = 3 * s.PingInterval
	}
	return &Provider{
		cfg:    cfg,
		tokens: tokens,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: s.HandshakeTimeout,
		},
		logger: log.OrNoop(logger).With(log.Component("ws")),
	}
}

// Open implements ports.ConnectionProvider.
func (p *Provider) Open(ctx context.Context, client domain.Client) (ports.Connection, error) {
	tok, err := p.tokens.Token(ctx, p.cfg.TenantID, p.cfg.DocumentID)
	if err != nil {
		return nil, domain.NewNetworkError("fetch token: "+err.Error(), true, 0, 0)
	}

	ws, resp, err := p.dialer.DialContext(ctx, p.cfg.URL, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, domain.NewStatusError(fmt.Sprintf("dial %s: %v", redact(p.cfg.URL), err), status, 0)
	}

	success := false
	defer func() {
		if !success {
			ws.Close()
		}
	}()

	details, err := p.handshake(ws, tok, client)
	if err != nil {
		return nil, err
	}
	if details.Claims.DocumentID == "" {
		if claims, err := token.ParseClaims(tok); err == nil {
			details.Claims = claims.Domain()
		}
	}

	success = true
	p.logger.Info("connected to delta stream",
		log.String("clientId", details.ClientID),
		log.String("mode", string(details.Mode)),
		log.Int("initialMessages", len(details.InitialMessages)),
	)
	return newConn(ws, details, p.cfg.Settings, p.logger), nil
}

func (p *Provider) handshake(ws *websocket.Conn, tok string, client domain.Client) (domain.ConnectionDetails, error) {
	s := p.cfg.Settings
	req, err := encode(TypeConnectDocument, ConnectRequest{
		TenantID: p.cfg.TenantID,
		ID:       p.cfg.DocumentID,
		Token:    tok,
		Client:   client,
		Mode:     client.Mode,
		Versions: protocolVersions,
	})
	if err != nil {
		return domain.ConnectionDetails{}, domain.Wrap(err, false)
	}

	deadline := time.Now().Add(s.ConnectTimeout)
	ws.SetWriteDeadline(deadline)
	if err := ws.WriteJSON(req); err != nil {
		return domain.ConnectionDetails{}, domain.NewNetworkError("send connect_document: "+err.Error(), true, 0, 0)
	}

	ws.SetReadDeadline(deadline)
	for {
		var env Envelope
		if err := ws.ReadJSON(&env); err != nil {
			return domain.ConnectionDetails{}, domain.NewNetworkError("await connect_document_success: "+err.Error(), true, 0, 0)
		}
		switch env.Type {
		case TypeConnectDocumentSuccess:
			var details domain.ConnectionDetails
			if err := json.Unmarshal(env.Payload, &details); err != nil {
				return domain.ConnectionDetails{}, domain.NewFatalError("decode connect_document_success: " + err.Error())
			}
			ws.SetReadDeadline(time.Time{})
			ws.SetWriteDeadline(time.Time{})
			return details, nil
		case TypeConnectDocumentError:
			var ce ConnectError
			if err := json.Unmarshal(env.Payload, &ce); err != nil {
				return domain.ConnectionDetails{}, domain.NewFatalError("decode connect_document_error: " + err.Error())
			}
			return domain.ConnectionDetails{}, domain.NewStatusError(ce.Message, ce.Code, time.Duration(ce.RetryAfter)*time.Second)
		default:
			// Anything before the handshake completes belongs to another client.
			p.logger.Debug("ignoring message before handshake", log.String("type", env.Type))
		}
	}
}

// redact drops credentials from u for logging.
func redact(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return "<invalid url>"
	}
	return parsed.Redacted()
}
