package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/opstream/internal/adapters/token"
	"github.com/bft-labs/opstream/internal/domain"
	"github.com/bft-labs/opstream/internal/ports"
)

const tenantKey = "tenant-key"

// fakeService is a minimal ordering service: it checks the token, sends
// the handshake reply and then runs script.
type fakeService struct {
	t      *testing.T
	reject *ConnectError
	script func(ws *websocket.Conn, req ConnectRequest)
}

func (s *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{}
	ws, err := up.Upgrade(w, r, nil)
	if err != nil {
		s.t.Errorf("upgrade: %v", err)
		return
	}
	defer ws.Close()

	var env Envelope
	if err := ws.ReadJSON(&env); err != nil {
		s.t.Errorf("read connect: %v", err)
		return
	}
	var req ConnectRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil || env.Type != TypeConnectDocument {
		s.t.Errorf("bad connect %q: %v", env.Type, err)
		return
	}

	if s.reject != nil {
		reply, _ := encode(TypeConnectDocumentError, s.reject)
		_ = ws.WriteJSON(reply)
		return
	}
	if _, err := token.Verify(req.Token, tenantKey); err != nil {
		reply, _ := encode(TypeConnectDocumentError, ConnectError{Code: 403, Message: err.Error()})
		_ = ws.WriteJSON(reply)
		return
	}

	details := domain.ConnectionDetails{
		ClientID:        "c1",
		Mode:            req.Mode,
		Version:         "0.4.0",
		InitialMessages: []domain.SequencedMessage{{ClientID: "x", SequenceNumber: 1, Type: domain.MessageTypeOp}},
	}
	reply, _ := encode(TypeConnectDocumentSuccess, details)
	if err := ws.WriteJSON(reply); err != nil {
		return
	}
	if s.script != nil {
		s.script(ws, req)
	}
}

func startService(t *testing.T, svc *fakeService) *Provider {
	t.Helper()
	svc.t = t
	srv := httptest.NewServer(svc)
	t.Cleanup(srv.Close)

	cfg := Config{
		URL:        "ws" + strings.TrimPrefix(srv.URL, "http"),
		TenantID:   "fluid",
		DocumentID: "doc",
		Settings:   Settings{PingInterval: 20 * time.Millisecond, ReadTimeout: time.Second},
	}
	return NewProvider(cfg, token.NewInsecureProvider(tenantKey, domain.User{ID: "u"}), nil)
}

func next(t *testing.T, conn ports.Connection) ports.Event {
	t.Helper()
	select {
	case ev, ok := <-conn.Events():
		require.True(t, ok, "events closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
		return nil
	}
}

// nextNonPong skips keepalive samples.
func nextNonPong(t *testing.T, conn ports.Connection) ports.Event {
	t.Helper()
	for {
		ev := next(t, conn)
		if _, ok := ev.(ports.PongEvent); !ok {
			return ev
		}
	}
}

func TestOpenAndExchangeOps(t *testing.T) {
	svc := &fakeService{script: func(ws *websocket.Conn, req ConnectRequest) {
		var env Envelope
		if err := ws.ReadJSON(&env); err != nil {
			return
		}
		if env.Type != TypeSubmitOp {
			return
		}
		var msgs []domain.DocumentMessage
		_ = json.Unmarshal(env.Payload, &msgs)
		var echo []domain.SequencedMessage
		for i, m := range msgs {
			echo = append(echo, domain.SequencedMessage{
				ClientID:             "c1",
				SequenceNumber:       int64(2 + i),
				ClientSequenceNumber: m.ClientSequenceNumber,
				Type:                 m.Type,
				Contents:             m.Contents,
			})
		}
		out, _ := encode(TypeOp, echo)
		_ = ws.WriteJSON(out)

		sig, _ := encode(TypeSignal, domain.Signal{ClientID: "x", Content: json.RawMessage(`"ping"`)})
		_ = ws.WriteJSON(sig)

		// Hold the socket open until the client leaves.
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}}
	p := startService(t, svc)

	conn, err := p.Open(context.Background(), domain.Client{Mode: domain.ModeWrite})
	require.NoError(t, err)
	defer conn.Close()

	d := conn.Details()
	assert.Equal(t, "c1", d.ClientID)
	assert.Equal(t, domain.ModeWrite, d.Mode)
	assert.Len(t, d.InitialMessages, 1)
	// Claims come from the token when the service omits them.
	assert.Equal(t, "doc", d.Claims.DocumentID)
	assert.True(t, d.Claims.HasScope(domain.ScopeDocWrite))

	require.NoError(t, conn.Submit([]domain.DocumentMessage{{ClientSequenceNumber: 1, Type: domain.MessageTypeOp, Contents: json.RawMessage(`{"a":1}`)}}))

	ev := nextNonPong(t, conn)
	ops, ok := ev.(ports.OpEvent)
	require.True(t, ok, "got %T", ev)
	require.Len(t, ops.Messages, 1)
	assert.Equal(t, int64(2), ops.Messages[0].SequenceNumber)
	assert.JSONEq(t, `{"a":1}`, string(ops.Messages[0].Contents))

	ev = nextNonPong(t, conn)
	sig, ok := ev.(ports.SignalEvent)
	require.True(t, ok, "got %T", ev)
	assert.JSONEq(t, `"ping"`, string(sig.Signal.Content))
}

func TestPingsReportLatency(t *testing.T) {
	svc := &fakeService{script: func(ws *websocket.Conn, _ ConnectRequest) {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}}
	p := startService(t, svc)

	conn, err := p.Open(context.Background(), domain.Client{Mode: domain.ModeRead})
	require.NoError(t, err)
	defer conn.Close()

	ev := next(t, conn)
	pong, ok := ev.(ports.PongEvent)
	require.True(t, ok, "got %T", ev)
	assert.GreaterOrEqual(t, pong.Latency, time.Duration(0))
}

func TestServerDisconnectAndNack(t *testing.T) {
	svc := &fakeService{script: func(ws *websocket.Conn, _ ConnectRequest) {
		nack, _ := encode(TypeNack, []domain.Nack{{Content: &domain.NackContent{Code: 429, Type: domain.NackTypeThrottling, RetryAfter: 2}}})
		_ = ws.WriteJSON(nack)
		bye, _ := encode(TypeDisconnect, DisconnectNotice{Reason: "server shutdown"})
		_ = ws.WriteJSON(bye)
	}}
	p := startService(t, svc)

	conn, err := p.Open(context.Background(), domain.Client{Mode: domain.ModeWrite})
	require.NoError(t, err)
	defer conn.Close()

	ev := nextNonPong(t, conn)
	nack, ok := ev.(ports.NackEvent)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, 429, nack.Nack.Content.Code)
	assert.Equal(t, 2, nack.Nack.Content.RetryAfter)

	ev = nextNonPong(t, conn)
	assert.Equal(t, ports.DisconnectEvent{Reason: "server shutdown"}, ev)

	// The stream is over after a disconnect.
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-conn.Events():
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHandshakeErrorsAreClassified(t *testing.T) {
	tests := []struct {
		name     string
		reject   ConnectError
		canRetry bool
		delay    time.Duration
	}{
		{name: "throttled", reject: ConnectError{Code: 429, Message: "slow down", RetryAfter: 3}, canRetry: true, delay: 3 * time.Second},
		{name: "forbidden", reject: ConnectError{Code: 403, Message: "no access"}, canRetry: false},
		{name: "unavailable", reject: ConnectError{Code: 503, Message: "busy"}, canRetry: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reject := tt.reject
			p := startService(t, &fakeService{reject: &reject})

			_, err := p.Open(context.Background(), domain.Client{Mode: domain.ModeWrite})
			require.Error(t, err)
			assert.Equal(t, tt.canRetry, domain.CanRetry(err))
			d, _ := domain.RetryDelay(err)
			assert.Equal(t, tt.delay, d)
			assert.Contains(t, err.Error(), tt.reject.Message)
		})
	}
}

func TestBadTokenIsRejected(t *testing.T) {
	svc := &fakeService{}
	p := startService(t, svc)
	p.tokens = token.NewInsecureProvider("wrong-key", domain.User{ID: "u"})

	_, err := p.Open(context.Background(), domain.Client{Mode: domain.ModeWrite})
	require.Error(t, err)
	assert.False(t, domain.CanRetry(err))
}

func TestDialFailureIsRetryable(t *testing.T) {
	p := NewProvider(Config{URL: "ws://127.0.0.1:1/socket"}, token.Static("t"), nil)

	_, err := p.Open(context.Background(), domain.Client{Mode: domain.ModeRead})
	require.Error(t, err)
	assert.True(t, domain.CanRetry(err))
}

func TestSubmitAfterClose(t *testing.T) {
	p := startService(t, &fakeService{script: func(ws *websocket.Conn, _ ConnectRequest) {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}})
	conn, err := p.Open(context.Background(), domain.Client{Mode: domain.ModeWrite})
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	assert.ErrorIs(t, conn.Submit(nil), domain.ErrNotConnected)
}
