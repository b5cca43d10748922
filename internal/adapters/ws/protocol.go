// Package ws implements the live delta stream over a websocket speaking
// JSON envelopes.
package ws

import (
	"encoding/json"

	"github.com/bft-labs/opstream/internal/domain"
)

// Message types of the envelope protocol.
const (
	TypeConnectDocument        = "connect_document"
	TypeConnectDocumentSuccess = "connect_document_success"
	TypeConnectDocumentError   = "connect_document_error"
	TypeOp                     = "op"
	TypeSignal                 = "signal"
	TypeNack                   = "nack"
	TypeDisconnect             = "disconnect"
	TypeSubmitOp               = "submitOp"
	TypeSubmitSignal           = "submitSignal"
)

// protocolVersions are offered during the handshake, preferred first.
var protocolVersions = []string{"^0.4.0", "^0.3.0", "^0.2.0", "^0.1.0"}

// Envelope frames every websocket message.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ConnectRequest opens a document stream.
type ConnectRequest struct {
	TenantID string                `json:"tenantId"`
	ID       string                `json:"id"`
	Token    string                `json:"token"`
	Client   domain.Client         `json:"client"`
	Mode     domain.ConnectionMode `json:"mode"`
	Versions []string              `json:"versions"`
}

// ConnectError is the payload of a refused handshake.
type ConnectError struct {
	Code       int    `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter,omitempty"` // seconds
}

// DisconnectNotice is the payload of a server-initiated disconnect.
type DisconnectNotice struct {
	Reason string `json:"reason"`
}

func encode(typ string, payload interface{}) (Envelope, error) {
	env := Envelope{Type: typ}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	env.Payload = raw
	return env, nil
}
