package domain

import (
	"encoding/json"
)

// MessageType identifies the kind of an op.
type MessageType string

const (
	MessageTypeOp          MessageType = "op"
	MessageTypeNoOp        MessageType = "noop"
	MessageTypeClientJoin  MessageType = "join"
	MessageTypeClientLeave MessageType = "leave"
	MessageTypePropose     MessageType = "propose"
	MessageTypeReject      MessageType = "reject"
	MessageTypeSummarize   MessageType = "summarize"
	MessageTypeSummaryAck  MessageType = "summaryAck"
	MessageTypeSummaryNack MessageType = "summaryNack"
	MessageTypeNoClient    MessageType = "noClient"
	MessageTypeIntegrate   MessageType = "integrate"
	MessageTypeAttach      MessageType = "attach"
	MessageTypeChunkedOp   MessageType = "chunkedOp"
	MessageTypeRemoteHelp  MessageType = "remoteHelp"
)

// IsSystemType reports whether ops of type t are generated by the service
// rather than by a client runtime.
func IsSystemType(t MessageType) bool {
	switch t {
	case MessageTypeClientJoin,
		MessageTypeClientLeave,
		MessageTypePropose,
		MessageTypeReject,
		MessageTypeNoClient,
		MessageTypeSummaryAck,
		MessageTypeSummaryNack,
		MessageTypeIntegrate:
		return true
	default:
		return false
	}
}

// Trace is a timing stamp attached to an op as it moves through services.
type Trace struct {
	Service   string `json:"service"`
	Action    string `json:"action"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
}

// SequencedMessage is an op after the service assigned it a sequence number.
// It is immutable once received; only the trailing "end" trace is appended
// before it is handed to the handler.
type SequencedMessage struct {
	ClientID                string          `json:"clientId,omitempty"`
	SequenceNumber          int64           `json:"sequenceNumber"`
	MinimumSequenceNumber   int64           `json:"minimumSequenceNumber"`
	ClientSequenceNumber    int64           `json:"clientSequenceNumber"`
	ReferenceSequenceNumber int64           `json:"referenceSequenceNumber"`
	Type                    MessageType     `json:"type"`
	Contents                json.RawMessage `json:"contents,omitempty"`
	Metadata                json.RawMessage `json:"metadata,omitempty"`
	Traces                  []Trace         `json:"traces,omitempty"`
	Timestamp               int64           `json:"timestamp,omitempty"`
}

// IsSystemMessage reports whether m may legitimately arrive without a client id.
func IsSystemMessage(m *SequencedMessage) bool {
	return IsSystemType(m.Type)
}

// DocumentMessage is an op produced by this client, not yet sequenced.
type DocumentMessage struct {
	ClientSequenceNumber    int64           `json:"clientSequenceNumber"`
	ReferenceSequenceNumber int64           `json:"referenceSequenceNumber"`
	Type                    MessageType     `json:"type"`
	Contents                json.RawMessage `json:"contents"`
	Metadata                json.RawMessage `json:"metadata,omitempty"`
	Traces                  []Trace         `json:"traces,omitempty"`

	// Data carries the payload of system messages, whose Contents is null.
	Data json.RawMessage `json:"data,omitempty"`
}

// ContentMessage carries op contents sent out of band from the op itself.
type ContentMessage struct {
	ClientID             string          `json:"clientId"`
	ClientSequenceNumber int64           `json:"clientSequenceNumber"`
	Contents             json.RawMessage `json:"contents"`
}

// Signal is an unsequenced message between connected clients.
type Signal struct {
	ClientID string          `json:"clientId,omitempty"`
	Content  json.RawMessage `json:"content"`
}

// Nack is the service rejecting a submitted op.
type Nack struct {
	Operation      *DocumentMessage `json:"operation,omitempty"`
	SequenceNumber int64            `json:"sequenceNumber"`
	Content        *NackContent     `json:"content,omitempty"`
}

// NackContent describes why an op was rejected.
type NackContent struct {
	Code       int    `json:"code"`
	Type       string `json:"type"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter,omitempty"` // seconds
}

// Nack types used by the service.
const (
	NackTypeThrottling    = "ThrottlingError"
	NackTypeInvalidScope  = "InvalidScopeError"
	NackTypeBadRequest    = "BadRequestError"
	NackTypeLimitExceeded = "LimitExceededError"
)
