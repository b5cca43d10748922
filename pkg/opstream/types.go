package opstream

import (
	"github.com/bft-labs/opstream/internal/adapters/sqlite"
	"github.com/bft-labs/opstream/internal/adapters/token"
	"github.com/bft-labs/opstream/internal/app"
	"github.com/bft-labs/opstream/internal/connection"
	"github.com/bft-labs/opstream/internal/domain"
	"github.com/bft-labs/opstream/internal/ports"
	"github.com/bft-labs/opstream/pkg/log"
)

// Re-exported types, so callers never import internal packages.
type (
	SequencedMessage  = domain.SequencedMessage
	DocumentMessage   = domain.DocumentMessage
	Signal            = domain.Signal
	Nack              = domain.Nack
	MessageType       = domain.MessageType
	ConnectionMode    = domain.ConnectionMode
	ConnectionDetails = domain.ConnectionDetails
	Checkpoint        = domain.Checkpoint
	Error             = domain.Error

	Handler       = ports.Handler
	ProcessResult = ports.ProcessResult

	ConnectionProvider = ports.ConnectionProvider
	Connection         = ports.Connection
	StorageProvider    = ports.StorageProvider
	DeltaStorage       = ports.DeltaStorage
	HTTPClient         = ports.HTTPClient
	TokenProvider      = token.Provider
	Archive            = sqlite.Archive

	Logger = log.Logger

	ConnectOptions = app.ConnectOptions
	State          = connection.State
)

// Events delivered to observers.
type (
	Event                   = app.Event
	ConnectEvent            = app.ConnectEvent
	DisconnectEvent         = app.DisconnectEvent
	ErrorEvent              = app.ErrorEvent
	ReadonlyEvent           = app.ReadonlyEvent
	ClosedEvent             = app.ClosedEvent
	SubmitOpEvent           = app.SubmitOpEvent
	BeforeOpProcessingEvent = app.BeforeOpProcessingEvent
	AllSentOpsAckdEvent     = app.AllSentOpsAckdEvent
	PongEvent               = app.PongEvent
	ProcessTimeEvent        = app.ProcessTimeEvent
	PrepareSendEvent        = app.PrepareSendEvent
)

// Connection modes.
const (
	ModeRead  = domain.ModeRead
	ModeWrite = domain.ModeWrite
)

// Common message types.
const (
	MessageTypeOp   = domain.MessageTypeOp
	MessageTypeNoOp = domain.MessageTypeNoOp
)

// Connection states.
const (
	StateDisconnected = connection.StateDisconnected
	StateConnecting   = connection.StateConnecting
	StateConnected    = connection.StateConnected
	StateClosed       = connection.StateClosed
)

// Sentinel errors.
var (
	ErrClosed          = domain.ErrClosed
	ErrReadonly        = domain.ErrReadonly
	ErrNotConnected    = domain.ErrNotConnected
	ErrHandlerAttached = domain.ErrHandlerAttached
	ErrInvalidConfig   = domain.ErrInvalidConfig
)

// OpenArchive opens or creates a SQLite archive for one document.
func OpenArchive(path, tenantID, documentID string) (*Archive, error) {
	return sqlite.Open(path, tenantID, documentID)
}

// CanRetry reports whether err allows a retry.
func CanRetry(err error) bool { return domain.CanRetry(err) }
