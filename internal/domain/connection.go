package domain

// ConnectionMode is the access requested or granted for a delta stream.
type ConnectionMode string

const (
	ModeRead  ConnectionMode = "read"
	ModeWrite ConnectionMode = "write"
)

// Valid reports whether m is a known mode.
func (m ConnectionMode) Valid() bool {
	return m == ModeRead || m == ModeWrite
}

// Scopes granted by access tokens.
const (
	ScopeDocRead      = "doc:read"
	ScopeDocWrite     = "doc:write"
	ScopeSummaryWrite = "summary:write"
)

// DefaultChunkSize is the max message size assumed when the service does
// not advertise one.
const DefaultChunkSize = 16 * 1024

// User identifies the person behind a client.
type User struct {
	ID string `json:"id"`
}

// Claims are the token claims the service granted the connection.
type Claims struct {
	DocumentID string   `json:"documentId"`
	TenantID   string   `json:"tenantId"`
	Scopes     []string `json:"scopes"`
	User       User     `json:"user"`
}

// HasScope reports whether scope was granted.
func (c Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ServiceConfiguration is what the service advertises about its limits.
type ServiceConfiguration struct {
	MaxMessageSize int `json:"maxMessageSize"`
	BlockSize      int `json:"blockSize"`
}

// Capabilities describe what a client can do.
type Capabilities struct {
	Interactive bool `json:"interactive"`
}

// ClientDetails describe the client runtime.
type ClientDetails struct {
	Type         string       `json:"type,omitempty"`
	Capabilities Capabilities `json:"capabilities"`
}

// Client is the identity presented when opening a connection.
type Client struct {
	Mode    ConnectionMode `json:"mode"`
	Details ClientDetails  `json:"details"`
	User    User           `json:"user"`
	Scopes  []string       `json:"scopes"`
}

// ConnectionDetails is what a successful connection handshake returned.
type ConnectionDetails struct {
	ClientID             string                `json:"clientId"`
	Mode                 ConnectionMode        `json:"mode"`
	Claims               Claims                `json:"claims"`
	ServiceConfiguration *ServiceConfiguration `json:"serviceConfiguration,omitempty"`
	Version              string                `json:"version,omitempty"`
	MaxMessageSize       int                   `json:"maxMessageSize,omitempty"`

	InitialMessages []SequencedMessage `json:"initialMessages,omitempty"`
	InitialSignals  []Signal           `json:"initialSignals,omitempty"`
	InitialContents []ContentMessage   `json:"initialContents,omitempty"`
}

// ReadonlyPermissions reports whether the granted scopes lack write access.
func (d ConnectionDetails) ReadonlyPermissions() bool {
	return !d.Claims.HasScope(ScopeDocWrite)
}

// EffectiveMaxMessageSize prefers the service configuration, then the
// handshake value, then DefaultChunkSize.
func (d ConnectionDetails) EffectiveMaxMessageSize() int {
	if d.ServiceConfiguration != nil && d.ServiceConfiguration.MaxMessageSize > 0 {
		return d.ServiceConfiguration.MaxMessageSize
	}
	if d.MaxMessageSize > 0 {
		return d.MaxMessageSize
	}
	return DefaultChunkSize
}

// Checkpoint is the last processed position of a document follower.
type Checkpoint struct {
	TenantID              string `json:"tenant_id"`
	DocumentID            string `json:"document_id"`
	SequenceNumber        int64  `json:"sequence_number"`
	MinimumSequenceNumber int64  `json:"minimum_sequence_number"`
}

// IsEmpty reports whether nothing has been checkpointed yet.
func (c Checkpoint) IsEmpty() bool {
	return c.SequenceNumber == 0 && c.MinimumSequenceNumber == 0
}
