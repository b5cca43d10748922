package opstream

import (
	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
)

// Option configures optional behavior of a Stream.
type Option func(*options)

type options struct {
	logger      Logger
	clock       clock.Clock
	connections ConnectionProvider
	storage     StorageProvider
	httpClient  HTTPClient
	tokens      TokenProvider
	handlers    []func(Event)
	prepareSend func([]DocumentMessage) []DocumentMessage
	archive     *Archive
	registerer  prometheus.Registerer
}

// WithLogger sets a logger. If not provided, nothing is logged.
func WithLogger(logger Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithClock sets the clock driving every delay. Mostly useful in tests.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithConnectionProvider replaces the websocket transport.
func WithConnectionProvider(p ConnectionProvider) Option {
	return func(o *options) { o.connections = p }
}

// WithStorageProvider replaces the HTTP delta storage.
func WithStorageProvider(p StorageProvider) Option {
	return func(o *options) { o.storage = p }
}

// WithHTTPClient sets the client used for delta storage requests.
// *http.Client satisfies HTTPClient.
func WithHTTPClient(c HTTPClient) Option {
	return func(o *options) { o.httpClient = c }
}

// WithTokenProvider replaces locally minted tokens.
func WithTokenProvider(p TokenProvider) Option {
	return func(o *options) { o.tokens = p }
}

// WithEventHandler registers an observer. Observers run in order on a
// dedicated goroutine and should return quickly.
func WithEventHandler(fn func(Event)) Option {
	return func(o *options) { o.handlers = append(o.handlers, fn) }
}

// WithPrepareSend sets a hook that may amend each outbound batch. It runs
// under the stream lock and must not call back into the stream.
func WithPrepareSend(fn func([]DocumentMessage) []DocumentMessage) Option {
	return func(o *options) { o.prepareSend = fn }
}

// WithArchive uses an already opened archive. The stream does not close it.
func WithArchive(a *Archive) Option {
	return func(o *options) { o.archive = a }
}

// WithMetricsRegisterer registers stream metrics with r.
func WithMetricsRegisterer(r prometheus.Registerer) Option {
	return func(o *options) { o.registerer = r }
}
