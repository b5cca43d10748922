// Package ports defines the interfaces (ports) that connect the delta
// manager to infrastructure adapters.
//
// The application core (internal/app) depends only on these interfaces.
// Adapters under internal/adapters implement them with concrete transports
// (websocket, HTTP, SQLite, file system).
//
// # Port Interfaces
//
//   - [ConnectionProvider]: opens a live delta stream for a client
//   - [Connection]: one live delta stream and its event channel
//   - [StorageProvider]: connects to historical delta storage
//   - [DeltaStorage]: fetches a half-open range of sequenced messages
//   - [Handler]: the application side that processes ordered messages
//   - [CheckpointStore]: persists the last processed position
//   - [HTTPClient]: HTTP request abstraction for dependency injection
package ports
