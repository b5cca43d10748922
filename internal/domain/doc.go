// Package domain contains the core domain entities and value objects for opstream.
//
// This package represents the innermost layer of the Clean Architecture. It has
// no dependencies on infrastructure concerns (websocket, HTTP, SQLite, logging)
// and contains only protocol types and their invariants.
//
// # Entities
//
//   - [SequencedMessage]: A server-numbered op delivered by the stream or by storage
//   - [DocumentMessage]: An op produced locally and submitted in a batch
//   - [Signal]: A transient, unsequenced message between clients
//   - [Nack]: A rejection of a submitted op, possibly with a retry hint
//   - [ConnectionDetails]: What the service granted when a connection opened
//
// # Errors
//
// [Error] classifies failures the way the reconnect and catch-up loops need
// to see them: retryable or not, with an optional server-suggested delay,
// and whether the failure is critical.
package domain
