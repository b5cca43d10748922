// Package opstream follows the op stream of a collaborative document.
//
// Example usage:
//
//	cfg := opstream.DefaultConfig()
//	cfg.ServiceURL = "ws://localhost:7070/socket"
//	cfg.StorageURL = "http://localhost:7071"
//	cfg.TenantID = "fluid"
//	cfg.DocumentID = "notes"
//	cfg.TenantKey = "tenant-key"
//	if err := opstream.Run(ctx, cfg, opstream.Checkpoint{}, handler); err != nil {
//	    log.Fatal(err)
//	}
//
// For finer control use the stream in pkg/opstream directly.
package opstream

import (
	"context"

	stream "github.com/bft-labs/opstream/pkg/opstream"
)

// Config holds the configuration of a document stream.
// Use DefaultConfig() to get a Config with sensible defaults.
type Config = stream.Config

// Checkpoint is the position a stream resumes from.
type Checkpoint = stream.Checkpoint

// Handler receives sequenced ops in order.
type Handler = stream.Handler

// Option configures optional behavior of a stream.
type Option = stream.Option

// DefaultConfig returns a Config with sensible default values.
// At minimum, TenantID, DocumentID, a storage and a tenant key must be set.
func DefaultConfig() Config {
	return stream.DefaultConfig()
}

// Run delivers the ops after cp to h. It blocks until ctx is cancelled or
// the stream closes on its own, in which case the closing error is returned.
func Run(ctx context.Context, cfg Config, cp Checkpoint, h Handler, opts ...Option) error {
	closed := make(chan error, 1)
	opts = append(opts, stream.WithEventHandler(func(ev stream.Event) {
		if e, ok := ev.(stream.ClosedEvent); ok {
			select {
			case closed <- e.Err:
			default:
			}
		}
	}))

	s, err := stream.New(cfg, opts...)
	if err != nil {
		return err
	}
	if err := s.AttachHandler(cp.MinimumSequenceNumber, cp.SequenceNumber, h); err != nil {
		_ = s.Close()
		return err
	}

	// A failed connect closes the stream; the cause arrives on closed.
	_, _ = s.Connect(ctx, stream.ConnectOptions{})

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-closed:
	}
	if err := s.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
