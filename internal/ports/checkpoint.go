package ports

import (
	"context"

	"github.com/bft-labs/opstream/internal/domain"
)

// CheckpointStore persists the last processed position of a follower.
// Implementations persist atomically (write to temp file, then rename).
type CheckpointStore interface {
	// Load returns the saved checkpoint.
	// Returns an empty checkpoint and nil error if none exists.
	Load(ctx context.Context) (domain.Checkpoint, error)

	// Save persists cp atomically.
	Save(ctx context.Context, cp domain.Checkpoint) error
}
