package ports

import (
	"context"

	"github.com/bft-labs/opstream/internal/domain"
)

// StorageProvider connects to historical delta storage.
type StorageProvider interface {
	ConnectToDeltaStorage(ctx context.Context) (DeltaStorage, error)
}

// DeltaStorage serves historical sequenced messages.
type DeltaStorage interface {
	// Get returns messages with from < sequenceNumber < to, in order.
	// It may return fewer messages than requested near the head of history.
	Get(ctx context.Context, from, to int64) ([]domain.SequencedMessage, error)
}

// StorageProviderFunc adapts a function to StorageProvider.
type StorageProviderFunc func(ctx context.Context) (DeltaStorage, error)

// ConnectToDeltaStorage calls f.
func (f StorageProviderFunc) ConnectToDeltaStorage(ctx context.Context) (DeltaStorage, error) {
	return f(ctx)
}

// Static returns a StorageProvider that always yields s.
func Static(s DeltaStorage) StorageProvider {
	return StorageProviderFunc(func(context.Context) (DeltaStorage, error) { return s, nil })
}
