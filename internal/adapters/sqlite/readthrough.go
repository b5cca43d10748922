package sqlite

import (
	"context"

	"github.com/bft-labs/opstream/internal/domain"
	"github.com/bft-labs/opstream/internal/ports"
	"github.com/bft-labs/opstream/pkg/log"
)

// ReadThrough serves ops from the archive and falls back to remote storage
// for anything it does not hold, archiving what it fetched.
type ReadThrough struct {
	archive *Archive
	remote  ports.StorageProvider
	logger  log.Logger
}

// NewReadThrough fronts remote with archive.
func NewReadThrough(archive *Archive, remote ports.StorageProvider, logger log.Logger) *ReadThrough {
	return &ReadThrough{
		archive: archive,
		remote:  remote,
		logger:  log.OrNoop(logger).With(log.Component("readthrough")),
	}
}

// ConnectToDeltaStorage implements ports.StorageProvider.
func (r *ReadThrough) ConnectToDeltaStorage(ctx context.Context) (ports.DeltaStorage, error) {
	remote, err := r.remote.ConnectToDeltaStorage(ctx)
	if err != nil {
		return nil, err
	}
	return &readThroughStorage{ReadThrough: r, remote: remote}, nil
}

type readThroughStorage struct {
	*ReadThrough
	remote ports.DeltaStorage
}

// Get serves the archived run starting right after from and asks remote
// storage for whatever follows it.
func (s *readThroughStorage) Get(ctx context.Context, from, to int64) ([]domain.SequencedMessage, error) {
	local, err := s.archive.Get(ctx, from, to)
	if err != nil {
		s.logger.Warn("archive read failed", log.Err(err))
		local = nil
	}
	run := contiguous(local, from)
	next := from
	if len(run) > 0 {
		next = run[len(run)-1].SequenceNumber
		if to > 0 && next >= to-1 {
			s.logger.Debug("served from archive", log.Int64("from", from), log.Int("count", len(run)))
			return run, nil
		}
	}

	msgs, err := s.remote.Get(ctx, next, to)
	if err != nil {
		if len(run) > 0 {
			// Partial progress still beats a retry.
			return run, nil
		}
		return nil, err
	}
	if err := s.archive.Append(ctx, msgs...); err != nil {
		s.logger.Warn("archive write failed", log.Err(err))
	}
	return append(run, msgs...), nil
}

// contiguous returns the prefix of msgs numbered from+1, from+2, ...
func contiguous(msgs []domain.SequencedMessage, from int64) []domain.SequencedMessage {
	for i, m := range msgs {
		if m.SequenceNumber != from+1+int64(i) {
			return msgs[:i]
		}
	}
	return msgs
}
