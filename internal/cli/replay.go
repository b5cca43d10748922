package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bft-labs/opstream/internal/catchup"
	"github.com/bft-labs/opstream/internal/cliconfig"
	"github.com/bft-labs/opstream/internal/domain"
	"github.com/bft-labs/opstream/pkg/log"
	"github.com/bft-labs/opstream/pkg/opstream"
)

type replayOptions struct {
	from int64
	to   int64
}

func newReplayCommand(o *rootOptions, zl zerolog.Logger) *cobra.Command {
	var r replayOptions
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Print archived ops of a document without connecting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := o.load(cmd); err != nil {
				return err
			}
			return replay(cmd.Context(), o.cfg, r, cmd.OutOrStdout(), log.NewZerologAdapterWithLogger(zl))
		},
	}
	cmd.Flags().Int64Var(&r.from, "from", 0, "print ops after this sequence number")
	cmd.Flags().Int64Var(&r.to, "to", 0, "print ops before this sequence number (0 means all)")
	return cmd
}

// replay reads (from, to) out of the archive through the catch-up fetcher,
// so paging and stop rules match a live catch-up.
func replay(ctx context.Context, cfg cliconfig.Config, r replayOptions, w io.Writer, logger log.Logger) error {
	if cfg.ArchivePath == "" {
		return fmt.Errorf("archive is required")
	}
	if cfg.TenantID == "" || cfg.DocumentID == "" {
		return fmt.Errorf("tenant and document are required")
	}
	if r.to > 0 && r.to <= r.from+1 {
		return fmt.Errorf("empty range (%d, %d)", r.from, r.to)
	}

	archive, err := opstream.OpenArchive(cfg.ArchivePath, cfg.TenantID, cfg.DocumentID)
	if err != nil {
		return err
	}
	defer archive.Close()

	// Without a bound the fetcher would wait for ops the archive never gets.
	last, err := archive.LastSequenceNumber(ctx)
	if err != nil {
		return err
	}
	to := r.to
	if to <= 0 || to > last+1 {
		to = last + 1
	}
	if to <= r.from+1 {
		logger.Debug("nothing to replay", log.Int64("from", r.from), log.Int64("last", last))
		return nil
	}

	// A local archive will not fill a hole by waiting, so one empty read ends the replay.
	fetcher := catchup.New(archive, nil, logger, catchup.Config{
		BatchSize:  int64(cfg.FetchBatchSize),
		MaxRetries: 1,
	})
	out := newFormatter(cfg.Output, w)

	var printed int
	var werr error
	err = fetcher.Fetch(ctx, catchup.Request{From: r.from, To: to, Reason: "Replay"}, func(msgs []domain.SequencedMessage) {
		for i := range msgs {
			if werr != nil {
				return
			}
			werr = out.Op(&msgs[i])
			printed++
		}
	})
	if werr != nil {
		return werr
	}
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	logger.Debug("replay done", log.Int("printed", printed))
	return nil
}
